package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"tutorchat/internal/config"
	"tutorchat/internal/models"
	"tutorchat/internal/storage"
)

type stubCompleter struct {
	reply      string
	replyErr   error
	title      string
	titleErr   error
	gotMessage string
	gotHistory []models.HistoryEntry
	gotNotes   []string
	titleCalls int
}

func (s *stubCompleter) Reply(ctx context.Context, message string, history []models.HistoryEntry, imageNotes []string) (string, error) {
	s.gotMessage = message
	s.gotHistory = history
	s.gotNotes = imageNotes
	return s.reply, s.replyErr
}

func (s *stubCompleter) SuggestTitle(ctx context.Context, message string) (string, error) {
	s.titleCalls++
	return s.title, s.titleErr
}

type stubAnalyzer struct {
	detections []models.Detection
	text       string
	transcript string
	err        error
}

func (s *stubAnalyzer) Detect(ctx context.Context, filename string, data []byte) ([]models.Detection, error) {
	return s.detections, s.err
}

func (s *stubAnalyzer) OCR(ctx context.Context, filename string, data []byte) (string, error) {
	return s.text, s.err
}

func (s *stubAnalyzer) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	return s.transcript, s.err
}

func setupRouter(t *testing.T, completer *stubCompleter, analyzer *stubAnalyzer) (*gin.Engine, *storage.TranscriptStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "test.db")},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := storage.NewTranscriptStore(db)

	handler := NewHandler(completer, analyzer, store, nil, 0, 0, 0)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, store
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router, _ := setupRouter(t, &stubCompleter{}, &stubAnalyzer{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestChatPersistsBothSides(t *testing.T) {
	completer := &stubCompleter{reply: "x equals one"}
	router, store := setupRouter(t, completer, &stubAnalyzer{})

	w := postJSON(t, router, "/api/chat", models.ChatRequest{
		Message:   "solve x+1=2",
		SessionID: "s1",
		History:   []models.HistoryEntry{{Sender: models.SenderUser, Text: "earlier"}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "x equals one" {
		t.Errorf("unexpected reply %q", resp.Reply)
	}
	if completer.gotMessage != "solve x+1=2" {
		t.Errorf("completer got message %q", completer.gotMessage)
	}
	if len(completer.gotHistory) != 1 {
		t.Errorf("expected history forwarded, got %d entries", len(completer.gotHistory))
	}

	transcripts, err := store.List(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 2 {
		t.Fatalf("expected 2 transcripts, got %d", len(transcripts))
	}
	if transcripts[0].Sender != models.SenderUser || transcripts[1].Sender != models.SenderAssistant {
		t.Errorf("unexpected transcript order: %s then %s", transcripts[0].Sender, transcripts[1].Sender)
	}
}

func TestChatValidation(t *testing.T) {
	router, _ := setupRouter(t, &stubCompleter{reply: "ok"}, &stubAnalyzer{})

	w := postJSON(t, router, "/api/chat", models.ChatRequest{Message: "  ", SessionID: "s1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank message: expected 400, got %d", w.Code)
	}
	w = postJSON(t, router, "/api/chat", models.ChatRequest{Message: "hello there", SessionID: ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank session: expected 400, got %d", w.Code)
	}
}

func TestChatPersistsUserMessageOnCompletionFailure(t *testing.T) {
	completer := &stubCompleter{replyErr: errors.New("model down")}
	router, store := setupRouter(t, completer, &stubAnalyzer{})

	w := postJSON(t, router, "/api/chat", models.ChatRequest{Message: "still stored?", SessionID: "s1"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	transcripts, err := store.List(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected user message persisted, got %d transcripts", len(transcripts))
	}
	if transcripts[0].Text != "still stored?" {
		t.Errorf("unexpected transcript text %q", transcripts[0].Text)
	}
}

func TestChatTitleGeneration(t *testing.T) {
	completer := &stubCompleter{reply: "sure", title: "Quadratic Equations"}
	router, _ := setupRouter(t, completer, &stubAnalyzer{})

	w := postJSON(t, router, "/api/chat", models.ChatRequest{
		Message:       "help with quadratics",
		SessionID:     "s1",
		GenerateTitle: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Title != "Quadratic Equations" {
		t.Errorf("expected title, got %q", resp.Title)
	}
	if completer.titleCalls != 1 {
		t.Errorf("expected one title call, got %d", completer.titleCalls)
	}
}

func TestChatTitleFailureIsBestEffort(t *testing.T) {
	completer := &stubCompleter{reply: "sure", titleErr: errors.New("no title")}
	router, _ := setupRouter(t, completer, &stubAnalyzer{})

	w := postJSON(t, router, "/api/chat", models.ChatRequest{
		Message:       "help with quadratics",
		SessionID:     "s1",
		GenerateTitle: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 despite title failure, got %d", w.Code)
	}
	var resp models.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Title != "" {
		t.Errorf("expected empty title, got %q", resp.Title)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	router, store := setupRouter(t, &stubCompleter{}, &stubAnalyzer{})
	ctx := context.Background()
	if _, err := store.Append(ctx, "s1", models.SenderUser, "hi"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Append(ctx, "s1", models.SenderAssistant, "hello!"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?sessionId=s1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var records []models.HistoryRecord
	if err := json.Unmarshal(w.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Sender != "user" || records[1].Text != "hello!" {
		t.Errorf("unexpected records: %+v", records)
	}
	if records[0].Timestamp == "" {
		t.Error("expected RFC3339 timestamp")
	}
}

func TestHistoryRequiresSessionID(t *testing.T) {
	router, _ := setupRouter(t, &stubCompleter{}, &stubAnalyzer{})
	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func multipartRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	writer.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestDetectEndpoint(t *testing.T) {
	analyzer := &stubAnalyzer{detections: []models.Detection{{Label: "cat", Confidence: 0.9}}}
	router, _ := setupRouter(t, &stubCompleter{}, analyzer)

	req := multipartRequest(t, "/api/detect", "image", "board.png", []byte{1, 2})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var detections []models.Detection
	if err := json.Unmarshal(w.Body.Bytes(), &detections); err != nil {
		t.Fatalf("decode detections: %v", err)
	}
	if len(detections) != 1 || detections[0].Label != "cat" {
		t.Errorf("unexpected detections: %+v", detections)
	}
}

func TestOCREndpoint(t *testing.T) {
	analyzer := &stubAnalyzer{text: "y = mx + b"}
	router, _ := setupRouter(t, &stubCompleter{}, analyzer)

	req := multipartRequest(t, "/api/ocr", "image", "board.png", []byte{1})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "y = mx + b") {
		t.Errorf("expected ocr text in body: %s", w.Body.String())
	}
}

func TestTranscribeEndpoint(t *testing.T) {
	analyzer := &stubAnalyzer{transcript: "hello world"}
	router, _ := setupRouter(t, &stubCompleter{}, analyzer)

	req := multipartRequest(t, "/api/transcribe", "audio", "clip.wav", []byte{1})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hello world") {
		t.Errorf("expected transcript in body: %s", w.Body.String())
	}
}

func TestUploadRequiresFile(t *testing.T) {
	router, _ := setupRouter(t, &stubCompleter{}, &stubAnalyzer{})

	req := multipartRequest(t, "/api/detect", "wrongfield", "x.png", []byte{1})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAnalyzerFailureIsBadGateway(t *testing.T) {
	analyzer := &stubAnalyzer{err: errors.New("sidecar down")}
	router, _ := setupRouter(t, &stubCompleter{}, analyzer)

	req := multipartRequest(t, "/api/ocr", "image", "board.png", []byte{1})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
