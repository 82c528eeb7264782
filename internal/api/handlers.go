package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tutorchat/internal/models"
	"tutorchat/internal/redis"
	"tutorchat/internal/storage"
)

// Completer is the text-completion collaborator consumed by the chat route.
type Completer interface {
	Reply(ctx context.Context, message string, history []models.HistoryEntry, imageNotes []string) (string, error)
	SuggestTitle(ctx context.Context, message string) (string, error)
}

// Analyzer is the image/audio analysis collaborator.
type Analyzer interface {
	Detect(ctx context.Context, filename string, data []byte) ([]models.Detection, error)
	OCR(ctx context.Context, filename string, data []byte) (string, error)
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
}

const (
	defaultMaxUploadBytes  = 10 << 20 // 10 MB
	defaultHistoryCacheTTL = 30 * time.Second
)

// Handler wires HTTP routes to the completion service, the analyzer sidecar,
// and the transcript store.
type Handler struct {
	completer      Completer
	analyzer       Analyzer
	store          *storage.TranscriptStore
	cache          *redis.Client
	historyLimit   int
	cacheTTL       time.Duration
	maxUploadBytes int64
}

// NewHandler constructs a Handler instance. cache may be nil to disable the
// history cache.
func NewHandler(completer Completer, analyzer Analyzer, store *storage.TranscriptStore, cache *redis.Client, historyLimit int, cacheTTL time.Duration, maxUploadBytes int64) *Handler {
	if historyLimit <= 0 {
		historyLimit = 200
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultHistoryCacheTTL
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		completer:      completer,
		analyzer:       analyzer,
		store:          store,
		cache:          cache,
		historyLimit:   historyLimit,
		cacheTTL:       cacheTTL,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestID(), CORS([]string{"*"}))
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.POST("/chat", h.chat)
	api.GET("/history", h.history)
	api.POST("/detect", h.detect)
	api.POST("/ocr", h.ocr)
	api.POST("/transcribe", h.transcribe)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}

	ctx := c.Request.Context()

	// The user side of the exchange is stored regardless of the reply outcome.
	if _, err := h.store.Append(ctx, sessionID, models.SenderUser, message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidateHistory(ctx, sessionID)

	imageNotes := h.extractImageText(ctx, req.Images)

	reply, err := h.completer.Reply(ctx, message, req.History, imageNotes)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "completion service failed"})
		return
	}

	var title string
	if req.GenerateTitle {
		title, err = h.completer.SuggestTitle(ctx, message)
		if err != nil {
			// Title suggestion is best-effort; the widget has a local fallback.
			log.Printf("suggest title for session %s: %v", sessionID, err)
			title = ""
		}
	}

	if _, err := h.store.Append(ctx, sessionID, models.SenderAssistant, reply); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.invalidateHistory(ctx, sessionID)

	c.JSON(http.StatusOK, models.ChatResponse{Reply: reply, Title: title})
}

// extractImageText runs OCR over each attachment independently. Failures are
// logged and skipped so a bad image never blocks the reply.
func (h *Handler) extractImageText(ctx context.Context, images []models.ImageAttachment) []string {
	if h.analyzer == nil {
		return nil
	}
	var notes []string
	for _, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			log.Printf("decode image %s: %v", img.Name, err)
			continue
		}
		text, err := h.analyzer.OCR(ctx, img.Name, data)
		if err != nil {
			log.Printf("ocr image %s: %v", img.Name, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			notes = append(notes, text)
		}
	}
	return notes
}

func (h *Handler) history(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	ctx := c.Request.Context()

	if cached, err := h.cache.Get(ctx, historyCacheKey(sessionID)); err == nil {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
		return
	} else if err != redis.ErrCacheMiss {
		log.Printf("history cache get: %v", err)
	}

	transcripts, err := h.store.List(ctx, sessionID, h.historyLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	records := make([]models.HistoryRecord, 0, len(transcripts))
	for _, tr := range transcripts {
		records = append(records, models.HistoryRecord{
			Sender:    string(tr.Sender),
			Text:      tr.Text,
			Timestamp: tr.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	payload, err := json.Marshal(records)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.cache.Set(ctx, historyCacheKey(sessionID), payload, h.cacheTTL); err != nil {
		log.Printf("history cache set: %v", err)
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", payload)
}

func (h *Handler) invalidateHistory(ctx context.Context, sessionID string) {
	if err := h.cache.Del(ctx, historyCacheKey(sessionID)); err != nil {
		log.Printf("history cache del: %v", err)
	}
}

func historyCacheKey(sessionID string) string {
	return fmt.Sprintf("history:%s", sessionID)
}

func (h *Handler) detect(c *gin.Context) {
	filename, data, ok := h.readUpload(c, "image")
	if !ok {
		return
	}
	detections, err := h.analyzer.Detect(c.Request.Context(), filename, data)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, detections)
}

func (h *Handler) ocr(c *gin.Context) {
	filename, data, ok := h.readUpload(c, "image")
	if !ok {
		return
	}
	text, err := h.analyzer.OCR(c.Request.Context(), filename, data)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": text})
}

func (h *Handler) transcribe(c *gin.Context) {
	filename, data, ok := h.readUpload(c, "audio")
	if !ok {
		return
	}
	transcript, err := h.analyzer.Transcribe(c.Request.Context(), filename, data)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcript": transcript})
}

// readUpload pulls a single multipart file out of the request and enforces the
// size cap. On failure it writes the error response and returns ok=false.
func (h *Handler) readUpload(c *gin.Context, field string) (string, []byte, bool) {
	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return "", nil, false
	}
	file, err := c.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is required", field)})
		return "", nil, false
	}
	if file.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return "", nil, false
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return "", nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return "", nil, false
	}
	return file.Filename, data, true
}
