package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tutorchat/internal/models"
)

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		file.Close()
		if header.Filename != "board.png" {
			t.Errorf("unexpected filename %s", header.Filename)
		}
		json.NewEncoder(w).Encode([]models.Detection{
			{Label: "cat", Confidence: 0.92, BBox: []float64{1, 2, 3, 4}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	detections, err := c.Detect(context.Background(), "board.png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(detections) != 1 || detections[0].Label != "cat" {
		t.Errorf("unexpected detections: %+v", detections)
	}
}

func TestOCR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ocr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "E = mc^2"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	text, err := c.OCR(context.Background(), "board.jpg", []byte{1})
	if err != nil {
		t.Fatalf("ocr: %v", err)
	}
	if text != "E = mc^2" {
		t.Errorf("unexpected text %q", text)
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, err := r.FormFile("audio"); err != nil {
			t.Fatalf("form file: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"transcript": "hello world"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	transcript, err := c.Transcribe(context.Background(), "clip.wav", []byte{1})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if transcript != "hello world" {
		t.Errorf("unexpected transcript %q", transcript)
	}
}

func TestRejectsUnsupportedExtensions(t *testing.T) {
	c := NewClient("http://localhost:9")

	if _, err := c.Detect(context.Background(), "file.gif", nil); err == nil {
		t.Error("expected error for .gif image")
	}
	if _, err := c.OCR(context.Background(), "file.pdf", nil); err == nil {
		t.Error("expected error for .pdf image")
	}
	if _, err := c.Transcribe(context.Background(), "file.ogg", nil); err == nil {
		t.Error("expected error for .ogg audio")
	}
}

func TestErrorPayloadSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model not loaded"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.OCR(context.Background(), "board.png", []byte{1})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("expected sidecar error surfaced, got %v", err)
	}
}

func TestUnconfiguredBaseURL(t *testing.T) {
	c := NewClient("")
	if _, err := c.OCR(context.Background(), "board.png", []byte{1}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
