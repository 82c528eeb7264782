package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"tutorchat/internal/models"
)

// Client talks to the image/audio analyzer sidecar (object detection, OCR,
// transcription). Each call is an independent request with its own failure
// handling; callers are expected to absorb errors without aborting the chat.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds an analyzer client for the sidecar base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}
var audioExtensions = map[string]bool{".wav": true, ".mp3": true}

// Detect runs object detection over the uploaded image.
func (c *Client) Detect(ctx context.Context, filename string, data []byte) ([]models.Detection, error) {
	if err := checkExtension(filename, imageExtensions); err != nil {
		return nil, err
	}
	body, err := c.postFile(ctx, "/detect", "image", filename, data)
	if err != nil {
		return nil, err
	}
	var detections []models.Detection
	if err := json.Unmarshal(body, &detections); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return detections, nil
}

// OCR extracts text from the uploaded image.
func (c *Client) OCR(ctx context.Context, filename string, data []byte) (string, error) {
	if err := checkExtension(filename, imageExtensions); err != nil {
		return "", err
	}
	body, err := c.postFile(ctx, "/ocr", "image", filename, data)
	if err != nil {
		return "", err
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return payload.Text, nil
}

// Transcribe converts the uploaded audio file to text.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	if err := checkExtension(filename, audioExtensions); err != nil {
		return "", err
	}
	body, err := c.postFile(ctx, "/transcribe", "audio", filename, data)
	if err != nil {
		return "", err
	}
	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode transcript response: %w", err)
	}
	return payload.Transcript, nil
}

func checkExtension(filename string, allowed map[string]bool) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowed[ext] {
		return fmt.Errorf("unsupported file format: %s", ext)
	}
	return nil
}

func (c *Client) postFile(ctx context.Context, path, field, filename string, data []byte) ([]byte, error) {
	if c.baseURL == "" {
		return nil, errors.New("analyzer base url not configured")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build analyzer request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read analyzer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &failure) == nil && failure.Error != "" {
			return nil, fmt.Errorf("analyzer %s: %s", path, failure.Error)
		}
		return nil, fmt.Errorf("analyzer %s: status %d", path, resp.StatusCode)
	}
	return body, nil
}
