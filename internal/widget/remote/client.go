// Package remote is the widget's client side of the collaborator contracts:
// the text-completion proxy, the per-session history fetch, and the
// independent image-analysis sub-requests.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"tutorchat/internal/models"
)

// Client talks to the proxy server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the proxy base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// SendChat posts one turn to the completion proxy. The passed context owns
// cancellation of the in-flight request.
func (c *Client) SendChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request failed: %s", errorDescription(data, resp.StatusCode))
	}

	var chatResp models.ChatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &chatResp, nil
}

// FetchHistory retrieves the server-held transcript for the session.
func (c *Client) FetchHistory(ctx context.Context, sessionID string) ([]models.HistoryRecord, error) {
	endpoint := fmt.Sprintf("%s/api/history?sessionId=%s", c.baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read history response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: %s", errorDescription(data, resp.StatusCode))
	}

	var records []models.HistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return records, nil
}

// Detect posts the image to the object-detection endpoint.
func (c *Client) Detect(ctx context.Context, filename string, data []byte) ([]models.Detection, error) {
	body, err := c.postFile(ctx, "/api/detect", "image", filename, data)
	if err != nil {
		return nil, err
	}
	var detections []models.Detection
	if err := json.Unmarshal(body, &detections); err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}
	return detections, nil
}

// OCR posts the image to the text-extraction endpoint.
func (c *Client) OCR(ctx context.Context, filename string, data []byte) (string, error) {
	body, err := c.postFile(ctx, "/api/ocr", "image", filename, data)
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

func (c *Client) postFile(ctx context.Context, path, field, filename string, data []byte) ([]byte, error) {
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
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed: %s", path, errorDescription(body, resp.StatusCode))
	}
	return body, nil
}

// errorDescription digs a human-readable message out of an error payload.
// The proxy answers {"error": ...}; older deployments answered {"reply": ...}.
func errorDescription(body []byte, status int) string {
	var payload struct {
		Error string `json:"error"`
		Reply string `json:"reply"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Reply != "" {
			return payload.Reply
		}
	}
	return fmt.Sprintf("status %d", status)
}
