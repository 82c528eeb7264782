package models

// Wire types shared between the widget and the proxy server.

// ImageAttachment carries a base64-encoded image inside a chat request.
type ImageAttachment struct {
	Data string `json:"data"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// HistoryEntry is a sender/text pair of the running conversation context.
type HistoryEntry struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message       string            `json:"message"`
	SessionID     string            `json:"sessionId"`
	History       []HistoryEntry    `json:"history"`
	GenerateTitle bool              `json:"generateTitle"`
	Images        []ImageAttachment `json:"images,omitempty"`
}

// ChatResponse is the body of a successful POST /api/chat.
type ChatResponse struct {
	Reply string `json:"reply"`
	Title string `json:"title,omitempty"`
}

// HistoryRecord is one element of the GET /api/history response.
type HistoryRecord struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Detection is a single object-detection result from the analyzer sidecar.
type Detection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}
