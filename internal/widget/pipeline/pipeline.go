// Package pipeline drives one chat turn at a time: it appends the user
// message optimistically, issues the single outbound completion request, and
// reconciles the reply, failure, or cancellation back into the chat model.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tutorchat/internal/models"
	"tutorchat/internal/widget/chatmodel"
	"tutorchat/internal/widget/remote"
)

// State of the per-chat reply machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingReply
)

// SubmitOutcome reports how a submit action was interpreted.
type SubmitOutcome int

const (
	OutcomeIgnored   SubmitOutcome = iota // empty input, no state change
	OutcomeSent                           // request issued
	OutcomeCancelled                      // reinterpreted as cancel of the in-flight turn
)

// Fixed texts appended to the history for non-reply outcomes. The
// cancellation notice is distinguishable from genuine failure text.
const (
	FallbackReply   = "Sorry, I couldn't come up with a response. Please try again."
	CancelledNotice = "Reply cancelled."
)

// ChatSender is the text-completion collaborator.
type ChatSender interface {
	SendChat(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error)
}

// ImageAnalyzer runs the independent image sub-requests.
type ImageAnalyzer interface {
	Detect(ctx context.Context, filename string, data []byte) ([]models.Detection, error)
	OCR(ctx context.Context, filename string, data []byte) (string, error)
}

// Pipeline owns the cancellation token and the at-most-one-in-flight
// invariant. Model mutations all go through the chatmodel's own lock; the
// pipeline lock only guards turn state.
type Pipeline struct {
	model     *chatmodel.Model
	client    ChatSender
	analyzer  ImageAnalyzer
	sessionID string

	mu         sync.Mutex
	state      State
	cancel     context.CancelFunc
	generation uint64
	turnChatID string
	pending    []models.ImageAttachment

	now      func() time.Time
	turnHook func()
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAnalyzer enables image sub-requests.
func WithAnalyzer(a ImageAnalyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// WithClock overrides timestamping.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithTurnHook registers a callback invoked after each turn reaches a
// terminal outcome (reply, failure, or cancellation).
func WithTurnHook(fn func()) Option {
	return func(p *Pipeline) { p.turnHook = fn }
}

// New builds a pipeline bound to the model and session identifier.
func New(model *chatmodel.Model, client ChatSender, sessionID string, opts ...Option) *Pipeline {
	p := &Pipeline{
		model:     model,
		client:    client,
		sessionID: sessionID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit handles the send action. With a turn already in flight the action is
// reinterpreted as a cancel: the request is aborted, the typing state drops,
// and a cancellation notice is appended in place of a reply. Otherwise a
// non-empty input starts exactly one outbound request.
func (p *Pipeline) Submit(text string) SubmitOutcome {
	trimmed := strings.TrimSpace(text)

	// Model reads happen before taking the pipeline lock so the two locks
	// never nest. The snapshot going stale between here and the transition
	// only matters if another submit wins the lock first, and that submit
	// then owns the turn.
	chat, chatOK := p.model.ActiveChat()
	needsTitle := false
	if chatOK && trimmed != "" {
		needsTitle = p.model.NeedsTitle(chat.ID, trimmed)
	}
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.state == StateAwaitingReply {
		p.generation++ // anything still in flight is now stale
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
		p.state = StateIdle
		chatID := p.turnChatID
		p.mu.Unlock()
		cancel()

		p.model.AppendMessage(chatID, chatmodel.SenderAssistant, CancelledNotice, p.timestamp())
		p.fireTurnHook()
		return OutcomeCancelled
	}
	if trimmed == "" || !chatOK {
		p.mu.Unlock()
		cancel()
		return OutcomeIgnored
	}
	p.state = StateAwaitingReply
	p.cancel = cancel
	p.generation++
	gen := p.generation
	p.turnChatID = chat.ID
	images := p.pending
	p.pending = nil
	p.mu.Unlock()

	// Prior history (sender/text pairs only), captured before the optimistic
	// append so the outbound context excludes the message itself.
	prior := make([]models.HistoryEntry, 0, len(chat.History))
	for _, msg := range chat.History {
		prior = append(prior, models.HistoryEntry{Sender: models.Sender(msg.Sender), Text: msg.Text})
	}

	// Optimistic append, persisted regardless of the reply outcome.
	p.model.AppendMessage(chat.ID, chatmodel.SenderUser, trimmed, p.timestamp())

	req := models.ChatRequest{
		Message:       trimmed,
		SessionID:     p.sessionID,
		History:       prior,
		GenerateTitle: needsTitle,
		Images:        images,
	}
	go p.runTurn(ctx, gen, chat.ID, needsTitle, req)
	return OutcomeSent
}

// runTurn completes one outbound request. A generation mismatch means the
// turn was cancelled and its outcome already recorded; whatever the request
// eventually resolved to is discarded.
func (p *Pipeline) runTurn(ctx context.Context, gen uint64, chatID string, requestedTitle bool, req models.ChatRequest) {
	resp, err := p.client.SendChat(ctx, req)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.state = StateIdle
	p.cancel = nil
	p.mu.Unlock()

	if err != nil {
		p.model.AppendMessage(chatID, chatmodel.SenderAssistant,
			fmt.Sprintf("The tutor could not reply: %v", err), p.timestamp())
		p.fireTurnHook()
		return
	}

	reply := strings.TrimSpace(resp.Reply)
	if reply == "" {
		reply = FallbackReply
	}
	p.model.AppendMessage(chatID, chatmodel.SenderAssistant, reply, p.timestamp())
	if requestedTitle && resp.Title != "" {
		p.model.ApplyTitleSuggestion(chatID, resp.Title)
	}
	p.fireTurnHook()
}

// AttachImage queues the image for the next outbound request and fires the
// detection and OCR sub-requests. The two analyses run independently, each
// appending its own message on completion; cancelling a reply turn does not
// touch them, and their failures are logged and absorbed.
func (p *Pipeline) AttachImage(filename, mimeType string, data []byte) {
	att := models.ImageAttachment{
		Data: base64.StdEncoding.EncodeToString(data),
		Type: mimeType,
		Name: filename,
	}
	p.mu.Lock()
	p.pending = append(p.pending, att)
	p.mu.Unlock()

	if p.analyzer == nil {
		return
	}
	chatID := p.model.ActiveID()
	if chatID == "" {
		return
	}

	go func() {
		detections, err := p.analyzer.Detect(context.Background(), filename, data)
		if err != nil {
			log.Printf("detect %s: %v", filename, err)
			return
		}
		if len(detections) == 0 {
			return
		}
		p.model.AppendMessage(chatID, chatmodel.SenderAssistant,
			formatDetections(filename, detections), p.timestamp())
	}()
	go func() {
		text, err := p.analyzer.OCR(context.Background(), filename, data)
		if err != nil {
			log.Printf("ocr %s: %v", filename, err)
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		p.model.AppendMessage(chatID, chatmodel.SenderAssistant,
			fmt.Sprintf("Text found in %s:\n%s", filename, strings.TrimSpace(text)), p.timestamp())
	}()
}

// PendingImages reports how many attachments await the next submit.
func (p *Pipeline) PendingImages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// State returns the current machine state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Typing reports whether the ephemeral typing placeholder should be shown.
// It is pipeline state, never part of any history.
func (p *Pipeline) Typing() bool {
	return p.State() == StateAwaitingReply
}

func (p *Pipeline) timestamp() string {
	return p.now().Format(remote.DisplayTimeFormat)
}

func (p *Pipeline) fireTurnHook() {
	if p.turnHook != nil {
		p.turnHook()
	}
}

func formatDetections(filename string, detections []models.Detection) string {
	parts := make([]string, 0, len(detections))
	for _, d := range detections {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", d.Label, d.Confidence*100))
	}
	return fmt.Sprintf("Objects detected in %s: %s", filename, strings.Join(parts, ", "))
}
