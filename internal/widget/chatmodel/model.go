// Package chatmodel holds the widget's in-memory chat list: a set of named
// conversations with ordered message histories, one of which is active.
// All mutations are serialized through the Model's mutex and written through
// to the durable store before they are considered complete.
package chatmodel

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one entry of a chat's append-only history. Timestamp is already
// display-formatted; the model never interprets it.
type Message struct {
	Sender    Sender `json:"sender"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Chat is a single conversation thread. ID is immutable after creation.
type Chat struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	History  []Message `json:"history"`
	Archived bool      `json:"archived"`
}

// Store is the durable persistence contract: both keys are full-replace on
// write and loaded once at startup.
type Store interface {
	SaveChats(chats []Chat) error
	SaveActiveID(id string) error
}

// Model owns the chat list and the active-chat pointer. It is safe for use
// from multiple goroutines; every mutation runs under a single lock.
type Model struct {
	mu       sync.Mutex
	chats    []Chat // newest-first
	activeID string
	store    Store
	onChange func()
	newID    func() string
}

// Option configures a Model.
type Option func(*Model)

// WithOnChange registers a callback invoked after every completed mutation,
// outside the model lock. Renderers hang off this.
func WithOnChange(fn func()) Option {
	return func(m *Model) { m.onChange = fn }
}

// WithIDGenerator overrides chat id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Model) { m.newID = fn }
}

// NewModel builds an empty model writing through to store. A nil store keeps
// the model purely in-memory.
func NewModel(store Store, opts ...Option) *Model {
	m := &Model{
		store: store,
		newID: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the model contents with previously persisted state. When the
// loaded list is empty a fresh chat is created so the widget never starts
// without an active conversation.
func (m *Model) Load(chats []Chat, activeID string) {
	m.mu.Lock()
	m.chats = append([]Chat(nil), chats...)
	m.activeID = ""
	if activeID != "" && m.indexOf(activeID) >= 0 {
		m.activeID = activeID
	} else if len(m.chats) > 0 {
		m.activeID = m.chats[0].ID
	}
	empty := len(m.chats) == 0
	m.mu.Unlock()

	if empty {
		m.CreateChat()
		return
	}
	m.notify()
}

// CreateChat inserts an empty chat at the head of the list, makes it active,
// persists, and returns the new id.
func (m *Model) CreateChat() string {
	m.mu.Lock()
	chat := Chat{
		ID:      m.newID(),
		Title:   PlaceholderTitle,
		History: []Message{},
	}
	m.chats = append([]Chat{chat}, m.chats...)
	m.activeID = chat.ID
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
	return chat.ID
}

// OpenChat moves the active pointer. Unknown ids are a no-op; the second
// return value reports whether the chat was found.
func (m *Model) OpenChat(id string) (Chat, bool) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return Chat{}, false
	}
	m.activeID = id
	chat := cloneChat(m.chats[idx])
	m.persistActiveLocked()
	m.mu.Unlock()

	m.notify()
	return chat, true
}

// RenameChat overwrites the chat title. Empty or whitespace-only titles are
// rejected without a persistence write.
func (m *Model) RenameChat(id, newTitle string) {
	newTitle = strings.TrimSpace(newTitle)
	if newTitle == "" {
		return
	}
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats[idx].Title = newTitle
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// ArchiveChat hides the chat from the default list view but keeps it in
// storage.
func (m *Model) ArchiveChat(id string) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats[idx].Archived = true
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// DeleteChat removes the chat permanently. If the deleted chat was active the
// head of the remaining list becomes active; deleting the last chat creates a
// fresh one, so the active pointer never references a missing chat.
func (m *Model) DeleteChat(id string) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats = append(m.chats[:idx], m.chats[idx+1:]...)
	wasActive := m.activeID == id
	if wasActive && len(m.chats) > 0 {
		m.activeID = m.chats[0].ID
	}
	needFresh := len(m.chats) == 0
	if needFresh {
		m.activeID = ""
	}
	m.persistLocked()
	m.mu.Unlock()

	if needFresh {
		m.CreateChat()
		return
	}
	m.notify()
}

// ClearChat empties the chat's history in place. Confirmation is the
// caller's responsibility.
func (m *Model) ClearChat(id string) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats[idx].History = []Message{}
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// ClearAllChats empties the entire list and unsets the active pointer.
func (m *Model) ClearAllChats() {
	m.mu.Lock()
	m.chats = nil
	m.activeID = ""
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// AppendMessage appends to the target chat's history. Unknown chat ids are a
// no-op; the message is never redirected to another chat. A qualifying user
// message promotes a still-generic title (see title.go).
func (m *Model) AppendMessage(chatID string, sender Sender, text, timestamp string) {
	m.mu.Lock()
	idx := m.indexOf(chatID)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats[idx].History = append(m.chats[idx].History, Message{
		Sender:    sender,
		Text:      text,
		Timestamp: timestamp,
	})
	if sender == SenderUser && ShouldPromote(m.chats[idx].Title, text) {
		m.chats[idx].Title = DeriveTitle(text)
	}
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// ApplyTitleSuggestion overwrites the chat title with a server-supplied
// suggestion. The pipeline only calls this for the turn that requested one.
func (m *Model) ApplyTitleSuggestion(chatID, title string) {
	m.RenameChat(chatID, title)
}

// NeedsTitle reports whether a submit of text should ask the server for a
// title suggestion for this chat.
func (m *Model) NeedsTitle(chatID, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(chatID)
	if idx < 0 {
		return false
	}
	return ShouldPromote(m.chats[idx].Title, text)
}

// ReplaceHistory swaps the chat's entire history for the supplied messages.
// This is the remote-sync target: it replaces rather than appends so the sync
// can never duplicate messages.
func (m *Model) ReplaceHistory(chatID string, history []Message) {
	m.mu.Lock()
	idx := m.indexOf(chatID)
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	m.chats[idx].History = append([]Message(nil), history...)
	m.persistLocked()
	m.mu.Unlock()

	m.notify()
}

// Chats returns a copy of the non-archived chats in list order.
func (m *Model) Chats() []Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Chat, 0, len(m.chats))
	for _, c := range m.chats {
		if c.Archived {
			continue
		}
		out = append(out, cloneChat(c))
	}
	return out
}

// AllChats returns a copy of every chat, archived included.
func (m *Model) AllChats() []Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Chat, 0, len(m.chats))
	for _, c := range m.chats {
		out = append(out, cloneChat(c))
	}
	return out
}

// ActiveID returns the active chat id, or "" when the list is empty.
func (m *Model) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// ActiveChat returns a copy of the active chat.
func (m *Model) ActiveChat() (Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(m.activeID)
	if idx < 0 {
		return Chat{}, false
	}
	return cloneChat(m.chats[idx]), true
}

// Chat returns a copy of the chat with the given id.
func (m *Model) Chat(id string) (Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return Chat{}, false
	}
	return cloneChat(m.chats[idx]), true
}

func (m *Model) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range m.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// persistLocked re-serializes both durable keys. Store failures leave the
// in-memory state authoritative; there is no rollback.
func (m *Model) persistLocked() {
	if m.store == nil {
		return
	}
	_ = m.store.SaveChats(append([]Chat(nil), m.chats...))
	_ = m.store.SaveActiveID(m.activeID)
}

func (m *Model) persistActiveLocked() {
	if m.store == nil {
		return
	}
	_ = m.store.SaveActiveID(m.activeID)
}

func (m *Model) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}

func cloneChat(c Chat) Chat {
	c.History = append([]Message(nil), c.History...)
	return c
}
