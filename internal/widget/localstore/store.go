// Package localstore is the widget's durable persistence: two full-replace
// keys (the chat list and the active chat id) plus the per-instance session
// identifier, all kept as files under one directory. Concurrent instances
// sharing a directory are last-writer-wins.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"tutorchat/internal/widget/chatmodel"
)

const (
	chatsFile     = "chats.json"
	activeFile    = "active_chat"
	sessionIDFile = "session_id"
)

// Store persists widget state under dir.
type Store struct {
	dir string
}

// Open prepares the store directory.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store directory required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// LoadChats reads the persisted chat list. A missing file is an empty list.
func (s *Store) LoadChats() ([]chatmodel.Chat, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, chatsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read chats: %w", err)
	}
	var chats []chatmodel.Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("decode chats: %w", err)
	}
	return chats, nil
}

// SaveChats re-serializes the whole chat list and atomically replaces the
// file, so a reload can never observe a partial write.
func (s *Store) SaveChats(chats []chatmodel.Chat) error {
	if chats == nil {
		chats = []chatmodel.Chat{}
	}
	data, err := json.Marshal(chats)
	if err != nil {
		return fmt.Errorf("encode chats: %w", err)
	}
	return s.writeAtomic(chatsFile, data)
}

// LoadActiveID reads the persisted active chat pointer, "" when absent.
func (s *Store) LoadActiveID() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activeFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read active id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveActiveID overwrites the active chat pointer.
func (s *Store) SaveActiveID(id string) error {
	return s.writeAtomic(activeFile, []byte(id))
}

// SessionID returns the per-instance session identifier, generating and
// persisting one on first use.
func (s *Store) SessionID() (string, error) {
	path := filepath.Join(s.dir, sessionIDFile)
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read session id: %w", err)
	}

	id := ulid.Make().String()
	if err := s.writeAtomic(sessionIDFile, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) writeAtomic(name string, data []byte) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
