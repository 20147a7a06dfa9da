package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/live-voice-lab/internal/logging"
)

const titleLimit = 50

// Service tracks the current conversation. The current pointer lives in
// process memory; conversations live in the Store.
type Service struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	current string
}

func NewService(store Store) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{store: store, now: time.Now}
}

// Create starts a conversation and makes it current.
func (s *Service) Create(ctx context.Context, title string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(ctx, title)
}

func (s *Service) createLocked(ctx context.Context, title string) (*Conversation, error) {
	now := s.now()
	if title == "" {
		title = "Conversation " + now.Format("2006-01-02 15:04:05")
	}
	c := &Conversation{ID: uuid.NewString(), Title: title, Messages: []Message{}, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Save(ctx, c); err != nil {
		return nil, err
	}
	s.current = c.ID
	logging.Debugw("history: conversation created", logging.ConversationFields(c.ID)...)
	return c, nil
}

// AddMessage appends to the current conversation, creating one if needed.
// A user message that opens a conversation becomes its title.
func (s *Service) AddMessage(ctx context.Context, role Role, content string, calls ...ToolCall) (Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var c *Conversation
	var err error
	if s.current != "" {
		c, err = s.store.Load(ctx, s.current)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return Message{}, err
		}
	}
	if c == nil {
		if c, err = s.createLocked(ctx, ""); err != nil {
			return Message{}, err
		}
	}
	msg := Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: s.now(), ToolCalls: calls}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.Timestamp
	if len(c.Messages) == 1 && role == RoleUser {
		c.Title = titleFrom(content)
	}
	if err := s.store.Save(ctx, c); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func titleFrom(content string) string {
	r := []rune(content)
	if len(r) <= titleLimit {
		return content
	}
	return string(r[:titleLimit]) + "..."
}

// Current returns the current conversation, or nil when there is none.
func (s *Service) Current(ctx context.Context) (*Conversation, error) {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		return nil, nil
	}
	c, err := s.store.Load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *Service) Get(ctx context.Context, id string) (*Conversation, error) {
	return s.store.Load(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*Conversation, error) {
	return s.store.List(ctx)
}

// SetCurrent switches to an existing conversation.
func (s *Service) SetCurrent(ctx context.Context, id string) error {
	if _, err := s.store.Load(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if s.current == id {
		s.current = ""
	}
	return nil
}

func (s *Service) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = ""
	return s.store.Clear(ctx)
}

// Export renders a conversation as indented JSON.
func (s *Service) Export(ctx context.Context, id string) ([]byte, error) {
	c, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(c, "", "  ")
}

// ExportFile writes the export to path atomically.
func (s *Service) ExportFile(ctx context.Context, id, path string) error {
	data, err := s.Export(ctx, id)
	if err != nil {
		return err
	}
	return saveFileAtomic(path, data, 0o644)
}

// saveFileAtomic writes to a tmp file in the target directory, syncs it and
// renames it into place.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	fail := func(err error) error {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if _, err := f.Write(data); err != nil {
		return fail(err)
	}
	if err := f.Chmod(mode); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
