package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps conversations in process memory. Values are copied in
// and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (s *MemoryStore) Save(_ context.Context, c *Conversation) error {
	if c == nil || c.ID == "" {
		return ErrInvalidID
	}
	s.mu.Lock()
	s.convs[c.ID] = c.clone()
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*Conversation, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Conversation, error) {
	s.mu.RLock()
	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.clone())
	}
	s.mu.RUnlock()
	sortByUpdated(out)
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.convs = make(map[string]*Conversation)
	s.mu.Unlock()
	return nil
}

func sortByUpdated(cs []*Conversation) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].UpdatedAt.After(cs[j].UpdatedAt)
	})
}
