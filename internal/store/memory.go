package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore provides an in-memory CredentialStore for tests and
// ephemeral deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	telegram map[string]*TelegramCredential
	whatsapp map[string]*WhatsAppSession
}

// NewMemoryStore creates an in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		telegram: make(map[string]*TelegramCredential),
		whatsapp: make(map[string]*WhatsAppSession),
	}
}

func (s *MemoryStore) GetTelegram(ctx context.Context, agentID string) (*TelegramCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.telegram[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *cred
	return &c, nil
}

func (s *MemoryStore) UpsertTelegram(ctx context.Context, cred *TelegramCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := *cred
	if existing, ok := s.telegram[cred.AgentID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.telegram[cred.AgentID] = &c
	return nil
}

func (s *MemoryStore) DeactivateTelegram(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cred, ok := s.telegram[agentID]; ok {
		cred.IsActive = false
		cred.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) ListActiveTelegram(ctx context.Context) ([]*TelegramCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var creds []*TelegramCredential
	for _, cred := range s.telegram {
		if cred.IsActive {
			c := *cred
			creds = append(creds, &c)
		}
	}
	sort.Slice(creds, func(i, j int) bool { return creds[i].AgentID < creds[j].AgentID })
	return creds, nil
}

func (s *MemoryStore) GetWhatsApp(ctx context.Context, agentID string) (*WhatsAppSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.whatsapp[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sess
	return &c, nil
}

func (s *MemoryStore) UpsertWhatsApp(ctx context.Context, sess *WhatsAppSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	c := *sess
	if existing, ok := s.whatsapp[sess.AgentID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.whatsapp[sess.AgentID] = &c
	return nil
}

func (s *MemoryStore) DeleteWhatsApp(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.whatsapp, agentID)
	return nil
}

func (s *MemoryStore) ListWhatsApp(ctx context.Context) ([]*WhatsAppSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []*WhatsAppSession
	for _, sess := range s.whatsapp {
		c := *sess
		sessions = append(sessions, &c)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].AgentID < sessions[j].AgentID })
	return sessions, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
