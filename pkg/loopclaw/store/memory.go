// Package store – memory.go provides an in-memory ThreadStore used by tests
// and by ephemeral (no data dir) runs.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded in-memory ThreadStore.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*Metadata
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*Metadata)}
}

func (s *MemoryStore) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMetadata(md), nil
}

func (s *MemoryStore) SaveMetadata(ctx context.Context, md *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if md.CreatedAt.IsZero() {
		md.CreatedAt = now
	}
	md.UpdatedAt = now
	s.threads[md.ConversationID] = cloneMetadata(md)
	return nil
}

func (s *MemoryStore) UpdateMetadata(ctx context.Context, id string, patch Patch) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Title != nil {
		md.Title = *patch.Title
	}
	if patch.Workspace != nil {
		md.Workspace = *patch.Workspace
	}
	if patch.Loop != nil {
		if isNullJSON(patch.Loop) {
			md.Loop = nil
		} else {
			md.Loop = append(json.RawMessage(nil), patch.Loop...)
		}
	}
	md.UpdatedAt = time.Now().UTC()
	return cloneMetadata(md), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Metadata, 0, len(s.threads))
	for _, md := range s.threads {
		out = append(out, cloneMetadata(md))
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneMetadata(md *Metadata) *Metadata {
	out := *md
	if md.Loop != nil {
		out.Loop = append(json.RawMessage(nil), md.Loop...)
	}
	return &out
}
