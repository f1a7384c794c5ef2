package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"newsroom/api/internal/newsdoc"
)

// MemoryStore is a DocumentStore kept in process. Bodies are stored as
// JSON so callers never share slices with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	versions map[string][]Version
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		versions: make(map[string][]Version),
		now:      time.Now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateDocument(_ context.Context, doc newsdoc.Document, actor string) (Document, error) {
	body, err := cloneDocument(doc)
	if err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.UUID]; ok {
		return Document{}, ErrExists
	}
	now := s.now()
	item := Document{ID: doc.UUID, Version: 1, Body: body, CreatedBy: actor, UpdatedBy: actor, CreatedAt: now, UpdatedAt: now}
	s.docs[doc.UUID] = item
	s.versions[doc.UUID] = []Version{{DocumentID: doc.UUID, Version: 1, Body: body, CreatedBy: actor, CreatedAt: now}}
	return item, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc newsdoc.Document, actor string) (Document, error) {
	body, err := cloneDocument(doc)
	if err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.docs[doc.UUID]
	if !ok {
		return Document{}, ErrNotFound
	}
	now := s.now()
	item.Version++
	item.Body = body
	item.UpdatedBy = actor
	item.UpdatedAt = now
	s.docs[doc.UUID] = item
	s.versions[doc.UUID] = append(s.versions[doc.UUID], Version{
		DocumentID: doc.UUID, Version: item.Version, Body: body, CreatedBy: actor, CreatedAt: now,
	})
	return item, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	item, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return Document{}, ErrNotFound
	}
	body, err := cloneDocument(item.Body)
	if err != nil {
		return Document{}, err
	}
	item.Body = body
	return item, nil
}

func (s *MemoryStore) GetVersion(_ context.Context, id string, version int64) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.versions[id] {
		if item.Version == version {
			return item, nil
		}
	}
	return Version{}, ErrNotFound
}

func (s *MemoryStore) ListVersions(_ context.Context, id string, limit int) ([]Version, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.versions[id]
	items := make([]Version, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(items) < limit; i-- {
		items = append(items, all[i])
	}
	return items, nil
}

func cloneDocument(doc newsdoc.Document) (newsdoc.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return newsdoc.Document{}, fmt.Errorf("encode document: %w", err)
	}
	var out newsdoc.Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return newsdoc.Document{}, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}
