package search

import (
	"sort"
	"strings"
	"sync"
)

// MemoryIndex is an in-process index used when Meilisearch is not
// configured or unhealthy. Matching is case-insensitive substring search
// over title, slugline and body.
type MemoryIndex struct {
	mu      sync.RWMutex
	records map[string]DocumentRecord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{records: make(map[string]DocumentRecord)}
}

func (m *MemoryIndex) IndexDocument(rec DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryIndex) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryIndex) Healthy() bool { return true }

func (m *MemoryIndex) Search(q Query) ([]Result, int, error) {
	needle := strings.ToLower(strings.TrimSpace(q.Text))

	m.mu.RLock()
	matches := make([]DocumentRecord, 0)
	for _, rec := range m.records {
		if q.FilterType != "" && rec.Type != q.FilterType {
			continue
		}
		if q.Language != "" && rec.Language != q.Language {
			continue
		}
		haystack := strings.ToLower(rec.Title + "\n" + rec.Slugline + "\n" + rec.Body)
		if needle != "" && !strings.Contains(haystack, needle) {
			continue
		}
		matches = append(matches, rec)
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UpdatedAt.Equal(matches[j].UpdatedAt) {
			return matches[i].UpdatedAt.After(matches[j].UpdatedAt)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	start := q.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	results := make([]Result, 0, end-start)
	for _, rec := range matches[start:end] {
		results = append(results, Result{
			ID:       rec.ID,
			Type:     rec.Type,
			Title:    rec.Title,
			Slugline: rec.Slugline,
			Snippet:  snippet(rec.Body),
			Version:  rec.Version,
		})
	}
	return results, total, nil
}
