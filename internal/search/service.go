package search

import (
	"github.com/rs/zerolog"
)

// Service is the facade that tries Meilisearch first and falls back to
// the in-process index, which always holds every indexed document.
type Service struct {
	meili  *Meili
	memory *MemoryIndex
	logger zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, logger zerolog.Logger) *Service {
	return &Service{
		meili:  meili,
		memory: NewMemoryIndex(),
		logger: logger.With().Str("component", "search").Logger(),
	}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to memory index")
	}

	results, total, err := s.memory.Search(q)
	if err != nil {
		s.logger.Error().Err(err).Msg("memory index search")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes rec locally and, fire-and-forget, in
// Meilisearch.
func (s *Service) IndexDocument(rec DocumentRecord) {
	_ = s.memory.IndexDocument(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(rec); err != nil {
			s.logger.Warn().Err(err).Str("document", rec.ID).Msg("index document")
		}
	}()
}

// DeleteDocument removes a document from both indexes.
func (s *Service) DeleteDocument(id string) {
	_ = s.memory.DeleteDocument(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			s.logger.Warn().Err(err).Str("document", id).Msg("delete document")
		}
	}()
}

// Healthy reports whether the primary backend is serving searches.
func (s *Service) Healthy() bool {
	return s.meili == nil || s.meili.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
