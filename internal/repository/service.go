// Package repository is the persistence collaborator of the collaboration
// server. Writes are validated, stored with a new version, committed to
// the document's git history and indexed for search.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"newsroom/api/internal/archive"
	"newsroom/api/internal/gitrepo"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/rpc"
	"newsroom/api/internal/search"
	"newsroom/api/internal/store"
)

const serviceName = "documents"

// History records every persisted version.
type History interface {
	CommitVersion(documentID string, version int64, doc newsdoc.Document, author string) (gitrepo.Commit, error)
	History(documentID string, limit int) ([]gitrepo.Commit, error)
}

// Index receives every persisted version.
type Index interface {
	IndexDocument(rec search.DocumentRecord)
}

type Service struct {
	store   store.DocumentStore
	history History
	index   Index
	archive archive.Archiver
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithHistory(h History) Option { return func(s *Service) { s.history = h } }

func WithIndex(i Index) Option { return func(s *Service) { s.index = i } }

func WithArchive(a archive.Archiver) Option { return func(s *Service) { s.archive = a } }

func New(st store.DocumentStore, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: logger.With().Str("component", "repository").Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create instantiates a template and persists it as version 1.
func (s *Service) Create(ctx context.Context, kind string, payload map[string]any, actor string) (store.Document, error) {
	doc, err := newsdoc.FromTemplate(kind, payload)
	if err != nil {
		if errors.Is(err, newsdoc.ErrUnknownTemplate) {
			return store.Document{}, rpc.InvalidArgument(serviceName, "Create", err.Error(), map[string]string{"kind": "unknown template"})
		}
		return store.Document{}, err
	}
	if problems := Validate(doc); problems != nil {
		return store.Document{}, rpc.InvalidArgument(serviceName, "Create", "document failed validation", problems)
	}

	item, err := s.store.CreateDocument(ctx, doc, actor)
	if err != nil {
		return store.Document{}, fmt.Errorf("create document: %w", err)
	}
	s.afterWrite(item, actor)
	return item, nil
}

func (s *Service) Get(ctx context.Context, id string) (store.Document, error) {
	item, err := s.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, &rpc.Error{Code: rpc.CodeNotFound, Message: "document not found", Service: serviceName, Method: "Get"}
	}
	return item, err
}

// Update validates doc and stores it as the next version of id.
// Validation failures are invalid_argument RPC errors whose meta maps
// each offending path to a reason.
func (s *Service) Update(ctx context.Context, id string, doc newsdoc.Document, actor string) (int64, error) {
	if doc.UUID == "" {
		doc.UUID = id
	}
	if doc.UUID != id {
		return 0, rpc.InvalidArgument(serviceName, "Update", "document failed validation", map[string]string{"root.uuid": ReasonMismatch})
	}
	if problems := Validate(doc); problems != nil {
		return 0, rpc.InvalidArgument(serviceName, "Update", "document failed validation", problems)
	}

	item, err := s.store.SaveDocument(ctx, doc, actor)
	if errors.Is(err, store.ErrNotFound) {
		return 0, &rpc.Error{Code: rpc.CodeNotFound, Message: "document not found", Service: serviceName, Method: "Update"}
	}
	if err != nil {
		return 0, fmt.Errorf("save document %s: %w", id, err)
	}
	s.afterWrite(item, actor)
	return item.Version, nil
}

// Versions lists stored versions, newest first.
func (s *Service) Versions(ctx context.Context, id string, limit int) ([]store.Version, error) {
	return s.store.ListVersions(ctx, id, limit)
}

// History lists the git commits of id, newest first. Without a history
// backend the list is empty.
func (s *Service) History(id string, limit int) ([]gitrepo.Commit, error) {
	if s.history == nil {
		return []gitrepo.Commit{}, nil
	}
	return s.history.History(id, limit)
}

// Snapshot archives a serialized replica.
func (s *Service) Snapshot(ctx context.Context, id string, version int64, data []byte) error {
	if s.archive == nil {
		return nil
	}
	key, err := s.archive.Put(ctx, id, version, data)
	if err != nil {
		return fmt.Errorf("archive snapshot of %s: %w", id, err)
	}
	s.logger.Debug().Str("document", id).Int64("version", version).Str("key", key).Msg("archived replica snapshot")
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// afterWrite feeds history and search. Failures there never fail the
// write itself.
func (s *Service) afterWrite(item store.Document, actor string) {
	if s.history != nil {
		if _, err := s.history.CommitVersion(item.ID, item.Version, item.Body, actor); err != nil {
			s.logger.Warn().Err(err).Str("document", item.ID).Int64("version", item.Version).Msg("commit version history")
		}
	}
	if s.index != nil {
		updated := item.UpdatedAt
		if updated.IsZero() {
			updated = s.now()
		}
		s.index.IndexDocument(search.RecordFromDocument(item.Body, item.Version, updated))
	}
}
