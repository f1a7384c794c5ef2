package store

import (
	"context"
	"errors"

	"newsroom/api/internal/newsdoc"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// DocumentStore persists documents with a monotonic version. Every write
// appends to the version log.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc newsdoc.Document, actor string) (Document, error)
	SaveDocument(ctx context.Context, doc newsdoc.Document, actor string) (Document, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	GetVersion(ctx context.Context, id string, version int64) (Version, error)
	ListVersions(ctx context.Context, id string, limit int) ([]Version, error)
	Ping(ctx context.Context) error
}
