package store

import (
	"time"

	"newsroom/api/internal/newsdoc"
)

// Document is the latest persisted state of a news document.
type Document struct {
	ID        string
	Version   int64
	Body      newsdoc.Document
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Version is one entry of a document's version log.
type Version struct {
	DocumentID string
	Version    int64
	Body       newsdoc.Document
	CreatedBy  string
	CreatedAt  time.Time
}
