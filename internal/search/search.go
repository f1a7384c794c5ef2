package search

import (
	"strings"
	"time"

	"newsroom/api/internal/newsdoc"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	Slugline string `json:"slugline,omitempty"`
	Snippet  string `json:"snippet"`
	Version  int64  `json:"version"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType string // empty = all document types
	Language   string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push documents into a search index.
type Indexer interface {
	IndexDocument(rec DocumentRecord) error
	DeleteDocument(id string) error
}

// DocumentRecord is the data we index for a document version.
type DocumentRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	Slugline  string    `json:"slugline"`
	Body      string    `json:"body"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordFromDocument flattens doc into its indexed form.
func RecordFromDocument(doc newsdoc.Document, version int64, updatedAt time.Time) DocumentRecord {
	rec := DocumentRecord{
		ID:        doc.UUID,
		Type:      doc.Type,
		Title:     doc.Title,
		Language:  doc.Language,
		Version:   version,
		UpdatedAt: updatedAt,
	}
	for _, block := range doc.Meta {
		if block.Type == newsdoc.BlockSlugline && rec.Slugline == "" {
			rec.Slugline = block.Value
		}
	}

	var body []string
	for _, block := range doc.Content {
		if text := strings.TrimSpace(block.Data["text"]); text != "" {
			body = append(body, text)
		}
	}
	rec.Body = strings.Join(body, "\n")
	return rec
}

const defaultLimit = 20

func snippet(body string) string {
	const max = 160
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "…"
}
