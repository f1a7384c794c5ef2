package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"newsroom/api/internal/archive"
	"newsroom/api/internal/gitrepo"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/rpc"
	"newsroom/api/internal/search"
	"newsroom/api/internal/store"
)

func newTestService(t *testing.T) (*Service, *search.Service, *archive.Memory) {
	t.Helper()
	index := search.NewService(nil, zerolog.Nop())
	snapshots := archive.NewMemory()
	svc := New(store.NewMemoryStore(), zerolog.Nop(),
		WithHistory(gitrepo.New(t.TempDir())),
		WithIndex(index),
		WithArchive(snapshots),
	)
	return svc, index, snapshots
}

func TestCreateFromTemplate(t *testing.T) {
	svc, index, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, newsdoc.TypeArticle, map[string]any{"title": "Harbour reopens", "slugline": "harbour"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if item.Version != 1 || item.Body.Title != "Harbour reopens" {
		t.Fatalf("unexpected item %+v", item)
	}

	got, err := svc.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Body.URI != item.Body.URI {
		t.Fatalf("Get() uri = %q, want %q", got.Body.URI, item.Body.URI)
	}

	commits, err := svc.History(item.ID, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 1 || commits[0].Version != 1 {
		t.Fatalf("unexpected history %+v", commits)
	}

	resp := index.Search(search.Query{Text: "harbour"})
	if resp.Total != 1 || resp.Results[0].ID != item.ID {
		t.Fatalf("document was not indexed: %+v", resp)
	}
}

func TestCreateRejects(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		kind     string
		payload  map[string]any
		wantPath string
	}{
		{name: "unknown template", kind: "core/recipe", payload: map[string]any{"title": "x"}, wantPath: "kind"},
		{name: "missing title", kind: newsdoc.TypeArticle, payload: map[string]any{}, wantPath: "root.title"},
		{name: "slugline with space", kind: newsdoc.TypeFlash, payload: map[string]any{"title": "x", "slugline": "two words"}, wantPath: "meta.tt/slugline[0].value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.kind, tt.payload, "anna")
			rpcErr, ok := rpc.Find(err)
			if !ok || rpcErr.Code != rpc.CodeInvalidArgument {
				t.Fatalf("expected invalid_argument, got %v", err)
			}
			if _, ok := rpcErr.Meta[tt.wantPath]; !ok {
				t.Fatalf("meta %v is missing %q", rpcErr.Meta, tt.wantPath)
			}
		})
	}
}

func TestUpdateIncrementsVersion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, newsdoc.TypeArticle, map[string]any{"title": "First"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := item.Body
	doc.Title = "Second"
	version, err := svc.Update(ctx, item.ID, doc, "bo")
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if version != 2 {
		t.Fatalf("Update() version = %d, want 2", version)
	}

	versions, err := svc.Versions(ctx, item.ID, 10)
	if err != nil {
		t.Fatalf("Versions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Body.Title != "Second" {
		t.Fatalf("unexpected versions %+v", versions)
	}

	commits, err := svc.History(item.ID, 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 2 || commits[0].Version != 2 {
		t.Fatalf("unexpected commits %+v", commits)
	}
}

func TestUpdateValidationError(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	item, err := svc.Create(ctx, newsdoc.TypeArticle, map[string]any{"title": "First"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	doc := item.Body
	doc.Title = ""
	doc.Links = []newsdoc.Block{{Type: "core/section", UUID: "s1"}}
	_, err = svc.Update(ctx, item.ID, doc, "bo")

	var rpcErr *rpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *rpc.Error, got %v", err)
	}
	if rpcErr.Service != "documents" || rpcErr.Method != "Update" || rpcErr.Code != rpc.CodeInvalidArgument {
		t.Fatalf("unexpected error %+v", rpcErr)
	}
	want := map[string]string{
		"root.title":                ReasonRequired,
		"links.core/section[0].rel": ReasonRequired,
	}
	for path, reason := range want {
		if rpcErr.Meta[path] != reason {
			t.Errorf("meta[%q] = %q, want %q", path, rpcErr.Meta[path], reason)
		}
	}

	latest, err := svc.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if latest.Version != 1 {
		t.Fatalf("rejected update changed version to %d", latest.Version)
	}
}

func TestUpdateMismatchedAndMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	doc := newsdoc.Document{UUID: "other", Type: newsdoc.TypeArticle, Title: "x"}
	_, err := svc.Update(ctx, "doc-1", doc, "anna")
	if rpcErr, ok := rpc.Find(err); !ok || rpcErr.Meta["root.uuid"] != ReasonMismatch {
		t.Fatalf("expected uuid mismatch, got %v", err)
	}

	doc.UUID = ""
	_, err = svc.Update(ctx, "doc-1", doc, "anna")
	if rpcErr, ok := rpc.Find(err); !ok || rpcErr.Code != rpc.CodeNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}

	if _, err := svc.Get(ctx, "doc-1"); err == nil {
		t.Fatal("expected Get() error for missing document")
	}
}

func TestSnapshot(t *testing.T) {
	svc, _, snapshots := newTestService(t)
	if err := svc.Snapshot(context.Background(), "doc-1", 3, []byte(`{}`)); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if keys := snapshots.Keys(); len(keys) != 1 {
		t.Fatalf("expected one archived snapshot, got %v", keys)
	}

	bare := New(store.NewMemoryStore(), zerolog.Nop())
	if err := bare.Snapshot(context.Background(), "doc-1", 3, []byte(`{}`)); err != nil {
		t.Fatalf("Snapshot() without archive error = %v", err)
	}
	commits, err := bare.History("doc-1", 5)
	if err != nil || len(commits) != 0 {
		t.Fatalf("History() without backend = %v, %v", commits, err)
	}
}
