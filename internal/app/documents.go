package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"newsroom/api/internal/injector"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/notify"
	"newsroom/api/internal/rbac"
	"newsroom/api/internal/search"
	"newsroom/api/internal/store"
)

type documentView struct {
	ID        string           `json:"id"`
	Version   int64            `json:"version"`
	Document  newsdoc.Document `json:"document"`
	CreatedBy string           `json:"createdBy"`
	UpdatedBy string           `json:"updatedBy"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func toDocumentView(item store.Document) documentView {
	return documentView{
		ID:        item.ID,
		Version:   item.Version,
		Document:  item.Body,
		CreatedBy: item.CreatedBy,
		UpdatedBy: item.UpdatedBy,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

type versionView struct {
	Version   int64            `json:"version"`
	Document  newsdoc.Document `json:"document"`
	CreatedBy string           `json:"createdBy"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (s *HTTPServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": newsdoc.TemplateKinds()})
}

func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionCreate) {
		return
	}
	var body struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Type) == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "type is required", nil)
		return
	}

	item, err := s.deps.Documents.Create(r.Context(), body.Type, body.Payload, userFrom(r).Claims.Sub)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDocumentView(item))
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionView) {
		return
	}
	item, err := s.deps.Documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentView(item))
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionView) {
		return
	}
	id := chi.URLParam(r, "id")
	versions, err := s.deps.Documents.Versions(r.Context(), id, queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]versionView, 0, len(versions))
	for _, v := range versions {
		views = append(views, versionView{
			Version:   v.Version,
			Document:  v.Body,
			CreatedBy: v.CreatedBy,
			CreatedAt: v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "versions": views})
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionView) {
		return
	}
	id := chi.URLParam(r, "id")
	commits, err := s.deps.Documents.History(id, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "commits": commits})
}

// handleCreateStructure inserts a structure into the live replica. The
// caller's token travels with the edit so a failed flush is reported
// back to them.
func (s *HTTPServer) handleCreateStructure(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionEdit) {
		return
	}
	var body struct {
		Path      string `json:"path"`
		Structure any    `json:"structure"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Path) == "" || body.Structure == nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "path and structure are required", nil)
		return
	}

	user := userFrom(r)
	claims := user.Claims
	hc := injector.Context{AccessToken: user.Token, User: &claims}
	id := chi.URLParam(r, "id")
	created, err := s.deps.Collab.CreateStructure(r.Context(), id, hc, body.Path, body.Structure)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !created {
		s.fail(w, r, errPathUnresolved(body.Path))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "created": true})
}

func (s *HTTPServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionEdit) {
		return
	}
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "flushed": s.deps.Collab.Flush(id)})
}

func (s *HTTPServer) handleReplicas(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionAdmin) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replicas": s.deps.Collab.OpenReplicas()})
}

func (s *HTTPServer) handleCollab(w http.ResponseWriter, r *http.Request) {
	s.deps.Collab.ServeDocument(w, r, chi.URLParam(r, "id"))
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, rbac.ActionView) {
		return
	}
	if s.deps.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}
	query := r.URL.Query()
	resp := s.deps.Search.Search(search.Query{
		Text:       query.Get("q"),
		FilterType: query.Get("type"),
		Language:   query.Get("language"),
		Limit:      queryInt(r, "limit", 0),
		Offset:     queryInt(r, "offset", 0),
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.Inbox == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []notify.Notification{}})
		return
	}
	notes, err := s.deps.Inbox.Recent(r.Context(), userFrom(r).Claims.Sub, queryInt(r, "limit", 20))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notes})
}
