package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"newsroom/api/internal/auth"
	"newsroom/api/internal/gitrepo"
	"newsroom/api/internal/injector"
	"newsroom/api/internal/metrics"
	"newsroom/api/internal/notify"
	"newsroom/api/internal/rbac"
	"newsroom/api/internal/rpc"
	"newsroom/api/internal/search"
	"newsroom/api/internal/store"
)

// Documents is the document repository.
type Documents interface {
	Create(ctx context.Context, kind string, payload map[string]any, actor string) (store.Document, error)
	Get(ctx context.Context, id string) (store.Document, error)
	Versions(ctx context.Context, id string, limit int) ([]store.Version, error)
	History(id string, limit int) ([]gitrepo.Commit, error)
	Ping(ctx context.Context) error
}

// Collaboration is the live replica server.
type Collaboration interface {
	ServeDocument(w http.ResponseWriter, r *http.Request, id string)
	CreateStructure(ctx context.Context, id string, hc injector.Context, path string, structure any) (bool, error)
	Flush(id string) bool
	OpenReplicas() []string
}

type Searcher interface {
	Search(q search.Query) search.Response
	Healthy() bool
}

// Inbox lists the notifications delivered to a user.
type Inbox interface {
	Recent(ctx context.Context, userID string, limit int) ([]notify.Notification, error)
	Ping(ctx context.Context) error
}

type Deps struct {
	Documents Documents
	Collab    Collaboration
	Search    Searcher
	// Inbox is optional; without it notifications are always empty.
	Inbox      Inbox
	Verifier   *auth.Verifier
	Metrics    *metrics.Collector
	Logger     zerolog.Logger
	CORSOrigin string
}

type HTTPServer struct {
	deps   Deps
	logger zerolog.Logger
}

func NewHTTPServer(deps Deps) *HTTPServer {
	if deps.CORSOrigin == "" {
		deps.CORSOrigin = "*"
	}
	return &HTTPServer{
		deps:   deps,
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newCORSMiddleware(s.deps.CORSOrigin))
	r.Use(newLoggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	if s.deps.Metrics != nil {
		r.Use(newMetricsMiddleware(s.deps.Metrics))
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Websocket sessions outlive any request timeout.
	r.Get("/api/collab/{id}", s.handleCollab)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/api/health", s.handleHealth)
		r.Get("/api/ready", s.handleReady)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/api/templates", s.handleTemplates)
			r.Post("/api/documents", s.handleCreateDocument)
			r.Get("/api/documents/{id}", s.handleGetDocument)
			r.Get("/api/documents/{id}/versions", s.handleVersions)
			r.Get("/api/documents/{id}/history", s.handleHistory)
			r.Post("/api/documents/{id}/structure", s.handleCreateStructure)
			r.Post("/api/documents/{id}/flush", s.handleFlush)
			r.Get("/api/replicas", s.handleReplicas)
			r.Get("/api/search", s.handleSearch)
			r.Get("/api/notifications", s.handleNotifications)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReady fails only on the database. Search and notifications
// degrade without taking the API out of rotation.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.deps.Documents.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	if s.deps.Search != nil {
		checks["search"] = map[string]any{"status": okOrDegraded(s.deps.Search.Healthy())}
	}
	if s.deps.Inbox != nil {
		check := map[string]any{"status": "ok"}
		if err := s.deps.Inbox.Ping(ctx); err != nil {
			check["status"] = "degraded"
			check["error"] = err.Error()
		}
		checks["notifications"] = check
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func okOrDegraded(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

type userKey struct{}

// requireUser verifies the bearer token and stores the claims on the
// request context.
func (s *HTTPServer) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		claims, err := s.deps.Verifier.Verify(token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, requestUser{Claims: claims, Token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestUser struct {
	Claims auth.Claims
	Token  string
}

func userFrom(r *http.Request) requestUser {
	user, _ := r.Context().Value(userKey{}).(requestUser)
	return user
}

// allow writes a 403 unless the caller's role permits action.
func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request, action rbac.Action) bool {
	user := userFrom(r)
	if rbac.Can(rbac.Normalize(user.Claims.Role), action) {
		return true
	}
	s.logger.Info().
		Str("user", user.Claims.Sub).
		Str("action", string(action)).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("forbidden")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if rpcErr, ok := rpc.Find(err); ok {
		switch rpcErr.Code {
		case rpc.CodeInvalidArgument:
			var meta any
			if len(rpcErr.Meta) > 0 {
				meta = rpcErr.Meta
			}
			return http.StatusBadRequest, "INVALID_ARGUMENT", rpcErr.Message, meta
		case rpc.CodeNotFound:
			return http.StatusNotFound, "NOT_FOUND", "Not found", nil
		case rpc.CodeUnauthenticated:
			return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrExists) {
		return http.StatusConflict, "CONFLICT", "Document already exists", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// fail logs unexpected errors and writes the mapped response.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}
