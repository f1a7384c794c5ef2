// Package collab hosts live document replicas. Sessions join a replica
// over a websocket, backend code reaches it through direct connections,
// and edits are persisted through a debounced flush.
package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"newsroom/api/internal/auth"
	"newsroom/api/internal/clock"
	"newsroom/api/internal/debounce"
	"newsroom/api/internal/injector"
	"newsroom/api/internal/metrics"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/presence"
	"newsroom/api/internal/store"
	"newsroom/api/internal/transform"
	"newsroom/api/internal/ydoc"
)

var ErrClosed = errors.New("collaboration server closed")

// Persister loads and saves the documents behind replicas.
type Persister interface {
	Get(ctx context.Context, id string) (store.Document, error)
	Update(ctx context.Context, id string, doc newsdoc.Document, actor string) (int64, error)
	Snapshot(ctx context.Context, id string, version int64, data []byte) error
}

type Config struct {
	Debounce     time.Duration
	MaxWait      time.Duration
	FlushTimeout time.Duration

	AuthTimeout  time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int

	Clock    clock.Clock
	Verifier *auth.Verifier
	Presence *presence.Registry
	Metrics  *metrics.Collector
	// OnError receives flush failures together with the context of the
	// user whose edit triggered the flush.
	OnError injector.Hook
}

func (c *Config) setDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 2 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 10 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 15 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Presence == nil {
		c.Presence = presence.NewRegistry()
	}
	if c.OnError == nil {
		c.OnError = func(context.Context, error, injector.Context) {}
	}
}

type Server struct {
	persister Persister
	cfg       Config
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	flusher   *debounce.Group[string, flushRequest]

	unsubscribePresence func()

	mu      sync.Mutex
	docs    map[string]*document
	closing map[string]chan struct{}
	closed  bool
}

type flushRequest struct {
	doc *document
	hc  injector.Context
}

func New(persister Persister, logger zerolog.Logger, cfg Config) *Server {
	cfg.setDefaults()
	s := &Server{
		persister: persister,
		cfg:       cfg,
		logger:    logger.With().Str("component", "collab").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		docs:    make(map[string]*document),
		closing: make(map[string]chan struct{}),
	}
	s.flusher = debounce.NewGroup(s.persist, cfg.Debounce, cfg.MaxWait, debounce.WithClock(cfg.Clock))
	s.unsubscribePresence = cfg.Presence.Subscribe(s.broadcastPresence)
	return s
}

// SetCheckOrigin replaces the websocket origin check.
func (s *Server) SetCheckOrigin(fn func(r *http.Request) bool) {
	s.upgrader.CheckOrigin = fn
}

// OpenReplicas returns the ids of the documents currently held open.
func (s *Server) OpenReplicas() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// acquire returns the open replica of id, loading it from the persister
// when no one holds it. Every successful acquire must be paired with a
// release.
func (s *Server) acquire(ctx context.Context, id string) (*document, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrClosed
		}
		if wait, ok := s.closing[id]; ok {
			s.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		doc, ok := s.docs[id]
		if ok {
			doc.holders++
			s.mu.Unlock()
			select {
			case <-doc.loaded:
			case <-ctx.Done():
				s.release(doc)
				return nil, ctx.Err()
			}
			if doc.loadErr != nil {
				return nil, doc.loadErr
			}
			return doc, nil
		}

		doc = newDocument(id)
		doc.holders = 1
		s.docs[id] = doc
		s.mu.Unlock()

		if err := s.load(ctx, doc); err != nil {
			s.mu.Lock()
			if s.docs[id] == doc {
				delete(s.docs, id)
			}
			doc.loadErr = err
			s.mu.Unlock()
			close(doc.loaded)
			return nil, err
		}
		close(doc.loaded)
		return doc, nil
	}
}

func (s *Server) load(ctx context.Context, doc *document) error {
	item, err := s.persister.Get(ctx, doc.id)
	if err != nil {
		return fmt.Errorf("load document %s: %w", doc.id, err)
	}
	if err := transform.ToReplica(doc.replica, item.Body, item.Version); err != nil {
		return fmt.Errorf("build replica %s: %w", doc.id, err)
	}
	doc.unobserve = doc.replica.Observe(func(update ydoc.Update) {
		switch update.Origin {
		case transform.OriginTransform, transform.OriginCommit, injector.OriginValidation:
			return
		}
		s.flusher.Call(doc.id, flushRequest{doc: doc, hc: doc.lastContext()})
	})
	s.cfg.Metrics.ReplicaOpened()
	s.logger.Debug().Str("document", doc.id).Int64("version", item.Version).Msg("replica opened")
	return nil
}

// release drops one hold on doc. The last release flushes pending edits,
// archives a snapshot and closes the replica.
func (s *Server) release(doc *document) {
	s.mu.Lock()
	doc.holders--
	if doc.holders > 0 || doc.closing || doc.loadErr != nil {
		s.mu.Unlock()
		return
	}
	doc.closing = true
	s.mu.Unlock()

	s.finalize(doc)
}

func (s *Server) finalize(doc *document) {
	s.flusher.Flush(doc.id, flushRequest{doc: doc, hc: doc.lastContext()})

	s.mu.Lock()
	if doc.holders > 0 {
		doc.closing = false
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	delete(s.docs, doc.id)
	s.closing[doc.id] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.closing, doc.id)
		s.mu.Unlock()
		close(done)
	}()

	if doc.unobserve != nil {
		doc.unobserve()
	}
	s.archive(doc)
	s.cfg.Metrics.ReplicaClosed()
	s.logger.Debug().Str("document", doc.id).Msg("replica closed")
}

func (s *Server) archive(doc *document) {
	data, err := doc.replica.EncodeJSON()
	if err != nil {
		s.logger.Error().Err(err).Str("document", doc.id).Msg("encode replica snapshot")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()
	if err := s.persister.Snapshot(ctx, doc.id, transform.Version(doc.replica), data); err != nil {
		s.logger.Warn().Err(err).Str("document", doc.id).Msg("archive replica snapshot")
	}
}

// persist writes the replica back through the persister. It runs on the
// debounce timer or synchronously from Flush, one call per replica at a
// time.
func (s *Server) persist(id string, req flushRequest) {
	if req.doc == nil {
		return
	}
	req.doc.flushMu.Lock()
	defer req.doc.flushMu.Unlock()

	start := s.cfg.Clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushTimeout)
	defer cancel()

	if req.hc.ID == "" {
		req.hc.ID = id
	}

	// Edits that cancel out leave nothing to write.
	if stale, err := transform.IsStale(req.doc.replica); err == nil && !stale {
		if err := clearValidation(req.doc.replica); err != nil {
			s.logger.Error().Err(err).Str("document", id).Msg("clear validation record")
		}
		s.cfg.Metrics.Flushed(metrics.ResultSkipped, s.cfg.Clock.Now().Sub(start))
		s.logger.Debug().Str("document", id).Msg("replica unchanged, flush skipped")
		return
	}

	state, err := transform.Capture(req.doc.replica)
	if err != nil {
		s.cfg.Metrics.Flushed(metrics.ResultError, s.cfg.Clock.Now().Sub(start))
		s.logger.Error().Err(err).Str("document", id).Msg("read replica for flush")
		return
	}

	version, err := s.persister.Update(ctx, id, state.Document, actorOf(req.hc))
	if err != nil {
		result := metrics.ResultError
		if isValidation(err) {
			result = metrics.ResultInvalid
		}
		s.cfg.Metrics.Flushed(result, s.cfg.Clock.Now().Sub(start))
		s.logger.Warn().Err(err).Str("document", id).Msg("flush document")
		s.cfg.OnError(ctx, err, req.hc)
		return
	}

	if err := commit(req.doc.replica, version, state.Hash); err != nil {
		s.logger.Error().Err(err).Str("document", id).Msg("commit replica version")
	}
	s.cfg.Metrics.Flushed(metrics.ResultOK, s.cfg.Clock.Now().Sub(start))
	s.logger.Debug().Str("document", id).Int64("version", version).Msg("document flushed")
}

// Flush persists pending edits of id right away and reports whether
// there were any.
func (s *Server) Flush(id string) bool {
	s.mu.Lock()
	doc, ok := s.docs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.flusher.Flush(id, flushRequest{doc: doc, hc: doc.lastContext()})
}

// CreateStructure inserts structure at path, relative to the document
// element, on the live replica of id on behalf of hc.
func (s *Server) CreateStructure(ctx context.Context, id string, hc injector.Context, path string, structure any) (bool, error) {
	doc, err := s.acquire(ctx, id)
	if err != nil {
		return false, err
	}
	defer s.release(doc)

	hc.ID = id
	doc.setContext(hc)
	return transform.CreateStructure(doc.replica, path, structure), nil
}

// Document reads the current state of id from its replica.
func (s *Server) Document(ctx context.Context, id string) (newsdoc.Document, int64, error) {
	doc, err := s.acquire(ctx, id)
	if err != nil {
		return newsdoc.Document{}, 0, err
	}
	defer s.release(doc)
	return transform.FromReplica(doc.replica)
}

// OpenDirectConnection gives backend code transactional access to the
// replica of id. The access token must verify when the server has a
// verifier.
func (s *Server) OpenDirectConnection(ctx context.Context, id, accessToken string) (injector.Connection, error) {
	hc := injector.Context{ID: id, AccessToken: accessToken}
	if s.cfg.Verifier != nil {
		claims, err := s.cfg.Verifier.Verify(accessToken)
		if err != nil {
			return nil, fmt.Errorf("direct connection to %s: %w", id, err)
		}
		hc.User = &claims
	}
	doc, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return &directConnection{server: s, doc: doc, hc: hc}, nil
}

// Close flushes and closes every open replica. Sessions still connected
// are disconnected.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	docs := make([]*document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	s.mu.Unlock()

	s.unsubscribePresence()
	for _, doc := range docs {
		for _, sess := range s.sessionsOf(doc, nil) {
			sess.close()
		}
		s.Flush(doc.id)
	}
}

type directConnection struct {
	server *Server
	doc    *document
	hc     injector.Context
	once   sync.Once
}

// Transact runs fn on the replica. Edits other than injected validation
// make the connection's user the one flush failures are reported to.
func (c *directConnection) Transact(origin string, fn func(root *ydoc.Map) error) error {
	if origin != injector.OriginValidation {
		c.doc.setContext(c.hc)
	}
	return c.doc.replica.Transact(origin, fn)
}

func (c *directConnection) Disconnect() {
	c.once.Do(func() { c.server.release(c.doc) })
}

func actorOf(hc injector.Context) string {
	if hc.User != nil && hc.User.Sub != "" {
		return hc.User.Sub
	}
	return "system"
}
