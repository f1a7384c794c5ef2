package collab

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"newsroom/api/internal/auth"
	"newsroom/api/internal/injector"
	"newsroom/api/internal/presence"
	"newsroom/api/internal/rbac"
	"newsroom/api/internal/signal"
)

// Notices sent to clients as message signals.
const (
	NoticeAuthenticated = "authenticated"
	NoticeForbidden     = "forbidden"
	NoticeUnauthorized  = "unauthenticated"
	NoticeUnavailable   = "document unavailable"
	NoticeRejected      = "update rejected"
)

const maxFrameSize = 4 << 20

var (
	errNotAuthFrame = errors.New("first frame must be an auth signal")
	errNoVerifier   = errors.New("no token verifier configured")
)

type outbound struct {
	kind int
	data []byte
}

// session is one websocket connection on a document. Reads happen on the
// serving goroutine, writes on writeLoop.
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	doc    *document
	send   chan outbound
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	claims auth.Claims
	token  string
}

// ServeDocument upgrades r to a websocket and runs a session on document
// id until the connection ends. The first frame must be an auth signal.
func (s *Server) ServeDocument(w http.ResponseWriter, r *http.Request, id string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("document", id).Msg("websocket upgrade")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameSize)

	claims, token, err := s.authenticate(conn)
	if err != nil {
		s.logger.Info().Err(err).Str("document", id).Msg("session authentication failed")
		reject(conn, NoticeUnauthorized, s.cfg.WriteTimeout)
		return
	}
	if !rbac.Can(rbac.Normalize(claims.Role), rbac.ActionView) {
		reject(conn, NoticeForbidden, s.cfg.WriteTimeout)
		return
	}

	doc, err := s.acquire(r.Context(), id)
	if err != nil {
		s.logger.Warn().Err(err).Str("document", id).Msg("open replica for session")
		reject(conn, NoticeUnavailable, s.cfg.WriteTimeout)
		return
	}

	sess := &session{
		id:     uuid.NewString(),
		server: s,
		conn:   conn,
		doc:    doc,
		send:   make(chan outbound, s.cfg.SendBuffer),
		done:   make(chan struct{}),
		claims: claims,
		token:  token,
	}
	s.join(doc, sess)
	defer s.leave(doc, sess)

	go sess.writeLoop()
	sess.notice(NoticeAuthenticated)
	for _, activity := range s.cfg.Presence.Active(id) {
		sess.presence(presence.Event{Activity: activity, Active: true})
	}
	sess.readLoop()
}

func (s *Server) authenticate(conn *websocket.Conn) (auth.Claims, string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return auth.Claims{}, "", err
	}
	_ = conn.SetReadDeadline(time.Time{})
	if kind != websocket.TextMessage {
		return auth.Claims{}, "", errNotAuthFrame
	}
	msg, err := signal.Decode(string(data))
	if err != nil {
		s.cfg.Metrics.SignalRejected(rejectReason(err))
		return auth.Claims{}, "", err
	}
	if msg.Tag != signal.TagAuth {
		return auth.Claims{}, "", errNotAuthFrame
	}
	return s.verify(msg.Payload.(signal.AuthPayload).Token)
}

func (s *Server) verify(token string) (auth.Claims, string, error) {
	if s.cfg.Verifier == nil {
		return auth.Claims{}, "", errNoVerifier
	}
	claims, err := s.cfg.Verifier.Verify(token)
	if err != nil {
		return auth.Claims{}, "", err
	}
	return claims, token, nil
}

func (s *Server) join(doc *document, sess *session) {
	s.mu.Lock()
	doc.sessions[sess] = struct{}{}
	s.mu.Unlock()
	s.cfg.Metrics.SessionJoined()
	s.logger.Debug().Str("document", doc.id).Str("session", sess.id).Str("user", sess.user()).Msg("session joined")
}

func (s *Server) leave(doc *document, sess *session) {
	sess.close()
	s.mu.Lock()
	delete(doc.sessions, sess)
	s.mu.Unlock()
	s.cfg.Presence.Clear(doc.id, sess.user())
	s.cfg.Metrics.SessionLeft()
	s.logger.Debug().Str("document", doc.id).Str("session", sess.id).Msg("session left")
	s.release(doc)
}

// sessionsOf returns the sessions on doc other than except.
func (s *Server) sessionsOf(doc *document, except *session) []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(doc.sessions))
	for sess := range doc.sessions {
		if sess != except {
			out = append(out, sess)
		}
	}
	return out
}

func (s *Server) relay(from *session, msg outbound) {
	for _, peer := range s.sessionsOf(from.doc, from) {
		peer.enqueue(msg)
	}
}

func (s *Server) broadcastPresence(event presence.Event) {
	s.mu.Lock()
	doc, ok := s.docs[event.DocumentID]
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, sess := range s.sessionsOf(doc, nil) {
		if sess.user() != event.ActorID {
			sess.presence(event)
		}
	}
}

func (sess *session) readLoop() {
	s := sess.server
	for {
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Str("session", sess.id).Msg("session read")
			}
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			if !sess.can(rbac.ActionEdit) {
				sess.notice(NoticeForbidden)
				continue
			}
			if err := sess.applyFrame(data); err != nil {
				s.logger.Debug().Err(err).Str("session", sess.id).Msg("rejected update")
				sess.notice(NoticeRejected)
				continue
			}
			s.relay(sess, outbound{kind: websocket.BinaryMessage, data: data})
			s.cfg.Metrics.FrameRelayed()
		case websocket.TextMessage:
			if !sess.handleSignal(string(data)) {
				return
			}
		}
	}
}

// applyFrame applies an update frame to the replica as this session's
// user. The previous editor is restored when nothing was applied.
func (sess *session) applyFrame(data []byte) error {
	update, err := decodeUpdate(data)
	if err != nil {
		return err
	}
	prev := sess.doc.swapContext(sess.context())
	if err := applyUpdate(sess.doc.replica, update); err != nil {
		sess.doc.setContext(prev)
		return err
	}
	return nil
}

// handleSignal applies one text frame and reports whether the session
// stays open.
func (sess *session) handleSignal(raw string) bool {
	s := sess.server
	msg, err := signal.Decode(raw)
	if err != nil {
		s.cfg.Metrics.SignalRejected(rejectReason(err))
		s.logger.Debug().Err(err).Str("session", sess.id).Msg("rejected signal")
		return true
	}

	switch msg.Tag {
	case signal.TagAuth:
		claims, token, err := s.verify(msg.Payload.(signal.AuthPayload).Token)
		if err != nil {
			sess.notice(NoticeUnauthorized)
			return false
		}
		sess.mu.Lock()
		sess.claims, sess.token = claims, token
		sess.mu.Unlock()
	case signal.TagMessage:
		if !sess.can(rbac.ActionSignal) {
			return true
		}
		encoded, err := signal.Notice(msg.Payload.(string))
		if err != nil {
			return true
		}
		s.relay(sess, outbound{kind: websocket.TextMessage, data: []byte(encoded)})
	case signal.TagInProgress:
		if !sess.can(rbac.ActionSignal) {
			return true
		}
		payload := msg.Payload.(signal.InProgressPayload)
		s.cfg.Presence.Set(sess.doc.id, sess.user(), payload.ID, payload.State, payload.Context)
	}
	return true
}

func (sess *session) writeLoop() {
	s := sess.server
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case msg := <-sess.send:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := sess.conn.WriteMessage(msg.kind, msg.data); err != nil {
				s.logger.Debug().Err(err).Str("session", sess.id).Msg("session write")
				sess.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sess.close()
				return
			}
		}
	}
}

// enqueue queues msg for writing. A peer too slow to drain its buffer
// loses the frame.
func (sess *session) enqueue(msg outbound) {
	select {
	case <-sess.done:
	case sess.send <- msg:
	default:
		sess.server.logger.Warn().Str("session", sess.id).Msg("send buffer full, dropping frame")
	}
}

func (sess *session) notice(text string) {
	encoded, err := signal.Notice(text)
	if err != nil {
		return
	}
	sess.enqueue(outbound{kind: websocket.TextMessage, data: []byte(encoded)})
}

func (sess *session) presence(event presence.Event) {
	id := event.Subject
	if id == "" {
		id = event.ActorID
	}
	encoded, err := signal.InProgress(signal.InProgressPayload{
		State:   event.Active,
		ID:      id,
		Context: event.Context,
	})
	if err != nil {
		return
	}
	sess.enqueue(outbound{kind: websocket.TextMessage, data: []byte(encoded)})
}

// close stops the writer and unblocks the reader.
func (sess *session) close() {
	sess.once.Do(func() {
		close(sess.done)
		_ = sess.conn.SetReadDeadline(time.Now())
	})
}

func (sess *session) user() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.claims.Sub
}

func (sess *session) can(action rbac.Action) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return rbac.Can(rbac.Normalize(sess.claims.Role), action)
}

// context identifies the session's user to the error hooks.
func (sess *session) context() injector.Context {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	claims := sess.claims
	return injector.Context{ID: sess.doc.id, AccessToken: sess.token, User: &claims}
}

func reject(conn *websocket.Conn, reason string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	if encoded, err := signal.Notice(reason); err == nil {
		_ = conn.SetWriteDeadline(deadline)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(encoded))
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, signal.ErrMalformed):
		return "malformed"
	case errors.Is(err, signal.ErrUnknownTag):
		return "unknown_tag"
	case errors.Is(err, signal.ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "other"
	}
}
