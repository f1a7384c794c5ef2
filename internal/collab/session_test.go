package collab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"newsroom/api/internal/archive"
	"newsroom/api/internal/auth"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/presence"
	"newsroom/api/internal/repository"
	"newsroom/api/internal/signal"
	"newsroom/api/internal/store"
)

type wsFixture struct {
	server    *Server
	repo      *repository.Service
	verifier  *auth.Verifier
	snapshots *archive.Memory
	url       string
	docID     string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	snapshots := archive.NewMemory()
	repo := repository.New(store.NewMemoryStore(), zerolog.Nop(), repository.WithArchive(snapshots))
	item, err := repo.Create(context.Background(), newsdoc.TypeArticle, map[string]any{"title": "Live"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	verifier := auth.NewVerifier([]byte("test-secret"))
	server := New(repo, zerolog.Nop(), Config{
		Verifier: verifier,
		Presence: presence.NewRegistry(),
	})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.ServeDocument(w, r, item.ID)
	}))
	t.Cleanup(func() {
		ts.Close()
		server.Close()
	})

	return &wsFixture{
		server:    server,
		repo:      repo,
		verifier:  verifier,
		snapshots: snapshots,
		url:       "ws" + strings.TrimPrefix(ts.URL, "http"),
		docID:     item.ID,
	}
}

func (f *wsFixture) token(t *testing.T, sub, role string) string {
	t.Helper()
	token, err := f.verifier.Issue(auth.Claims{Sub: sub, Role: role, Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return token
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) (int, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return kind, data
}

func readSignal(t *testing.T, conn *websocket.Conn) signal.Message {
	t.Helper()
	kind, data := readFrame(t, conn)
	if kind != websocket.TextMessage {
		t.Fatalf("expected text frame, got kind %d", kind)
	}
	msg, err := signal.Decode(string(data))
	if err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return msg
}

func join(t *testing.T, f *wsFixture, sub, role string) *websocket.Conn {
	t.Helper()
	conn := dial(t, f.url)
	frame, err := signal.Auth(f.token(t, sub, role))
	if err != nil {
		t.Fatalf("Auth() error = %v", err)
	}
	sendText(t, conn, frame)
	msg := readSignal(t, conn)
	if msg.Tag != signal.TagMessage || msg.Payload != NoticeAuthenticated {
		t.Fatalf("expected authenticated notice, got %+v", msg)
	}
	return conn
}

func TestSessionsRelayFramesAndSignals(t *testing.T) {
	f := newWSFixture(t)
	alice := join(t, f, "alice", "writer")
	bob := join(t, f, "bob", "writer")

	update := []byte(`{"ops":[{"op":"set","path":"root.title","value":"Harbour reopens"}]}`)
	if err := alice.WriteMessage(websocket.BinaryMessage, update); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	kind, data := readFrame(t, bob)
	if kind != websocket.BinaryMessage || string(data) != string(update) {
		t.Fatalf("bob got kind %d data %v", kind, data)
	}

	notice, _ := signal.Notice("saving soon")
	sendText(t, alice, notice)
	msg := readSignal(t, bob)
	if msg.Tag != signal.TagMessage || msg.Payload != "saving soon" {
		t.Fatalf("unexpected relayed message %+v", msg)
	}

	busy, _ := signal.InProgress(signal.InProgressPayload{State: true, ID: "p1-edit", Context: map[string]any{"block": "p1"}})
	sendText(t, alice, busy)
	msg = readSignal(t, bob)
	if msg.Tag != signal.TagInProgress {
		t.Fatalf("expected inProgress, got %+v", msg)
	}
	payload := msg.Payload.(signal.InProgressPayload)
	if !payload.State || payload.ID != "p1-edit" || payload.Context["block"] != "p1" {
		t.Fatalf("unexpected presence %+v", payload)
	}

	_ = alice.Close()
	msg = readSignal(t, bob)
	if msg.Tag != signal.TagInProgress {
		t.Fatalf("expected inProgress, got %+v", msg)
	}
	if payload := msg.Payload.(signal.InProgressPayload); payload.State || payload.ID != "p1-edit" {
		t.Fatalf("expected alice's activity to end on leave, got %+v", payload)
	}
}

func TestSessionUpdatesAreFlushed(t *testing.T) {
	f := newWSFixture(t)
	alice := join(t, f, "alice", "writer")
	bob := join(t, f, "bob", "writer")

	update := []byte(`{"ops":[` +
		`{"op":"set","path":"root.title","value":"Harbour reopens"},` +
		`{"op":"create","path":"meta.core/note","value":[{"type":"core/note","data":{"text":"Check names"}}]}]}`)
	if err := alice.WriteMessage(websocket.BinaryMessage, update); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if kind, _ := readFrame(t, bob); kind != websocket.BinaryMessage {
		t.Fatalf("expected the update to be relayed, got kind %d", kind)
	}

	if !f.server.Flush(f.docID) {
		t.Fatal("update did not schedule a flush")
	}
	item, err := f.repo.Get(context.Background(), f.docID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Version != 2 || item.Body.Title != "Harbour reopens" || item.UpdatedBy != "alice" {
		t.Fatalf("unexpected stored document: version %d title %q by %q", item.Version, item.Body.Title, item.UpdatedBy)
	}
	var notes int
	for _, block := range item.Body.Meta {
		if block.Type == newsdoc.BlockNote {
			notes++
		}
	}
	if notes != 1 {
		t.Fatalf("expected one note, got %+v", item.Body.Meta)
	}
}

func TestSessionRejectsBadUpdates(t *testing.T) {
	f := newWSFixture(t)
	alice := join(t, f, "alice", "writer")

	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: "\x00\x01"},
		{name: "no ops", frame: `{"ops":[]}`},
		{name: "unknown op", frame: `{"ops":[{"op":"move","path":"root.title"}]}`},
		{name: "missing intermediate", frame: `{"ops":[{"op":"set","path":"nowhere.deep.title","value":"x"}]}`},
		{name: "rolls back earlier ops", frame: `{"ops":[{"op":"set","path":"root.title","value":"x"},{"op":"delete","path":"root.missing"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := alice.WriteMessage(websocket.BinaryMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write binary: %v", err)
			}
			msg := readSignal(t, alice)
			if msg.Tag != signal.TagMessage || msg.Payload != NoticeRejected {
				t.Fatalf("expected rejected notice, got %+v", msg)
			}
		})
	}
	if f.server.Flush(f.docID) {
		t.Fatal("rejected updates scheduled a flush")
	}
}

func TestLateJoinerSeesActivePresence(t *testing.T) {
	f := newWSFixture(t)
	alice := join(t, f, "alice", "editor")
	busy, _ := signal.InProgress(signal.InProgressPayload{State: true, ID: "alice"})
	sendText(t, alice, busy)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.server.cfg.Presence.Active(f.docID)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("presence was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bob := join(t, f, "bob", "reader")
	msg := readSignal(t, bob)
	if msg.Tag != signal.TagInProgress || msg.Payload.(signal.InProgressPayload).ID != "alice" {
		t.Fatalf("expected alice's activity, got %+v", msg)
	}
}

func TestReaderCannotSendUpdates(t *testing.T) {
	f := newWSFixture(t)
	reader := join(t, f, "rita", "reader")
	writer := join(t, f, "wes", "writer")

	if err := reader.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	msg := readSignal(t, reader)
	if msg.Tag != signal.TagMessage || msg.Payload != NoticeForbidden {
		t.Fatalf("expected forbidden notice, got %+v", msg)
	}

	notice, _ := signal.Notice("ping")
	sendText(t, writer, notice)
	msg = readSignal(t, reader)
	if msg.Payload != "ping" {
		t.Fatalf("reader should still receive relays, got %+v", msg)
	}
}

func TestSessionRejectsBadAuth(t *testing.T) {
	f := newWSFixture(t)

	tests := []struct {
		name  string
		frame string
	}{
		{name: "bad token", frame: `auth@{"token":"nope"}`},
		{name: "not an auth signal", frame: `message@"hello"`},
		{name: "malformed", frame: `garbage`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, f.url)
			sendText(t, conn, tt.frame)
			msg := readSignal(t, conn)
			if msg.Payload != NoticeUnauthorized {
				t.Fatalf("expected unauthenticated notice, got %+v", msg)
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Fatalf("expected policy violation close, got %v", err)
			}
		})
	}
}

func TestLastSessionLeaveArchives(t *testing.T) {
	f := newWSFixture(t)
	conn := join(t, f, "alice", "writer")
	if len(f.server.OpenReplicas()) != 1 {
		t.Fatalf("expected one open replica, got %v", f.server.OpenReplicas())
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.server.OpenReplicas()) != 0 || len(f.snapshots.Keys()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("replica not closed: open=%v snapshots=%v", f.server.OpenReplicas(), f.snapshots.Keys())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
