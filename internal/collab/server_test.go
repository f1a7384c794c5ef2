package collab

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"newsroom/api/internal/archive"
	"newsroom/api/internal/clock"
	"newsroom/api/internal/injector"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/repository"
	"newsroom/api/internal/store"
	"newsroom/api/internal/transform"
	"newsroom/api/internal/ydoc"
)

const (
	testDebounce = 100 * time.Millisecond
	testMaxWait  = 300 * time.Millisecond
)

type fixture struct {
	repo      *repository.Service
	snapshots *archive.Memory
	clock     *clock.FakeClock
	server    *Server
	injector  *injector.Injector
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	snapshots := archive.NewMemory()
	repo := repository.New(store.NewMemoryStore(), zerolog.Nop(), repository.WithArchive(snapshots))
	fake := clock.Fake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	inj := injector.New(zerolog.Nop(), injector.Config{})

	server := New(repo, zerolog.Nop(), Config{
		Debounce: testDebounce,
		MaxWait:  testMaxWait,
		Clock:    fake,
		OnError:  inj.Handle,
	})
	inj.Attach(server)
	t.Cleanup(server.Close)

	return &fixture{repo: repo, snapshots: snapshots, clock: fake, server: server, injector: inj}
}

func (f *fixture) createArticle(t *testing.T, title string) string {
	t.Helper()
	item, err := f.repo.Create(context.Background(), newsdoc.TypeArticle, map[string]any{"title": title}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return item.ID
}

func setTitle(title string) func(*ydoc.Map) error {
	return func(top *ydoc.Map) error {
		ele, _ := top.Get(transform.KeyEle)
		root, _ := ele.(*ydoc.Map).Get(transform.KeyRoot)
		root.(*ydoc.Map).Set("title", title)
		return nil
	}
}

func TestNotePushedOnTemplateIsFlushed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArticle(t, "T")

	ok, err := f.server.CreateStructure(ctx, id, injector.Context{}, "meta.core/note", []any{
		map[string]any{"type": newsdoc.BlockNote, "data": map[string]any{"text": "Call the harbour master"}},
	})
	if err != nil || !ok {
		t.Fatalf("CreateStructure() = %v, %v", ok, err)
	}

	item, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Version != 2 {
		t.Fatalf("expected the last release to flush version 2, got %d", item.Version)
	}
	if item.Body.Title != "T" {
		t.Fatalf("title = %q, want T", item.Body.Title)
	}
	var notes []newsdoc.Block
	for _, block := range item.Body.Meta {
		if block.Type == newsdoc.BlockNote {
			notes = append(notes, block)
		}
	}
	if len(notes) != 1 || notes[0].Data["text"] != "Call the harbour master" {
		t.Fatalf("unexpected notes %+v", notes)
	}

	if len(f.server.OpenReplicas()) != 0 {
		t.Fatalf("replica still open: %v", f.server.OpenReplicas())
	}
	if keys := f.snapshots.Keys(); len(keys) != 1 {
		t.Fatalf("expected one archived snapshot, got %v", keys)
	}
}

func TestEditsFlushAfterDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArticle(t, "Draft")

	conn, err := f.server.OpenDirectConnection(ctx, id, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}

	if err := conn.Transact("edit", setTitle("Harbour reopens")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	f.clock.Advance(testDebounce / 2)
	if item, _ := f.repo.Get(ctx, id); item.Version != 1 {
		t.Fatalf("flushed before the debounce interval, version %d", item.Version)
	}

	f.clock.Advance(testDebounce)
	item, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Version != 2 || item.Body.Title != "Harbour reopens" {
		t.Fatalf("unexpected stored document: version %d title %q", item.Version, item.Body.Title)
	}

	_, version, err := f.server.Document(ctx, id)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if version != 2 {
		t.Fatalf("replica version = %d, want 2", version)
	}

	conn.Disconnect()
	conn.Disconnect()
	if len(f.server.OpenReplicas()) != 0 {
		t.Fatalf("replica still open after disconnect")
	}
	if item, _ := f.repo.Get(ctx, id); item.Version != 2 {
		t.Fatalf("clean close flushed again, version %d", item.Version)
	}
}

func TestRevertedEditsSkipFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArticle(t, "Draft")

	conn, err := f.server.OpenDirectConnection(ctx, id, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}
	defer conn.Disconnect()

	if err := conn.Transact("edit", setTitle("Harbour reopens")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	if err := conn.Transact("edit", setTitle("Draft")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	f.clock.Advance(testMaxWait)

	if item, _ := f.repo.Get(ctx, id); item.Version != 1 {
		t.Fatalf("unchanged replica was written, version %d", item.Version)
	}
}

func TestSteadyEditsFlushAtMaxWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArticle(t, "Draft")

	conn, err := f.server.OpenDirectConnection(ctx, id, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}
	defer conn.Disconnect()

	for i := 0; i < 5; i++ {
		if err := conn.Transact("edit", setTitle("Draft "+string(rune('a'+i)))); err != nil {
			t.Fatalf("Transact() error = %v", err)
		}
		f.clock.Advance(50 * time.Millisecond)
	}

	item, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Version != 2 {
		t.Fatalf("expected one flush within max wait, version %d", item.Version)
	}
}

func TestValidationFailureIsInjectedAndCleared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createArticle(t, "Draft")

	conn, err := f.server.OpenDirectConnection(ctx, id, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}
	defer conn.Disconnect()

	if err := conn.Transact("edit", setTitle("")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	f.clock.Advance(testDebounce)

	var record map[string]any
	_ = conn.Transact("read", func(top *ydoc.Map) error {
		ele, _ := top.Get(transform.KeyEle)
		root, _ := ele.(*ydoc.Map).Get(transform.KeyRoot)
		if value, ok := root.(*ydoc.Map).Get(injector.KeyValidation); ok {
			record = value.(*ydoc.Map).ToJSON()
		}
		return nil
	})
	if record == nil {
		t.Fatal("validation record was not injected")
	}
	if record["code"] != "invalid_argument" || record["operationName"] != "Update" || record["serviceName"] != "documents" {
		t.Fatalf("unexpected record %v", record)
	}
	meta := record["meta"].(map[string]any)
	if meta["root.title"] != repository.ReasonRequired {
		t.Fatalf("unexpected record meta %v", meta)
	}
	if f.server.flusher.Pending(id) {
		t.Fatal("injected record scheduled another flush")
	}

	if err := conn.Transact("edit", setTitle("Fixed")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	f.clock.Advance(testDebounce)

	item, err := f.repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if item.Version != 2 || item.Body.Title != "Fixed" {
		t.Fatalf("unexpected stored document: version %d title %q", item.Version, item.Body.Title)
	}
	_ = conn.Transact("read", func(top *ydoc.Map) error {
		ele, _ := top.Get(transform.KeyEle)
		root, _ := ele.(*ydoc.Map).Get(transform.KeyRoot)
		if root.(*ydoc.Map).Has(injector.KeyValidation) {
			t.Error("validation record survived a successful flush")
		}
		return nil
	})
}

func TestOpenMissingDocument(t *testing.T) {
	f := newFixture(t)
	if _, err := f.server.OpenDirectConnection(context.Background(), "missing", "token"); err == nil {
		t.Fatal("expected error opening a missing document")
	}
	if len(f.server.OpenReplicas()) != 0 {
		t.Fatalf("failed load left a replica open: %v", f.server.OpenReplicas())
	}
}

func TestClosedServerRejectsConnections(t *testing.T) {
	f := newFixture(t)
	id := f.createArticle(t, "Draft")
	f.server.Close()
	if _, err := f.server.OpenDirectConnection(context.Background(), id, "token"); err != ErrClosed {
		t.Fatalf("OpenDirectConnection() error = %v, want ErrClosed", err)
	}
}

// hookPersister runs onUpdate before each Update reaches the repository.
type hookPersister struct {
	*repository.Service
	onUpdate func(call int)

	mu       sync.Mutex
	calls    int
	inFlight int
	overlap  bool
}

func (p *hookPersister) Update(ctx context.Context, id string, doc newsdoc.Document, actor string) (int64, error) {
	p.mu.Lock()
	p.calls++
	call := p.calls
	p.inFlight++
	if p.inFlight > 1 {
		p.overlap = true
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.onUpdate != nil {
		p.onUpdate(call)
	}
	return p.Service.Update(ctx, id, doc, actor)
}

func (p *hookPersister) overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}

func newHookedServer(t *testing.T, persister *hookPersister, fake *clock.FakeClock) *Server {
	t.Helper()
	server := New(persister, zerolog.Nop(), Config{
		Debounce: testDebounce,
		MaxWait:  testMaxWait,
		Clock:    fake,
	})
	t.Cleanup(server.Close)
	return server
}

func TestEditDuringFlushIsPersisted(t *testing.T) {
	ctx := context.Background()
	repo := repository.New(store.NewMemoryStore(), zerolog.Nop())
	item, err := repo.Create(ctx, newsdoc.TypeArticle, map[string]any{"title": "Draft"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fake := clock.Fake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	persister := &hookPersister{Service: repo}
	server := newHookedServer(t, persister, fake)

	conn, err := server.OpenDirectConnection(ctx, item.ID, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}
	defer conn.Disconnect()

	persister.onUpdate = func(call int) {
		if call == 1 {
			if err := conn.Transact("edit", setTitle("Typed while saving")); err != nil {
				t.Errorf("Transact() error = %v", err)
			}
		}
	}

	if err := conn.Transact("edit", setTitle("First edit")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	if !server.Flush(item.ID) {
		t.Fatal("Flush() found nothing pending")
	}
	fake.Advance(time.Second)

	stored, err := repo.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Version != 3 || stored.Body.Title != "Typed while saving" {
		t.Fatalf("edit made during the flush was lost: version %d title %q", stored.Version, stored.Body.Title)
	}
}

func TestFlushesOfOneDocumentDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	repo := repository.New(store.NewMemoryStore(), zerolog.Nop())
	item, err := repo.Create(ctx, newsdoc.TypeArticle, map[string]any{"title": "Draft"}, "anna")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fake := clock.Fake(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	entered := make(chan struct{})
	unblock := make(chan struct{})
	secondEntered := make(chan struct{})
	persister := &hookPersister{Service: repo, onUpdate: func(call int) {
		switch call {
		case 1:
			close(entered)
			<-unblock
		case 2:
			close(secondEntered)
		}
	}}
	server := newHookedServer(t, persister, fake)

	conn, err := server.OpenDirectConnection(ctx, item.ID, "token")
	if err != nil {
		t.Fatalf("OpenDirectConnection() error = %v", err)
	}
	defer conn.Disconnect()

	if err := conn.Transact("edit", setTitle("First")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		server.Flush(item.ID)
	}()
	<-entered

	if err := conn.Transact("edit", setTitle("Second")); err != nil {
		t.Fatalf("Transact() error = %v", err)
	}
	advanced := make(chan struct{})
	go func() {
		defer close(advanced)
		fake.Advance(testDebounce)
	}()

	select {
	case <-secondEntered:
		t.Fatal("second flush started while the first was still writing")
	case <-time.After(50 * time.Millisecond):
	}
	close(unblock)
	<-firstDone
	<-advanced

	if persister.overlapped() {
		t.Fatal("flushes of one document overlapped")
	}
	stored, err := repo.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Version != 3 || stored.Body.Title != "Second" {
		t.Fatalf("latest version holds stale content: version %d title %q", stored.Version, stored.Body.Title)
	}
}
