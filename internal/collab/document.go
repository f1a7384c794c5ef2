package collab

import (
	"sync"

	"newsroom/api/internal/injector"
	"newsroom/api/internal/rpc"
	"newsroom/api/internal/transform"
	"newsroom/api/internal/ydoc"
)

// document is one open replica. holders, closing and sessions are
// guarded by Server.mu.
type document struct {
	id      string
	replica *ydoc.Doc

	// loaded is closed once the replica holds the stored document or
	// loading failed with loadErr.
	loaded    chan struct{}
	loadErr   error
	unobserve func()

	holders  int
	closing  bool
	sessions map[*session]struct{}

	// flushMu serializes persists of this replica.
	flushMu sync.Mutex

	mu   sync.Mutex
	last injector.Context
}

func newDocument(id string) *document {
	return &document{
		id:       id,
		replica:  ydoc.NewDoc(),
		loaded:   make(chan struct{}),
		sessions: make(map[*session]struct{}),
	}
}

// setContext records who edited last; flush failures are reported to
// them.
func (d *document) setContext(hc injector.Context) {
	d.mu.Lock()
	d.last = hc
	d.mu.Unlock()
}

// swapContext records hc as the last editor and returns the previous one.
func (d *document) swapContext(hc injector.Context) injector.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.last
	d.last = hc
	return prev
}

func (d *document) lastContext() injector.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	hc := d.last
	if hc.ID == "" {
		hc.ID = d.id
	}
	return hc
}

// commit stamps a persisted version and the hash of the persisted tree
// onto the replica, and drops a validation record left by an earlier
// failed flush.
func commit(replica *ydoc.Doc, version int64, hash string) error {
	if err := clearValidation(replica); err != nil {
		return err
	}
	return transform.Commit(replica, version, hash)
}

func clearValidation(replica *ydoc.Doc) error {
	return replica.Transact(transform.OriginCommit, func(top *ydoc.Map) error {
		value, ok := top.Get(transform.KeyEle)
		if !ok {
			return nil
		}
		ele, ok := value.(*ydoc.Map)
		if !ok {
			return nil
		}
		value, ok = ele.Get(transform.KeyRoot)
		if !ok {
			return nil
		}
		if root, ok := value.(*ydoc.Map); ok && root.Has(injector.KeyValidation) {
			root.Delete(injector.KeyValidation)
		}
		return nil
	})
}

func isValidation(err error) bool {
	rpcErr, ok := rpc.Find(err)
	return ok && rpcErr.Code == rpc.CodeInvalidArgument
}
