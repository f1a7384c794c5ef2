// Package ydoc is the replica substrate the collaboration core reads and
// writes: a tree of shared Map, Array and Text containers with atomic
// transactions and change observation, modelled on Yjs shared types.
//
// Merging concurrent remote edits is not part of this package. All access
// to containers of a Doc must happen inside Doc.Transact (writes) or
// Doc.View (reads); the Doc mutex is what makes a multi-step write
// invisible to other sessions until it commits.
package ydoc

import (
	"encoding/json"
	"sync"
)

// Update describes a committed transaction to observers.
type Update struct {
	Origin  string
	Changes int
}

type observer struct {
	id int
	fn func(Update)
}

// Doc is a replica: a root Map plus the lock and observers guarding it.
type Doc struct {
	mu   sync.Mutex
	root *Map
	txn  *transaction

	obsMu     sync.Mutex
	observers []observer
	nextObsID int
}

type transaction struct {
	origin  string
	changes int
	undo    []func()
}

// NewDoc returns an empty replica.
func NewDoc() *Doc {
	d := &Doc{}
	d.root = NewMap()
	d.root.integrate(d)
	return d
}

// Transact runs fn with exclusive access to the root map. If fn returns an
// error or panics, every change it made is rolled back before the lock is
// released. Observers are notified after a successful commit that changed
// anything.
func (d *Doc) Transact(origin string, fn func(root *Map) error) (err error) {
	d.mu.Lock()
	txn := &transaction{origin: origin}
	d.txn = txn

	committed := false
	defer func() {
		if !committed {
			txn.rollback()
		}
		d.txn = nil
		d.mu.Unlock()
		if committed && txn.changes > 0 {
			d.notify(Update{Origin: origin, Changes: txn.changes})
		}
	}()

	if err := fn(d.root); err != nil {
		return err
	}
	committed = true
	return nil
}

// View runs fn with read access to the root map. Containers must not be
// mutated or retained past fn.
func (d *Doc) View(fn func(root *Map)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Observe registers fn for committed updates and returns a function that
// removes it.
func (d *Doc) Observe(fn func(Update)) func() {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.nextObsID++
	id := d.nextObsID
	d.observers = append(d.observers, observer{id: id, fn: fn})
	return func() {
		d.obsMu.Lock()
		defer d.obsMu.Unlock()
		for i, o := range d.observers {
			if o.id == id {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				return
			}
		}
	}
}

func (d *Doc) notify(update Update) {
	d.obsMu.Lock()
	observers := make([]observer, len(d.observers))
	copy(observers, d.observers)
	d.obsMu.Unlock()

	for _, o := range observers {
		o.fn(update)
	}
}

// ToJSON returns the replica as plain JSON values.
func (d *Doc) ToJSON() map[string]any {
	var out map[string]any
	d.View(func(root *Map) {
		out = root.ToJSON()
	})
	return out
}

// EncodeJSON serializes the replica for snapshots.
func (d *Doc) EncodeJSON() ([]byte, error) {
	return json.Marshal(d.ToJSON())
}

// record registers a change and its inverse with the running transaction.
// Changes to containers outside a transaction are not undoable.
func (d *Doc) record(undo func()) {
	if d == nil || d.txn == nil {
		return
	}
	d.txn.changes++
	d.txn.undo = append(d.txn.undo, undo)
}

func (t *transaction) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.changes = 0
}

// integrate binds a value and its descendants to doc.
func integrate(value any, doc *Doc) {
	switch v := value.(type) {
	case *Map:
		v.integrate(doc)
	case *Array:
		v.integrate(doc)
	case *Text:
		v.integrate(doc)
	}
}

func toJSON(value any) any {
	switch v := value.(type) {
	case *Map:
		return v.ToJSON()
	case *Array:
		return v.ToJSON()
	case *Text:
		return v.ToJSON()
	default:
		return v
	}
}
