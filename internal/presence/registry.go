// Package presence tracks which actors are busy with what on each
// document.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Activity is one actor marked as in progress on a document.
type Activity struct {
	DocumentID string `json:"documentId"`
	ActorID    string `json:"actor"`
	// Subject is the id the actor sent with the activity.
	Subject string         `json:"id"`
	Context map[string]any `json:"context"`
	Since   time.Time      `json:"since"`
}

// Event reports an activity starting (Active) or ending.
type Event struct {
	Activity
	Active bool `json:"state"`
}

type key struct {
	document string
	actor    string
}

// Registry is shared by every session on the server. Subscribers are
// called synchronously, outside the registry lock, in subscription order.
type Registry struct {
	now func() time.Time

	mu     sync.Mutex
	active map[key]Activity
	subs   map[int]func(Event)
	nextID int
}

func NewRegistry() *Registry {
	return &Registry{
		now:    time.Now,
		active: make(map[key]Activity),
		subs:   make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every change and returns a function that
// removes it.
func (r *Registry) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Set marks actorID as in progress on subject of documentID (state true)
// or done. Marking an idle actor done is a no-op.
func (r *Registry) Set(documentID, actorID, subject string, state bool, ctx map[string]any) {
	k := key{document: documentID, actor: actorID}

	r.mu.Lock()
	var event Event
	if state {
		activity, ok := r.active[k]
		if !ok {
			activity = Activity{DocumentID: documentID, ActorID: actorID, Since: r.now().UTC()}
		}
		activity.Subject = subject
		activity.Context = ctx
		r.active[k] = activity
		event = Event{Activity: activity, Active: true}
	} else {
		activity, ok := r.active[k]
		if !ok {
			r.mu.Unlock()
			return
		}
		delete(r.active, k)
		event = Event{Activity: activity}
	}
	subs := r.subscribers()
	r.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}

// Clear ends every activity of actorID on documentID.
func (r *Registry) Clear(documentID, actorID string) {
	r.Set(documentID, actorID, "", false, nil)
}

// Active lists the activities on documentID ordered by actor.
func (r *Registry) Active(documentID string) []Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Activity
	for k, activity := range r.active {
		if k.document == documentID {
			out = append(out, activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out
}

// subscribers returns the subscriber functions in subscription order.
// Callers hold r.mu.
func (r *Registry) subscribers() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}
