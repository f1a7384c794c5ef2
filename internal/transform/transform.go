// Package transform moves news documents in and out of their replica
// form.
//
// Replica layout:
//
//	ele.root     scalar document properties
//	ele.meta     meta blocks grouped by type
//	ele.links    link blocks grouped by type
//	ele.content  rich text body, one embedded element per content block
//	ctx.version  repository version the replica was loaded from or saved as
//	ctx.hash     hash of ele when the transform last ran
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"newsroom/api/internal/docpath"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/ydoc"
)

// Replica keys.
const (
	KeyEle     = "ele"
	KeyRoot    = "root"
	KeyMeta    = "meta"
	KeyLinks   = "links"
	KeyContent = "content"
	KeyCtx     = "ctx"
	KeyVersion = "version"
	KeyHash    = "hash"

	// KeyValidation holds the record of a failed flush on ele.root.
	KeyValidation = "validation"
)

// Transaction origins written by this package. Observers use them to tell
// transform writes apart from editing.
const (
	OriginTransform = "transform"
	OriginCommit    = "commit"
)

var ErrNoDocument = errors.New("replica holds no document")

// ToReplica replaces the document held by doc with d, in one transaction.
func ToReplica(doc *ydoc.Doc, d newsdoc.Document, version int64) error {
	return doc.Transact(OriginTransform, func(top *ydoc.Map) error {
		ele := ydoc.NewMap()
		ele.Set(KeyRoot, writeRoot(d))
		ele.Set(KeyMeta, writeGrouped(newsdoc.Group(d.Meta)))
		ele.Set(KeyLinks, writeGrouped(newsdoc.Group(d.Links)))
		ele.Set(KeyContent, writeContent(d.Content))
		top.Set(KeyEle, ele)

		hash, err := hashMap(ele)
		if err != nil {
			return err
		}
		ctx := ydoc.NewMap()
		ctx.Set(KeyVersion, version)
		ctx.Set(KeyHash, hash)
		top.Set(KeyCtx, ctx)
		return nil
	})
}

// FromReplica reads the document and its version back out of doc.
func FromReplica(doc *ydoc.Doc) (newsdoc.Document, int64, error) {
	state, err := Capture(doc)
	if err != nil {
		return newsdoc.Document{}, 0, err
	}
	return state.Document, state.Version, nil
}

// State is the document held by a replica at one instant, with the hash
// of the tree it was read from.
type State struct {
	Document newsdoc.Document
	Version  int64
	Hash     string
}

// Capture reads the document, its version and its content hash in one
// view of doc. Pass the hash to Commit once the document is persisted.
func Capture(doc *ydoc.Doc) (State, error) {
	var (
		state State
		err   error
	)
	doc.View(func(top *ydoc.Map) {
		ele, ok := mapAt(top, KeyEle)
		if !ok {
			err = fmt.Errorf("%w: missing %s", ErrNoDocument, KeyEle)
			return
		}
		root, ok := mapAt(ele, KeyRoot)
		if !ok {
			err = fmt.Errorf("%w: missing %s.%s", ErrNoDocument, KeyEle, KeyRoot)
			return
		}

		d := readRoot(root)
		if meta, ok := mapAt(ele, KeyMeta); ok {
			d.Meta = readGrouped(meta)
		}
		if links, ok := mapAt(ele, KeyLinks); ok {
			d.Links = readGrouped(links)
		}
		if value, ok := ele.Get(KeyContent); ok {
			if content, ok := value.(*ydoc.Text); ok {
				d.Content = collapseEmptyParagraphs(readContent(content))
			}
		}
		if newsdoc.HasTextBody(d.Type) {
			if title, ok := headingTitle(d.Content); ok {
				d.Title = title
			}
		}
		state.Document = d
		state.Version = readVersion(top)
		state.Hash, err = hashMap(ele)
	})
	if err != nil {
		return State{}, err
	}
	return state, nil
}

// Commit records a new repository version together with hash, the
// content hash captured when the persisted document was read. Edits made
// since then keep the replica stale.
func Commit(doc *ydoc.Doc, version int64, hash string) error {
	return doc.Transact(OriginCommit, func(top *ydoc.Map) error {
		if _, ok := mapAt(top, KeyEle); !ok {
			return ErrNoDocument
		}
		ctx, ok := mapAt(top, KeyCtx)
		if !ok {
			ctx = ydoc.NewMap()
			top.Set(KeyCtx, ctx)
		}
		ctx.Set(KeyVersion, version)
		ctx.Set(KeyHash, hash)
		return nil
	})
}

// Hash returns the current content hash of the document held by doc.
func Hash(doc *ydoc.Doc) (string, error) {
	var (
		hash string
		err  error
	)
	doc.View(func(top *ydoc.Map) {
		ele, ok := mapAt(top, KeyEle)
		if !ok {
			err = ErrNoDocument
			return
		}
		hash, err = hashMap(ele)
	})
	return hash, err
}

// IsStale reports whether the document changed since the hash in ctx was
// taken.
func IsStale(doc *ydoc.Doc) (bool, error) {
	current, err := Hash(doc)
	if err != nil {
		return false, err
	}
	var stored string
	doc.View(func(top *ydoc.Map) {
		if ctx, ok := mapAt(top, KeyCtx); ok {
			value, _ := ctx.Get(KeyHash)
			stored, _ = value.(string)
		}
	})
	return stored != current, nil
}

// Version returns the repository version recorded in doc.
func Version(doc *ydoc.Doc) int64 {
	var version int64
	doc.View(func(top *ydoc.Map) {
		version = readVersion(top)
	})
	return version
}

// CreateStructure adds structure at a path relative to ele, e.g.
// "meta.core/note".
func CreateStructure(doc *ydoc.Doc, path string, structure any) bool {
	return docpath.CreateStructure(doc, docpath.Path{docpath.Key(KeyEle)}, docpath.Parse(path), structure)
}

// hashMap hashes ele without the validation record on ele.root, which
// annotates the document rather than being part of it.
func hashMap(ele *ydoc.Map) (string, error) {
	tree := ele.ToJSON()
	if root, ok := tree[KeyRoot].(map[string]any); ok {
		delete(root, KeyValidation)
	}
	payload, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("marshal replica: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(payload), 16), nil
}

// readVersion prefers ctx.version and falls back to the top-level version
// key written by older replicas.
func readVersion(top *ydoc.Map) int64 {
	if ctx, ok := mapAt(top, KeyCtx); ok {
		if value, ok := ctx.Get(KeyVersion); ok {
			if v, ok := toInt64(value); ok {
				return v
			}
		}
	}
	if value, ok := top.Get(KeyVersion); ok {
		if v, ok := toInt64(value); ok {
			return v
		}
	}
	return 0
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func mapAt(m *ydoc.Map, key string) (*ydoc.Map, bool) {
	value, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	child, ok := value.(*ydoc.Map)
	return child, ok
}
