package docpath

import (
	"errors"

	"newsroom/api/internal/ydoc"
)

// Container is the parent a resolved value lives in: MapContainer or
// ArrayContainer.
type Container interface {
	container()
}

type MapContainer struct{ Map *ydoc.Map }

type ArrayContainer struct{ Array *ydoc.Array }

func (MapContainer) container()   {}
func (ArrayContainer) container() {}

// Resolve walks p from root. A missing final segment under an existing
// container yields (nil, parent); a type mismatch or a missing
// intermediate yields (nil, nil). An empty path resolves to root itself.
func Resolve(root *ydoc.Map, p Path) (any, Container) {
	var current any = root
	var parent Container
	last := len(p) - 1

	for i, seg := range p {
		var value any
		var ok bool

		switch c := current.(type) {
		case *ydoc.Map:
			if seg.IsIndex {
				return nil, nil
			}
			parent = MapContainer{Map: c}
			value, ok = c.Get(seg.Key)
		case *ydoc.Array:
			if !seg.IsIndex {
				return nil, nil
			}
			parent = ArrayContainer{Array: c}
			value, ok = c.Get(seg.Index)
		default:
			return nil, nil
		}

		if !ok {
			if i == last {
				return nil, parent
			}
			return nil, nil
		}
		current = value
	}
	return current, parent
}

// Create adds structure at p under root and reports whether it did. An
// existing Array at p gets structure pushed onto it, element by element
// when structure is a slice; otherwise a Map
// parent of a path with at least two segments gets structure set under
// the final key. Create must run inside a transaction on root's Doc.
func Create(root *ydoc.Map, p Path, structure any) bool {
	if len(p) == 0 {
		return false
	}

	value, parent := Resolve(root, p)
	blockType := blockTypeFromPath(p)

	if array, ok := value.(*ydoc.Array); ok {
		created := toStructure(structure, blockType)
		if items, ok := created.(*ydoc.Array); ok {
			array.Push(items.Items()...)
		} else {
			array.Push(created)
		}
		return true
	}

	mapParent, ok := parent.(MapContainer)
	if !ok || len(p) < 2 {
		return false
	}
	last, _ := p.Last()
	mapParent.Map.Set(last.Key, toStructure(structure, blockType))
	return true
}

var errNotCreated = errors.New("structure not created")

// CreateStructure runs Create in one transaction on doc, against the map
// found at base (the top-level map when base is empty).
func CreateStructure(doc *ydoc.Doc, base Path, p Path, structure any) bool {
	err := doc.Transact("create-structure", func(top *ydoc.Map) error {
		root := top
		if len(base) > 0 {
			value, _ := Resolve(top, base)
			m, ok := value.(*ydoc.Map)
			if !ok {
				return errNotCreated
			}
			root = m
		}
		if !Create(root, p, structure) {
			return errNotCreated
		}
		return nil
	})
	return err == nil
}

// blockTypeFromPath returns the innermost grouped block type named by p,
// e.g. "core/note" for "meta.core/note[0].data".
func blockTypeFromPath(p Path) string {
	for i := len(p) - 1; i >= 0; i-- {
		if !p[i].IsIndex && containsSlash(p[i].Key) {
			return p[i].Key
		}
	}
	return ""
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
