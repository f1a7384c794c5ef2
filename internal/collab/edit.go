package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"newsroom/api/internal/docpath"
	"newsroom/api/internal/transform"
	"newsroom/api/internal/ydoc"
)

// OriginSession is the transaction origin of edits applied from session
// update frames.
const OriginSession = "session"

// Update frame operations.
const (
	OpSet    = "set"
	OpCreate = "create"
	OpDelete = "delete"
)

var (
	errMalformedUpdate = errors.New("malformed update frame")
	errUnresolvedPath  = errors.New("path does not resolve")
)

// Update is the body of a binary frame: operations on paths relative to
// the document element, applied in one transaction.
//
//	{"ops":[{"op":"set","path":"root.title","value":"Harbour reopens"}]}
type Update struct {
	Ops []Op `json:"ops"`
}

type Op struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

func decodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("%w: %v", errMalformedUpdate, err)
	}
	if len(u.Ops) == 0 {
		return Update{}, fmt.Errorf("%w: no ops", errMalformedUpdate)
	}
	for _, op := range u.Ops {
		switch op.Op {
		case OpSet, OpCreate, OpDelete:
		default:
			return Update{}, fmt.Errorf("%w: unknown op %q", errMalformedUpdate, op.Op)
		}
		if len(docpath.Parse(op.Path)) == 0 {
			return Update{}, fmt.Errorf("%w: empty path", errMalformedUpdate)
		}
	}
	return u, nil
}

// applyUpdate runs every op of u on replica. A failing op rolls the whole
// update back.
func applyUpdate(replica *ydoc.Doc, u Update) error {
	return replica.Transact(OriginSession, func(top *ydoc.Map) error {
		value, ok := top.Get(transform.KeyEle)
		if !ok {
			return transform.ErrNoDocument
		}
		ele, ok := value.(*ydoc.Map)
		if !ok {
			return transform.ErrNoDocument
		}
		for _, op := range u.Ops {
			if err := applyOp(ele, op); err != nil {
				return fmt.Errorf("%s %s: %w", op.Op, op.Path, err)
			}
		}
		return nil
	})
}

func applyOp(ele *ydoc.Map, op Op) error {
	p := docpath.Parse(op.Path)
	if op.Op == OpCreate {
		if !docpath.Create(ele, p, op.Value) {
			return errUnresolvedPath
		}
		return nil
	}

	current, parent := docpath.Resolve(ele, p)
	last, _ := p.Last()
	switch c := parent.(type) {
	case docpath.MapContainer:
		if op.Op == OpDelete {
			if current == nil {
				return errUnresolvedPath
			}
			c.Map.Delete(last.Key)
			return nil
		}
		c.Map.Set(last.Key, docpath.ToStructure(op.Value))
		return nil
	case docpath.ArrayContainer:
		if current == nil {
			return errUnresolvedPath
		}
		c.Array.Delete(last.Index, 1)
		if op.Op == OpSet {
			c.Array.Insert(last.Index, docpath.ToStructure(op.Value))
		}
		return nil
	default:
		return errUnresolvedPath
	}
}
