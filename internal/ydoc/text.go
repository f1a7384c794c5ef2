package ydoc

import (
	"strings"
	"unicode/utf8"
)

// Op is one insert of a delta: either a string run carrying formatting
// attributes or an embedded *Text element.
type Op struct {
	Insert     any
	Attributes map[string]any
}

// Text is a rich text container. Element-level properties live in its
// attributes; its body is a sequence of inserts.
type Text struct {
	doc   *Doc
	attrs map[string]any
	delta []Op
}

// NewText returns a detached Text with the given element attributes.
func NewText(attrs map[string]any) *Text {
	t := &Text{attrs: make(map[string]any, len(attrs))}
	for k, v := range attrs {
		t.attrs[k] = v
	}
	return t
}

func (t *Text) integrate(doc *Doc) {
	t.doc = doc
	for _, op := range t.delta {
		integrate(op.Insert, doc)
	}
}

// ApplyDelta appends the inserts of delta. It is the bulk load used to
// seed a Text from a decoded document.
func (t *Text) ApplyDelta(delta []Op) {
	if len(delta) == 0 {
		return
	}
	before := len(t.delta)
	for _, op := range delta {
		if s, ok := op.Insert.(string); ok && s == "" && len(op.Attributes) == 0 {
			continue
		}
		integrate(op.Insert, t.doc)
		t.delta = append(t.delta, Op{Insert: op.Insert, Attributes: cloneAttrs(op.Attributes)})
	}
	t.doc.record(func() {
		t.delta = t.delta[:before]
	})
}

// Delta returns a copy of the inserts.
func (t *Text) Delta() []Op {
	out := make([]Op, len(t.delta))
	for i, op := range t.delta {
		out[i] = Op{Insert: op.Insert, Attributes: cloneAttrs(op.Attributes)}
	}
	return out
}

// Attribute returns one element attribute.
func (t *Text) Attribute(key string) (any, bool) {
	value, ok := t.attrs[key]
	return value, ok
}

// Attributes returns a copy of the element attributes.
func (t *Text) Attributes() map[string]any {
	return cloneAttrs(t.attrs)
}

// SetAttribute sets one element attribute.
func (t *Text) SetAttribute(key string, value any) {
	prev, existed := t.attrs[key]
	t.attrs[key] = value
	t.doc.record(func() {
		if existed {
			t.attrs[key] = prev
			return
		}
		delete(t.attrs, key)
	})
}

// String returns the concatenated string inserts; embedded elements
// contribute their own String.
func (t *Text) String() string {
	var b strings.Builder
	for _, op := range t.delta {
		switch v := op.Insert.(type) {
		case string:
			b.WriteString(v)
		case *Text:
			b.WriteString(v.String())
		}
	}
	return b.String()
}

// Len returns the length in runes, counting each embed as one.
func (t *Text) Len() int {
	n := 0
	for _, op := range t.delta {
		if s, ok := op.Insert.(string); ok {
			n += utf8.RuneCountInString(s)
			continue
		}
		n++
	}
	return n
}

// ToJSON converts the text to plain values.
func (t *Text) ToJSON() map[string]any {
	ops := make([]any, 0, len(t.delta))
	for _, op := range t.delta {
		entry := map[string]any{"insert": toJSON(op.Insert)}
		if len(op.Attributes) > 0 {
			entry["attributes"] = cloneAttrs(op.Attributes)
		}
		ops = append(ops, entry)
	}
	out := map[string]any{"delta": ops}
	if len(t.attrs) > 0 {
		out["attributes"] = cloneAttrs(t.attrs)
	}
	return out
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
