package richtext

import "newsroom/api/internal/ydoc"

// Attribute keys used on replica Text elements and leaf inserts.
const (
	attrID         = "id"
	attrClass      = "class"
	attrType       = "type"
	attrProperties = "properties"
	markBold       = "bold"
	markItalic     = "italic"
	markUnderline  = "underline"
)

// ToYText builds a detached replica Text for el, including its children.
func ToYText(el Element) *ydoc.Text {
	attrs := map[string]any{
		attrID:    el.ID,
		attrClass: el.Class,
		attrType:  el.Type,
	}
	if len(el.Properties) > 0 {
		attrs[attrProperties] = copyProperties(el.Properties)
	}
	text := ydoc.NewText(attrs)
	text.ApplyDelta(ToDelta(el.Children))
	return text
}

// ToDelta converts nodes into the insert delta of a replica Text.
func ToDelta(nodes []Node) []ydoc.Op {
	ops := make([]ydoc.Op, 0, len(nodes))
	for _, node := range nodes {
		switch n := node.(type) {
		case Leaf:
			ops = append(ops, ydoc.Op{Insert: n.Text, Attributes: leafMarks(n)})
		case Element:
			ops = append(ops, ydoc.Op{Insert: ToYText(n)})
		}
	}
	return ops
}

// FromYText reads an element back out of the replica. An element without
// any inserts gets one empty leaf.
func FromYText(text *ydoc.Text) Element {
	el := Element{
		ID:    stringAttr(text, attrID),
		Class: stringAttr(text, attrClass),
		Type:  stringAttr(text, attrType),
	}
	if props, ok := text.Attribute(attrProperties); ok {
		if m, ok := props.(map[string]any); ok {
			el.Properties = copyProperties(m)
		}
	}
	el.Children = FromDelta(text.Delta())
	if len(el.Children) == 0 {
		el.Children = []Node{Leaf{}}
	}
	return el
}

// FromDelta converts replica inserts back into nodes.
func FromDelta(ops []ydoc.Op) []Node {
	nodes := make([]Node, 0, len(ops))
	for _, op := range ops {
		switch v := op.Insert.(type) {
		case string:
			leaf := Leaf{Text: v}
			leaf.Bold, _ = op.Attributes[markBold].(bool)
			leaf.Italic, _ = op.Attributes[markItalic].(bool)
			leaf.Underline, _ = op.Attributes[markUnderline].(bool)
			nodes = append(nodes, leaf)
		case *ydoc.Text:
			nodes = append(nodes, FromYText(v))
		}
	}
	return nodes
}

func leafMarks(leaf Leaf) map[string]any {
	if !leaf.Formatted() {
		return nil
	}
	marks := make(map[string]any, 3)
	if leaf.Bold {
		marks[markBold] = true
	}
	if leaf.Italic {
		marks[markItalic] = true
	}
	if leaf.Underline {
		marks[markUnderline] = true
	}
	return marks
}

func stringAttr(text *ydoc.Text, key string) string {
	value, _ := text.Attribute(key)
	s, _ := value.(string)
	return s
}

func copyProperties(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
