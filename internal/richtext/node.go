// Package richtext converts between stored text values (plain text plus
// an optional HTML rendering) and the formatted node trees held in the
// replica.
package richtext

import "strings"

// Element classes.
const (
	ClassText   = "text"
	ClassBlock  = "block"
	ClassInline = "inline"
)

// Node is a Leaf or an Element.
type Node interface {
	isNode()
}

// Leaf is a run of text with formatting flags.
type Leaf struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
}

func (Leaf) isNode() {}

// Formatted reports whether any formatting flag is set.
func (l Leaf) Formatted() bool {
	return l.Bold || l.Italic || l.Underline
}

func (l Leaf) sameFormat(other Leaf) bool {
	return l.Bold == other.Bold && l.Italic == other.Italic && l.Underline == other.Underline
}

// Element is a structural node: a paragraph, a void block, or an inline
// link.
type Element struct {
	ID         string
	Class      string
	Type       string
	Properties map[string]any
	Children   []Node
}

func (Element) isNode() {}

// Property returns a string property or "".
func (e Element) Property(key string) string {
	value, _ := e.Properties[key].(string)
	return value
}

// PlainText concatenates the text of all leaves under nodes.
func PlainText(nodes []Node) string {
	var b strings.Builder
	writePlain(&b, nodes)
	return b.String()
}

func writePlain(b *strings.Builder, nodes []Node) {
	for _, node := range nodes {
		switch n := node.(type) {
		case Leaf:
			b.WriteString(n.Text)
		case Element:
			writePlain(b, n.Children)
		}
	}
}

// Normalize merges adjacent leaves with equal formatting and drops empty
// leaves. A node list that would become empty keeps a single empty leaf.
func Normalize(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		switch n := node.(type) {
		case Leaf:
			if n.Text == "" {
				continue
			}
			if len(out) > 0 {
				if prev, ok := out[len(out)-1].(Leaf); ok && prev.sameFormat(n) {
					prev.Text += n.Text
					out[len(out)-1] = prev
					continue
				}
			}
			out = append(out, n)
		case Element:
			n.Children = Normalize(n.Children)
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return []Node{Leaf{}}
	}
	return out
}
