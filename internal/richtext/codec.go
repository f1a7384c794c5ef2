package richtext

import (
	"html"
	"strings"

	"github.com/google/uuid"
	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Value is the stored form of a text field. HTMLCaption is only set when
// the text carries formatting or links.
type Value struct {
	Text        string `json:"text"`
	HTMLCaption string `json:"html_caption,omitempty"`
}

// Serialize renders nodes to their stored form. Each leaf is rendered on
// its own; adjacent leaves with the same formatting are not merged.
func Serialize(nodes []Node) Value {
	var text, markup strings.Builder
	formatted := serializeInto(&text, &markup, nodes)

	value := Value{Text: text.String()}
	if formatted {
		value.HTMLCaption = markup.String()
	}
	return value
}

func serializeInto(text, markup *strings.Builder, nodes []Node) bool {
	formatted := false
	for _, node := range nodes {
		switch n := node.(type) {
		case Leaf:
			text.WriteString(n.Text)
			markup.WriteString(leafHTML(n))
			if n.Formatted() {
				formatted = true
			}
		case Element:
			if n.Class == ClassInline && n.Type == linkType {
				markup.WriteString(`<a id="`)
				markup.WriteString(html.EscapeString(n.ID))
				markup.WriteString(`" href="`)
				markup.WriteString(html.EscapeString(n.Property("url")))
				markup.WriteString(`">`)
				serializeInto(text, markup, n.Children)
				markup.WriteString("</a>")
				formatted = true
				continue
			}
			if serializeInto(text, markup, n.Children) {
				formatted = true
			}
		}
	}
	return formatted
}

func leafHTML(leaf Leaf) string {
	out := html.EscapeString(leaf.Text)
	if leaf.Underline {
		out = `<span class="underline">` + out + "</span>"
	}
	if leaf.Italic {
		out = "<em>" + out + "</em>"
	}
	if leaf.Bold {
		out = "<strong>" + out + "</strong>"
	}
	return out
}

const linkType = "core/link"

// Deserialize turns a stored value back into nodes. Without an HTML
// rendering the result is one unformatted leaf. HTML parsing rewrites
// carriage returns and NUL characters, so leaf texts are taken from
// value.Text whenever the two can be aligned.
func Deserialize(value Value) []Node {
	if value.HTMLCaption == "" {
		return []Node{Leaf{Text: value.Text}}
	}

	context := &nethtml.Node{Type: nethtml.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := nethtml.ParseFragment(strings.NewReader(value.HTMLCaption), context)
	if err != nil {
		return []Node{Leaf{Text: value.Text}}
	}

	var out []Node
	for _, n := range parsed {
		out = append(out, walk(n, Leaf{})...)
	}
	if len(out) == 0 {
		return []Node{Leaf{}}
	}
	return restoreText(out, value.Text)
}

// restoreText puts the characters of text back into the leaves of nodes
// where the parser normalised them. nodes is returned unchanged when its
// text does not line up with text.
func restoreText(nodes []Node, text string) []Node {
	parsed := PlainText(nodes)
	if parsed == text {
		return nodes
	}
	offsets, ok := alignParsed(parsed, text)
	if !ok {
		return nodes
	}
	pos := 0
	return retext(nodes, text, offsets, &pos)
}

// alignParsed maps every byte offset of parsed to the offset in text it
// was produced from. Dropped NULs belong to the text that follows them.
func alignParsed(parsed, text string) ([]int, bool) {
	offsets := make([]int, len(parsed)+1)
	i, j := 0, 0
	for j < len(parsed) {
		offsets[j] = i
		for i < len(text) && text[i] == 0 && !strings.HasPrefix(parsed[j:], "\uFFFD") {
			i++
		}
		switch {
		case i >= len(text):
			return nil, false
		case text[i] == parsed[j]:
			i++
			j++
		case parsed[j] == '\n' && strings.HasPrefix(text[i:], "\r\n"):
			i += 2
			j++
		case parsed[j] == '\n' && text[i] == '\r':
			i++
			j++
		case text[i] == 0 && strings.HasPrefix(parsed[j:], "\uFFFD"):
			offsets[j+1], offsets[j+2] = i+1, i+1
			i++
			j += len("\uFFFD")
		default:
			return nil, false
		}
	}
	for i < len(text) && text[i] == 0 {
		i++
	}
	if i != len(text) {
		return nil, false
	}
	offsets[len(parsed)] = len(text)
	return offsets, true
}

func retext(nodes []Node, text string, offsets []int, pos *int) []Node {
	out := make([]Node, len(nodes))
	for k, node := range nodes {
		switch n := node.(type) {
		case Leaf:
			start, end := *pos, *pos+len(n.Text)
			n.Text = text[offsets[start]:offsets[end]]
			*pos = end
			out[k] = n
		case Element:
			n.Children = retext(n.Children, text, offsets, pos)
			out[k] = n
		default:
			out[k] = node
		}
	}
	return out
}

// DeserializeString is Deserialize for a value without HTML.
func DeserializeString(text string) []Node {
	return Deserialize(Value{Text: text})
}

// walk converts n, passing the formatting accumulated from its ancestors
// in marks.
func walk(n *nethtml.Node, marks Leaf) []Node {
	switch n.Type {
	case nethtml.TextNode:
		leaf := marks
		leaf.Text = n.Data
		return []Node{leaf}
	case nethtml.ElementNode:
	default:
		return nil
	}

	marks = applyMarks(n, marks)

	var children []Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		children = append(children, walk(child, marks)...)
	}
	if n.FirstChild == nil {
		children = []Node{marks}
	}

	if n.DataAtom != atom.A {
		return children
	}

	id := attr(n, "id")
	if id == "" {
		id = uuid.NewString()
	}
	return []Node{Element{
		ID:         id,
		Class:      ClassInline,
		Type:       linkType,
		Properties: map[string]any{"url": attr(n, "href")},
		Children:   children,
	}}
}

func applyMarks(n *nethtml.Node, marks Leaf) Leaf {
	switch n.DataAtom {
	case atom.Strong, atom.B:
		marks.Bold = true
	case atom.Em, atom.I:
		marks.Italic = true
	case atom.U:
		marks.Underline = true
	case atom.Span:
		for _, class := range strings.Fields(attr(n, "class")) {
			if class == "underline" {
				marks.Underline = true
			}
		}
	}
	return marks
}

func attr(n *nethtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}
