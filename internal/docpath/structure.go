package docpath

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"newsroom/api/internal/richtext"
	"newsroom/api/internal/ydoc"
)

// Fields that hold editable prose for specific block types, beyond the
// title and text fields every block treats as prose.
var textFieldsByType = map[string][]string{
	"tt/slugline":     {"value"},
	"core/definition": {"text"},
	"core/note":       {"text"},
}

// IsTextBearing reports whether field of a block of blockType is held as
// rich text in the replica.
func IsTextBearing(blockType, field string) bool {
	switch field {
	case "title", "text":
		return true
	}
	for _, f := range textFieldsByType[blockType] {
		if f == field {
			return true
		}
	}
	return false
}

// ToStructure converts plain nested maps and slices into replica
// containers. Text-bearing string fields become Text.
func ToStructure(value any) any {
	return toStructure(value, "")
}

func toStructure(value any, blockType string) any {
	switch v := value.(type) {
	case map[string]any:
		if t, ok := v["type"].(string); ok && t != "" {
			blockType = t
		}
		m := ydoc.NewMap()
		for _, key := range sortedKeys(v) {
			m.Set(key, fieldStructure(v[key], blockType, key))
		}
		return m
	case map[string]string:
		m := ydoc.NewMap()
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			m.Set(key, fieldStructure(v[key], blockType, key))
		}
		return m
	case []any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			items = append(items, toStructure(item, blockType))
		}
		return ydoc.NewArray(items...)
	case []map[string]any:
		items := make([]any, 0, len(v))
		for _, item := range v {
			items = append(items, toStructure(item, blockType))
		}
		return ydoc.NewArray(items...)
	default:
		return v
	}
}

func fieldStructure(value any, blockType, field string) any {
	if s, ok := value.(string); ok && IsTextBearing(blockType, field) {
		return TextFromString(s)
	}
	return toStructure(value, blockType)
}

// TextFromString seeds a Text with one plain paragraph per line.
func TextFromString(s string) *ydoc.Text {
	text := ydoc.NewText(nil)
	lines := strings.Split(s, "\n")
	ops := make([]ydoc.Op, 0, len(lines))
	for _, line := range lines {
		ops = append(ops, ydoc.Op{Insert: richtext.ToYText(richtext.Element{
			ID:       uuid.NewString(),
			Class:    richtext.ClassText,
			Type:     "core/text",
			Children: []richtext.Node{richtext.Leaf{Text: line}},
		})})
	}
	text.ApplyDelta(ops)
	return text
}

// ToPlain is the inverse of ToStructure: containers become plain maps and
// slices, and Text becomes its lines joined by newlines.
func ToPlain(value any) any {
	switch v := value.(type) {
	case *ydoc.Map:
		out := make(map[string]any, v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Get(key)
			out[key] = ToPlain(item)
		}
		return out
	case *ydoc.Array:
		items := v.Items()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = ToPlain(item)
		}
		return out
	case *ydoc.Text:
		return TextToString(v)
	default:
		return v
	}
}

// TextToString joins the paragraphs of a Text with newlines. Loose string
// inserts between paragraphs continue the current line.
func TextToString(text *ydoc.Text) string {
	var lines []string
	var current strings.Builder
	open := false
	for _, op := range text.Delta() {
		switch v := op.Insert.(type) {
		case *ydoc.Text:
			if open {
				lines = append(lines, current.String())
				current.Reset()
				open = false
			}
			lines = append(lines, v.String())
		case string:
			current.WriteString(v)
			open = true
		}
	}
	if open {
		lines = append(lines, current.String())
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
