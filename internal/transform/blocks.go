package transform

import (
	"fmt"
	"sort"

	"newsroom/api/internal/docpath"
	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/ydoc"
)

type field struct {
	name string
	get  func(*newsdoc.Block) *string
}

// Scalar block fields in replica order.
var blockFields = []field{
	{"id", func(b *newsdoc.Block) *string { return &b.ID }},
	{"uuid", func(b *newsdoc.Block) *string { return &b.UUID }},
	{"uri", func(b *newsdoc.Block) *string { return &b.URI }},
	{"url", func(b *newsdoc.Block) *string { return &b.URL }},
	{"type", func(b *newsdoc.Block) *string { return &b.Type }},
	{"title", func(b *newsdoc.Block) *string { return &b.Title }},
	{"rel", func(b *newsdoc.Block) *string { return &b.Rel }},
	{"role", func(b *newsdoc.Block) *string { return &b.Role }},
	{"name", func(b *newsdoc.Block) *string { return &b.Name }},
	{"value", func(b *newsdoc.Block) *string { return &b.Value }},
	{"contenttype", func(b *newsdoc.Block) *string { return &b.ContentType }},
	{"sensitivity", func(b *newsdoc.Block) *string { return &b.Sensitivity }},
}

func writeRoot(d newsdoc.Document) *ydoc.Map {
	root := ydoc.NewMap()
	root.Set("uuid", d.UUID)
	root.Set("type", d.Type)
	root.Set("uri", d.URI)
	root.Set("url", d.URL)
	root.Set("title", d.Title)
	root.Set("language", d.Language)
	return root
}

func readRoot(root *ydoc.Map) newsdoc.Document {
	return newsdoc.Document{
		UUID:     stringAt(root, "uuid"),
		Type:     stringAt(root, "type"),
		URI:      stringAt(root, "uri"),
		URL:      stringAt(root, "url"),
		Title:    stringAt(root, "title"),
		Language: stringAt(root, "language"),
	}
}

// writeGrouped builds Map<type, Array<block Map>> keeping the group order.
func writeGrouped(grouped newsdoc.Grouped) *ydoc.Map {
	m := ydoc.NewMap()
	for _, blockType := range grouped.Order {
		blocks := grouped.Blocks[blockType]
		items := make([]any, 0, len(blocks))
		for _, block := range blocks {
			items = append(items, writeBlock(block))
		}
		m.Set(blockType, ydoc.NewArray(items...))
	}
	return m
}

func writeBlock(b newsdoc.Block) *ydoc.Map {
	m := ydoc.NewMap()
	for _, f := range blockFields {
		value := *f.get(&b)
		if value == "" {
			continue
		}
		if docpath.IsTextBearing(b.Type, f.name) {
			m.Set(f.name, docpath.TextFromString(value))
			continue
		}
		m.Set(f.name, value)
	}

	if len(b.Data) > 0 {
		data := ydoc.NewMap()
		keys := make([]string, 0, len(b.Data))
		for key := range b.Data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if docpath.IsTextBearing(b.Type, key) {
				data.Set(key, docpath.TextFromString(b.Data[key]))
				continue
			}
			data.Set(key, b.Data[key])
		}
		m.Set("data", data)
	}
	if len(b.Meta) > 0 {
		m.Set("meta", writeGrouped(newsdoc.Group(b.Meta)))
	}
	if len(b.Links) > 0 {
		m.Set("links", writeGrouped(newsdoc.Group(b.Links)))
	}
	if len(b.Content) > 0 {
		items := make([]any, 0, len(b.Content))
		for _, child := range b.Content {
			items = append(items, writeBlock(child))
		}
		m.Set("content", ydoc.NewArray(items...))
	}
	return m
}

// readGrouped flattens Map<type, Array<block Map>> in key order.
func readGrouped(m *ydoc.Map) []newsdoc.Block {
	grouped := newsdoc.Grouped{Blocks: make(map[string][]newsdoc.Block)}
	for _, blockType := range m.Keys() {
		value, _ := m.Get(blockType)
		array, ok := value.(*ydoc.Array)
		if !ok {
			continue
		}
		var blocks []newsdoc.Block
		for _, item := range array.Items() {
			if blockMap, ok := item.(*ydoc.Map); ok {
				blocks = append(blocks, readBlock(blockMap))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		grouped.Order = append(grouped.Order, blockType)
		grouped.Blocks[blockType] = blocks
	}
	return newsdoc.Ungroup(grouped)
}

func readBlock(m *ydoc.Map) newsdoc.Block {
	var b newsdoc.Block
	for _, f := range blockFields {
		*f.get(&b) = stringAt(m, f.name)
	}

	if data, ok := mapAt(m, "data"); ok && data.Len() > 0 {
		b.Data = make(map[string]string, data.Len())
		for _, key := range data.Keys() {
			b.Data[key] = stringAt(data, key)
		}
	}
	if meta, ok := mapAt(m, "meta"); ok {
		b.Meta = readGrouped(meta)
	}
	if links, ok := mapAt(m, "links"); ok {
		b.Links = readGrouped(links)
	}
	if value, ok := m.Get("content"); ok {
		if content, ok := value.(*ydoc.Array); ok {
			for _, item := range content.Items() {
				if child, ok := item.(*ydoc.Map); ok {
					b.Content = append(b.Content, readBlock(child))
				}
			}
		}
	}
	return b
}

// stringAt reads a scalar field, flattening Text to its lines.
func stringAt(m *ydoc.Map, key string) string {
	value, ok := m.Get(key)
	if !ok || value == nil {
		return ""
	}
	switch v := docpath.ToPlain(value).(type) {
	case string:
		return v
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
