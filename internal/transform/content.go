package transform

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"newsroom/api/internal/newsdoc"
	"newsroom/api/internal/richtext"
	"newsroom/api/internal/ydoc"
)

const (
	dataText        = "text"
	dataHTMLCaption = "html_caption"
)

func writeContent(blocks []newsdoc.Block) *ydoc.Text {
	content := ydoc.NewText(nil)
	ops := make([]ydoc.Op, 0, len(blocks))
	for _, block := range blocks {
		ops = append(ops, ydoc.Op{Insert: richtext.ToYText(blockToElement(block))})
	}
	content.ApplyDelta(ops)
	return content
}

func readContent(content *ydoc.Text) []newsdoc.Block {
	var blocks []newsdoc.Block
	for _, op := range content.Delta() {
		text, ok := op.Insert.(*ydoc.Text)
		if !ok {
			continue
		}
		blocks = append(blocks, elementToBlock(richtext.FromYText(text)))
	}
	return blocks
}

// blockToElement maps a text block to an editable paragraph and anything
// else to a void block element carrying the block's fields.
func blockToElement(b newsdoc.Block) richtext.Element {
	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}

	el := richtext.Element{
		ID:         id,
		Type:       b.Type,
		Properties: blockProperties(b),
	}
	if b.Type == newsdoc.BlockText {
		el.Class = richtext.ClassText
		el.Children = richtext.Deserialize(richtext.Value{
			Text:        b.Data[dataText],
			HTMLCaption: b.Data[dataHTMLCaption],
		})
	} else {
		el.Class = richtext.ClassBlock
		el.Children = []richtext.Node{richtext.Leaf{}}
	}
	return el
}

func elementToBlock(el richtext.Element) newsdoc.Block {
	b := propertiesToBlock(el.Properties)
	b.ID = el.ID
	b.Type = el.Type

	if el.Class == richtext.ClassText {
		value := richtext.Serialize(el.Children)
		if b.Data == nil {
			b.Data = make(map[string]string, 2)
		}
		b.Data[dataText] = value.Text
		if value.HTMLCaption != "" {
			b.Data[dataHTMLCaption] = value.HTMLCaption
		}
	}
	return b
}

// blockProperties holds every block field except id, type and, for text
// blocks, the text itself.
func blockProperties(b newsdoc.Block) map[string]any {
	rest := b
	rest.ID = ""
	rest.Type = ""
	if b.Type == newsdoc.BlockText && len(b.Data) > 0 {
		rest.Data = make(map[string]string, len(b.Data))
		for k, v := range b.Data {
			if k == dataText || k == dataHTMLCaption {
				continue
			}
			rest.Data[k] = v
		}
		if len(rest.Data) == 0 {
			rest.Data = nil
		}
	}

	payload, err := json.Marshal(rest)
	if err != nil {
		return nil
	}
	var props map[string]any
	if err := json.Unmarshal(payload, &props); err != nil || len(props) == 0 {
		return nil
	}
	return props
}

func propertiesToBlock(props map[string]any) newsdoc.Block {
	var b newsdoc.Block
	if len(props) == 0 {
		return b
	}
	payload, err := json.Marshal(props)
	if err != nil {
		return b
	}
	_ = json.Unmarshal(payload, &b)
	return b
}

func isEmptyParagraph(b newsdoc.Block) bool {
	return b.Type == newsdoc.BlockText &&
		b.Role == "" &&
		strings.TrimSpace(b.Data[dataText]) == ""
}

// collapseEmptyParagraphs keeps the first of every run of adjacent empty
// role-less paragraphs.
func collapseEmptyParagraphs(blocks []newsdoc.Block) []newsdoc.Block {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]newsdoc.Block, 0, len(blocks))
	for i, block := range blocks {
		if i > 0 && isEmptyParagraph(block) && isEmptyParagraph(blocks[i-1]) {
			continue
		}
		out = append(out, block)
	}
	return out
}

// headingTitle returns the text of the first heading-1 paragraph, if that
// paragraph has any.
func headingTitle(blocks []newsdoc.Block) (string, bool) {
	for _, block := range blocks {
		if block.Type != newsdoc.BlockText || block.Role != newsdoc.RoleHeading1 {
			continue
		}
		title := strings.TrimSpace(block.Data[dataText])
		return title, title != ""
	}
	return "", false
}
