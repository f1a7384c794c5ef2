package newsdoc

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var ErrUnknownTemplate = errors.New("unknown document template")

//go:embed templates.yaml
var templateSource []byte

type template struct {
	Language string      `yaml:"language"`
	Meta     []blockYAML `yaml:"meta"`
	Links    []blockYAML `yaml:"links"`
	Content  []blockYAML `yaml:"content"`
}

type blockYAML struct {
	Type  string            `yaml:"type"`
	Title string            `yaml:"title"`
	Rel   string            `yaml:"rel"`
	Role  string            `yaml:"role"`
	Value string            `yaml:"value"`
	Data  map[string]string `yaml:"data"`
}

var templates map[string]template

func init() {
	if err := yaml.Unmarshal(templateSource, &templates); err != nil {
		panic(fmt.Sprintf("newsdoc: parse templates: %v", err))
	}
}

// TemplateKinds lists the document types that can be created from a
// template, sorted.
func TemplateKinds() []string {
	kinds := make([]string, 0, len(templates))
	for kind := range templates {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// FromTemplate builds a new document of the given kind. Recognised payload
// keys are title, language, slugline and description.
func FromTemplate(kind string, payload map[string]any) (Document, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, kind)
	}

	id := uuid.NewString()
	doc := Document{
		UUID:     id,
		Type:     kind,
		URI:      fmt.Sprintf("core://%s/%s", ShortType(kind), id),
		Title:    payloadString(payload, "title"),
		Language: firstNonBlank(payloadString(payload, "language"), tmpl.Language),
		Meta:     instantiate(tmpl.Meta),
		Links:    instantiate(tmpl.Links),
		Content:  instantiate(tmpl.Content),
	}

	if slugline := payloadString(payload, "slugline"); slugline != "" {
		doc.Meta = append(doc.Meta, Block{Type: BlockSlugline, Value: slugline})
	}
	if description := payloadString(payload, "description"); description != "" {
		doc.Meta = append(doc.Meta, Block{
			Type: BlockDescription,
			Role: "public",
			Data: map[string]string{"text": description},
		})
	}
	return doc, nil
}

func instantiate(blocks []blockYAML) []Block {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		block := Block{
			Type:  b.Type,
			Title: b.Title,
			Rel:   b.Rel,
			Role:  b.Role,
			Value: b.Value,
		}
		if b.Type == BlockText {
			block.ID = uuid.NewString()
		}
		if len(b.Data) > 0 {
			block.Data = make(map[string]string, len(b.Data))
			for k, v := range b.Data {
				block.Data[k] = v
			}
		}
		out = append(out, block)
	}
	return out
}

func payloadString(payload map[string]any, key string) string {
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
