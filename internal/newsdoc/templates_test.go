package newsdoc

import (
	"errors"
	"sort"
	"strings"
	"testing"
)

func TestFromTemplateArticle(t *testing.T) {
	doc, err := FromTemplate(TypeArticle, map[string]any{"title": "T", "slugline": "slug"})
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	if doc.Title != "T" {
		t.Fatalf("expected title T, got %q", doc.Title)
	}
	if doc.UUID == "" || !strings.HasPrefix(doc.URI, "core://article/") {
		t.Fatalf("unexpected identity: uuid=%q uri=%q", doc.UUID, doc.URI)
	}
	if doc.Language != "sv-se" {
		t.Fatalf("expected template language, got %q", doc.Language)
	}
	if len(doc.Content) != 1 || doc.Content[0].Type != BlockText || doc.Content[0].ID == "" {
		t.Fatalf("unexpected content: %+v", doc.Content)
	}

	var slug *Block
	for i := range doc.Meta {
		if doc.Meta[i].Type == BlockSlugline {
			slug = &doc.Meta[i]
		}
	}
	if slug == nil || slug.Value != "slug" {
		t.Fatalf("expected slugline meta, got %+v", doc.Meta)
	}
}

func TestFromTemplateDoesNotShareData(t *testing.T) {
	first, err := FromTemplate(TypePlanningItem, nil)
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	first.Meta[0].Data["public"] = "false"

	second, err := FromTemplate(TypePlanningItem, nil)
	if err != nil {
		t.Fatalf("FromTemplate() error = %v", err)
	}
	if second.Meta[0].Data["public"] != "true" {
		t.Fatal("template data leaked between documents")
	}
}

func TestFromTemplateUnknownKind(t *testing.T) {
	_, err := FromTemplate("core/unknown", nil)
	if !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestHasTextBody(t *testing.T) {
	for _, docType := range []string{TypeArticle, TypeEditorialInfo, TypeFlash} {
		if !HasTextBody(docType) {
			t.Fatalf("expected %s to have a text body", docType)
		}
	}
	if HasTextBody(TypePlanningItem) {
		t.Fatal("planning items carry no text body")
	}
}

func TestTemplateKindsSorted(t *testing.T) {
	kinds := TemplateKinds()
	if len(kinds) < 2 {
		t.Fatalf("expected several template kinds, got %v", kinds)
	}
	if !sort.StringsAreSorted(kinds) {
		t.Fatalf("template kinds not sorted: %v", kinds)
	}
	for i := 0; i < 5; i++ {
		if again := TemplateKinds(); strings.Join(again, ",") != strings.Join(kinds, ",") {
			t.Fatalf("order changed between calls: %v then %v", kinds, again)
		}
	}
}
