package docpath

import (
	"testing"

	"newsroom/api/internal/ydoc"
)

func seededDoc(t *testing.T) *ydoc.Doc {
	t.Helper()
	doc := ydoc.NewDoc()
	err := doc.Transact("seed", func(root *ydoc.Map) error {
		root.Set("meta", ToStructure(map[string]any{
			"core/assignment": []any{
				map[string]any{"type": "core/assignment", "data": map[string]any{"start": "08:00"}},
				map[string]any{"type": "core/assignment", "data": map[string]any{"start": "09:00"}},
				map[string]any{"type": "core/assignment", "data": map[string]any{"start": "10:00"}},
			},
		}))
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return doc
}

func TestResolve(t *testing.T) {
	doc := seededDoc(t)
	doc.View(func(root *ydoc.Map) {
		value, parent := Resolve(root, Parse("meta.core/assignment[2].data.start"))
		if value != "10:00" {
			t.Fatalf("value = %v", value)
		}
		if _, ok := parent.(MapContainer); !ok {
			t.Fatalf("expected map parent, got %T", parent)
		}

		value, parent = Resolve(root, Parse("meta.core/assignment[1]"))
		if _, ok := value.(*ydoc.Map); !ok {
			t.Fatalf("expected block map, got %T", value)
		}
		if _, ok := parent.(ArrayContainer); !ok {
			t.Fatalf("expected array parent, got %T", parent)
		}
	})
}

func TestResolveMisses(t *testing.T) {
	doc := seededDoc(t)
	tests := []struct {
		name       string
		path       string
		wantParent bool
	}{
		{name: "index into map", path: "meta[0]"},
		{name: "key into array", path: "meta.core/assignment.data"},
		{name: "missing intermediate", path: "meta.core/note[0].data"},
		{name: "index past end", path: "meta.core/assignment[7].data"},
		{name: "scalar traversal", path: "meta.core/assignment[0].data.start.more"},
		{name: "missing leaf", path: "meta.core/assignment[0].data.end", wantParent: true},
		{name: "missing final index", path: "meta.core/assignment[3]", wantParent: true},
	}

	doc.View(func(root *ydoc.Map) {
		for _, tt := range tests {
			value, parent := Resolve(root, Parse(tt.path))
			if value != nil {
				t.Errorf("%s: expected nil value, got %v", tt.name, value)
			}
			if (parent != nil) != tt.wantParent {
				t.Errorf("%s: parent = %v, wantParent %v", tt.name, parent, tt.wantParent)
			}
		}
	})
}

func TestCreateStructurePushesOntoArray(t *testing.T) {
	doc := seededDoc(t)
	ok := CreateStructure(doc, nil, Parse("meta.core/assignment"), map[string]any{
		"type":  "core/assignment",
		"title": "Evening",
		"data":  map[string]any{"start": "18:00"},
	})
	if !ok {
		t.Fatal("CreateStructure() = false")
	}

	doc.View(func(root *ydoc.Map) {
		value, _ := Resolve(root, Parse("meta.core/assignment[3].data.start"))
		if value != "18:00" {
			t.Fatalf("pushed block start = %v", value)
		}
		title, _ := Resolve(root, Parse("meta.core/assignment[3].title"))
		text, ok := title.(*ydoc.Text)
		if !ok {
			t.Fatalf("expected title as Text, got %T", title)
		}
		if TextToString(text) != "Evening" {
			t.Fatalf("title = %q", TextToString(text))
		}
	})
}

func TestCreateStructureSpreadsSliceOntoArray(t *testing.T) {
	doc := seededDoc(t)
	ok := CreateStructure(doc, nil, Parse("meta.core/assignment"), []any{
		map[string]any{"type": "core/assignment", "data": map[string]any{"start": "18:00"}},
		map[string]any{"type": "core/assignment", "data": map[string]any{"start": "19:00"}},
	})
	if !ok {
		t.Fatal("CreateStructure() = false")
	}

	doc.View(func(root *ydoc.Map) {
		value, _ := Resolve(root, Parse("meta.core/assignment"))
		array := value.(*ydoc.Array)
		if array.Len() != 5 {
			t.Fatalf("expected two blocks pushed, array has %d items", array.Len())
		}
		for i, want := range map[int]string{3: "18:00", 4: "19:00"} {
			start, _ := Resolve(root, Path{Key("meta"), Key("core/assignment"), Index(i), Key("data"), Key("start")})
			if start != want {
				t.Errorf("item %d start = %v, want %s", i, start, want)
			}
		}
	})
}

func TestCreateStructureSetsKeyOnMapParent(t *testing.T) {
	doc := seededDoc(t)
	ok := CreateStructure(doc, nil, Parse("meta.core/note"), []any{
		map[string]any{"type": "core/note", "data": map[string]any{"text": "line one\nline two"}},
	})
	if !ok {
		t.Fatal("CreateStructure() = false")
	}

	doc.View(func(root *ydoc.Map) {
		value, _ := Resolve(root, Parse("meta.core/note[0].data.text"))
		text, ok := value.(*ydoc.Text)
		if !ok {
			t.Fatalf("expected Text, got %T", value)
		}
		if text.Len() != 2 {
			t.Fatalf("expected one paragraph per line, got %d", text.Len())
		}
		if got := TextToString(text); got != "line one\nline two" {
			t.Fatalf("text = %q", got)
		}
	})
}

func TestCreateStructureReportsFailure(t *testing.T) {
	doc := seededDoc(t)
	before := doc.ToJSON()

	tests := []string{
		"",
		"meta",
		"missing.intermediate.key",
		"meta.core/assignment[9]",
	}
	for _, path := range tests {
		if CreateStructure(doc, nil, Parse(path), map[string]any{"x": "y"}) {
			t.Errorf("CreateStructure(%q) = true, want false", path)
		}
	}
	if CreateStructure(doc, Parse("nope"), Parse("a.b"), "x") {
		t.Error("CreateStructure() with missing base = true")
	}

	after := doc.ToJSON()
	if len(after) != len(before) {
		t.Fatal("failed CreateStructure mutated the document")
	}
}

func TestCreateStructureWithBase(t *testing.T) {
	doc := ydoc.NewDoc()
	_ = doc.Transact("seed", func(root *ydoc.Map) error {
		ele := ydoc.NewMap()
		root.Set("ele", ele)
		ele.Set("meta", ydoc.NewMap())
		return nil
	})

	if !CreateStructure(doc, Parse("ele"), Parse("meta.tt/slugline"), []any{
		map[string]any{"type": "tt/slugline", "value": "slug"},
	}) {
		t.Fatal("CreateStructure() = false")
	}

	doc.View(func(root *ydoc.Map) {
		value, _ := Resolve(root, Parse("ele.meta.tt/slugline[0].value"))
		if _, ok := value.(*ydoc.Text); !ok {
			t.Fatalf("slugline value should be text-bearing, got %T", value)
		}
	})
}
