package repository

import (
	"reflect"
	"testing"

	"newsroom/api/internal/newsdoc"
)

func TestValidate(t *testing.T) {
	valid := newsdoc.Document{UUID: "d", Type: newsdoc.TypeArticle, Title: "T"}

	tests := []struct {
		name   string
		mutate func(*newsdoc.Document)
		want   map[string]string
	}{
		{name: "valid", mutate: func(*newsdoc.Document) {}},
		{
			name:   "untyped content block",
			mutate: func(d *newsdoc.Document) { d.Content = []newsdoc.Block{{Type: newsdoc.BlockText}, {}} },
			want:   map[string]string{"content[1].type": ReasonRequired},
		},
		{
			name: "second slugline indexed within its type",
			mutate: func(d *newsdoc.Document) {
				d.Meta = []newsdoc.Block{
					{Type: newsdoc.BlockSlugline, Value: "ok"},
					{Type: "core/newsvalue", Value: "3"},
					{Type: newsdoc.BlockSlugline, Value: "not ok"},
				}
			},
			want: map[string]string{"meta.tt/slugline[1].value": ReasonWhitespace},
		},
		{
			name:   "untyped meta block",
			mutate: func(d *newsdoc.Document) { d.Meta = []newsdoc.Block{{Value: "x"}} },
			want:   map[string]string{"meta[0].type": ReasonRequired},
		},
		{
			name: "blank scalars",
			mutate: func(d *newsdoc.Document) {
				d.UUID = " "
				d.Type = ""
				d.Title = ""
			},
			want: map[string]string{"root.uuid": ReasonRequired, "root.type": ReasonRequired, "root.title": ReasonRequired},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := valid
			tt.mutate(&doc)
			if got := Validate(doc); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Validate() = %v, want %v", got, tt.want)
			}
		})
	}
}
