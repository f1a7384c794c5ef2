// Package newsdoc holds the normalized news document model exchanged with
// the document repository.
package newsdoc

// Document is a news document in its normalized form.
type Document struct {
	UUID     string  `json:"uuid"`
	Type     string  `json:"type"`
	URI      string  `json:"uri"`
	URL      string  `json:"url,omitempty"`
	Title    string  `json:"title"`
	Language string  `json:"language,omitempty"`
	Content  []Block `json:"content"`
	Meta     []Block `json:"meta"`
	Links    []Block `json:"links"`
}

// Block is a typed sub-document unit.
type Block struct {
	ID          string            `json:"id,omitempty"`
	UUID        string            `json:"uuid,omitempty"`
	URI         string            `json:"uri,omitempty"`
	URL         string            `json:"url,omitempty"`
	Type        string            `json:"type,omitempty"`
	Title       string            `json:"title,omitempty"`
	Rel         string            `json:"rel,omitempty"`
	Role        string            `json:"role,omitempty"`
	Name        string            `json:"name,omitempty"`
	Value       string            `json:"value,omitempty"`
	ContentType string            `json:"contenttype,omitempty"`
	Sensitivity string            `json:"sensitivity,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	Meta        []Block           `json:"meta,omitempty"`
	Links       []Block           `json:"links,omitempty"`
	Content     []Block           `json:"content,omitempty"`
}

// Document types whose effective title is taken from the first level one
// heading in the body.
const (
	TypeArticle       = "core/article"
	TypeEditorialInfo = "core/editorial-info"
	TypeFlash         = "core/flash"
	TypePlanningItem  = "core/planning-item"
	TypeEvent         = "core/event"
)

const (
	BlockText        = "core/text"
	BlockLink        = "core/link"
	RoleHeading1     = "heading-1"
	BlockNote        = "core/note"
	BlockDescription = "core/description"
	BlockSlugline    = "tt/slugline"
)

// HasTextBody reports whether the document type derives its title from
// its body text.
func HasTextBody(docType string) bool {
	switch docType {
	case TypeArticle, TypeEditorialInfo, TypeFlash:
		return true
	default:
		return false
	}
}

// ShortType strips the namespace from a document type, "core/article"
// becoming "article".
func ShortType(docType string) string {
	for i := len(docType) - 1; i >= 0; i-- {
		if docType[i] == '/' {
			return docType[i+1:]
		}
	}
	return docType
}
