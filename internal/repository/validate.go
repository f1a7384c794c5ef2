package repository

import (
	"fmt"
	"strings"

	"newsroom/api/internal/newsdoc"
)

// Validation reasons.
const (
	ReasonRequired   = "required"
	ReasonWhitespace = "must not contain whitespace"
	ReasonMismatch   = "does not match document id"
)

// Validate checks doc and returns offending paths mapped to a reason.
// Paths address the replica's ele tree: "root.title",
// "meta.tt/slugline[0].value", "content[2].type".
func Validate(doc newsdoc.Document) map[string]string {
	problems := make(map[string]string)

	if strings.TrimSpace(doc.UUID) == "" {
		problems["root.uuid"] = ReasonRequired
	}
	if strings.TrimSpace(doc.Type) == "" {
		problems["root.type"] = ReasonRequired
	}
	if strings.TrimSpace(doc.Title) == "" {
		problems["root.title"] = ReasonRequired
	}

	for i, block := range doc.Content {
		if strings.TrimSpace(block.Type) == "" {
			problems[fmt.Sprintf("content[%d].type", i)] = ReasonRequired
		}
	}
	validateGrouped(problems, "meta", doc.Meta, func(path string, block newsdoc.Block) {
		if block.Type == newsdoc.BlockSlugline && strings.ContainsAny(block.Value, " \t\n") {
			problems[path+".value"] = ReasonWhitespace
		}
	})
	validateGrouped(problems, "links", doc.Links, func(path string, block newsdoc.Block) {
		if strings.TrimSpace(block.Rel) == "" {
			problems[path+".rel"] = ReasonRequired
		}
	})

	if len(problems) == 0 {
		return nil
	}
	return problems
}

// validateGrouped visits blocks under the path they have once grouped by
// type in the replica.
func validateGrouped(problems map[string]string, prefix string, blocks []newsdoc.Block, check func(path string, block newsdoc.Block)) {
	seen := make(map[string]int)
	for i, block := range blocks {
		if strings.TrimSpace(block.Type) == "" {
			problems[fmt.Sprintf("%s[%d].type", prefix, i)] = ReasonRequired
			continue
		}
		index := seen[block.Type]
		seen[block.Type]++
		check(fmt.Sprintf("%s.%s[%d]", prefix, block.Type, index), block)
	}
}
