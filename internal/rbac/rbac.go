// Package rbac maps newsroom roles to what they may do with documents.
package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionView joins a document session and receives updates.
	ActionView Action = "view"
	// ActionEdit sends replica updates.
	ActionEdit Action = "edit"
	// ActionCreate creates documents from templates.
	ActionCreate Action = "create"
	// ActionSignal sends presence and message signals.
	ActionSignal Action = "signal"
	ActionAdmin  Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor, RoleWriter:
		return action == ActionView || action == ActionEdit || action == ActionCreate || action == ActionSignal
	case RoleReader:
		return action == ActionView || action == ActionSignal
	default:
		return false
	}
}

// Normalize maps unknown roles to RoleReader.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}
