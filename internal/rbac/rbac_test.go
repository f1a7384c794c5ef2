package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "reader view", role: RoleReader, action: ActionView, allow: true},
		{name: "reader edit", role: RoleReader, action: ActionEdit, allow: false},
		{name: "reader signal", role: RoleReader, action: ActionSignal, allow: true},
		{name: "reader create", role: RoleReader, action: ActionCreate, allow: false},
		{name: "writer edit", role: RoleWriter, action: ActionEdit, allow: true},
		{name: "editor create", role: RoleEditor, action: ActionCreate, allow: true},
		{name: "editor admin", role: RoleEditor, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionView, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("editor"); got != RoleEditor {
		t.Fatalf("Normalize(editor) = %q", got)
	}
	if got := Normalize("viewer"); got != RoleReader {
		t.Fatalf("Normalize(viewer) = %q", got)
	}
}
