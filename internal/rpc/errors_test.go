package rpc

import (
	"fmt"
	"testing"
)

func wrapN(err error, n int) error {
	for i := 0; i < n; i++ {
		err = fmt.Errorf("layer %d: %w", i, err)
	}
	return err
}

func TestFind(t *testing.T) {
	base := InvalidArgument("documents", "Update", "bad title", map[string]string{"title": "required"})

	cases := []struct {
		name  string
		err   error
		found bool
	}{
		{name: "direct", err: base, found: true},
		{name: "ten deep", err: wrapN(base, 10), found: true},
		{name: "at the limit", err: wrapN(base, 50), found: true},
		{name: "beyond the limit", err: wrapN(base, 51), found: false},
		{name: "plain error", err: fmt.Errorf("boom"), found: false},
		{name: "nil", err: nil, found: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Find(tc.err)
			if ok != tc.found {
				t.Fatalf("Find() found = %v, want %v", ok, tc.found)
			}
			if ok && got.Code != CodeInvalidArgument {
				t.Fatalf("unexpected error %+v", got)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := InvalidArgument("documents", "Update", "bad title", nil)
	if got := err.Error(); got != "documents.Update: invalid_argument: bad title" {
		t.Fatalf("unexpected message %q", got)
	}
}
