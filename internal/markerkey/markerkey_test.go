package markerkey

import (
	"testing"
	"time"

	"github.com/jacentio/lattice/datastore"
)

func TestNameIsDeterministic(t *testing.T) {
	values := map[string]any{"email": "a@example.com", "region": "eu"}
	a := Name("user", []string{"email", "region"}, values)
	b := Name("user", []string{"region", "email"}, values)

	if a != b {
		t.Error("name must be independent of column order")
	}
	if len(a) != 32 {
		t.Errorf("expected 128-bit hex name, got %d chars", len(a))
	}
}

func TestNameVariesWithInputs(t *testing.T) {
	base := Name("user", []string{"email"}, map[string]any{"email": "a@example.com"})

	tests := []struct {
		name   string
		kind   string
		values map[string]any
	}{
		{"different kind", "group", map[string]any{"email": "a@example.com"}},
		{"different value", "user", map[string]any{"email": "b@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.kind, []string{"email"}, tt.values); got == base {
				t.Error("expected distinct name")
			}
		})
	}
}

func TestNameDistinguishesValueTypes(t *testing.T) {
	// The string "1" and the integer 1 must not collide.
	a := Name("user", []string{"n"}, map[string]any{"n": "1"})
	b := Name("user", []string{"n"}, map[string]any{"n": int64(1)})
	if a == b {
		t.Error("expected type-distinct names")
	}
}

func TestEncodeNormalizes(t *testing.T) {
	// Equal values in different runtime shapes must encode identically.
	if encode(int(5)) != encode(int64(5)) {
		t.Error("expected int and int64 to encode identically")
	}
	loc := time.FixedZone("X", 3600)
	ts := time.Date(2024, 5, 1, 13, 0, 0, 0, loc)
	if encode(ts) != encode(ts.UTC()) {
		t.Error("expected times to encode in UTC")
	}
	if encode(datastore.IDKey("u", 1, "ns")) == encode(datastore.IDKey("u", 2, "ns")) {
		t.Error("expected distinct key encodings")
	}
}
