package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDGenerator(t *testing.T) {
	g := NewUUIDGenerator()

	a, b := g.Generate(), g.Generate()
	if a == b {
		t.Fatal("expected distinct ids")
	}
	parsed, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("expected a valid uuid, got %q: %v", a, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("expected a v7 uuid, got v%d", parsed.Version())
	}

	id := g.ClientID()
	if !strings.HasPrefix(id, ClientIDPrefix) {
		t.Errorf("expected client id prefix, got %q", id)
	}
}
