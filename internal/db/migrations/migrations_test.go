package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrations_HaveUpAndDown(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(names))
	}

	for _, n := range names {
		b, err := fs.ReadFile(Migrations, n)
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		s := string(b)
		if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", n)
		}
	}
}
