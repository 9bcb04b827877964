package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedRender(t *testing.T) {
	c := MustDefault()
	got, err := c.Render("arena.game_over.won", map[string]any{"Reason": "checkmate", "Credits": "+50"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "You won (checkmate). Credits +50." {
		t.Fatalf("rendered %q", got)
	}
}

func TestMissingDataIsAnError(t *testing.T) {
	c := MustDefault()
	if _, err := c.Render("arena.server_error", map[string]any{"Code": "x"}); err == nil {
		t.Fatalf("missing template key accepted")
	}
	if got := c.Text("arena.nope", nil); got != "arena.nope" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("arena:\n  resign_timeout: \"again please\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("arena.resign_timeout", nil); got != "again please" {
		t.Fatalf("override ignored: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("arena:\n  resign_timeout: \"dup\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys accepted")
	}
}
