package domain

import (
	"errors"
	"testing"
)

func TestParseSide(t *testing.T) {
	cases := map[string]Side{"first": First, "White": First, "w": First, "second": Second, " black ": Second, "b": Second}
	for in, want := range cases {
		got, ok := ParseSide(in)
		if !ok || got != want {
			t.Fatalf("ParseSide(%q) = %q,%v want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseSide("red"); ok {
		t.Fatalf("red is not a side")
	}
	if First.Opponent() != Second || Second.Opponent() != First {
		t.Fatalf("opponent mapping broken")
	}
}

func TestParseUCI(t *testing.T) {
	mv, err := ParseUCI("e7e8q")
	if err != nil {
		t.Fatalf("ParseUCI: %v", err)
	}
	if mv.From != "e7" || mv.To != "e8" || mv.Promotion != "q" || mv.UCI() != "e7e8q" {
		t.Fatalf("unexpected move %+v", mv)
	}
	for _, bad := range []string{"", "e2", "e2e9", "i2e4", "e7e8k", "e2e4e5"} {
		if _, err := ParseUCI(bad); !errors.Is(err, ErrBadMove) {
			t.Fatalf("ParseUCI(%q) want ErrBadMove, got %v", bad, err)
		}
	}
}
