// Package textx contains tests for the text utilities.
package textx

import (
	"strings"
	"testing"
)

func TestSanitizeText(t *testing.T) {
	in := "he\x00llo\nwo\x7frld\t!"
	got := SanitizeText(in)
	if got != "hello\nworld\t!" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("a \t b\n\nc"); got != "a b c" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestSanitizeForID(t *testing.T) {
	cases := map[string]string{
		"":                  "default-id",
		"Juan Pérez García": "juan-pérez-garcía",
		"A  --  B":          "a-b",
		"r1_c1":             "r1_c1",
		"!!!":               "default-id",
	}
	for in, want := range cases {
		if got := SanitizeForID(in); got != want {
			t.Fatalf("SanitizeForID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatForIndex(t *testing.T) {
	out := FormatForIndex("Jane Doe", "Backend Engineer", "Solid experience.", 68.33)
	if !strings.Contains(out, "Jane Doe") || !strings.Contains(out, "68.33%") {
		t.Fatalf("unexpected: %q", out)
	}

	out = FormatForIndex("", "", "", -1)
	if !strings.Contains(out, "not available") || !strings.Contains(out, "name not extracted") {
		t.Fatalf("undefined fields not substituted: %q", out)
	}
}
