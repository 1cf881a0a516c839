package textutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Episode 12", "Episode 12"},
		{"unsafe characters", `What/Is "This"? <Part|1>: A*B`, "WhatIs This Part1 AB"},
		{"collapses whitespace", "  Too \t many\n\nspaces  ", "Too many spaces"},
		{"leading dots", "...hidden", "hidden"},
		{"trailing dot", "Ends with.", "Ends with"},
		{"empty", "", "untitled"},
		{"only unsafe", `/\?*`, "untitled"},
		{"decomposed accent", "Café", "Café"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeFileName(tt.in); got != tt.want {
				t.Errorf("SanitizeFileName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeFileNameCapsLengthOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("é", 200)
	got := SanitizeFileName(in)
	if len(got) > MaxNameBytes {
		t.Fatalf("expected at most %d bytes, got %d", MaxNameBytes, len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
}

func TestSanitizeFileNameIsIdempotent(t *testing.T) {
	for _, in := range []string{"A: B / C", "  x  ", strings.Repeat("ab ", 80)} {
		once := SanitizeFileName(in)
		if twice := SanitizeFileName(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestNormalizeTitleIgnoresCosmeticDifferences(t *testing.T) {
	a := NormalizeTitle("Episode 5: The Return!")
	b := NormalizeTitle("episode 5 - the RETURN")
	if a != b {
		t.Fatalf("expected equal keys, got %q and %q", a, b)
	}
	if NormalizeTitle("Episode 6") == a {
		t.Fatal("expected different episodes to differ")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{in: "short", width: 10, want: "short"},
		{in: "exit status 1\nstderr tail", width: 40, want: "exit status 1 stderr tail"},
		{in: "abcdefghij", width: 8, want: "abcde..."},
		{in: "ééééé", width: 4, want: "é..."},
		{in: "abcdef", width: 2, want: "ab"},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.width); got != tt.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}
