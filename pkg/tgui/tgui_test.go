package tgui

import (
	"testing"
	"unicode/utf8"
)

func TestBuilder_EscapesAndTrims(t *testing.T) {
	t.Parallel()
	m := New().
		Blank().
		Line("A & B <x>").
		Linef("• %s (%d)", "R&D", 5).
		Blank().
		Build()

	want := "A &amp; B &lt;x&gt;\n• R&amp;D (5)"
	if m.Text != want {
		t.Fatalf("text=%q want %q", m.Text, want)
	}
	if m.Opt.ParseMode != ModeHTML || !m.Opt.DisablePreview {
		t.Fatalf("opt=%+v", m.Opt)
	}
}

func TestMessage_Empty(t *testing.T) {
	t.Parallel()
	if !HTML(" \n ").Empty() || HTML("x").Empty() {
		t.Fatalf("Empty misreports")
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"₹₹₹₹", 2, "₹₹…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
	}
}

func TestTruncHTML_KeepsEntitiesWhole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"Alpha &amp; Co", 9, "Alpha …"},
		{"Alpha &amp; Co", 12, "Alpha &amp;…"},
		{"a <b>bold</b>", 5, "a …"},
		{"abc", 1, "…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		got := TruncHTML(tc.in, tc.n)
		if got != tc.want {
			t.Fatalf("TruncHTML(%q,%d)=%q want %q", tc.in, tc.n, got, tc.want)
		}
		if utf8.RuneCountInString(got) > tc.n {
			t.Fatalf("TruncHTML(%q,%d) too long: %q", tc.in, tc.n, got)
		}
	}
}
