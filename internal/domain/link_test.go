package domain

import (
	"errors"
	"testing"
)

func TestParsePostLink_Valid(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.instagram.com/p/vahj5AN8aek/", "vahj5AN8aek"},
		{"https://www.instagram.com/p/vahj5AN8aek", "vahj5AN8aek"},
		{"https://www.instagram.com/reel/Cx1_aB2cDe3/", "Cx1_aB2cDe3"},
		{"  https://www.instagram.com/p/vahj5AN8aek/  ", "vahj5AN8aek"},
	}
	for _, c := range cases {
		link, err := ParsePostLink(c.url)
		if err != nil {
			t.Fatalf("ParsePostLink(%q): %v", c.url, err)
		}
		if link.PostID != c.want {
			t.Fatalf("ParsePostLink(%q): got shortcode %q, want %q", c.url, link.PostID, c.want)
		}
		if link.LinkType != LinkTypePost {
			t.Fatalf("ParsePostLink(%q): got link type %q", c.url, link.LinkType)
		}
	}
}

func TestParsePostLink_Invalid(t *testing.T) {
	cases := []string{
		"",
		"not a url",
		"https://example.com/p/vahj5AN8aek/",
		"http://www.instagram.com/p/vahj5AN8aek/", // http, not https
		"https://www.instagram.com/p/short/",      // shortcode too short
		"https://www.instagram.com/p/waytoolongshortcode/",
		"https://www.instagram.com/stories/somebody/123/",
	}
	for _, c := range cases {
		if _, err := ParsePostLink(c); !errors.Is(err, ErrInvalidPostLink) {
			t.Fatalf("ParsePostLink(%q): expected ErrInvalidPostLink, got %v", c, err)
		}
	}
}

func TestParseAccountLink(t *testing.T) {
	link, err := ParseAccountLink("https://www.instagram.com/johndoe/")
	if err != nil {
		t.Fatalf("ParseAccountLink: %v", err)
	}
	if link.PostID != "johndoe" || link.LinkType != LinkTypeAccount {
		t.Fatalf("unexpected parse result: %+v", link)
	}

	for _, c := range []string{
		"https://www.instagram.com/p/",
		"https://www.instagram.com/reel/",
		"https://www.instagram.com/johndoe/reels/",
		"https://example.com/johndoe/",
	} {
		if _, err := ParseAccountLink(c); !errors.Is(err, ErrInvalidPostLink) {
			t.Fatalf("ParseAccountLink(%q): expected ErrInvalidPostLink, got %v", c, err)
		}
	}
}

func TestHashContent_StableAndDistinct(t *testing.T) {
	a := HashContent("queue is empty")
	b := HashContent("queue is empty")
	if a != b {
		t.Fatalf("hash must be deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == HashContent("queue has one entry") {
		t.Fatalf("different content must produce different hashes")
	}
}
