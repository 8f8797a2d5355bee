// Package domain – post link parsing.
//
// Submitted messages carry raw Instagram URLs. ParsePostLink validates the
// URL shape and extracts the shortcode; ParseAccountLink does the same for
// profile URLs. Both reject anything that does not match the expected format
// so malformed input never reaches the queue.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPostLink is returned when a submitted link is not a valid
// Instagram post, reel, or profile URL.
var ErrInvalidPostLink = errors.New("invalid post link")

var (
	postLinkRE  = regexp.MustCompile(`^https://www\.instagram\.com/(p|reel)/([A-Za-z0-9_-]+)/?`)
	accountRE   = regexp.MustCompile(`^https://www\.instagram\.com/([A-Za-z0-9_.]+)/?$`)
	shortcodeRE = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// shortcodeLen is the length of an Instagram post shortcode.
const shortcodeLen = 11

// PostLink is the parsed form of a submitted link.
type PostLink struct {
	PostID   string // shortcode for posts, account name for account links
	PostURL  string
	LinkType LinkType
}

// ParsePostLink parses a single Instagram post or reel URL and extracts its
// shortcode. Returns ErrInvalidPostLink when the URL or the shortcode does
// not match the expected format.
func ParsePostLink(text string) (*PostLink, error) {
	text = strings.TrimSpace(text)
	m := postLinkRE.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrInvalidPostLink
	}
	shortcode := m[2]
	if len(shortcode) != shortcodeLen || !shortcodeRE.MatchString(shortcode) {
		return nil, ErrInvalidPostLink
	}
	return &PostLink{
		PostID:   shortcode,
		PostURL:  text,
		LinkType: LinkTypePost,
	}, nil
}

// ParseAccountLink parses an Instagram profile URL. The account name becomes
// the PostID so account requests share the queue uniqueness rules with posts.
func ParseAccountLink(text string) (*PostLink, error) {
	text = strings.TrimSpace(text)
	m := accountRE.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrInvalidPostLink
	}
	account := m[1]
	// "p" and "reel" are path prefixes, not profiles.
	if account == "p" || account == "reel" {
		return nil, ErrInvalidPostLink
	}
	return &PostLink{
		PostID:   account,
		PostURL:  text,
		LinkType: LinkTypeAccount,
	}, nil
}

// HashContent returns the hex-encoded SHA-256 digest of s. Used to detect
// unchanged bot message content before issuing a Telegram edit call.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
