// Package sanitize validates and normalizes user text before it reaches the
// models or the session store.
package sanitize

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxQueryLength is the largest accepted query, in characters.
const MaxQueryLength = 1000

var (
	ErrEmpty   = errors.New("query must not be empty")
	ErrTooLong = errors.New("query must be at most 1000 characters")
	ErrUnsafe  = errors.New("query contains disallowed content")
	ErrBadUTF8 = errors.New("query is not valid UTF-8")
)

var (
	scriptPattern  = regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|object|embed)\b`)
	handlerPattern = regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`)
	schemePattern  = regexp.MustCompile(`(?i)\b(javascript|vbscript)\s*:|data\s*:\s*text/html`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// Query trims, strips control characters and collapses whitespace, then
// rejects empty, oversized or markup-bearing input.
func Query(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", ErrBadUTF8
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))

	if s == "" {
		return "", ErrEmpty
	}
	if utf8.RuneCountInString(s) > MaxQueryLength {
		return "", ErrTooLong
	}
	if scriptPattern.MatchString(s) || handlerPattern.MatchString(s) || schemePattern.MatchString(s) {
		return "", ErrUnsafe
	}
	return s, nil
}

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Address reports whether s is a 0x-prefixed 20-byte hex address.
func Address(s string) bool {
	return addressPattern.MatchString(s)
}
