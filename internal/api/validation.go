package api

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageRunes caps a chat message after sanitizing.
	MaxMessageRunes = 2000
	// MaxBodyBytes caps every request body.
	MaxBodyBytes = 64 << 10
)

var (
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)
	htmlTag   = regexp.MustCompile(`<[^>]+>`)
	errBadID  = fmt.Errorf("must match %s", idPattern)
)

// validID checks soul and location identifiers.
func validID(field, id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s %w", field, errBadID)
	}
	return nil
}

// sanitizeMessage strips HTML tags and surrounding whitespace, then enforces
// the length bounds.
func sanitizeMessage(raw string) (string, error) {
	msg := strings.TrimSpace(stripTags(raw))
	n := utf8.RuneCountInString(msg)
	switch {
	case n == 0:
		return "", fmt.Errorf("message cannot be empty")
	case n > MaxMessageRunes:
		return "", fmt.Errorf("message exceeds %d characters", MaxMessageRunes)
	}
	return msg, nil
}

func stripTags(s string) string {
	return htmlTag.ReplaceAllString(s, "")
}

func truncateSummary(s string) string {
	const limit = 100
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
