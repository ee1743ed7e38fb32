package sqlite

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Capture bounds in runes.
const (
	minCaptureRunes = 10
	maxCaptureRunes = 1000
)

// captureTriggers are phrases that mark a statement about the user or their
// environment worth remembering.
var captureTriggers = []string{
	"i prefer", "i like", "i love", "i hate", "i don't like", "i dont like",
	"i use", "we use", "i'm using", "we're using", "i am", "i'm ",
	"my ", "our ", "i work", "i live", "remember", "always", "never",
	"favorite", "favourite", "i want", "i need",
}

// ShouldCapture decides whether text is a durable fact or preference.
// Questions, very short or very long inputs, and exact duplicates of stored
// memories are rejected.
func (g *Gateway) ShouldCapture(ctx context.Context, text string) (bool, error) {
	t := strings.TrimSpace(text)
	n := utf8.RuneCountInString(t)
	if n < minCaptureRunes || n > maxCaptureRunes || strings.HasSuffix(t, "?") {
		return false, nil
	}
	lower := strings.ToLower(t) + " "
	triggered := false
	for _, p := range captureTriggers {
		if strings.Contains(lower, p) {
			triggered = true
			break
		}
	}
	if !triggered {
		return false, nil
	}

	var dup int
	if err := g.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE content = ?`, t).Scan(&dup); err != nil {
		return false, fmt.Errorf("sqlite: should capture: %w", err)
	}
	return dup == 0, nil
}

// categoryKeywords is checked in order; the first category with a matching
// keyword wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"preference", []string{"prefer", "like", "love", "hate", "favorite", "favourite", "rather"}},
	{"technical", []string{"postgres", "database", "sql", "code", "api", "server", "deploy",
		"python", "golang", "docker", "kubernetes", "linux", "framework", "library"}},
	{"personal", []string{"my name", "i live", "i am", "i'm", "family", "birthday", "wife", "husband", "kids"}},
	{"project", []string{"project", "deadline", "team", "meeting", "client", "release", "sprint"}},
}

// Categorize assigns a coarse category to content by keyword.
func Categorize(content string) string {
	lower := strings.ToLower(content)
	for _, c := range categoryKeywords {
		for _, k := range c.keywords {
			if strings.Contains(lower, k) {
				return c.category
			}
		}
	}
	return "general"
}
