package pgagent

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	contextOpen  = "\n<relevant-memories>\n"
	contextClose = "</relevant-memories>\n"

	// DefaultMaxContentRunes caps each rendered memory.
	DefaultMaxContentRunes = 1000
	defaultCategory        = "general"
	ellipsis               = "…"
)

// Assembler renders retrieved memories into the block appended to the
// system prompt. The zero value applies no per-item cap.
type Assembler struct {
	// MaxContentRunes truncates each memory's content. 0 means unlimited.
	MaxContentRunes int
}

// NewAssembler returns an Assembler with the default per-item cap.
func NewAssembler() Assembler {
	return Assembler{MaxContentRunes: DefaultMaxContentRunes}
}

// Build returns "" for no memories. Otherwise it returns one
// "- [category] content" line per memory, in input order, wrapped in
// <relevant-memories> tags.
func (a Assembler) Build(memories []RetrievedMemory) string {
	if len(memories) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(contextOpen)
	for _, m := range memories {
		cat := strings.TrimSpace(m.Category)
		if cat == "" {
			cat = defaultCategory
		}
		b.WriteString("- [")
		b.WriteString(cat)
		b.WriteString("] ")
		b.WriteString(a.clean(m.Content))
		b.WriteByte('\n')
	}
	b.WriteString(contextClose)
	return b.String()
}

// clean normalizes to NFC, folds line breaks so the item stays on one line,
// and applies the rune cap.
func (a Assembler) clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if a.MaxContentRunes > 0 && utf8.RuneCountInString(s) > a.MaxContentRunes {
		runes := []rune(s)
		s = strings.TrimRight(string(runes[:a.MaxContentRunes]), " ") + ellipsis
	}
	return s
}
