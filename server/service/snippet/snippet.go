// Package snippet builds short excerpts of entity text centered on query
// matches, for display alongside fused search results.
package snippet

import (
	"sort"
	"strings"
	"unicode"
)

// Span is one highlighted match, with rune offsets into the excerpt.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Extractor locates query terms in entity text and cuts a window around the
// earliest match, adjusted to word boundaries.
type Extractor struct {
	contextChars int
	maxContext   int
	boundaryScan int
}

func NewExtractor() *Extractor {
	return &Extractor{
		contextChars: 60,
		maxContext:   200,
		boundaryScan: 10,
	}
}

// Tokenize splits a query into lowercase search tokens. Latin words split on
// non-alphanumeric runes; Han characters each become their own token.
func (e *Extractor) Tokenize(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var tokens []string
	seen := map[string]bool{}
	appendToken := func(token string) {
		if token != "" && !seen[token] {
			tokens = append(tokens, token)
			seen[token] = true
		}
	}

	var word strings.Builder
	for _, r := range query {
		switch {
		case unicode.Is(unicode.Han, r):
			appendToken(strings.ToLower(word.String()))
			word.Reset()
			appendToken(string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			appendToken(strings.ToLower(word.String()))
			word.Reset()
		}
	}
	appendToken(strings.ToLower(word.String()))
	return tokens
}

// FindMatches returns the non-overlapping occurrences of tokens in content,
// sorted by position. Matching is case-insensitive over runes.
func (e *Extractor) FindMatches(content string, tokens []string) []Span {
	if len(tokens) == 0 || content == "" {
		return nil
	}

	runes := []rune(content)
	var matches []Span
	for _, token := range tokens {
		tokenRunes := []rune(token)
		if len(tokenRunes) == 0 {
			continue
		}
		for i := 0; i+len(tokenRunes) <= len(runes); i++ {
			window := string(runes[i : i+len(tokenRunes)])
			if strings.EqualFold(window, token) {
				matches = append(matches, Span{
					Start: i,
					End:   i + len(tokenRunes),
					Text:  window,
				})
			}
		}
	}

	// Longer match wins when two tokens start at the same rune.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Start != matches[j].Start {
			return matches[i].Start < matches[j].Start
		}
		return matches[i].End > matches[j].End
	})
	return dropOverlaps(matches)
}

func dropOverlaps(matches []Span) []Span {
	if len(matches) <= 1 {
		return matches
	}
	kept := matches[:1]
	for _, m := range matches[1:] {
		if m.Start >= kept[len(kept)-1].End {
			kept = append(kept, m)
		}
	}
	return kept
}

// Extract cuts an excerpt around the earliest match and returns it together
// with the match spans re-based onto the excerpt. Without matches it returns
// the head of the content.
func (e *Extractor) Extract(content string, matches []Span) (string, []Span) {
	runes := []rune(content)
	if len(runes) == 0 {
		return "", nil
	}
	if len(matches) == 0 {
		return e.head(runes), nil
	}

	start, end := e.window(matches[0].Start, len(runes))
	start = e.toBoundary(runes, start, false)
	end = e.toBoundary(runes, end, true)

	var b strings.Builder
	prefix := 0
	if start > 0 {
		b.WriteString("...")
		prefix = 3
	}
	b.WriteString(string(runes[start:end]))
	if end < len(runes) {
		b.WriteString("...")
	}

	rebased := make([]Span, 0, len(matches))
	for _, m := range matches {
		if m.Start >= start && m.End <= end {
			rebased = append(rebased, Span{
				Start: m.Start - start + prefix,
				End:   m.End - start + prefix,
				Text:  m.Text,
			})
		}
	}
	return b.String(), rebased
}

func (e *Extractor) head(runes []rune) string {
	end := e.contextChars * 2
	if end > len(runes) {
		end = len(runes)
	}
	end = e.toBoundary(runes, end, true)
	if end < len(runes) {
		return string(runes[:end]) + "..."
	}
	return string(runes[:end])
}

// window centers a span of 2*contextChars on the match, clamped and shifted
// to stay inside the content.
func (e *Extractor) window(center, contentLen int) (int, int) {
	context := e.contextChars
	if context > e.maxContext {
		context = e.maxContext
	}
	start := center - context
	end := center + context
	if start < 0 {
		end -= start
		start = 0
	}
	if end > contentLen {
		start -= end - contentLen
		end = contentLen
	}
	if start < 0 {
		start = 0
	}
	return start, end
}

func (e *Extractor) toBoundary(runes []rune, pos int, forward bool) int {
	if pos <= 0 {
		return 0
	}
	if pos >= len(runes) {
		return len(runes)
	}
	if forward {
		for i := pos; i < len(runes) && i < pos+e.boundaryScan; i++ {
			if isSeparator(runes[i]) {
				return i
			}
		}
	} else {
		for i := pos - 1; i >= 0 && i >= pos-e.boundaryScan; i-- {
			if isSeparator(runes[i]) {
				return i + 1
			}
		}
	}
	return pos
}

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	switch r {
	case '.', ',', '!', '?', ';', ':', '。', '，', '、', '；', '：', '！', '？':
		return true
	}
	return false
}
