package processor

import (
	"regexp"
	"strings"
)

// IdentifierLength is the number of characters in a registration identifier:
// seven digits followed by one letter.
const IdentifierLength = 8

// PatternExtractor pulls identifier-shaped substrings out of OCR text.
type PatternExtractor struct {
	patterns []*regexp.Regexp
}

// NewPatternExtractor compiles the given patterns in priority order.
func NewPatternExtractor(patterns []string) (*PatternExtractor, error) {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return nil, err
	}
	return &PatternExtractor{patterns: compiled}, nil
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// Extract returns the raw captures of every pattern, strictest first.
// A capture overlapping one already taken from the same text is skipped, so
// one printed identifier contributes one candidate however many patterns match it.
func (e *PatternExtractor) Extract(text string) []string {
	if text == "" {
		return nil
	}
	var (
		taken []span
		out   []string
	)
	for _, re := range e.patterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 {
				continue
			}
			s := span{start: m[2], end: m[3]}
			dup := false
			for _, t := range taken {
				if s.overlaps(t) {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			taken = append(taken, s)
			out = append(out, text[s.start:s.end])
		}
	}
	return out
}

// NormalizeCandidate validates a raw capture and returns its canonical form.
// Positions 1-7 must be digits, where 'l', 'I' and '|' are read as '1';
// position 8 must be an ASCII letter and is upper-cased.
func NormalizeCandidate(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) != IdentifierLength {
		return "", false
	}

	var b strings.Builder
	b.Grow(IdentifierLength)
	for i := 0; i < IdentifierLength-1; i++ {
		c := raw[i]
		switch {
		case c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == 'l' || c == 'I' || c == '|':
			b.WriteByte('1')
		default:
			return "", false
		}
	}

	last := raw[IdentifierLength-1]
	switch {
	case last >= 'A' && last <= 'Z':
		b.WriteByte(last)
	case last >= 'a' && last <= 'z':
		b.WriteByte(last - 'a' + 'A')
	default:
		return "", false
	}
	return b.String(), true
}

// Candidates extracts and validates in one step, preserving order.
func (e *PatternExtractor) Candidates(text string) []string {
	var out []string
	for _, raw := range e.Extract(text) {
		if id, ok := NormalizeCandidate(raw); ok {
			out = append(out, id)
		}
	}
	return out
}
