// Package textclean turns raw extracted document text into clean paragraphs.
//
// Clean is deterministic, never returns text longer than its input (in bytes
// or runes) and is a fixed point: Clean(Clean(s)) == Clean(s). Page markers
// of the form [[PAGE n]] survive cleaning on their own line.
package textclean

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// maxPasses bounds the fixpoint loop. Every pass is length non-increasing, so
// real inputs settle in two or three.
const maxPasses = 8

// PageMarkerRE matches a page marker line emitted by the normalizer.
var PageMarkerRE = regexp.MustCompile(`^\[\[PAGE (\d+)\]\]$`)

// Clean normalizes s. See the package comment for guarantees.
func Clean(s string) string {
	x := fixpoint(s)

	budget := utf8.RuneCountInString(s) - utf8.RuneCountInString(x)
	if b := len(s) - len(x); b < budget {
		budget = b
	}
	y := splitCamel(x, budget)
	if y != x {
		y = fixpoint(y)
	}
	return y
}

// fixpoint applies pass until the text stops changing.
func fixpoint(s string) string {
	for i := 0; i < maxPasses; i++ {
		next := pass(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// pass runs every shrinking stage once.
func pass(s string) string {
	if n := norm.NFC.String(s); len(n) <= len(s) {
		s = n
	}
	s = normalizeChars(s)
	s = dehyphenate(s)
	lines := dropBoilerplate(strings.Split(s, "\n"))
	return joinParagraphs(lines)
}

// normalizeChars unifies line endings, drops control and invisible characters,
// and maps NBSP and tabs to spaces.
func normalizeChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\r':
			b.WriteByte('\n')
			if i < len(s) && s[i] == '\n' {
				i++
			}
		case r == '\n':
			b.WriteByte('\n')
		case r == '\t', r == '\u00a0', r == '\u2007', r == '\u202f':
			b.WriteByte(' ')
		case r == '\u00ad', r == '\u200b', r == '\u200c', r == '\u200d', r == '\u2060', r == '\ufeff':
		case r == utf8.RuneError && size == 1:
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// dehyphenate joins words broken across a line wrap ("ventila-\nsjon") in a
// single left-to-right pass, so chains of breaks are all joined at once.
func dehyphenate(s string) string {
	if !strings.Contains(s, "-") || !strings.Contains(s, "\n") {
		return s
	}
	rs := []rune(s)
	out := make([]rune, 0, len(rs))
	for i := 0; i < len(rs); i++ {
		if rs[i] == '-' && len(out) > 0 && unicode.IsLetter(out[len(out)-1]) {
			j := i + 1
			for j < len(rs) && rs[j] == ' ' {
				j++
			}
			if j < len(rs) && rs[j] == '\n' {
				k := j + 1
				for k < len(rs) && rs[k] == ' ' {
					k++
				}
				if k < len(rs) && unicode.IsLower(rs[k]) {
					i = k - 1
					continue
				}
			}
		}
		out = append(out, rs[i])
	}
	return string(out)
}

// isCamelBoundary reports a run-on boundary: two lowercase letters then an uppercase
// letter starting a new lowercase word ("kravetSkal").
func isCamelBoundary(rs []rune, i int) bool {
	return i >= 2 && i+1 < len(rs) &&
		unicode.IsLower(rs[i-2]) && unicode.IsLower(rs[i-1]) &&
		unicode.IsUpper(rs[i]) && unicode.IsLower(rs[i+1])
}

// splitCamel inserts at most budget spaces at run-on boundaries.
func splitCamel(s string, budget int) string {
	if budget <= 0 {
		return s
	}
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+budget)
	for i, r := range rs {
		if budget > 0 && isCamelBoundary(rs, i) {
			out = append(out, ' ')
			budget--
		}
		out = append(out, r)
	}
	return string(out)
}
