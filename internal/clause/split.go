// Package clause segments cleaned document text into candidate requirement
// clauses and tags each with a requirement category.
package clause

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/kravscan/internal/textclean"
)

// DefaultMinRunes is the shortest clause worth scoring.
const DefaultMinRunes = 12

// Clause is one candidate requirement statement.
type Clause struct {
	Text string `json:"text"`
	Page int    `json:"page,omitempty"`
}

// Splitter cuts text into clauses. It is stateless after construction and
// safe for concurrent use.
type Splitter struct {
	leadTerms []string
	minRunes  int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithLeadTerms replaces DefaultLeadTerms.
func WithLeadTerms(terms []string) Option {
	return func(s *Splitter) { s.leadTerms = append([]string(nil), terms...) }
}

// WithMinRunes sets the minimum clause length.
func WithMinRunes(n int) Option {
	return func(s *Splitter) { s.minRunes = n }
}

// NewSplitter returns a Splitter using DefaultLeadTerms and DefaultMinRunes.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{leadTerms: DefaultLeadTerms, minRunes: DefaultMinRunes}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split returns the clauses of text in document order, without exact repeats.
// Page markers set the page of the clauses that follow them.
func (s *Splitter) Split(text string) []Clause {
	var segs []Clause
	page := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := textclean.PageMarkerRE.FindStringSubmatch(line); m != nil {
			page, _ = strconv.Atoi(m[1])
			continue
		}
		line = strings.TrimSpace(textclean.BulletRE.ReplaceAllString(line, ""))
		for _, sentence := range splitSentences(line) {
			for _, part := range s.splitLeadTerms(sentence) {
				segs = append(segs, Clause{Text: part, Page: page})
			}
		}
	}

	segs = mergeFragments(segs)

	seen := make(map[string]bool, len(segs))
	out := make([]Clause, 0, len(segs))
	for _, c := range segs {
		if seen[c.Text] || !s.Keep(c.Text) {
			continue
		}
		seen[c.Text] = true
		out = append(out, c)
	}
	return out
}

// Keep reports whether a segment is long enough and carries a requirement cue.
func (s *Splitter) Keep(text string) bool {
	if utf8.RuneCountInString(text) < s.minRunes {
		return false
	}
	return ObligationRE.MatchString(text) || UnitsRE.MatchString(text) || s.startsWithLeadTerm(text)
}

func (s *Splitter) startsWithLeadTerm(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range s.leadTerms {
		if strings.HasPrefix(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// splitSentences cuts after sentence-final punctuation that is followed by a
// new sentence, and after colons.
func splitSentences(line string) []string {
	rs := []rune(line)
	var parts []string
	start := 0
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r != '.' && r != '!' && r != '?' && r != ':' {
			continue
		}
		if i+1 >= len(rs) || !unicode.IsSpace(rs[i+1]) {
			continue
		}
		if r != ':' {
			j := i + 1
			for j < len(rs) && unicode.IsSpace(rs[j]) {
				j++
			}
			if j >= len(rs) || !opensSentence(rs[j]) {
				continue
			}
			if r == '.' && abbreviations[wordBefore(rs, i)] {
				continue
			}
		}
		if p := strings.TrimSpace(string(rs[start : i+1])); p != "" {
			parts = append(parts, p)
		}
		start = i + 1
	}
	if p := strings.TrimSpace(string(rs[start:])); p != "" {
		parts = append(parts, p)
	}
	return parts
}

func opensSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) || strings.ContainsRune(`"'«“‘-–•`, r)
}

// wordBefore returns the lowercased token ending just before rs[i], keeping
// inner periods so "f.eks" and "bl.a" are recognised.
func wordBefore(rs []rune, i int) string {
	j := i
	for j > 0 && (unicode.IsLetter(rs[j-1]) || rs[j-1] == '.') {
		j--
	}
	return strings.ToLower(strings.Trim(string(rs[j:i]), "."))
}

// splitLeadTerms cuts a sentence before every capitalized lead term that is
// not at its start, so two measurements in one sentence become two clauses.
func (s *Splitter) splitLeadTerms(sentence string) []string {
	var cuts []int
	for _, term := range s.leadTerms {
		from := 1
		for {
			idx := strings.Index(sentence[from:], term)
			if idx < 0 {
				break
			}
			pos := from + idx
			prev, _ := utf8.DecodeLastRuneInString(sentence[:pos])
			if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) && prev != '-' {
				cuts = append(cuts, pos)
			}
			from = pos + len(term)
			if from >= len(sentence) {
				break
			}
		}
	}
	if len(cuts) == 0 {
		return []string{sentence}
	}

	sort.Ints(cuts)
	parts := make([]string, 0, len(cuts)+1)
	start := 0
	for _, c := range cuts {
		if c <= start {
			continue
		}
		if p := strings.TrimSpace(sentence[start:c]); p != "" {
			parts = append(parts, p)
			start = c
		}
	}
	if p := strings.TrimSpace(sentence[start:]); p != "" {
		parts = append(parts, p)
	}
	return parts
}

// mergeFragments joins a segment that ends mid-phrase with the next segment
// on the same page.
func mergeFragments(segs []Clause) []Clause {
	out := make([]Clause, 0, len(segs))
	for i := 0; i < len(segs); i++ {
		c := segs[i]
		for incomplete(c.Text) && i+1 < len(segs) && segs[i+1].Page == c.Page {
			i++
			c.Text += " " + segs[i].Text
		}
		out = append(out, c)
	}
	return out
}

func incomplete(text string) bool {
	last, _ := utf8.DecodeLastRuneInString(text)
	if strings.ContainsRune(",-/(&", last) {
		return true
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	return connectorWords[strings.ToLower(fields[len(fields)-1])]
}
