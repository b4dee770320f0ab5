package scoring

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/fyrsmithlabs/kravscan/internal/profile"
)

// stopwords never count as content tokens.
var stopwords = map[string]bool{
	"og": true, "i": true, "på": true, "for": true, "til": true, "av": true, "med": true,
	"som": true, "skal": true, "må": true, "bør": true, "en": true, "et": true, "ei": true,
	"den": true, "det": true, "de": true, "er": true, "være": true, "ved": true, "fra": true,
	"eller": true, "samt": true, "alle": true, "kan": true, "ikke": true, "har": true,
	"ha": true, "seg": true, "sin": true, "sitt": true, "sine": true, "også": true,
	"etter": true, "under": true, "over": true, "mellom": true, "per": true, "hver": true,
	"hvert": true, "denne": true, "dette": true, "disse": true, "blir": true, "bli": true,
	"the": true, "and": true, "shall": true, "must": true, "should": true, "with": true,
	"of": true, "to": true, "be": true, "is": true, "are": true, "all": true, "in": true,
	"on": true, "at": true, "by": true, "or": true, "not": true,
}

// tokens lowercases text and splits it into words. Inner hyphens are kept
// ("sd-anlegg").
func tokens(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := raw[:0]
	for _, t := range raw {
		if t = strings.Trim(t, "-"); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// contentTokens drops stopwords, short tokens and tokens without letters.
func contentTokens(toks []string) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if stopwords[t] || utf8.RuneCountInString(t) < 3 || !strings.ContainsFunc(t, unicode.IsLetter) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// termHit reports whether term occurs in the clause. Single-word terms match
// as word prefixes so Norwegian compounds count ("ventilasjonsanlegget");
// multi-word terms match as substrings of the lowered text.
func termHit(term string, toks []string, lower string) (int, bool) {
	if strings.Contains(term, " ") {
		if i := strings.Index(lower, term); i >= 0 {
			return len(tokens(lower[:i])), true
		}
		return 0, false
	}
	for i, t := range toks {
		if strings.HasPrefix(t, term) {
			return i, true
		}
	}
	return 0, false
}

type keywordResult struct {
	core, alias int
	units       bool
	keyword     string
}

// keywordSignal counts distinct core and alias hits and the units match.
// The keyword is the core term matched earliest in the text, else the
// earliest alias.
func keywordSignal(text string, toks []string, p *profile.Profile) keywordResult {
	lower := strings.ToLower(text)
	var r keywordResult
	seen := map[string]bool{}

	bestCore, bestAlias := -1, -1
	for _, t := range p.Core {
		t = strings.ToLower(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if pos, ok := termHit(t, toks, lower); ok {
			r.core++
			if bestCore < 0 || pos < bestCore {
				bestCore, r.keyword = pos, t
			}
		}
	}
	aliasKeyword := ""
	for _, t := range p.Aliases {
		t = strings.ToLower(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		if pos, ok := termHit(t, toks, lower); ok {
			r.alias++
			if bestAlias < 0 || pos < bestAlias {
				bestAlias, aliasKeyword = pos, t
			}
		}
	}
	if r.keyword == "" {
		r.keyword = aliasKeyword
	}
	if p.Units != nil {
		r.units = p.Units.MatchString(text)
	}
	return r
}

// lexicalSimilarity is the share of content tokens that prefix-match a
// profile term.
func lexicalSimilarity(toks []string, p *profile.Profile) float64 {
	content := contentTokens(toks)
	if len(content) == 0 {
		return 0
	}
	terms := p.Terms()
	matched := 0
	for _, tok := range content {
		for _, term := range terms {
			if !strings.Contains(term, " ") && strings.HasPrefix(tok, term) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(content))
}

// focusSignal counts focus terms found verbatim and discipline aliases found
// in the clause, and the share of focus terms present at all.
func focusSignal(focus string, toks []string, p *profile.Profile) (exact, alias int, share float64) {
	terms := contentTokens(tokens(focus))
	if len(terms) == 0 {
		return 0, 0, 0
	}
	isFocus := make(map[string]bool, len(terms))
	present := 0
	for _, ft := range terms {
		isFocus[ft] = true
		found := false
		for _, t := range toks {
			if t == ft {
				exact++
				found = true
				break
			}
		}
		if !found {
			for _, t := range toks {
				if strings.HasPrefix(t, ft) {
					found = true
					break
				}
			}
		}
		if found {
			present++
		}
	}
	if p != nil {
		for _, a := range p.Aliases {
			a = strings.ToLower(a)
			if a == "" || isFocus[a] || strings.Contains(a, " ") {
				continue
			}
			for _, t := range toks {
				if strings.HasPrefix(t, a) {
					alias++
					break
				}
			}
		}
	}
	return exact, alias, float64(present) / float64(len(terms))
}
