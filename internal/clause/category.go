package clause

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Category is the kind of requirement a clause expresses.
type Category string

const (
	CategoryProhibition   Category = "prohibition"
	CategoryDocumentation Category = "documentation"
	CategoryVerification  Category = "verification"
	CategoryStandard      Category = "standard"
	CategoryPerformance   Category = "performance"
	CategoryFunctional    Category = "functional"
	CategoryInformative   Category = "informative"
)

// prefixRE matches any of the stems at the start of a word.
func prefixRE(stems ...string) *regexp.Regexp {
	quoted := make([]string, len(stems))
	for i, s := range stems {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)`)
}

var (
	documentationRE = prefixRE("dokument", "fdv", "datablad", "tegning", "as-built", "som bygget",
		"brukerveiled", "driftsinstruks", "document", "drawing", "datasheet", "manual", "submitt")
	verificationRE = prefixRE("test", "prøv", "idriftsett", "funksjonskontroll", "kontroll", "innregul",
		"målinger", "verifiser", "commissioning", "inspect", "verif", "measure")
	standardRE = regexp.MustCompile(`(?:^|[^\p{L}])(?:NS(?:-EN)?(?:[- ]ISO)?|EN|ISO|IEC|NEK|TEK)\s?-?\s?\d|(?i:forskrift|regulation)`)
)

type categoryRule struct {
	category Category
	match    func(string) bool
}

// rules are evaluated in order; the first match wins.
var rules = []categoryRule{
	{CategoryProhibition, ProhibitionRE.MatchString},
	{CategoryDocumentation, documentationRE.MatchString},
	{CategoryVerification, verificationRE.MatchString},
	{CategoryStandard, standardRE.MatchString},
	{CategoryPerformance, UnitsRE.MatchString},
	{CategoryFunctional, ObligationRE.MatchString},
}

// Categorize assigns the first matching category, or CategoryInformative.
func Categorize(text string) Category {
	for _, r := range rules {
		if r.match(text) {
			return r.category
		}
	}
	return CategoryInformative
}

// Summarize shortens text to at most maxWords words, marking truncation with
// an ellipsis.
func Summarize(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords <= 0 || len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	s := strings.Join(words[:maxWords], " ")
	s = strings.TrimRight(s, ",;:-")
	if r, _ := utf8.DecodeLastRuneInString(s); r == '.' {
		return s
	}
	return s + "…"
}
