package textclean

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	headerRE     = regexp.MustCompile(`(?i)^(from|to|cc|bcc|sent|subject|date|fra|til|kopi|sendt|emne|dato)\s*:`)
	separatorRE  = regexp.MustCompile(`^[-_=*~#.·•─━]{3,}$`)
	pageNumberRE = regexp.MustCompile(`(?i)^[-–]?\s*(?:(?:side|page|s\.)\s*)?\d{1,4}(?:\s*(?:/|av|of)\s*\d{1,4})?\s*[-–]?$`)
	signatureRE  = regexp.MustCompile(`(?i)^(med vennlig hilsen|vennlig hilsen|mvh|best regards|kind regards|regards|sincerely|sent from my)\b`)

	// BulletRE matches list items and numbered section headings, which keep
	// their own line.
	BulletRE = regexp.MustCompile(`^(?:[-–•*·▪●◦]|\d{1,3}[.)]|[a-z][.)]|\([a-z0-9]{1,3}\)|\d+(?:\.\d+)+)\s+`)
)

// maxRepeatLen is the longest line considered for header/footer detection.
const maxRepeatLen = 80

// repeatPages is how many distinct pages a line must appear on to count as a
// running header or footer.
const repeatPages = 3

// edgeLines is how many non-blank lines at the top and bottom of a page can
// hold a running header or footer.
const edgeLines = 2

// dropBoilerplate removes mail headers, separators, page numbers, signature
// blocks and running headers/footers. Blank lines and page markers are kept.
func dropBoilerplate(lines []string) []string {
	running := runningLines(lines)

	out := make([]string, 0, len(lines))
	inSignature := false
	for i, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case t == "":
			inSignature = false
			out = append(out, "")
			continue
		case PageMarkerRE.MatchString(t):
			inSignature = false
			out = append(out, t)
			continue
		case inSignature:
			continue
		case signatureRE.MatchString(t):
			inSignature = true
			continue
		case headerRE.MatchString(t), separatorRE.MatchString(t), pageNumberRE.MatchString(t):
			continue
		case running[i]:
			continue
		}
		out = append(out, line)
	}
	return out
}

// runningLines returns the indexes of running headers and footers: short
// lines among the first or last edgeLines of a page whose text sits at a
// page edge on at least repeatPages pages. Without page markers nothing is
// treated as running.
func runningLines(lines []string) map[int]bool {
	var pages [][]int
	var cur []int
	sawMarker := false
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if PageMarkerRE.MatchString(t) {
			pages = append(pages, cur)
			cur = nil
			sawMarker = true
			continue
		}
		cur = append(cur, i)
	}
	if !sawMarker {
		return nil
	}
	pages = append(pages, cur)

	onPages := map[string]map[int]bool{}
	edges := map[int]string{}
	for p, idx := range pages {
		for n, i := range idx {
			if n >= edgeLines && n < len(idx)-edgeLines {
				continue
			}
			t := strings.TrimSpace(lines[i])
			if utf8.RuneCountInString(t) > maxRepeatLen {
				continue
			}
			k := lineKey(t)
			edges[i] = k
			if onPages[k] == nil {
				onPages[k] = map[int]bool{}
			}
			onPages[k][p] = true
		}
	}

	running := map[int]bool{}
	for i, k := range edges {
		if len(onPages[k]) >= repeatPages {
			running[i] = true
		}
	}
	return running
}

func lineKey(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

type lineKind int

const (
	kindPlain lineKind = iota
	kindBullet
	kindMarker
)

// joinParagraphs folds wrapped lines into one line per paragraph. Paragraphs
// are separated by a blank line; bullets and page markers start a new line.
func joinParagraphs(lines []string) string {
	var b strings.Builder
	started := false
	blank := false
	prev := kindPlain

	for _, line := range lines {
		t := strings.Join(strings.Fields(line), " ")
		if t == "" {
			blank = started
			continue
		}

		kind := kindPlain
		switch {
		case PageMarkerRE.MatchString(t):
			kind = kindMarker
		case BulletRE.MatchString(t):
			kind = kindBullet
		}

		switch {
		case !started:
		case blank:
			b.WriteString("\n\n")
		case kind != kindPlain || prev == kindMarker:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(t)

		started = true
		blank = false
		prev = kind
	}
	return b.String()
}
