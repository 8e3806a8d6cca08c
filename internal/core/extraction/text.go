package extraction

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

// MinIdentifierLength is the shortest canonical candidate accepted from text.
const MinIdentifierLength = 5

// Lexical shapes of part numbers found in prose.
var identifierPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Z0-9]{6,15}\b`),
	regexp.MustCompile(`(?i)\b[A-Z]+\d+[A-Z]*\d*\b`),
	regexp.MustCompile(`(?i)\b\d+[A-Z]+\d+\b`),
	regexp.MustCompile(`(?i)\b[A-Z0-9]+(?:-[A-Z0-9]+)+\b`),
}

var commonWords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "WITH": {}, "THIS": {},
	"THAT": {}, "FROM": {}, "HAVE": {}, "BEEN": {},
}

// Identifiers returns the part-number-like tokens in text, upper-cased, in
// order of first appearance, one per canonical form. A token lying inside a
// longer accepted token (the "00008P" of "0131M-00008P") is not reported.
func Identifiers(text string) []string {
	type hit struct {
		start, end int
	}
	var hits []hit
	for _, re := range identifierPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{start: loc[0], end: loc[1]})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].start != hits[j].start {
			return hits[i].start < hits[j].start
		}
		return hits[i].end > hits[j].end
	})

	seen := make(map[string]struct{})
	var out []string
	covered := 0
	for _, h := range hits {
		if h.start < covered {
			continue
		}
		token := strings.ToUpper(text[h.start:h.end])
		key := partid.Normalize(token)
		if !plausibleIdentifier(key) {
			continue
		}
		covered = h.end
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, token)
	}
	return out
}

func plausibleIdentifier(key string) bool {
	if utf8.RuneCountInString(key) < MinIdentifierLength {
		return false
	}
	if _, common := commonWords[key]; common {
		return false
	}
	return strings.IndexFunc(key, unicode.IsDigit) >= 0
}

// textFields are the payload fields whose prose is sent for classification.
var textFields = []string{"description", "full_description", "notes", "lifecycle", "status"}

// Texts returns the free-text spans of a matched record that the external
// classifier should see: root description and status, and the descriptive
// fields of a nested "data" object.
func Texts(m model.MatchResult) []model.TextSpan {
	var spans []model.TextSpan
	for i, obj := range sections(m.Record.Payload) {
		prefix := ""
		if i == 1 {
			prefix = "data."
		}
		for _, f := range textFields {
			if i == 0 && f != "description" && f != "status" {
				continue
			}
			if s := strings.TrimSpace(obj.GetString(f)); s != "" {
				spans = append(spans, model.TextSpan{Field: prefix + f, Text: s})
			}
		}
	}
	return spans
}
