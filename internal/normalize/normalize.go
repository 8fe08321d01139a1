// Package normalize turns an institution's display name into short search queries.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultJitterWords are institutional words that rarely distinguish one
// community from another.
var DefaultJitterWords = []string{
	"institute", "institution", "technology", "of", "and", "for", "the", "in", "at",
	"university", "college", "engineering", "indian", "national", "management",
	"science", "sciences", "research", "studies", "school", "academy",
}

// DefaultLocations are trailing words that usually name a campus.
var DefaultLocations = []string{
	"delhi", "bombay", "madras", "kanpur", "kharagpur", "roorkee", "guwahati", "hyderabad",
	"varanasi", "indore", "dhanbad", "trichy", "tiruchirappalli", "surathkal", "rourkela",
	"warangal", "calicut", "durgapur", "kurukshetra", "pilani", "bangalore", "allahabad",
	"vellore", "mumbai", "pune", "mandi", "patna", "ropar", "jodhpur", "gandhinagar", "bhubaneswar",
}

var connectors = map[string]bool{"of": true, "and": true, "for": true, "the": true, "in": true, "at": true, "&": true}

var (
	parenExpr = regexp.MustCompile(`\(([^)]*)\)`)
	wordExpr  = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

const minCandidateLen = 2

// Normalizer produces ordered candidate queries for an entity name.
type Normalizer struct {
	jitter    map[string]bool
	locations map[string]bool
	max       int
}

// New builds a Normalizer. Nil word lists fall back to the defaults; max <= 0 means no cap.
func New(jitterWords, locations []string, max int) *Normalizer {
	if jitterWords == nil {
		jitterWords = DefaultJitterWords
	}
	if locations == nil {
		locations = DefaultLocations
	}
	return &Normalizer{jitter: toSet(jitterWords), locations: toSet(locations), max: max}
}

// Candidates returns the deterministic, de-duplicated query sequence for name:
// full name, parenthesised acronym, capitalised-word acronym, acronym plus
// location, jitter-stripped core, punctuation-stripped full name.
func (n *Normalizer) Candidates(name string) []string {
	name = collapseSpaces(name)
	if name == "" {
		return nil
	}

	var out []string
	seen := map[string]bool{}
	add := func(c string) {
		c = strings.TrimSpace(c)
		if utf8.RuneCountInString(c) < minCandidateLen {
			return
		}
		key := strings.ToLower(c)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	var parenthesised []string
	for _, m := range parenExpr.FindAllStringSubmatch(name, -1) {
		parenthesised = append(parenthesised, m[1])
	}
	base := collapseSpaces(parenExpr.ReplaceAllString(name, " "))
	words := wordExpr.FindAllString(base, -1)
	if len(words) == 0 {
		return nil
	}

	add(base)

	for _, p := range parenthesised {
		add(strings.Join(wordExpr.FindAllString(p, -1), ""))
	}

	acronym := capitalAcronym(words)
	if len(acronym) >= minCandidateLen && !strings.EqualFold(acronym, strings.Join(words, "")) {
		add(acronym)
	}

	if loc := words[len(words)-1]; len(words) > 1 && n.locations[strings.ToLower(loc)] {
		prefix := capitalAcronym(words[:len(words)-1])
		if prefix != "" {
			add(prefix + loc)
		}
	}

	var core []string
	for _, w := range words {
		if !n.jitter[strings.ToLower(w)] {
			core = append(core, w)
		}
	}
	if len(core) > 0 && len(core) < len(words) {
		add(strings.Join(core, ""))
	}

	add(strings.Join(words, ""))

	if n.max > 0 && len(out) > n.max {
		out = out[:n.max]
	}
	return out
}

// capitalAcronym takes the first letter of every capitalised, non-connector word.
// Words already written as acronyms ("IIT") contribute all their letters.
func capitalAcronym(words []string) string {
	var b strings.Builder
	for _, w := range words {
		if connectors[strings.ToLower(w)] {
			continue
		}
		first, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsUpper(first) {
			continue
		}
		if isAllUpper(w) {
			b.WriteString(w)
			continue
		}
		b.WriteRune(first)
	}
	return b.String()
}

func isAllUpper(w string) bool {
	if utf8.RuneCountInString(w) < 2 {
		return false
	}
	for _, r := range w {
		if unicode.IsLetter(r) && !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}
