package resolver

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

const (
	// membersScale is log10 of the member count treated as maximal activity.
	membersScale = 7.0
	// containmentFloor is the similarity granted when the query appears inside the handle.
	containmentFloor = 0.85
	minContainedLen  = 3
)

// NewMetric maps a configured metric name to a strutil metric.
func NewMetric(name string) (strutil.StringMetric, error) {
	switch name {
	case "", "levenshtein":
		return metrics.NewLevenshtein(), nil
	case "jaro-winkler":
		return metrics.NewJaroWinkler(), nil
	case "sorensen-dice":
		return metrics.NewSorensenDice(), nil
	default:
		return nil, fmt.Errorf("unknown similarity metric %q", name)
	}
}

// Similarity compares a query with a community handle and title and keeps the
// better of the two. Both sides are lower-cased and reduced to letters and digits.
func Similarity(metric strutil.StringMetric, query, handle, title string) float64 {
	q := fold(query)
	if q == "" {
		return 0
	}
	best := 0.0
	if len(q) >= minContainedLen && strings.Contains(fold(handle), q) {
		best = containmentFloor
	}
	for _, target := range []string{handle, title} {
		t := fold(target)
		if t == "" {
			continue
		}
		if t == q {
			return 1
		}
		if s := strutil.Similarity(q, t, metric); s > best {
			best = s
		}
	}
	return best
}

// activity maps a member count onto [0,1]; monotonic, used only to rank eligible hits.
func activity(members int) float64 {
	if members <= 0 {
		return 0
	}
	return math.Min(math.Log10(1+float64(members))/membersScale, 1)
}

func fold(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "/"), "r/")
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
