// Package reconcile maps free-text labels produced by a generative model onto
// a closed set of candidate labels. Matching is exact first, then fuzzy with a
// caller-supplied threshold. Anything below the threshold is a NoMatch and
// must be treated as a validation failure by callers.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
)

// indelParams makes a substitution cost the same as a delete plus an insert,
// so Distance returns the indel distance between two strings.
var indelParams = levenshtein.NewParams().InsCost(1).DelCost(1).SubCost(2)

// Match is the outcome of reconciling one proposed label.
type Match struct {
	// Candidate is the matched candidate; empty when Matched is false.
	Candidate string
	// Index is the candidate's position in the input slice, -1 on NoMatch.
	Index int
	// Score is the best similarity observed, in [0,1].
	Score float64
	// Exact is true when the proposed label was byte-identical to Candidate.
	Exact bool
	// Matched is false for NoMatch.
	Matched bool
}

// NoMatch reports whether reconciliation failed.
func (m Match) NoMatch() bool {
	return !m.Matched
}

// ValidateThreshold checks that a fuzzy threshold lies in [0,1].
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("fuzzy threshold must be within [0,1], got %v", threshold)
	}
	return nil
}

// Reconcile decides which candidate, if any, the proposed label refers to.
//
// An exact (case-sensitive, unnormalized) match returns immediately. Otherwise
// every candidate is scored with Similarity and the best one is returned when
// its score is at least threshold. Ties go to the earliest candidate.
func Reconcile(proposed string, candidates []string, threshold float64) Match {
	for i, c := range candidates {
		if c == proposed {
			return Match{Candidate: c, Index: i, Score: 1, Exact: true, Matched: true}
		}
	}

	best := Match{Index: -1}
	for i, c := range candidates {
		score := Similarity(proposed, c)
		if best.Index == -1 || score > best.Score {
			best.Index = i
			best.Score = score
		}
	}
	if best.Index == -1 || best.Score < threshold {
		return Match{Index: -1, Score: best.Score}
	}
	best.Candidate = candidates[best.Index]
	best.Matched = true
	return best
}

// BestScore returns the highest Similarity between proposed and any candidate.
func BestScore(proposed string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := Similarity(proposed, c); s > best {
			best = s
		}
	}
	return best
}

// Similarity returns the normalized indel similarity of a and b:
// 1 - indel(a, b) / (len(a) + len(b)), measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 1
	}
	dist := levenshtein.Distance(a, b, indelParams)
	sim := 1 - float64(dist)/float64(total)
	if sim < 0 {
		return 0
	}
	return sim
}

// CleanLabel tidies a label produced by a model: surrounding whitespace and a
// single trailing period are dropped, and double quotes and backslashes are
// removed.
func CleanLabel(label string) string {
	label = strings.TrimSpace(label)
	label = strings.TrimSuffix(label, ".")
	label = strings.ReplaceAll(label, `"`, "")
	label = strings.ReplaceAll(label, `\`, "")
	return strings.TrimSpace(label)
}

// NormalizeKey is the key used to detect duplicate labels: the cleaned label,
// lower-cased, with inner whitespace collapsed.
func NormalizeKey(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(CleanLabel(label))), " ")
}
