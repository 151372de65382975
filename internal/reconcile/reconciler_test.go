package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeCandidates = []string{
	"Code Assistance (Python & Rust)",
	"Data Analysis",
	"Creative Writing",
}

func TestReconcile_ExactMatch(t *testing.T) {
	m := Reconcile("Billing issues", []string{"Billing issues", "Login problems"}, 0.7)
	require.True(t, m.Matched)
	assert.Equal(t, "Billing issues", m.Candidate)
	assert.True(t, m.Exact)
	assert.Equal(t, 0, m.Index)
}

func TestReconcile_ExactMatchWinsOverEarlierFuzzyCandidate(t *testing.T) {
	candidates := []string{"Billing issue", "Billing issues"}

	for _, threshold := range []float64{0, 0.5, 0.99, 1} {
		m := Reconcile("Billing issues", candidates, threshold)
		require.True(t, m.Matched, "threshold %v", threshold)
		assert.Equal(t, "Billing issues", m.Candidate)
		assert.Equal(t, 1, m.Index)
		assert.True(t, m.Exact)
	}
}

func TestReconcile_ExactMatchIsCaseSensitive(t *testing.T) {
	m := Reconcile("billing issues", []string{"Billing issues"}, 1)
	assert.False(t, m.Matched)
	assert.False(t, m.Exact)
}

func TestReconcile_FuzzyMatchAccepted(t *testing.T) {
	m := Reconcile("billing issue", []string{"Billing issues"}, 0.7)
	require.True(t, m.Matched)
	assert.Equal(t, "Billing issues", m.Candidate)
	assert.False(t, m.Exact)
	assert.Greater(t, m.Score, 0.7)
}

func TestReconcile_FuzzyMatchRejected(t *testing.T) {
	m := Reconcile("Completely unrelated topic", []string{"Billing issues"}, 0.7)
	assert.True(t, m.NoMatch())
	assert.Equal(t, "", m.Candidate)
	assert.Equal(t, -1, m.Index)
	assert.Less(t, m.Score, 0.7)
}

func TestReconcile_OriginalLabelCases(t *testing.T) {
	tests := []struct {
		name     string
		proposed string
		want     string
	}{
		{"missing paren", "Code Assistance (Python & Rust", "Code Assistance (Python & Rust)"},
		{"capitalization", "Code Assistance (python & rust)", "Code Assistance (Python & Rust)"},
		{"punctuation", "Creative Writing!", "Creative Writing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Reconcile(tt.proposed, codeCandidates, 0.9)
			require.True(t, m.Matched)
			assert.Equal(t, tt.want, m.Candidate)
		})
	}

	assert.True(t, Reconcile("Code Assistance", codeCandidates, 0.9).NoMatch())
	assert.True(t, Reconcile("Data Science", []string{"Data Science and Machine Learning", "Web Development", "Mobile Apps"}, 0.9).NoMatch())
}

func TestReconcile_ThresholdBoundary(t *testing.T) {
	candidates := []string{"ABCDEFGHIJ"}

	m := Reconcile("ABCDEFGHI", candidates, 0.9)
	require.True(t, m.Matched)
	assert.Equal(t, "ABCDEFGHIJ", m.Candidate)

	assert.True(t, Reconcile("ABCDEFGH", candidates, 0.9).NoMatch())
}

func TestReconcile_TieBreaksOnCandidateOrder(t *testing.T) {
	// "abx" and "aby" are equally distant from "abz".
	m := Reconcile("abz", []string{"abx", "aby"}, 0.5)
	require.True(t, m.Matched)
	assert.Equal(t, "abx", m.Candidate)

	m = Reconcile("abz", []string{"aby", "abx"}, 0.5)
	require.True(t, m.Matched)
	assert.Equal(t, "aby", m.Candidate)
}

func TestReconcile_ThresholdMonotonicity(t *testing.T) {
	cases := []struct {
		proposed   string
		candidates []string
	}{
		{"billing issue", []string{"Login problems", "Billing issues"}},
		{"Code Assistance (Python & Rust", codeCandidates},
		{"Data Analysys", codeCandidates},
		{"Creative writting", codeCandidates},
	}

	thresholds := []float64{1, 0.95, 0.9, 0.8, 0.7, 0.6, 0.5, 0.3, 0.1, 0}
	for _, c := range cases {
		var first *Match
		for _, th := range thresholds {
			m := Reconcile(c.proposed, c.candidates, th)
			if first == nil {
				if m.Matched {
					mm := m
					first = &mm
				}
				continue
			}
			require.True(t, m.Matched, "%q matched at a higher threshold but not at %v", c.proposed, th)
			assert.Equal(t, first.Candidate, m.Candidate)
		}
		require.NotNil(t, first, "%q never matched", c.proposed)
	}
}

func TestReconcile_NoMatchAboveBestScore(t *testing.T) {
	proposed := "Help with taxes"
	candidates := []string{"Billing issues", "Tax preparation help", "Login problems"}

	s := BestScore(proposed, candidates)
	require.Greater(t, s, 0.0)
	require.Less(t, s, 1.0)

	for _, delta := range []float64{1e-9, 0.01, 0.1} {
		th := s + delta
		if th > 1 {
			continue
		}
		assert.True(t, Reconcile(proposed, candidates, th).NoMatch(), "threshold %v above best score %v", th, s)
	}
	assert.True(t, Reconcile(proposed, candidates, s).Matched)
}

func TestReconcile_EmptyCandidates(t *testing.T) {
	m := Reconcile("anything", nil, 0)
	assert.True(t, m.NoMatch())
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("same", "same"))
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	assert.InDelta(t, 1-1.0/19.0, Similarity("ABCDEFGHI", "ABCDEFGHIJ"), 1e-9)
	assert.InDelta(t, Similarity("kitten", "sitting"), Similarity("sitting", "kitten"), 1e-12)
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0))
	assert.NoError(t, ValidateThreshold(0.75))
	assert.NoError(t, ValidateThreshold(1))
	assert.Error(t, ValidateThreshold(-0.1))
	assert.Error(t, ValidateThreshold(1.5))
}

func TestCleanLabel(t *testing.T) {
	tests := map[string]string{
		"  Cluster with spaces  ":    "Cluster with spaces",
		"Cluster with period.":       "Cluster with period",
		`Cluster with "quotes"`:      "Cluster with quotes",
		`Cluster with \backslashes\`: "Cluster with backslashes",
		"Plain":                      "Plain",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanLabel(in), "input %q", in)
	}
}

func TestNormalizeKey(t *testing.T) {
	assert.Equal(t, NormalizeKey("Billing  Issues."), NormalizeKey(" billing issues"))
	assert.NotEqual(t, NormalizeKey("Billing issues"), NormalizeKey("Billing issue"))
}
