package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

func TestCompile_FullTokenOrder(t *testing.T) {
	criteria := models.SearchCriteria{
		Query:      "vector database",
		Language:   strPtr("go"),
		Topics:     []string{"database", "embeddings"},
		MinStars:   intPtr(100),
		MaxAgeDays: intPtr(30),
	}
	filters := models.FilterConfig{ExcludeArchived: true, ExcludeForks: true}

	q, err := Compile(criteria, filters, fixedNow)
	require.NoError(t, err)
	assert.Equal(t,
		"vector database language:go topic:database topic:embeddings stars:>=100 pushed:>=2026-09-18 archived:false fork:false",
		q)
}

func TestCompile_SkipsAbsentAndEmpty(t *testing.T) {
	criteria := models.SearchCriteria{
		Query:    "  cli  ",
		Language: strPtr(""),
		Topics:   []string{"", "  ", "terminal"},
	}

	q, err := Compile(criteria, models.FilterConfig{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "cli topic:terminal", q)
	assert.NotContains(t, q, "  ")
}

func TestCompile_ZeroStarsIsEmitted(t *testing.T) {
	q, err := Compile(models.SearchCriteria{MinStars: intPtr(0)}, models.FilterConfig{}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "stars:>=0", q)
}

func TestCompile_Deterministic(t *testing.T) {
	criteria := models.SearchCriteria{
		Query:    "scheduler",
		Language: strPtr("rust"),
		Topics:   []string{"cron", "jobs", "queue"},
		MinStars: intPtr(5),
	}
	filters := models.FilterConfig{ExcludeForks: true}

	first, err := Compile(criteria, filters, fixedNow)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Compile(criteria, filters, fixedNow)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		criteria models.SearchCriteria
		field    string
	}{
		{"negative stars", models.SearchCriteria{Query: "x", MinStars: intPtr(-1)}, "min_stars"},
		{"negative age", models.SearchCriteria{Query: "x", MaxAgeDays: intPtr(-3)}, "max_age_days"},
		{"spaced language", models.SearchCriteria{Language: strPtr("objective c")}, "language"},
		{"spaced topic", models.SearchCriteria{Topics: []string{"machine learning"}}, "topics"},
		{"nothing to search", models.SearchCriteria{}, "search_criteria"},
		{"description only", models.SearchCriteria{FunctionalityDescription: strPtr("raft")}, "search_criteria"},
		{"blank similar reference", models.SearchCriteria{SimilarTo: strPtr("  ")}, "search_criteria"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.criteria, models.FilterConfig{}, fixedNow)
			require.Error(t, err)
			var ce *perrors.CompilationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompile_SimilarOnly(t *testing.T) {
	q, err := Compile(models.SearchCriteria{SimilarTo: strPtr("acme/alpha")}, models.FilterConfig{}, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, q)

	q, err = Compile(models.SearchCriteria{SimilarTo: strPtr("acme/alpha")}, models.FilterConfig{ExcludeForks: true}, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "fork:false", q)
}

func TestSimilar(t *testing.T) {
	assert.Equal(t, "topic:a topic:b topic:c language:Go", Similar([]string{"a", "", "b", "c", "d"}, "Go"))
	assert.Equal(t, "language:Python", Similar(nil, "Python"))
	assert.Equal(t, "topic:x", Similar([]string{"x"}, ""))
	assert.Equal(t, "", Similar(nil, ""))
}
