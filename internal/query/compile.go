// Package query compiles structured search criteria into provider query strings.
package query

import (
	"fmt"
	"strings"
	"time"

	perrors "github.com/p-blackswan/discovery-engine/internal/errors"
	"github.com/p-blackswan/discovery-engine/internal/models"
)

// DateLayout is the provider's date qualifier format.
const DateLayout = "2006-01-02"

// MaxSimilarTopics bounds the topics taken from a reference repository.
const MaxSimilarTopics = 3

// Compile turns criteria and filters into a query string. Token order is
// fixed: free text, language, topics, stars, pushed date, archived, fork.
// The pushed date is derived from now, so callers pass the compilation time.
// The result is empty only when criteria carry nothing but a similar-to
// reference.
func Compile(criteria models.SearchCriteria, filters models.FilterConfig, now time.Time) (string, error) {
	var tokens []string

	if q := strings.TrimSpace(criteria.Query); q != "" {
		tokens = append(tokens, q)
	}

	if criteria.Language != nil {
		lang := strings.TrimSpace(*criteria.Language)
		if strings.ContainsAny(lang, " \t") {
			return "", &perrors.CompilationError{Field: "language", Reason: fmt.Sprintf("%q contains whitespace", lang)}
		}
		if lang != "" {
			tokens = append(tokens, "language:"+lang)
		}
	}

	for _, topic := range criteria.Topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		if strings.ContainsAny(topic, " \t") {
			return "", &perrors.CompilationError{Field: "topics", Reason: fmt.Sprintf("%q contains whitespace", topic)}
		}
		tokens = append(tokens, "topic:"+topic)
	}

	if criteria.MinStars != nil {
		if *criteria.MinStars < 0 {
			return "", &perrors.CompilationError{Field: "min_stars", Reason: "must not be negative"}
		}
		tokens = append(tokens, fmt.Sprintf("stars:>=%d", *criteria.MinStars))
	}

	if criteria.MaxAgeDays != nil {
		if *criteria.MaxAgeDays < 0 {
			return "", &perrors.CompilationError{Field: "max_age_days", Reason: "must not be negative"}
		}
		since := now.UTC().AddDate(0, 0, -*criteria.MaxAgeDays)
		tokens = append(tokens, "pushed:>="+since.Format(DateLayout))
	}

	if filters.ExcludeArchived {
		tokens = append(tokens, "archived:false")
	}
	if filters.ExcludeForks {
		tokens = append(tokens, "fork:false")
	}

	if len(tokens) == 0 {
		// A similar-to reference is searched on its own; the primary query
		// is then skipped.
		if criteria.SimilarTo != nil && strings.TrimSpace(*criteria.SimilarTo) != "" {
			return "", nil
		}
		return "", &perrors.CompilationError{Field: "search_criteria", Reason: "no search terms"}
	}
	return strings.Join(tokens, " "), nil
}

// Similar builds the secondary query used to find repositories similar to a
// reference: up to MaxSimilarTopics topics plus its language.
func Similar(topics []string, language string) string {
	var tokens []string
	n := 0
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		tokens = append(tokens, "topic:"+topic)
		n++
		if n == MaxSimilarTopics {
			break
		}
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.ContainsAny(lang, " \t") {
		tokens = append(tokens, "language:"+lang)
	}
	return strings.Join(tokens, " ")
}
