package search

import (
	"strings"

	"github.com/p-blackswan/discovery-engine/internal/models"
)

// RelevanceScorer scores how well an item matches the functionality
// description and code snippets of the criteria, in [0, 1]. It can be swapped
// for an embedding-based implementation without touching the Executor.
type RelevanceScorer func(item models.Item, criteria models.SearchCriteria) float64

func wantsRelevance(c models.SearchCriteria) bool {
	if c.FunctionalityDescription != nil && strings.TrimSpace(*c.FunctionalityDescription) != "" {
		return true
	}
	for _, s := range c.CodeSnippets {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// SubstringRelevance is the default heuristic: the fraction of description
// words (three letters or more) and snippets that occur as substrings of the
// item's name, description and topics. Criteria with nothing to match score 1.
func SubstringRelevance(item models.Item, c models.SearchCriteria) float64 {
	var terms []string
	if c.FunctionalityDescription != nil {
		for _, w := range strings.Fields(strings.ToLower(*c.FunctionalityDescription)) {
			w = strings.Trim(w, ".,;:!?()\"'")
			if len(w) >= 3 {
				terms = append(terms, w)
			}
		}
	}
	for _, s := range c.CodeSnippets {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			terms = append(terms, s)
		}
	}
	if len(terms) == 0 {
		return 1
	}

	haystack := strings.ToLower(item.Name + " " + item.DescriptionText() + " " + strings.Join(item.Topics, " "))
	matched := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
