package repository

import (
	"sort"
	"strings"
	"unicode"
)

// SearchResult is a synset matching a search phrase.
type SearchResult struct {
	Synset
	Score float64
}

// words splits s into lower-case alphanumeric words.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termScore rates how well phrase matches one comma-separated description
// term: the share of phrase words found in the term times the share of term
// words covered. An identical term scores 1.
func termScore(phrase []string, term string) float64 {
	tw := words(term)
	if len(tw) == 0 || len(phrase) == 0 {
		return 0
	}
	if strings.Join(tw, " ") == strings.Join(phrase, " ") {
		return 1
	}
	inTerm := make(map[string]bool, len(tw))
	for _, w := range tw {
		inTerm[w] = true
	}
	matched := 0
	for _, w := range phrase {
		if inTerm[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(phrase)) * float64(matched) / float64(len(tw))
}

// descriptionScore is the best term score of a description.
func descriptionScore(phrase []string, description string) float64 {
	best := 0.0
	for _, term := range strings.Split(description, ",") {
		if s := termScore(phrase, term); s > best {
			best = s
		}
	}
	return best
}

// SearchSynsets ranks synsets by how well their description matches phrase
// and returns at most limit results (all when limit <= 0). Ties keep word
// list order.
func (r *Repository) SearchSynsets(phrase string, limit int) ([]SearchResult, error) {
	pw := words(phrase)
	if len(pw) == 0 {
		return nil, nil
	}
	candidates, err := r.index.SearchCandidates(pw)
	if err != nil {
		return nil, err
	}
	var results []SearchResult
	for _, row := range candidates {
		if s := descriptionScore(pw, row.Description); s > 0 {
			results = append(results, SearchResult{Synset: r.synsetFromRow(row), Score: s})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].position < results[j].position
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	r.log.Debugf("search %q: %d of %d candidates matched", phrase, len(results), len(candidates))
	return results, nil
}
