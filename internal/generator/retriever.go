package generator

import (
	"context"
	"sort"
	"strings"
)

// StaticRetriever ranks a fixed set of snippets by how many query terms each
// contains. An empty corpus always yields no context.
type StaticRetriever struct {
	snippets []string
}

// NewStaticRetriever creates a retriever over snippets
func NewStaticRetriever(snippets ...string) *StaticRetriever {
	return &StaticRetriever{snippets: snippets}
}

// RetrieveContext implements interfaces.Retriever
func (r *StaticRetriever) RetrieveContext(ctx context.Context, query string, k int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	type scored struct {
		index int
		score int
	}
	var hits []scored
	for i, s := range r.snippets {
		lower := strings.ToLower(s)
		score := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{index: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = r.snippets[h.index]
	}
	return out, nil
}
