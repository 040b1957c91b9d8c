package agent

import (
	"context"
	"sort"
	"strings"
)

// Document is one knowledge-base entry available to retrieval.
type Document struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
	Body    string `json:"body"`
}

// Retriever looks up documents relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) ([]Document, error)
}

// KeywordRetriever scores documents by case-insensitive term overlap with the
// query. Good enough for small curated knowledge sets; swap in a real vector
// store behind the same interface for larger corpora.
type KeywordRetriever struct {
	docs []Document
}

func NewKeywordRetriever(docs []Document) *KeywordRetriever {
	return &KeywordRetriever{docs: docs}
}

func (r *KeywordRetriever) Retrieve(_ context.Context, query string, limit int) ([]Document, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || len(r.docs) == 0 {
		return nil, nil
	}

	type scored struct {
		doc   Document
		score int
	}
	var hits []scored
	for _, d := range r.docs {
		text := strings.ToLower(d.Title + " " + d.Snippet + " " + d.Body)
		score := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out, nil
}
