package ranking

import (
	"math"
	"sort"
)

// BM25Params tunes the Okapi BM25 formula.
type BM25Params struct {
	K1      float64
	B       float64
	Epsilon float64
}

// DefaultBM25Params matches the common Okapi defaults.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// BM25 holds corpus statistics for Okapi BM25 scoring. Build one per corpus;
// it is not safe to mutate after construction.
type BM25 struct {
	params  BM25Params
	docLens []int
	freqs   []map[string]int
	idf     map[string]float64
	avgdl   float64
}

// NewBM25 computes term statistics over corpus. The corpus must contain at
// least one non-empty document; see LexicalTopK for the guarded entry point.
func NewBM25(corpus [][]string, p BM25Params) *BM25 {
	m := &BM25{
		params:  p,
		docLens: make([]int, len(corpus)),
		freqs:   make([]map[string]int, len(corpus)),
		idf:     make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		m.docLens[i] = len(doc)
		total += len(doc)
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		m.freqs[i] = tf
		for tok := range tf {
			docFreq[tok]++
		}
	}
	if len(corpus) > 0 {
		m.avgdl = float64(total) / float64(len(corpus))
	}

	// Terms present in more than half of the corpus get a negative idf; those
	// are floored to epsilon * mean(idf).
	n := float64(len(corpus))
	sum := 0.0
	var negative []string
	for tok, df := range docFreq {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		m.idf[tok] = idf
		sum += idf
		if idf < 0 {
			negative = append(negative, tok)
		}
	}
	if len(m.idf) > 0 {
		eps := p.Epsilon * sum / float64(len(m.idf))
		for _, tok := range negative {
			m.idf[tok] = eps
		}
	}
	return m
}

// Scores returns one relevance score per corpus document, in corpus order.
func (m *BM25) Scores(query []string) []float64 {
	scores := make([]float64, len(m.freqs))
	if m.avgdl == 0 {
		return scores
	}
	k1, b := m.params.K1, m.params.B
	for _, q := range query {
		idf, ok := m.idf[q]
		if !ok {
			continue
		}
		for i, tf := range m.freqs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := k1 * (1 - b + b*float64(m.docLens[i])/m.avgdl)
			scores[i] += idf * f * (k1 + 1) / (f + norm)
		}
	}
	return scores
}

// TopN returns the indices of the n highest-scoring documents, best first.
func (m *BM25) TopN(query []string, n int) []int {
	return topIndices(m.Scores(query), n)
}

// LexicalTopK ranks corpus against query and returns at most k document
// indices. It returns nil without scoring when the query is empty or every
// document is empty.
func LexicalTopK(corpus [][]string, query []string, k int, p BM25Params) []int {
	if len(query) == 0 || k <= 0 {
		return nil
	}
	nonEmpty := false
	for _, doc := range corpus {
		if len(doc) > 0 {
			nonEmpty = true
			break
		}
	}
	if !nonEmpty {
		return nil
	}
	return NewBM25(corpus, p).TopN(query, k)
}

func topIndices(scores []float64, n int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if n >= 0 && len(idx) > n {
		idx = idx[:n]
	}
	return idx
}
