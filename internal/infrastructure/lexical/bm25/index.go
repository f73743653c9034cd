// Package bm25 implements the lexical leg of hybrid retrieval: an immutable
// Okapi BM25 index over one corpus snapshot.
package bm25

import (
	"math"
	"sort"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

type Options struct {
	K1        float64
	B         float64
	Tokenizer Tokenizer
}

func DefaultOptions() Options {
	return Options{K1: DefaultK1, B: DefaultB, Tokenizer: WhitespaceTokenizer}
}

type posting struct {
	doc  int
	freq int
}

type Index struct {
	opts     Options
	chunks   []domain.Chunk
	lengths  []int
	avgLen   float64
	postings map[string][]posting
	idf      map[string]float64
}

// Build indexes chunks in order; result positions refer back to that order.
func Build(chunks []domain.Chunk, opts Options) *Index {
	if opts.Tokenizer == nil {
		opts.Tokenizer = WhitespaceTokenizer
	}
	if opts.K1 < 0 {
		opts.K1 = DefaultK1
	}
	if opts.B < 0 || opts.B > 1 {
		opts.B = DefaultB
	}

	ix := &Index{
		opts:     opts,
		chunks:   append([]domain.Chunk(nil), chunks...),
		lengths:  make([]int, len(chunks)),
		postings: make(map[string][]posting, 1024),
	}

	total := 0
	for i, chunk := range chunks {
		tokens := opts.Tokenizer(chunk.Text)
		ix.lengths[i] = len(tokens)
		total += len(tokens)

		freq := make(map[string]int, len(tokens))
		order := make([]string, 0, len(tokens))
		for _, tok := range tokens {
			if freq[tok] == 0 {
				order = append(order, tok)
			}
			freq[tok]++
		}
		for _, tok := range order {
			ix.postings[tok] = append(ix.postings[tok], posting{doc: i, freq: freq[tok]})
		}
	}
	if len(chunks) > 0 {
		ix.avgLen = float64(total) / float64(len(chunks))
	}

	n := float64(len(chunks))
	ix.idf = make(map[string]float64, len(ix.postings))
	for term, list := range ix.postings {
		df := float64(len(list))
		ix.idf[term] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}
	return ix
}

func (ix *Index) Tokenize(text string) []string {
	return ix.opts.Tokenizer(text)
}

func (ix *Index) Len() int {
	return len(ix.chunks)
}

func (ix *Index) Ready() bool {
	return ix != nil && ix.postings != nil
}

// ChunkAt exposes the indexed chunk at position i for alignment checks.
func (ix *Index) ChunkAt(i int) domain.Chunk {
	return ix.chunks[i]
}

// Query ranks documents by BM25 score, highest first. Documents scoring zero
// are omitted; ties keep index order, then chunk id. k <= 0 returns all hits.
func (ix *Index) Query(tokens []string, k int, filter domain.SearchFilter) []domain.SearchResult {
	if len(tokens) == 0 || len(ix.chunks) == 0 {
		return nil
	}

	scores := make(map[int]float64, 64)
	for _, tok := range tokens {
		list, ok := ix.postings[tok]
		if !ok {
			continue
		}
		idf := ix.idf[tok]
		for _, p := range list {
			scores[p.doc] += idf * ix.saturate(p.freq, ix.lengths[p.doc])
		}
	}

	type hit struct {
		doc   int
		score float64
	}
	hits := make([]hit, 0, len(scores))
	for doc, score := range scores {
		if score <= 0 {
			continue
		}
		if !filter.Match(ix.chunks[doc].Metadata) {
			continue
		}
		hits = append(hits, hit{doc: doc, score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		if hits[i].doc != hits[j].doc {
			return hits[i].doc < hits[j].doc
		}
		return ix.chunks[hits[i].doc].ID < ix.chunks[hits[j].doc].ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		chunk := ix.chunks[h.doc]
		norm := Normalize(h.score)
		out = append(out, domain.SearchResult{
			ChunkID:     chunk.ID,
			Text:        chunk.Text,
			Metadata:    chunk.Metadata,
			Score:       norm,
			RawScore:    h.score,
			SparseScore: norm,
			Provenance:  domain.ProvenanceSparse,
		})
	}
	return out
}

// Normalize maps a non-negative raw BM25 score into [0, 1).
func Normalize(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + 1)
}

func (ix *Index) saturate(freq, length int) float64 {
	tf := float64(freq)
	avg := ix.avgLen
	if avg == 0 {
		avg = 1
	}
	denom := tf + ix.opts.K1*(1-ix.opts.B+ix.opts.B*float64(length)/avg)
	if denom == 0 {
		return 0
	}
	return tf * (ix.opts.K1 + 1) / denom
}
