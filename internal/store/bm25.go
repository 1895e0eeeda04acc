package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// posting records one document's occurrences of a term.
type posting struct {
	doc int // index into BM25Index.docs
	tf  int
}

// BM25Index is an in-memory Okapi BM25 index over a fixed corpus.
//
// It is read-only after NewBM25Index returns and is safe for concurrent
// use without locking. Changing the corpus means building a new index.
type BM25Index struct {
	config    BM25Config
	tokenizer *Tokenizer

	docs     []Document
	docIndex map[string]int
	docLens  []int

	postings  map[string][]posting
	idf       map[string]float64
	avgDocLen float64
}

// NewBM25Index tokenizes docs and computes term statistics.
// Fails with ErrEmptyCorpus when docs is empty and ErrInvalidDocument on
// empty or duplicate IDs; no partial index is ever returned.
func NewBM25Index(docs []Document, config BM25Config) (*BM25Index, error) {
	if len(docs) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeEmptyCorpus, "cannot build index over an empty corpus", nil).
			WithStage("bm25").
			WithSuggestion("add at least one document to the corpus")
	}
	if config.K1 < 0 || config.B < 0 || config.B > 1 {
		return nil, amerrors.ConfigError(
			fmt.Sprintf("invalid BM25 parameters k1=%g b=%g", config.K1, config.B), nil)
	}

	idx := &BM25Index{
		config:    config,
		tokenizer: NewTokenizer(config.StopWords, config.MinTokenLength),
		docs:      make([]Document, len(docs)),
		docIndex:  make(map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		postings:  make(map[string][]posting),
	}

	totalLen := 0
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidDocument,
				fmt.Sprintf("document at position %d has an empty id", i), nil)
		}
		if _, dup := idx.docIndex[doc.ID]; dup {
			return nil, amerrors.New(amerrors.ErrCodeInvalidDocument,
				fmt.Sprintf("duplicate document id %q", doc.ID), nil)
		}

		idx.docs[i] = Document{ID: doc.ID, Text: doc.Text, Metadata: doc.Metadata.Clone()}
		idx.docIndex[doc.ID] = i

		terms := idx.tokenizer.Tokenize(doc.Text)
		idx.docLens[i] = len(terms)
		totalLen += len(terms)

		freqs := make(map[string]int, len(terms))
		for _, term := range terms {
			freqs[term]++
		}
		for term, tf := range freqs {
			idx.postings[term] = append(idx.postings[term], posting{doc: i, tf: tf})
		}
	}

	n := float64(len(docs))
	idx.avgDocLen = float64(totalLen) / n
	idx.idf = make(map[string]float64, len(idx.postings))
	for term, list := range idx.postings {
		df := float64(len(list))
		idx.idf[term] = math.Log((n-df+0.5)/(df+0.5) + 1)
	}

	return idx, nil
}

// Search tokenizes query and returns the topK best documents.
func (idx *BM25Index) Search(ctx context.Context, query string, topK int) ([]*BM25Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return idx.Score(idx.tokenizer.Tokenize(query), topK), nil
}

// Score ranks every document against already-tokenized query terms.
//
// Each occurrence of a term in queryTerms contributes once. Terms outside
// the vocabulary contribute 0. Documents without any match still rank, with
// score 0, after every matching document. Ordering is score descending then
// document ID ascending. At most topK results are returned.
func (idx *BM25Index) Score(queryTerms []string, topK int) []*BM25Result {
	if topK <= 0 {
		return []*BM25Result{}
	}

	scores := make([]float64, len(idx.docs))
	matched := make(map[int][]string)
	seen := make(map[string]bool, len(queryTerms))

	k1, b := idx.config.K1, idx.config.B
	for _, term := range queryTerms {
		list, ok := idx.postings[term]
		if !ok {
			continue
		}
		idf := idx.idf[term]
		first := !seen[term]
		seen[term] = true

		for _, p := range list {
			tf := float64(p.tf)
			norm := k1 * (1 - b + b*float64(idx.docLens[p.doc])/idx.avgDocLen)
			scores[p.doc] += idf * (tf * (k1 + 1)) / (tf + norm)
			if first {
				matched[p.doc] = append(matched[p.doc], term)
			}
		}
	}

	results := make([]*BM25Result, len(idx.docs))
	for i := range idx.docs {
		terms := matched[i]
		if terms == nil {
			terms = []string{}
		}
		results[i] = &BM25Result{
			DocID:        idx.docs[i].ID,
			Score:        scores[i],
			MatchedTerms: terms,
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Document returns a copy of the indexed document with the given ID.
func (idx *BM25Index) Document(id string) (Document, bool) {
	i, ok := idx.docIndex[id]
	if !ok {
		return Document{}, false
	}
	d := idx.docs[i]
	return Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata.Clone()}, true
}

// Documents returns copies of all indexed documents in build order.
func (idx *BM25Index) Documents() []Document {
	out := make([]Document, len(idx.docs))
	for i, d := range idx.docs {
		out[i] = Document{ID: d.ID, Text: d.Text, Metadata: d.Metadata.Clone()}
	}
	return out
}

// Tokenizer returns the tokenizer used at build time.
func (idx *BM25Index) Tokenizer() *Tokenizer {
	return idx.tokenizer
}

// Stats returns corpus statistics.
func (idx *BM25Index) Stats() IndexStats {
	return IndexStats{
		DocumentCount: len(idx.docs),
		TermCount:     len(idx.postings),
		AvgDocLength:  idx.avgDocLen,
	}
}

// DocumentFrequency returns how many documents contain term.
func (idx *BM25Index) DocumentFrequency(term string) int {
	return len(idx.postings[term])
}

// TermFrequency returns the occurrences of term in the given document.
func (idx *BM25Index) TermFrequency(term, docID string) int {
	i, ok := idx.docIndex[docID]
	if !ok {
		return 0
	}
	for _, p := range idx.postings[term] {
		if p.doc == i {
			return p.tf
		}
	}
	return 0
}

// DocumentLength returns the token count of the given document.
func (idx *BM25Index) DocumentLength(docID string) int {
	i, ok := idx.docIndex[docID]
	if !ok {
		return 0
	}
	return idx.docLens[i]
}

// IDF returns the inverse document frequency of term, 0 when unknown.
func (idx *BM25Index) IDF(term string) float64 {
	return idx.idf[term]
}
