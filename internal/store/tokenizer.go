package store

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/length"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/stop"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Tokenizer splits text into case-folded terms on Unicode word boundaries,
// dropping punctuation. The same Tokenizer must be used at index and query time.
type Tokenizer struct {
	words   analysis.Tokenizer
	filters []analysis.TokenFilter
}

// NewTokenizer builds a tokenizer chain: unicode words -> lowercase ->
// optional min length -> optional stop words.
func NewTokenizer(stopWords []string, minTokenLength int) *Tokenizer {
	filters := []analysis.TokenFilter{lowercase.NewLowerCaseFilter()}

	if minTokenLength > 1 {
		filters = append(filters, length.NewLengthFilter(minTokenLength, 0))
	}

	if len(stopWords) > 0 {
		tm := analysis.NewTokenMap()
		for _, w := range stopWords {
			tm.AddToken(strings.ToLower(w))
		}
		filters = append(filters, stop.NewStopTokensFilter(tm))
	}

	return &Tokenizer{
		words:   unicode.NewUnicodeTokenizer(),
		filters: filters,
	}
}

// Tokenize returns the terms of text in order, duplicates kept.
// Return empty slice, not nil.
func (t *Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return []string{}
	}

	stream := t.words.Tokenize([]byte(text))
	for _, f := range t.filters {
		stream = f.Filter(stream)
	}

	terms := make([]string, 0, len(stream))
	for _, tok := range stream {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}
