package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tests := []struct {
		name      string
		stopWords []string
		minLen    int
		input     string
		expected  []string
	}{
		{
			name:     "lowercases and splits on whitespace",
			input:    "Cat Sat ON mat",
			expected: []string{"cat", "sat", "on", "mat"},
		},
		{
			name:     "drops punctuation",
			input:    "cat, dog; (bird)!",
			expected: []string{"cat", "dog", "bird"},
		},
		{
			name:     "keeps numbers",
			input:    "top 10 results",
			expected: []string{"top", "10", "results"},
		},
		{
			name:     "keeps duplicates in order",
			input:    "cat cat dog",
			expected: []string{"cat", "cat", "dog"},
		},
		{
			name:     "folds unicode case",
			input:    "Ünïcode WÖRDS",
			expected: []string{"ünïcode", "wörds"},
		},
		{
			name:      "removes stop words case-insensitively",
			stopWords: []string{"THE", "a"},
			input:     "The cat and a dog",
			expected:  []string{"cat", "and", "dog"},
		},
		{
			name:     "drops short tokens",
			minLen:   3,
			input:    "a to cat mouse",
			expected: []string{"cat", "mouse"},
		},
		{
			name:     "empty input",
			input:    "",
			expected: []string{},
		},
		{
			name:     "only punctuation",
			input:    "?!.,",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := NewTokenizer(tt.stopWords, tt.minLen)
			assert.Equal(t, tt.expected, tok.Tokenize(tt.input))
		})
	}
}

func TestTokenizer_NeverReturnsNil(t *testing.T) {
	tok := NewTokenizer(nil, 1)

	assert.NotNil(t, tok.Tokenize(""))
	assert.NotNil(t, tok.Tokenize("   "))
}
