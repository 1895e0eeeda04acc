package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

const catCorpus = `{"id": "1", "text": "cat sat on mat"}
{"id": "2", "text": "dog ran in park"}
{"id": "3", "text": "cat and dog play", "metadata": {"lang": "en"}}
`

// indexedDir returns a project directory whose store holds the cat corpus.
func indexedDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpus, []byte(catCorpus), 0o644))
	_, err := run(t, dir, "index", corpus)
	require.NoError(t, err)
	return dir
}

func TestIndexCmd_WritesStore(t *testing.T) {
	// Given: a corpus file
	isolate(t)
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpus, []byte(catCorpus), 0o644))

	// When: indexing it
	out, err := run(t, dir, "index", corpus)

	// Then: the store is created under the project directory
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 3 documents")
	assert.FileExists(t, filepath.Join(dir, ".amanrank", "corpus.db"))
}

func TestIndexCmd_StoreFlag(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.jsonl")
	require.NoError(t, os.WriteFile(corpus, []byte(catCorpus), 0o644))
	custom := filepath.Join(t.TempDir(), "custom.db")

	out, err := run(t, dir, "index", corpus, "--store", custom)

	require.NoError(t, err)
	assert.Contains(t, out, custom)
	assert.FileExists(t, custom)
}

func TestIndexCmd_Errors(t *testing.T) {
	tests := []struct {
		name   string
		corpus string
		code   string
	}{
		{"empty corpus", "\n\n", amerrors.ErrCodeEmptyCorpus},
		{"duplicate ids", `{"id":"a","text":"x"}` + "\n" + `{"id":"a","text":"y"}`, amerrors.ErrCodeInvalidDocument},
		{"malformed line", `{"id":`, amerrors.ErrCodeCorpusRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a bad corpus
			isolate(t)
			dir := t.TempDir()
			corpus := filepath.Join(dir, "corpus.jsonl")
			require.NoError(t, os.WriteFile(corpus, []byte(tt.corpus), 0o644))

			// When: indexing it
			_, err := run(t, dir, "index", corpus)

			// Then: it fails with the matching code and writes nothing
			require.Error(t, err)
			assert.Equal(t, tt.code, amerrors.GetCode(err))
			assert.NoFileExists(t, filepath.Join(dir, ".amanrank", "corpus.db"))
		})
	}
}

func TestIndexCmd_MissingFile(t *testing.T) {
	isolate(t)

	_, err := run(t, t.TempDir(), "index", "/nonexistent/corpus.jsonl")

	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeFileNotFound, amerrors.GetCode(err))
}

func TestSearchCmd_BM25Only(t *testing.T) {
	// Given: an indexed cat corpus
	isolate(t)
	dir := indexedDir(t)

	// When: searching lexically for the top two
	out, err := run(t, dir, "search", "cat", "--bm25-only", "--no-rerank", "-n", "2")

	// Then: documents 1 and 3 are listed, in that order
	require.NoError(t, err)
	assert.Contains(t, out, `Found 2 results for "cat"`)
	first := strings.Index(out, "1. 1 ")
	second := strings.Index(out, "2. 3 ")
	assert.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)
	assert.NotContains(t, out, "dog ran in park")
}

func TestSearchCmd_JSON(t *testing.T) {
	// Given: an indexed cat corpus
	isolate(t)
	dir := indexedDir(t)

	// When: searching the full pipeline with JSON output
	out, err := run(t, dir, "search", "cat", "--format", "json")
	require.NoError(t, err)

	// Then: the document parses and reports what ran
	var doc struct {
		Query  string `json:"query"`
		Stages struct {
			Vector   bool   `json:"vector"`
			Reranker string `json:"reranker"`
			Fusion   string `json:"fusion"`
		} `json:"stages"`
		Results []struct {
			DocumentID string             `json:"document_id"`
			Text       string             `json:"text"`
			Sources    map[string]float64 `json:"sources"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "cat", doc.Query)
	assert.True(t, doc.Stages.Vector)
	assert.Equal(t, "overlap", doc.Stages.Reranker)
	assert.Equal(t, "weighted", doc.Stages.Fusion)
	require.GreaterOrEqual(t, len(doc.Results), 2)
	top := []string{doc.Results[0].DocumentID, doc.Results[1].DocumentID}
	assert.ElementsMatch(t, []string{"1", "3"}, top)
	assert.Contains(t, doc.Results[0].Sources, "rerank")
}

func TestSearchCmd_Explain(t *testing.T) {
	isolate(t)
	dir := indexedDir(t)

	out, err := run(t, dir, "search", "dog", "--fusion", "rrf", "--explain")

	require.NoError(t, err)
	assert.Contains(t, out, "PIPELINE")
	assert.Contains(t, out, "Fusion: rrf-60")
	assert.Contains(t, out, "bm25=")
}

func TestSearchCmd_MultiWordQuery(t *testing.T) {
	isolate(t)
	dir := indexedDir(t)

	out, err := run(t, dir, "search", "dog", "park", "--bm25-only", "-n", "1")

	require.NoError(t, err)
	assert.Contains(t, out, `"dog park"`)
	assert.Contains(t, out, "1. 2 ")
}

func TestSearchCmd_EmptyStore(t *testing.T) {
	// Given: nothing indexed
	isolate(t)

	// When: searching
	_, err := run(t, t.TempDir(), "search", "cat")

	// Then: the error points at the index command
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeEmptyCorpus, amerrors.GetCode(err))
	assert.Contains(t, amerrors.FormatForCLI(err), "amanrank index")
}

func TestSearchCmd_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"negative top-k", []string{"-n", "-1"}},
		{"unknown format", []string{"--format", "xml"}},
		{"unknown fusion", []string{"--fusion", "borda"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			dir := indexedDir(t)

			_, err := run(t, dir, append([]string{"search", "cat"}, tt.args...)...)

			require.Error(t, err)
		})
	}
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	isolate(t)

	_, err := run(t, t.TempDir(), "search")

	require.Error(t, err)
}
