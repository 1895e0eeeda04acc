package mcp

import (
	"github.com/Aman-CERP/amanrank/internal/engine"
	"github.com/Aman-CERP/amanrank/internal/search"
)

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the search query to execute"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"maximum number of results, default from configuration"`
	BM25Only bool   `json:"bm25_only,omitempty" jsonschema:"use keyword retrieval only"`
	NoRerank bool   `json:"no_rerank,omitempty" jsonschema:"skip cross-encoder reranking"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked documents, best first"`
}

// SearchResultOutput is one ranked document.
type SearchResultOutput struct {
	DocumentID string             `json:"document_id" jsonschema:"document identifier from the corpus"`
	Score      float64            `json:"score" jsonschema:"final score; rerank score when reranked, fused score otherwise"`
	Text       string             `json:"text" jsonschema:"document text"`
	Metadata   []MetadataEntry    `json:"metadata,omitempty" jsonschema:"document metadata in corpus order"`
	Sources    map[string]float64 `json:"sources,omitempty" jsonschema:"per-stage scores that produced this result"`
}

// MetadataEntry is one metadata field. A list keeps the corpus key order.
type MetadataEntry struct {
	Key   string `json:"key" jsonschema:"metadata key"`
	Value any    `json:"value" jsonschema:"metadata value"`
}

// StatusInput defines the input schema for the pipeline_status tool (no parameters).
type StatusInput struct{}

// StatusOutput defines the output schema for the pipeline_status tool.
type StatusOutput struct {
	Stages        engine.Stages `json:"stages"`
	TopK          int           `json:"top_k"`
	RerankFetchK  int           `json:"rerank_fetch_k"`
	BM25Weight    float64       `json:"bm25_weight"`
	VectorWeight  float64       `json:"vector_weight"`
	CachedQueries int           `json:"cached_queries"`
}

func toSearchOutput(results []search.Result) SearchOutput {
	out := SearchOutput{Results: make([]SearchResultOutput, 0, len(results))}
	for _, r := range results {
		var md []MetadataEntry
		for _, f := range r.Metadata {
			md = append(md, MetadataEntry{Key: f.Key, Value: f.Value})
		}
		out.Results = append(out.Results, SearchResultOutput{
			DocumentID: r.DocumentID,
			Score:      r.Score,
			Text:       r.Text,
			Metadata:   md,
			Sources:    r.Sources,
		})
	}
	return out
}
