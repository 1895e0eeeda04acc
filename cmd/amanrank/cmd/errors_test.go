package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

func TestReportError_JSONWhenNotTerminal(t *testing.T) {
	// Given: a rank error and a non-terminal writer
	buf := &bytes.Buffer{}
	err := amerrors.New(amerrors.ErrCodeEmptyCorpus, "no documents", nil).
		WithSuggestion("run 'amanrank index <corpus.jsonl>' first")

	// When: reporting it
	ReportError(buf, err)

	// Then: one JSON object carries code and hint
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, amerrors.ErrCodeEmptyCorpus, got["code"])
	assert.Contains(t, got["suggestion"], "amanrank index")
}

func TestReportError_PlainError(t *testing.T) {
	buf := &bytes.Buffer{}

	ReportError(buf, errors.New("boom"))

	assert.Contains(t, buf.String(), "boom")
}

func TestReportError_Nil(t *testing.T) {
	buf := &bytes.Buffer{}

	ReportError(buf, nil)

	assert.Empty(t, buf.String())
}
