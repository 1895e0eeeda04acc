package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

// maxCorpusLine bounds a single JSONL record.
const maxCorpusLine = 16 * 1024 * 1024

// ReadCorpus parses JSON Lines, one document object per line:
//
//	{"id": "1", "text": "cat sat on mat", "metadata": {"source": "a.txt"}}
//
// Blank lines are skipped. Documents without an id get their 1-based line
// number as id.
func ReadCorpus(r io.Reader) ([]Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxCorpusLine)

	docs := []Document{}
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, amerrors.New(amerrors.ErrCodeCorpusRead,
				fmt.Sprintf("line %d: invalid document", line), err)
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprintf("%d", line)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeCorpusRead, "failed to read corpus", err)
	}
	return docs, nil
}

// ReadCorpusFile opens path and parses it with ReadCorpus.
func ReadCorpusFile(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, amerrors.New(amerrors.ErrCodeFileNotFound,
				fmt.Sprintf("corpus file not found: %s", path), err)
		}
		return nil, amerrors.New(amerrors.ErrCodeCorpusRead, fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()
	return ReadCorpus(f)
}
