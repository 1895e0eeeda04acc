package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrank/internal/errors"
)

func TestSQLiteDocumentStore_ReplaceAndAll(t *testing.T) {
	// Given: an in-memory store
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	docs := []Document{
		{ID: "b", Text: "second by id, first by position", Metadata: Metadata{{Key: "n", Value: int64(1)}}},
		{ID: "a", Text: "plain"},
	}

	// When: storing and reading back
	require.NoError(t, s.Replace(ctx, docs))
	got, err := s.All(ctx)
	require.NoError(t, err)

	// Then: documents round-trip in insertion order
	assert.Equal(t, docs, got)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteDocumentStore_ReplaceDiscardsPreviousCorpus(t *testing.T) {
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.Replace(ctx, []Document{{ID: "old", Text: "x"}}))
	require.NoError(t, s.Replace(ctx, []Document{{ID: "new", Text: "y"}}))

	got, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestSQLiteDocumentStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.db")
	ctx := context.Background()

	s, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, animalCorpus()))
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, animalCorpus(), got)
}

func TestSQLiteDocumentStore_ReplaceFailsWhileLocked(t *testing.T) {
	// Given: another writer holding the lock file
	path := filepath.Join(t.TempDir(), "corpus.db")
	s, err := NewSQLiteDocumentStore(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = other.Unlock() }()

	// When: replacing
	err = s.Replace(context.Background(), animalCorpus())

	// Then: the store reports the lock
	assert.Equal(t, amerrors.ErrCodeStoreLocked, amerrors.GetCode(err))
}

func TestSQLiteDocumentStore_Closed(t *testing.T) {
	s, err := NewSQLiteDocumentStore("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.All(context.Background())
	assert.Error(t, err)
	assert.Error(t, s.Replace(context.Background(), nil))
	_, err = s.Count(context.Background())
	assert.Error(t, err)
}
