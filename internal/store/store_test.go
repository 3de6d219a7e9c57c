package store

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/types"
)

const (
	testID  = "dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH"
	testID2 = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func testIDL(t *testing.T) idl.Document {
	t.Helper()
	doc, err := idl.Parse([]byte(`{
		"name": "test_program",
		"instructions": [{"name":"initialize"},{"name":"update"}],
		"accounts": [{"name":"State"}]
	}`))
	require.NoError(t, err)
	return doc
}

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	for _, sub := range []string{"docs", "idls"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestProgramUpsertAndLookup(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: testID,
		Name:      "test_program",
		Status:    types.StatusDocumented,
	}))
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: testID2,
		Name:      "other",
		Status:    types.StatusFailed,
	}))

	// Upsert replaces by id.
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: testID,
		Name:      "renamed",
		Status:    types.StatusDocumented,
	}))

	programs, err := s.ListPrograms()
	require.NoError(t, err)
	require.Len(t, programs, 2)

	p, err := s.GetProgram(testID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "renamed", p.Name)

	missing, err := s.GetProgram("7NsngNMtXJNdHgeK4znQDZ5PJ19ykVvQvEF7BT5KFjMv")
	require.NoError(t, err)
	assert.Nil(t, missing)

	removed, err := s.RemoveProgram(testID)
	require.NoError(t, err)
	assert.True(t, removed)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, types.StoreStats{Documented: 0, Failed: 1, Total: 1}, stats)
}

func TestInvalidIDRejectedWithoutDiskMutation(t *testing.T) {
	s := newTestStore(t)

	badIDs := []string{
		"",
		"short",
		"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", // excluded alphabet chars
		"../../etc/passwd",
		"dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UHdRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH",
	}

	for _, id := range badIDs {
		_, err := s.GetProgram(id)
		assert.ErrorIs(t, err, types.ErrInvalidProgramID, "id=%q", id)

		err = s.SaveProgram(types.ProgramMetadata{ProgramID: id})
		assert.ErrorIs(t, err, types.ErrInvalidProgramID, "id=%q", id)

		_, _, err = s.AddToQueue(id)
		assert.ErrorIs(t, err, types.ErrInvalidProgramID, "id=%q", id)

		_, err = s.SaveIDL(id, testIDL(t))
		assert.ErrorIs(t, err, types.ErrInvalidProgramID, "id=%q", id)
	}

	// Nothing may have been written.
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"docs", "idls"}, names)
}

func TestQueueUniquenessAndRequeue(t *testing.T) {
	s := newTestStore(t)

	item, result, err := s.AddToQueue(testID)
	require.NoError(t, err)
	assert.Equal(t, AddedNew, result)
	assert.Equal(t, types.StatusPending, item.Status)

	// Re-adding a pending item changes nothing.
	_, result, err = s.AddToQueue(testID)
	require.NoError(t, err)
	assert.Equal(t, AlreadyQueued, result)

	items, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, items, 1)

	// Fail it, then requeue: attempts reset, lastError cleared.
	failed := types.StatusFailed
	attempts := 4
	lastErr := "rpc timeout"
	_, err = s.UpdateQueueItem(testID, types.QueueUpdate{
		Status:    &failed,
		Attempts:  &attempts,
		LastError: &lastErr,
	})
	require.NoError(t, err)

	item, result, err = s.AddToQueue(testID)
	require.NoError(t, err)
	assert.Equal(t, Requeued, result)
	assert.Equal(t, types.StatusPending, item.Status)
	assert.Zero(t, item.Attempts)
	assert.Empty(t, item.LastError)
}

func TestUpdateQueueItemPartialMerge(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AddToQueue(testID)
	require.NoError(t, err)

	processing := types.StatusProcessing
	item, err := s.UpdateQueueItem(testID, types.QueueUpdate{Status: &processing})
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, item.Status)
	assert.Zero(t, item.Attempts, "untouched field must survive the merge")

	_, err = s.UpdateQueueItem(testID2, types.QueueUpdate{Status: &processing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecoverStuck(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AddToQueue(testID)
	require.NoError(t, err)
	_, _, err = s.AddToQueue(testID2)
	require.NoError(t, err)

	processing := types.StatusProcessing
	_, err = s.UpdateQueueItem(testID, types.QueueUpdate{Status: &processing})
	require.NoError(t, err)

	n, err := s.RecoverStuck()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := s.ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestIDLCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := testIDL(t)

	rec, err := s.SaveIDL(testID, doc)
	require.NoError(t, err)
	wantHash, err := idl.Hash(doc)
	require.NoError(t, err)
	assert.Equal(t, wantHash, rec.Hash)
	assert.False(t, rec.FetchedAt.IsZero())

	got, err := s.GetIDL(testID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Equal(t, "test_program", idl.Document(got.IDL).Name())

	// Hash is a pure function of the document: saving again matches.
	again, err := s.SaveIDL(testID, idl.Document(got.IDL))
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, again.Hash)

	removed, err := s.RemoveIDL(testID)
	require.NoError(t, err)
	assert.True(t, removed)
	gone, err := s.GetIDL(testID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDocsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	d := types.Documentation{
		ProgramID:    testID,
		Name:         "test_program",
		Overview:     "overview",
		Instructions: "instructions",
		Accounts:     "accounts",
		Security:     "security",
		FullMarkdown: "# test_program",
		GeneratedAt:  time.Now().UTC(),
		IDLHash:      "abc",
	}
	require.NoError(t, s.SaveDocs(d))

	got, err := s.GetDocs(testID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.Overview, got.Overview)

	removed, err := s.RemoveDocs(testID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveDocs(testID)
	require.NoError(t, err)
	assert.False(t, removed, "second delete is a no-op")
}

func TestCorruptFileQuarantined(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.programsPath(), []byte("{not json"), 0o644))

	programs, err := s.ListPrograms()
	require.NoError(t, err)
	assert.Empty(t, programs, "corrupt file falls back to empty")

	matches, err := filepath.Glob(s.programsPath() + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt file must be moved aside")

	// The store keeps working after recovery.
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{ProgramID: testID, Name: "p"}))
	programs, err = s.ListPrograms()
	require.NoError(t, err)
	assert.Len(t, programs, 1)
}

func TestConcurrentSafeWritesLoseNothing(t *testing.T) {
	s := newTestStore(t)

	// Valid base58 IDs differing in their first characters. The alphabet
	// below avoids the excluded base58 characters.
	const letters = "abcdefghijkmnopqrstu"
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, fmt.Sprintf("%c%czt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8aa", letters[i], letters[i]))
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			require.NoError(t, s.SaveProgramSafe(types.ProgramMetadata{ProgramID: id, Name: id}))
			_, _, err := s.AddToQueueSafe(id)
			require.NoError(t, err)
		}(id)
	}
	wg.Wait()

	programs, err := s.ListPrograms()
	require.NoError(t, err)
	assert.Len(t, programs, len(ids), "no lost program writes")

	items, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, items, len(ids), "no lost queue writes")
}
