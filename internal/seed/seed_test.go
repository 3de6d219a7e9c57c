package seed

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSeedPopulatesEmptyStore(t *testing.T) {
	s := newTestStore(t)

	n, err := Seed(s, discard())
	require.NoError(t, err)
	assert.Equal(t, len(Entries), n, "every bundled IDL is valid")

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, queue, len(Entries))

	for _, e := range Entries {
		rec, err := s.GetIDL(e.ProgramID)
		require.NoError(t, err)
		require.NotNil(t, rec, "IDL cached for %s", e.Label)
		assert.NotEmpty(t, rec.Hash)
	}
}

func TestSeedSkipsNonEmptyStore(t *testing.T) {
	s := newTestStore(t)

	// A single queued program suppresses seeding.
	_, _, err := s.AddToQueue(Entries[0].ProgramID)
	require.NoError(t, err)

	n, err := Seed(s, discard())
	require.NoError(t, err)
	assert.Zero(t, n)

	queue, err := s.ListQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 1)
}

func TestSeedSkipsWhenIndexNonEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: Entries[0].ProgramID,
		Name:      "drift",
		Status:    types.StatusDocumented,
	}))

	n, err := Seed(s, discard())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpgradeCandidates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: Entries[0].ProgramID, Status: types.StatusDocumented,
	}))
	require.NoError(t, s.SaveProgram(types.ProgramMetadata{
		ProgramID: Entries[1].ProgramID, Status: types.StatusFailed,
	}))

	ids, err := UpgradeCandidates(s)
	require.NoError(t, err)
	assert.Equal(t, []string{Entries[0].ProgramID}, ids)
}

func TestBundledIDLsAllValid(t *testing.T) {
	for _, e := range Entries {
		doc, err := loadBundledIDL(e.IDLFile)
		require.NoError(t, err, "entry %s", e.Label)
		assert.NotEmpty(t, doc.Instructions(), "entry %s", e.Label)
		assert.NotEqual(t, "unknown_program", doc.Name(), "entry %s", e.Label)
	}
}
