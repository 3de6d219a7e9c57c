package idl

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) Document {
	t.Helper()
	doc, err := Parse([]byte(raw))
	require.NoError(t, err)
	return doc
}

func TestNameFallbackChain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"name":"drift_v2"}`, "drift_v2"},
		{`{"metadata":{"name":"nested_name"}}`, "nested_name"},
		{`{"name":"","metadata":{"name":"nested_name"}}`, "nested_name"},
		{`{"version":"0.1.0"}`, UnknownProgramName},
		{`{"metadata":{"name":42}}`, UnknownProgramName},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mustParse(t, tt.raw).Name(), "raw=%s", tt.raw)
	}
}

func TestCounts(t *testing.T) {
	doc := mustParse(t, `{
		"name": "test_program",
		"instructions": [{"name":"init"},{"name":"update"}],
		"accounts": [{"name":"State"}]
	}`)
	assert.Equal(t, 2, doc.InstructionCount())
	assert.Equal(t, 1, doc.AccountCount())
	assert.Equal(t, 0, len(doc.Array("events")))
}

func TestHashDeterministicAcrossClones(t *testing.T) {
	doc := mustParse(t, `{"name":"p","instructions":[{"name":"a","args":[{"name":"x","type":"u64"}]}]}`)

	// A deep clone through a JSON round trip must hash identically.
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	clone, err := Parse(data)
	require.NoError(t, err)

	h1, err := Hash(doc)
	require.NoError(t, err)
	h2, err := Hash(clone)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	a := mustParse(t, `{"name":"p","version":"1","instructions":[]}`)
	b := mustParse(t, `{"instructions":[],"version":"1","name":"p"}`)
	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHashDiffersForDifferentDocs(t *testing.T) {
	a := mustParse(t, `{"name":"p","instructions":[{"name":"a"}]}`)
	b := mustParse(t, `{"name":"p","instructions":[{"name":"b"}]}`)
	ha, _ := Hash(a)
	hb, _ := Hash(b)
	assert.NotEqual(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestValidate(t *testing.T) {
	require.NoError(t, mustParse(t, `{"name":"p","instructions":[{"name":"a"}]}`).Validate())

	err := mustParse(t, `{"name":"p","instructions":[]}`).Validate()
	assert.ErrorIs(t, err, ErrNoInstructions)

	err = mustParse(t, `{"instructions":[{"name":"a"}]}`).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), UnknownProgramName)
}

func TestTruncateJSON(t *testing.T) {
	doc := mustParse(t, `{"name":"`+strings.Repeat("x", 100)+`"}`)
	out := TruncateJSON(doc, 50)
	assert.Len(t, out, 50)
}

func TestTruncateJSONKeepsRunesWhole(t *testing.T) {
	// Multi-byte runes survive json.Marshal unescaped, so a byte-offset
	// cut can land mid-rune. Every cut point must stay valid UTF-8.
	doc := mustParse(t, `{"name":"`+strings.Repeat("界", 100)+`"}`)
	for max := 10; max <= 30; max++ {
		out := TruncateJSON(doc, max)
		assert.True(t, utf8.ValidString(out), "max=%d", max)
		assert.LessOrEqual(t, len(out), max)
	}
}
