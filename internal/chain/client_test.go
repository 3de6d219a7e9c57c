package chain

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("server responded with 429 Too Many Requests"), true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("401 Unauthorized"), false},
		{errors.New("connection refused"), false},
		{errors.New("invalid param"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryable(tt.err), "err=%v", tt.err)
	}
}

func TestRetryBackOffGrowsExponentially(t *testing.T) {
	bo := &retryBackOff{}
	first := bo.NextBackOff()
	second := bo.NextBackOff()

	assert.GreaterOrEqual(t, first, 2*time.Second)
	assert.Less(t, first, 2*time.Second+500*time.Millisecond)
	assert.GreaterOrEqual(t, second, 4*time.Second)
	assert.Less(t, second, 4*time.Second+500*time.Millisecond)
}

// buildIDLAccount fabricates account bytes with the compressed IDL JSON at
// the given header offset.
func buildIDLAccount(t *testing.T, offset int, idlJSON []byte) []byte {
	t.Helper()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, err := w.Write(idlJSON)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data := make([]byte, offset+4+compressed.Len())
	binary.LittleEndian.PutUint32(data[offset:], uint32(compressed.Len()))
	copy(data[offset+4:], compressed.Bytes())
	return data
}

func TestDecodeIDLAccountAtEachOffset(t *testing.T) {
	idlJSON := []byte(`{"name":"test_program","instructions":[{"name":"initialize"}]}`)

	for _, offset := range idlHeaderOffsets {
		data := buildIDLAccount(t, offset, idlJSON)
		doc := decodeIDLAccount(data)
		require.NotNil(t, doc, "offset=%d", offset)
		assert.Equal(t, "test_program", doc.Name(), "offset=%d", offset)
	}
}

func TestDecodeIDLAccountRejectsJunk(t *testing.T) {
	// Too short for any header.
	assert.Nil(t, decodeIDLAccount([]byte{1, 2, 3}))

	// Declared length exceeding the buffer.
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data[8:], 1<<20)
	assert.Nil(t, decodeIDLAccount(data))

	// Valid frame but the payload is not zlib.
	data = make([]byte, 64)
	binary.LittleEndian.PutUint32(data[8:], 16)
	assert.Nil(t, decodeIDLAccount(data))
}

func TestDecodeIDLAccountRequiresInstructions(t *testing.T) {
	empty := []byte(`{"name":"test_program","instructions":[]}`)
	data := buildIDLAccount(t, 8, empty)
	assert.Nil(t, decodeIDLAccount(data), "IDL without instructions must be rejected")
}
