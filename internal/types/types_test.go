package types

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestValidateProgramID(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH", true},
		{"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", true},
		{"", false},
		{"short", false},
		{"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", false},
		{"../../etc/passwd", false},
		{strings.Repeat("a", 45), false},
	}
	for _, tt := range tests {
		err := ValidateProgramID(tt.id)
		if tt.ok {
			assert.NoError(t, err, "id=%q", tt.id)
		} else {
			assert.ErrorIs(t, err, ErrInvalidProgramID, "id=%q", tt.id)
		}
	}
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", TruncateUTF8("abc", 10), "short input untouched")
	assert.Equal(t, "abc", TruncateUTF8("abcdef", 3))
	assert.Equal(t, "", TruncateUTF8("abc", 0))

	// A cut landing mid-rune walks back to the rune start.
	assert.Equal(t, "界", TruncateUTF8("界界", 4))
	assert.Equal(t, "界", TruncateUTF8("界界", 5))
	assert.Equal(t, "界界", TruncateUTF8("界界", 6))

	// Every cut point of a mixed string stays valid UTF-8.
	s := "aé界b🚀c"
	for max := 0; max <= len(s); max++ {
		out := TruncateUTF8(s, max)
		assert.True(t, utf8.ValidString(out), "max=%d", max)
		assert.LessOrEqual(t, len(out), max)
	}
}
