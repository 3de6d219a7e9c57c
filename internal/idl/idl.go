// Package idl handles Anchor interface-description documents. The document
// is treated as opaque JSON except for the handful of named arrays used
// for counts and prompt construction.
package idl

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soldocs/soldocs/internal/types"
)

// UnknownProgramName is the fallback when an IDL carries no name. Write
// paths refuse documents that would resolve to it.
const UnknownProgramName = "unknown_program"

// ErrNoInstructions is returned when a document lacks a non-empty
// instructions array.
var ErrNoInstructions = errors.New("IDL has no instructions")

// Document is a parsed IDL. Decoded JSON objects become map[string]any,
// which keeps encoding/json's lexicographic key ordering on re-marshal.
type Document map[string]any

// Parse decodes raw JSON into a Document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse IDL: %w", err)
	}
	if doc == nil {
		return nil, errors.New("parse IDL: document is null")
	}
	return doc, nil
}

// Name returns idl.name, then idl.metadata.name, then UnknownProgramName.
func (d Document) Name() string {
	if name, ok := d["name"].(string); ok && name != "" {
		return name
	}
	if meta, ok := d["metadata"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok && name != "" {
			return name
		}
	}
	return UnknownProgramName
}

// Array returns the named top-level array, or nil when absent or not an
// array.
func (d Document) Array(key string) []any {
	arr, _ := d[key].([]any)
	return arr
}

// Instructions returns the instructions array.
func (d Document) Instructions() []any { return d.Array("instructions") }

// InstructionCount returns len(instructions).
func (d Document) InstructionCount() int { return len(d.Instructions()) }

// AccountCount returns len(accounts).
func (d Document) AccountCount() int { return len(d.Array("accounts")) }

// Validate checks the minimal shape required of an uploaded or fetched
// IDL: a non-empty instructions array and a usable name.
func (d Document) Validate() error {
	if len(d.Instructions()) == 0 {
		return ErrNoInstructions
	}
	if d.Name() == UnknownProgramName {
		return fmt.Errorf("IDL name resolves to %q", UnknownProgramName)
	}
	return nil
}

// MarshalCanonical produces the stable serialization hashes are computed
// over. map[string]any marshals with recursively sorted keys, so inputs
// equal under JSON semantics produce identical bytes.
func MarshalCanonical(d Document) ([]byte, error) {
	return json.Marshal(d)
}

// Hash returns the SHA-256 hex digest of the canonical serialization.
func Hash(d Document) (string, error) {
	data, err := MarshalCanonical(d)
	if err != nil {
		return "", fmt.Errorf("hash IDL: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// TruncateJSON marshals v (indented for prompt readability) and cuts the
// result at max bytes on a rune boundary, so string values containing
// multi-byte runes never yield invalid UTF-8.
func TruncateJSON(v any, max int) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return types.TruncateUTF8(string(data), max)
}
