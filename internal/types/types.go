// Package types defines the core data structures shared by the SolDocs
// store, agent, and HTTP surface.
package types

import (
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

// Status tracks where a program or queue item is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDocumented Status = "documented"
	StatusFailed     Status = "failed"
)

// ErrInvalidProgramID is returned when an identifier is not a valid
// base58 program address.
var ErrInvalidProgramID = errors.New("invalid program ID")

// programIDPattern matches a base58 Solana address (32-44 chars, no 0OIl).
var programIDPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidateProgramID checks that id is a plausible base58 program address.
// Every store entry point taking an ID calls this before touching disk.
func ValidateProgramID(id string) error {
	if !programIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProgramID, id)
	}
	return nil
}

// TruncateUTF8 cuts s to at most max bytes without splitting a rune.
// The cut point walks back to the nearest rune start, so the result is
// always valid UTF-8 when the input is.
func TruncateUTF8(s string, max int) string {
	if len(s) <= max || max < 0 {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ProgramMetadata is the index record for a program the agent has seen.
// When Status is StatusDocumented, IDLHash matches the hash stored in the
// corresponding Documentation and IDLCache records.
type ProgramMetadata struct {
	ProgramID        string    `json:"programId"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	InstructionCount int       `json:"instructionCount"`
	AccountCount     int       `json:"accountCount"`
	Status           Status    `json:"status"`
	IDLHash          string    `json:"idlHash"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
}

// QueueItem is a unit of pending work. At most one exists per program ID.
type QueueItem struct {
	ProgramID string    `json:"programId"`
	Status    Status    `json:"status"` // pending, processing, or failed
	AddedAt   time.Time `json:"addedAt"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

// QueueUpdate is a partial merge applied to an existing QueueItem.
// Nil fields are left untouched.
type QueueUpdate struct {
	Status    *Status
	Attempts  *int
	LastError *string
}

// IDLCache is a fetched-and-hashed IDL document. Hash is a pure function
// of IDL (SHA-256 over the canonical JSON serialization).
type IDLCache struct {
	ProgramID string         `json:"programId"`
	IDL       map[string]any `json:"idl"`
	Hash      string         `json:"hash"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// Documentation is the generated output for one program. A record exists
// iff all four generation passes succeeded.
type Documentation struct {
	ProgramID    string    `json:"programId"`
	Name         string    `json:"name"`
	Overview     string    `json:"overview"`
	Instructions string    `json:"instructions"`
	Accounts     string    `json:"accounts"`
	Security     string    `json:"security"`
	FullMarkdown string    `json:"fullMarkdown"`
	GeneratedAt  time.Time `json:"generatedAt"`
	IDLHash      string    `json:"idlHash"`
}

// AgentError is one entry in the agent's bounded error ring.
type AgentError struct {
	ProgramID string    `json:"programId"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentState is a point-in-time view of the agent, derived on each read.
type AgentState struct {
	Running            bool         `json:"running"`
	ProgramsDocumented int          `json:"programsDocumented"`
	ProgramsFailed     int          `json:"programsFailed"`
	TotalProcessed     int          `json:"totalProcessed"`
	QueueLength        int          `json:"queueLength"`
	StartedAt          *time.Time   `json:"startedAt,omitempty"`
	LastRunAt          *time.Time   `json:"lastRunAt,omitempty"`
	RecentErrors       []AgentError `json:"recentErrors"`
}

// StoreStats is the fold of the program index by status.
type StoreStats struct {
	Documented int `json:"documented"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
