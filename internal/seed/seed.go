// Package seed bootstraps an empty store with a fixed set of well-known
// mainnet programs whose IDLs are bundled at build time.
package seed

import (
	"embed"
	"fmt"
	"log/slog"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/store"
	"github.com/soldocs/soldocs/internal/types"
)

//go:embed idls/*.json
var idlFS embed.FS

// Entry ties a program id to its bundled IDL file.
type Entry struct {
	ProgramID string
	Label     string
	IDLFile   string
}

// Entries is the fixed seed list.
var Entries = []Entry{
	{"dRiftyHA39MWEi3m9aunc5MzRF1JYuBsbn6VPcn33UH", "Drift v2", "idls/drift.json"},
	{"MarBmsSgKXdrN1egZf5sqe1TMai9K1rChYNDJgjq7aD", "Marinade Finance", "idls/marinade.json"},
	{"JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4", "Jupiter v6", "idls/jupiter.json"},
	{"4MangoMjqJ2firMokCjjGgoK8d4MXcrgL7XJaL3w6fVg", "Mango v4", "idls/mango.json"},
	{"SQDS4ep65T869zMMBKyuUq6aD6EgTu8psMjkvj52pCf", "Squads v4", "idls/squads.json"},
	{"metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s", "Metaplex Token Metadata", "idls/metaplex.json"},
	{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", "Raydium AMM v4", "idls/raydium.json"},
}

// Seed populates the store with the bundled programs, but only when both
// the queue and the program index are empty. Returns the number seeded.
func Seed(s *store.Store, log *slog.Logger) (int, error) {
	queue, err := s.ListQueue()
	if err != nil {
		return 0, err
	}
	programs, err := s.ListPrograms()
	if err != nil {
		return 0, err
	}
	if len(queue) > 0 || len(programs) > 0 {
		return 0, nil
	}

	seeded := 0
	for _, e := range Entries {
		doc, err := loadBundledIDL(e.IDLFile)
		if err != nil {
			log.Warn("skipping seed entry", "label", e.Label, "program", e.ProgramID, "error", err)
			continue
		}
		if _, err := s.SaveIDLSafe(e.ProgramID, doc); err != nil {
			return seeded, fmt.Errorf("seed %s: cache IDL: %w", e.Label, err)
		}
		if _, _, err := s.AddToQueueSafe(e.ProgramID); err != nil {
			return seeded, fmt.Errorf("seed %s: enqueue: %w", e.Label, err)
		}
		log.Info("seeded program", "label", e.Label, "program", e.ProgramID)
		seeded++
	}
	return seeded, nil
}

// UpgradeCandidates returns the ids of documented programs, the set the
// agent's periodic upgrade check re-examines.
func UpgradeCandidates(s *store.Store) ([]string, error) {
	programs, err := s.ListPrograms()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, p := range programs {
		if p.Status == types.StatusDocumented {
			ids = append(ids, p.ProgramID)
		}
	}
	return ids, nil
}

func loadBundledIDL(file string) (idl.Document, error) {
	raw, err := idlFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read bundled IDL %s: %w", file, err)
	}
	doc, err := idl.Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}
