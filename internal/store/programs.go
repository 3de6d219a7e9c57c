package store

import (
	"time"

	"github.com/soldocs/soldocs/internal/types"
)

// ListPrograms returns every ProgramMetadata record. Order is whatever the
// file holds; callers sort.
func (s *Store) ListPrograms() ([]types.ProgramMetadata, error) {
	return readList[types.ProgramMetadata](s, s.programsPath())
}

// GetProgram returns the record for id, or nil when unknown.
func (s *Store) GetProgram(id string) (*types.ProgramMetadata, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	programs, err := s.ListPrograms()
	if err != nil {
		return nil, err
	}
	for i := range programs {
		if programs[i].ProgramID == id {
			p := programs[i]
			return &p, nil
		}
	}
	return nil, nil
}

// SaveProgram upserts p by program ID.
func (s *Store) SaveProgram(p types.ProgramMetadata) error {
	if err := types.ValidateProgramID(p.ProgramID); err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	programs, err := s.ListPrograms()
	if err != nil {
		return err
	}
	replaced := false
	for i := range programs {
		if programs[i].ProgramID == p.ProgramID {
			programs[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		programs = append(programs, p)
	}
	return s.writeJSON(s.programsPath(), programs)
}

// SaveProgramSafe is SaveProgram under the index file mutex.
func (s *Store) SaveProgramSafe(p types.ProgramMetadata) error {
	if err := types.ValidateProgramID(p.ProgramID); err != nil {
		return err
	}
	return s.fm.Do(s.programsPath(), func() error { return s.SaveProgram(p) })
}

// RemoveProgram deletes the record for id. Returns whether one existed.
func (s *Store) RemoveProgram(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	programs, err := s.ListPrograms()
	if err != nil {
		return false, err
	}
	kept := programs[:0]
	removed := false
	for _, p := range programs {
		if p.ProgramID == id {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeJSON(s.programsPath(), kept)
}

// RemoveProgramSafe is RemoveProgram under the index file mutex.
func (s *Store) RemoveProgramSafe(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	var removed bool
	err := s.fm.Do(s.programsPath(), func() error {
		var err error
		removed, err = s.RemoveProgram(id)
		return err
	})
	return removed, err
}
