package store

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/types"
)

// GetIDL returns the cached IDL record for id, or nil.
func (s *Store) GetIDL(id string) (*types.IDLCache, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	return readRecord[types.IDLCache](s, s.idlPath(id))
}

// SaveIDL hashes doc, persists the cache record, and returns it.
func (s *Store) SaveIDL(id string, doc idl.Document) (*types.IDLCache, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	hash, err := idl.Hash(doc)
	if err != nil {
		return nil, err
	}
	rec := types.IDLCache{
		ProgramID: id,
		IDL:       doc,
		Hash:      hash,
		FetchedAt: time.Now().UTC(),
	}
	if err := s.writeJSON(s.idlPath(id), rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveIDLSafe is SaveIDL under the per-program IDL file mutex.
func (s *Store) SaveIDLSafe(id string, doc idl.Document) (*types.IDLCache, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	var rec *types.IDLCache
	err := s.fm.Do(s.idlPath(id), func() error {
		var err error
		rec, err = s.SaveIDL(id, doc)
		return err
	})
	return rec, err
}

// RemoveIDL deletes the cache file for id. Missing files are not an error.
func (s *Store) RemoveIDL(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	return removeFile(s.idlPath(id))
}

// RemoveIDLSafe is RemoveIDL under the per-program IDL file mutex.
func (s *Store) RemoveIDLSafe(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	var removed bool
	err := s.fm.Do(s.idlPath(id), func() error {
		var err error
		removed, err = s.RemoveIDL(id)
		return err
	})
	return removed, err
}

// GetDocs returns the Documentation for id, or nil.
func (s *Store) GetDocs(id string) (*types.Documentation, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	return readRecord[types.Documentation](s, s.docPath(id))
}

// SaveDocs persists a Documentation record.
func (s *Store) SaveDocs(d types.Documentation) error {
	if err := types.ValidateProgramID(d.ProgramID); err != nil {
		return err
	}
	return s.writeJSON(s.docPath(d.ProgramID), d)
}

// SaveDocsSafe is SaveDocs under the per-program docs file mutex.
func (s *Store) SaveDocsSafe(d types.Documentation) error {
	if err := types.ValidateProgramID(d.ProgramID); err != nil {
		return err
	}
	return s.fm.Do(s.docPath(d.ProgramID), func() error { return s.SaveDocs(d) })
}

// RemoveDocs deletes the docs file for id. Missing files are not an error.
func (s *Store) RemoveDocs(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	return removeFile(s.docPath(id))
}

// RemoveDocsSafe is RemoveDocs under the per-program docs file mutex.
func (s *Store) RemoveDocsSafe(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	var removed bool
	err := s.fm.Do(s.docPath(id), func() error {
		var err error
		removed, err = s.RemoveDocs(id)
		return err
	})
	return removed, err
}

func removeFile(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
