package store

import (
	"fmt"
	"time"

	"github.com/soldocs/soldocs/internal/types"
)

// AddResult describes what AddToQueue did.
type AddResult int

const (
	// AddedNew means a fresh QueueItem was created.
	AddedNew AddResult = iota
	// Requeued means a failed item was reset to pending with a fresh
	// retry budget.
	Requeued
	// AlreadyQueued means a pending or processing item already existed
	// and was left untouched.
	AlreadyQueued
)

// ListQueue returns every QueueItem.
func (s *Store) ListQueue() ([]types.QueueItem, error) {
	return readList[types.QueueItem](s, s.queuePath())
}

// ListPending returns queue items with status pending, preserving file
// order.
func (s *Store) ListPending() ([]types.QueueItem, error) {
	items, err := s.ListQueue()
	if err != nil {
		return nil, err
	}
	pending := items[:0:0]
	for _, it := range items {
		if it.Status == types.StatusPending {
			pending = append(pending, it)
		}
	}
	return pending, nil
}

// GetQueueItem returns the item for id, or nil.
func (s *Store) GetQueueItem(id string) (*types.QueueItem, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	items, err := s.ListQueue()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ProgramID == id {
			it := items[i]
			return &it, nil
		}
	}
	return nil, nil
}

// AddToQueue enqueues id, keeping at most one QueueItem per program.
// A failed item is requeued with attempts reset to 0 and lastError
// cleared; a pending or processing item is returned unchanged.
func (s *Store) AddToQueue(id string) (types.QueueItem, AddResult, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return types.QueueItem{}, AddedNew, err
	}
	items, err := s.ListQueue()
	if err != nil {
		return types.QueueItem{}, AddedNew, err
	}
	for i := range items {
		if items[i].ProgramID != id {
			continue
		}
		if items[i].Status != types.StatusFailed {
			return items[i], AlreadyQueued, nil
		}
		items[i].Status = types.StatusPending
		items[i].Attempts = 0
		items[i].LastError = ""
		items[i].AddedAt = time.Now().UTC()
		return items[i], Requeued, s.writeJSON(s.queuePath(), items)
	}
	item := types.QueueItem{
		ProgramID: id,
		Status:    types.StatusPending,
		AddedAt:   time.Now().UTC(),
	}
	items = append(items, item)
	return item, AddedNew, s.writeJSON(s.queuePath(), items)
}

// AddToQueueSafe is AddToQueue under the queue file mutex.
func (s *Store) AddToQueueSafe(id string) (types.QueueItem, AddResult, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return types.QueueItem{}, AddedNew, err
	}
	var (
		item   types.QueueItem
		result AddResult
	)
	err := s.fm.Do(s.queuePath(), func() error {
		var err error
		item, result, err = s.AddToQueue(id)
		return err
	})
	return item, result, err
}

// UpdateQueueItem applies a partial merge to the item for id.
func (s *Store) UpdateQueueItem(id string, update types.QueueUpdate) (*types.QueueItem, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	items, err := s.ListQueue()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ProgramID != id {
			continue
		}
		if update.Status != nil {
			items[i].Status = *update.Status
		}
		if update.Attempts != nil {
			items[i].Attempts = *update.Attempts
		}
		if update.LastError != nil {
			items[i].LastError = *update.LastError
		}
		it := items[i]
		return &it, s.writeJSON(s.queuePath(), items)
	}
	return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
}

// UpdateQueueItemSafe is UpdateQueueItem under the queue file mutex.
func (s *Store) UpdateQueueItemSafe(id string, update types.QueueUpdate) (*types.QueueItem, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return nil, err
	}
	var item *types.QueueItem
	err := s.fm.Do(s.queuePath(), func() error {
		var err error
		item, err = s.UpdateQueueItem(id, update)
		return err
	})
	return item, err
}

// RemoveFromQueue deletes the item for id. Returns whether one existed.
func (s *Store) RemoveFromQueue(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	items, err := s.ListQueue()
	if err != nil {
		return false, err
	}
	kept := items[:0]
	removed := false
	for _, it := range items {
		if it.ProgramID == id {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	if !removed {
		return false, nil
	}
	return true, s.writeJSON(s.queuePath(), kept)
}

// RemoveFromQueueSafe is RemoveFromQueue under the queue file mutex.
func (s *Store) RemoveFromQueueSafe(id string) (bool, error) {
	if err := types.ValidateProgramID(id); err != nil {
		return false, err
	}
	var removed bool
	err := s.fm.Do(s.queuePath(), func() error {
		var err error
		removed, err = s.RemoveFromQueue(id)
		return err
	})
	return removed, err
}

// RecoverStuck flips every processing item back to pending. Run once at
// agent start so work orphaned by a crash is retried.
func (s *Store) RecoverStuck() (int, error) {
	items, err := s.ListQueue()
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range items {
		if items[i].Status == types.StatusProcessing {
			items[i].Status = types.StatusPending
			recovered++
		}
	}
	if recovered == 0 {
		return 0, nil
	}
	return recovered, s.writeJSON(s.queuePath(), items)
}
