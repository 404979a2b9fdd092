// Package memory keeps the latest snapshot in process memory for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/radar-snapshot/internal/snapshot"
)

// Store holds one snapshot behind an atomic pointer.
type Store struct {
	slot atomic.Pointer[snapshot.Snapshot]
	now  func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Publish swaps in a private copy of data.
func (s *Store) Publish(_ context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to publish empty snapshot")
	}
	s.slot.Store(&snapshot.Snapshot{
		Data:    append([]byte(nil), data...),
		ModTime: s.now().UTC(),
	})
	return nil
}

// Read returns the current snapshot or snapshot.ErrNotFound.
func (s *Store) Read(_ context.Context) (snapshot.Snapshot, error) {
	snap := s.slot.Load()
	if snap == nil {
		return snapshot.Snapshot{}, snapshot.ErrNotFound
	}
	return *snap, nil
}
