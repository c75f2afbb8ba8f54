// Package syncer reconciles the local record store with the cloud-drive
// snapshot using a merge-based two-way sync.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/moromii/receipt-ledger/internal/expense"
)

// DefaultInterval is the period between automatic sync cycles.
const DefaultInterval = 30 * time.Second

// ErrSyncInProgress is returned when a sync request arrives while a cycle is
// already running. The request is dropped, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// SnapshotStore defines the interface for the remote snapshot store
type SnapshotStore interface {
	// Load fetches the remote snapshot; a missing file yields an empty one
	Load(ctx context.Context) (*Snapshot, error)

	// Save creates or overwrites the remote snapshot
	Save(ctx context.Context, snap *Snapshot) error
}

// Syncer runs the bidirectional sync cycle: fetch remote, read local, merge,
// write both sides, publish. Every trigger, automatic or manual, funnels
// into the same guarded entry point.
type Syncer struct {
	remote   SnapshotStore
	db       expense.DB
	publish  func([]expense.Record)
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex // held for the whole cycle; TryLock drops overlaps
	stateMu  sync.Mutex
	lastSync time.Time
}

// New creates a Syncer. publish may be nil; it is invoked with the merged
// collection after both stores have been written.
func New(remote SnapshotStore, db expense.DB, interval time.Duration, publish func([]expense.Record)) *Syncer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Syncer{
		remote:   remote,
		db:       db,
		publish:  publish,
		interval: interval,
		now:      time.Now,
	}
}

// NewWithClock creates a Syncer with a custom clock for testing.
func NewWithClock(remote SnapshotStore, db expense.DB, interval time.Duration, publish func([]expense.Record), now func() time.Time) *Syncer {
	s := New(remote, db, interval, publish)
	s.now = now
	return s
}

// Sync runs one cycle. A cycle already in flight makes this a no-op
// returning ErrSyncInProgress. Any failure before the remote write leaves
// both stores untouched; a failure between the remote and local writes
// leaves them diverged until the next cycle.
func (s *Syncer) Sync(ctx context.Context) error {
	if !s.mu.TryLock() {
		return ErrSyncInProgress
	}
	defer s.mu.Unlock()

	remoteSnap, err := s.remote.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading remote snapshot: %w", err)
	}

	local, err := s.db.ListRecords()
	if err != nil {
		return fmt.Errorf("reading local records: %w", err)
	}

	merged := Merge(local, remoteSnap.Expenses)
	now := s.now()

	if err := s.remote.Save(ctx, NewSnapshot(merged, now)); err != nil {
		return fmt.Errorf("saving remote snapshot: %w", err)
	}

	if err := s.db.ReplaceAll(merged); err != nil {
		return fmt.Errorf("saving local records: %w", err)
	}

	if s.publish != nil {
		s.publish(merged)
	}

	s.stateMu.Lock()
	s.lastSync = now
	s.stateMu.Unlock()

	slog.Info("sync completed", "records", len(merged))
	return nil
}

// LastSync returns the completion time of the most recent successful cycle.
func (s *Syncer) LastSync() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastSync
}

// Run performs periodic sync cycles until the context is canceled. Failures
// are logged and retried no earlier than the next tick.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
				slog.Error("sync failed", "error", err)
			}
		}
	}
}
