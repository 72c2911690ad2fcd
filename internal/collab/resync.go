package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
)

const defaultResyncInterval = 30 * time.Second

// SnapshotFetcher loads a room's authoritative snapshot.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, roomID string) (canvas.Snapshot, error)
}

// Resyncer periodically reconciles the store with the server snapshot so
// commits missed while a socket was down or a queue overflowed are
// recovered.
type Resyncer struct {
	store    *board.Store
	fetcher  SnapshotFetcher
	roomID   string
	interval time.Duration
	logger   *zap.Logger
}

// NewResyncer constructs a Resyncer. A zero interval selects 30 seconds.
func NewResyncer(store *board.Store, fetcher SnapshotFetcher, roomID string, interval time.Duration, logger *zap.Logger) (*Resyncer, error) {
	if store == nil {
		return nil, errors.New("collab: store required")
	}
	if fetcher == nil {
		return nil, errors.New("collab: snapshot fetcher required")
	}
	if interval <= 0 {
		interval = defaultResyncInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resyncer{store: store, fetcher: fetcher, roomID: roomID, interval: interval, logger: logger}, nil
}

// Resync fetches the snapshot once and reconciles the store with it. It
// returns the ids of shapes that changed. Shapes confirmed while the fetch
// was in flight are not purged.
func (r *Resyncer) Resync(ctx context.Context) ([]string, error) {
	since := r.store.Generation()
	snapshot, err := r.fetcher.FetchSnapshot(ctx, r.roomID)
	if err != nil {
		return nil, fmt.Errorf("resync snapshot: %w", err)
	}
	return r.store.ReconcileSince(snapshot.Shapes, since), nil
}

// Run hydrates the store immediately and then resyncs on every interval
// until ctx ends.
func (r *Resyncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		touched, err := r.Resync(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn("snapshot resync failed", zap.String("room_id", r.roomID), zap.Error(err))
		case len(touched) > 0:
			r.logger.Info("snapshot resync changed shapes", zap.String("room_id", r.roomID), zap.Int("count", len(touched)))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
