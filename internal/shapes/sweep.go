package shapes

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultTombstoneRetention = 24 * time.Hour
	defaultSweepInterval      = 10 * time.Minute
)

// SweepTombstones hard-deletes shape rows deleted before cutoff and drops
// their removal markers from the affected snapshots. It returns the
// number of rows removed.
func (s *Service) SweepTombstones(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		s.logError(opSweepTombstones, reasonMissingDatabase, errMissingDatabase)
		return 0, newServiceError(opSweepTombstones, reasonMissingDatabase, errMissingDatabase)
	}
	var tombstones []ShapeRow
	if err := s.db.WithContext(ctx).
		Select("room_id", "shape_id").
		Where("is_deleted = ? AND updated_at_s < ?", true, cutoff.Unix()).
		Find(&tombstones).Error; err != nil {
		s.logError(opSweepTombstones, reasonQueryFailed, err)
		return 0, newServiceError(opSweepTombstones, reasonQueryFailed, err)
	}
	if len(tombstones) == 0 {
		return 0, nil
	}

	byRoom := make(map[string][]string)
	for _, row := range tombstones {
		byRoom[row.RoomID] = append(byRoom[row.RoomID], row.ShapeID)
	}

	var removed int64
	for roomID, shapeIDs := range byRoom {
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			deleted := tx.Where("room_id = ? AND shape_id IN ? AND is_deleted = ? AND updated_at_s < ?", roomID, shapeIDs, true, cutoff.Unix()).
				Delete(&ShapeRow{})
			if deleted.Error != nil {
				return deleted.Error
			}
			removed += deleted.RowsAffected
			return s.pruneRemoved(tx, roomID, shapeIDs)
		})
		if txErr != nil {
			s.logError(opSweepTombstones, reasonDeleteFailed, txErr, zap.String(fieldRoomID, roomID))
			return removed, newServiceError(opSweepTombstones, reasonDeleteFailed, txErr)
		}
		s.invalidateMirror(ctx, roomID)
	}
	return removed, nil
}

// pruneRemoved forgets removal markers of swept shapes so the same id can
// be created again from version one.
func (s *Service) pruneRemoved(tx *gorm.DB, roomID string, shapeIDs []string) error {
	var row RoomSnapshot
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryRoom, roomID).Limit(1).Find(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}
	state, err := decodeSnapshot(row)
	if err != nil {
		return err
	}
	for _, shapeID := range shapeIDs {
		delete(state.removed, shapeID)
	}
	if err := state.encode(&row); err != nil {
		return err
	}
	return tx.Save(&row).Error
}

// Sweeper periodically removes old tombstones.
type Sweeper struct {
	service   *Service
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewSweeper constructs a Sweeper; zero durations select the defaults of
// 24h retention and a 10 minute interval.
func NewSweeper(service *Service, retention, interval time.Duration, logger *zap.Logger) *Sweeper {
	if retention <= 0 {
		retention = defaultTombstoneRetention
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Sweeper{service: service, retention: retention, interval: interval, logger: logger}
}

// Run sweeps on every tick until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := w.service.clock().Add(-w.retention)
			removed, err := w.service.SweepTombstones(ctx, cutoff)
			if err != nil {
				continue
			}
			if removed > 0 {
				w.logger.Info("swept shape tombstones", zap.Int64("removed", removed))
			}
		}
	}
}
