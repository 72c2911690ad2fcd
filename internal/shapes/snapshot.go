package shapes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type snapshotState struct {
	shapes  map[string]canvas.Shape
	removed map[string]int64
}

func newSnapshotState() snapshotState {
	return snapshotState{shapes: make(map[string]canvas.Shape), removed: make(map[string]int64)}
}

func decodeSnapshot(row RoomSnapshot) (snapshotState, error) {
	state := newSnapshotState()
	if len(row.ShapesJSON) > 0 {
		if err := json.Unmarshal(row.ShapesJSON, &state.shapes); err != nil {
			return state, err
		}
	}
	if len(row.RemovedJSON) > 0 {
		if err := json.Unmarshal(row.RemovedJSON, &state.removed); err != nil {
			return state, err
		}
	}
	if state.shapes == nil {
		state.shapes = make(map[string]canvas.Shape)
	}
	if state.removed == nil {
		state.removed = make(map[string]int64)
	}
	return state, nil
}

func (state snapshotState) encode(row *RoomSnapshot) error {
	shapesJSON, err := json.Marshal(state.shapes)
	if err != nil {
		return err
	}
	removedJSON, err := json.Marshal(state.removed)
	if err != nil {
		return err
	}
	row.ShapesJSON = datatypes.JSON(shapesJSON)
	row.RemovedJSON = datatypes.JSON(removedJSON)
	return nil
}

// recordedVersion is the newest version the snapshot holds for a shape,
// live or removed.
func (state snapshotState) recordedVersion(shapeID string) int64 {
	version := state.removed[shapeID]
	if shape, ok := state.shapes[shapeID]; ok && shape.Version > version {
		version = shape.Version
	}
	return version
}

// apply folds one shape version into the snapshot. A nil shape removes it.
// Entries never move backwards: an incoming version older than the
// recorded one is ignored.
func (state snapshotState) apply(shapeID string, shape *canvas.Shape, version int64) bool {
	if version < state.recordedVersion(shapeID) {
		return false
	}
	if shape == nil {
		delete(state.shapes, shapeID)
		state.removed[shapeID] = version
		return true
	}
	stored := shape.Clone()
	stored.Version = version
	stored.Deleted = false
	state.shapes[shapeID] = stored
	delete(state.removed, shapeID)
	return true
}

// applyToSnapshot updates the snapshot row inside the operation's
// transaction. Rooms without a snapshot row are skipped; the next read
// rebuilds from authoritative rows.
func (s *Service) applyToSnapshot(tx *gorm.DB, roomID, shapeID string, shape *canvas.Shape, version int64, appliedAt time.Time) error {
	var row RoomSnapshot
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(queryRoom, roomID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	state, err := decodeSnapshot(row)
	if err != nil {
		return err
	}
	if !state.apply(shapeID, shape, version) {
		return nil
	}
	if err := state.encode(&row); err != nil {
		return err
	}
	row.UpdatedAtSeconds = appliedAt.Unix()
	return tx.Save(&row).Error
}

// Snapshot returns every live shape in a room. The mirror is consulted
// first, then the snapshot row; a missing row is rebuilt from the shape
// rows. The mirror generation is read before the row so a batch that
// lands in between keeps the older copy out of the mirror.
func (s *Service) Snapshot(ctx context.Context, roomID RoomID) (canvas.Snapshot, error) {
	if s.db == nil {
		s.logError(opSnapshot, reasonMissingDatabase, errMissingDatabase)
		return canvas.Snapshot{}, newServiceError(opSnapshot, reasonMissingDatabase, errMissingDatabase)
	}
	mirrorable := false
	var generation int64
	if s.mirror != nil {
		cached, ok, err := s.mirror.Get(ctx, roomID.String())
		if err != nil {
			s.logger.Warn("snapshot mirror read failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		} else if ok {
			return cached, nil
		}
		generation, err = s.mirror.Generation(ctx, roomID.String())
		if err != nil {
			s.logger.Warn("snapshot mirror generation read failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		} else {
			mirrorable = true
		}
	}

	var row RoomSnapshot
	err := s.db.WithContext(ctx).Where(queryRoom, roomID.String()).Take(&row).Error
	var state snapshotState
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		state, err = s.rebuild(ctx, roomID, false)
		if err != nil {
			return canvas.Snapshot{}, err
		}
	case err != nil:
		s.logError(opSnapshot, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
		return canvas.Snapshot{}, newServiceError(opSnapshot, reasonQueryFailed, err)
	default:
		state, err = decodeSnapshot(row)
		if err != nil {
			s.logError(opSnapshot, reasonDecodeFailed, err, zap.String(fieldRoomID, roomID.String()))
			return canvas.Snapshot{}, newServiceError(opSnapshot, reasonDecodeFailed, err)
		}
	}

	snapshot := canvas.Snapshot{RoomID: roomID.String(), Shapes: state.shapes}
	if mirrorable {
		stored, err := s.mirror.Put(ctx, snapshot, generation)
		switch {
		case err != nil:
			s.logger.Warn("snapshot mirror write failed", zap.String(fieldRoomID, roomID.String()), zap.Error(err))
		case !stored:
			s.logger.Debug("snapshot mirror write skipped after concurrent change", zap.String(fieldRoomID, roomID.String()))
		}
	}
	return snapshot, nil
}

// RebuildSnapshot regenerates a room's snapshot from its shape rows,
// replacing whatever is stored.
func (s *Service) RebuildSnapshot(ctx context.Context, roomID RoomID) (canvas.Snapshot, error) {
	if s.db == nil {
		s.logError(opRebuildSnapshot, reasonMissingDatabase, errMissingDatabase)
		return canvas.Snapshot{}, newServiceError(opRebuildSnapshot, reasonMissingDatabase, errMissingDatabase)
	}
	state, err := s.rebuild(ctx, roomID, true)
	if err != nil {
		return canvas.Snapshot{}, err
	}
	s.invalidateMirror(ctx, roomID.String())
	return canvas.Snapshot{RoomID: roomID.String(), Shapes: state.shapes}, nil
}

// rebuild scans the room's rows and stores the result. Without overwrite
// a concurrently created snapshot row wins and is returned instead.
func (s *Service) rebuild(ctx context.Context, roomID RoomID, overwrite bool) (snapshotState, error) {
	state := newSnapshotState()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []ShapeRow
		if err := tx.Where(queryRoom, roomID.String()).Order("shape_id ASC").Find(&rows).Error; err != nil {
			s.logError(opRebuildSnapshot, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opRebuildSnapshot, reasonQueryFailed, err)
		}
		for _, row := range rows {
			if row.IsDeleted {
				state.removed[row.ShapeID] = row.Version
				continue
			}
			shape, err := decodeRowShape(row)
			if err != nil {
				s.logError(opRebuildSnapshot, reasonDecodeFailed, err,
					zap.String(fieldRoomID, roomID.String()),
					zap.String(fieldShapeID, row.ShapeID))
				return newServiceError(opRebuildSnapshot, reasonDecodeFailed, err)
			}
			state.shapes[row.ShapeID] = shape
		}

		snapshotRow := RoomSnapshot{RoomID: roomID.String(), UpdatedAtSeconds: s.clock().UTC().Unix()}
		if err := state.encode(&snapshotRow); err != nil {
			s.logError(opRebuildSnapshot, reasonEncodeFailed, err, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opRebuildSnapshot, reasonEncodeFailed, err)
		}
		write := tx.Clauses(clause.OnConflict{DoNothing: true})
		if overwrite {
			write = tx.Clauses(clause.OnConflict{UpdateAll: true})
		}
		created := write.Create(&snapshotRow)
		if created.Error != nil {
			s.logError(opRebuildSnapshot, reasonSaveFailed, created.Error, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opRebuildSnapshot, reasonSaveFailed, created.Error)
		}
		if overwrite || created.RowsAffected > 0 {
			return nil
		}
		var existing RoomSnapshot
		if err := tx.Where(queryRoom, roomID.String()).Take(&existing).Error; err != nil {
			s.logError(opRebuildSnapshot, reasonQueryFailed, err, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opRebuildSnapshot, reasonQueryFailed, err)
		}
		decoded, err := decodeSnapshot(existing)
		if err != nil {
			s.logError(opRebuildSnapshot, reasonDecodeFailed, err, zap.String(fieldRoomID, roomID.String()))
			return newServiceError(opRebuildSnapshot, reasonDecodeFailed, err)
		}
		state = decoded
		return nil
	})
	if txErr != nil {
		return snapshotState{}, txErr
	}
	return state, nil
}
