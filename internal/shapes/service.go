// Package shapes is the authoritative store of canvas shapes: per-room
// shape rows, batch reconciliation of client operations, the derived room
// snapshot, per-user view state and the audit trail of applied changes.
package shapes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable `<operation>.<reason>` code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "shapes.service.new"
	opApplyBatch      = "shapes.apply_batch"
	opSnapshot        = "shapes.snapshot"
	opRebuildSnapshot = "shapes.rebuild_snapshot"
	opGetView         = "shapes.get_view"
	opSaveView        = "shapes.save_view"
	opSweepTombstones = "shapes.sweep_tombstones"

	fieldRoomID   = "room_id"
	fieldShapeID  = "shape_id"
	fieldUserID   = "user_id"
	fieldClientID = "client_id"

	queryRoom           = "room_id = ?"
	queryRoomShape      = "room_id = ? AND shape_id = ?"
	queryRoomUser       = "room_id = ? AND user_id = ?"
	queryAuditDuplicate = "room_id = ? AND shape_id = ? AND client_id = ? AND commit_version >= ?"

	reasonMissingDatabase    = "missing_database"
	reasonMissingIDProvider  = "missing_id_provider"
	reasonShapeSelectFailed  = "shape_select_failed"
	reasonAuditLookupFailed  = "audit_lookup_failed"
	reasonResolveFailed      = "resolve_operation_failed"
	reasonShapeSaveFailed    = "shape_save_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonAuditInsertFailed  = "audit_insert_failed"
	reasonSnapshotFailed     = "snapshot_upsert_failed"
	reasonQueryFailed        = "query_failed"
	reasonDecodeFailed       = "decode_failed"
	reasonEncodeFailed       = "encode_failed"
	reasonSaveFailed         = "save_failed"
	reasonInvalidView        = "invalid_view"
	reasonDeleteFailed       = "delete_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues audit record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// SnapshotMirror is an optional fast copy of room snapshots in front of
// the database row. Invalidate advances the room generation; Put stores
// only when the generation passed in is still current.
type SnapshotMirror interface {
	Get(ctx context.Context, roomID string) (canvas.Snapshot, bool, error)
	Generation(ctx context.Context, roomID string) (int64, error)
	Put(ctx context.Context, snapshot canvas.Snapshot, generation int64) (bool, error)
	Invalidate(ctx context.Context, roomID string) error
}

// ServiceConfig wires the service dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Mirror     SnapshotMirror
	Logger     *zap.Logger
}

// Service implements the durable side of canvas synchronization.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	mirror     SnapshotMirror
	logger     *zap.Logger
}

// NewService validates configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: idProvider,
		mirror:     cfg.Mirror,
		logger:     logger,
	}, nil
}

// BatchCommand is one client's ordered list of operations for a room.
type BatchCommand struct {
	RoomID     RoomID
	UserID     UserID
	ClientID   ClientID
	Operations []canvas.Operation
}

// Commit describes an applied operation for broadcast to peers.
type Commit struct {
	Kind    canvas.CommitKind
	ShapeID string
	Shape   *canvas.Shape
	Version int64
}

// BatchResult reports per-operation outcomes. Duplicates appear in Applied
// but not in Commits.
type BatchResult struct {
	Applied  []canvas.AppliedOperation
	Rejected []canvas.RejectedOperation
	Commits  []Commit
}

// ApplyBatch applies each operation in order, in its own transaction.
// Structurally invalid operations are rejected individually; the rest of
// the batch proceeds. A storage failure stops the batch and is returned
// together with the outcomes of the operations already applied.
func (s *Service) ApplyBatch(ctx context.Context, command BatchCommand) (BatchResult, error) {
	result := BatchResult{
		Applied:  make([]canvas.AppliedOperation, 0, len(command.Operations)),
		Rejected: make([]canvas.RejectedOperation, 0),
		Commits:  make([]Commit, 0, len(command.Operations)),
	}
	if s.db == nil {
		s.logError(opApplyBatch, reasonMissingDatabase, errMissingDatabase)
		return result, newServiceError(opApplyBatch, reasonMissingDatabase, errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opApplyBatch, reasonMissingIDProvider, errMissingIDProvider)
		return result, newServiceError(opApplyBatch, reasonMissingIDProvider, errMissingIDProvider)
	}

	var batchErr error
	for _, operation := range command.Operations {
		request := OperationRequest{
			RoomID:    command.RoomID,
			UserID:    command.UserID,
			ClientID:  command.ClientID,
			Operation: operation,
		}
		outcome, err := s.applyOperation(ctx, request)
		if err != nil {
			batchErr = err
			break
		}
		if !outcome.Applied {
			result.Rejected = append(result.Rejected, canvas.RejectedOperation{
				ShapeID:       operation.ShapeID,
				CommitVersion: operation.CommitVersion,
				Reason:        outcome.Reason,
			})
			continue
		}
		result.Applied = append(result.Applied, canvas.AppliedOperation{
			ShapeID:       operation.ShapeID,
			CommitVersion: operation.CommitVersion,
		})
		if outcome.Duplicate {
			continue
		}
		result.Commits = append(result.Commits, Commit{
			Kind:    canvas.CommitKindFor(operation.Op),
			ShapeID: operation.ShapeID,
			Shape:   outcome.Shape,
			Version: outcome.Row.Version,
		})
	}

	if len(result.Commits) > 0 {
		s.invalidateMirror(ctx, command.RoomID.String())
	}
	return result, batchErr
}

func (s *Service) applyOperation(ctx context.Context, request OperationRequest) (OperationOutcome, error) {
	roomID := request.RoomID.String()
	shapeID := request.Operation.ShapeID
	var outcome OperationOutcome
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ShapeRow
		var existingPtr *ShapeRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryRoomShape, roomID, shapeID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			existingPtr = nil
		} else if err != nil {
			s.logError(opApplyBatch, reasonShapeSelectFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonShapeSelectFailed, err)
		} else {
			existingPtr = &existing
		}

		if !isDuplicate(existingPtr, request) && request.Operation.CommitVersion > 0 {
			var seen int64
			if err := tx.Model(&ShapeChange{}).
				Where(queryAuditDuplicate, roomID, shapeID, request.ClientID.String(), request.Operation.CommitVersion).
				Count(&seen).Error; err != nil {
				s.logError(opApplyBatch, reasonAuditLookupFailed, err,
					zap.String(fieldRoomID, roomID),
					zap.String(fieldShapeID, shapeID))
				return newServiceError(opApplyBatch, reasonAuditLookupFailed, err)
			}
			if seen > 0 {
				outcome = OperationOutcome{Applied: true, Duplicate: true}
				return nil
			}
		}

		appliedAt := s.clock().UTC()
		resolved, err := resolveOperation(existingPtr, request, appliedAt)
		if err != nil {
			s.logError(opApplyBatch, reasonResolveFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonResolveFailed, err)
		}
		outcome = resolved
		if !outcome.Applied || outcome.Duplicate {
			return nil
		}

		if err := tx.Save(outcome.Row).Error; err != nil {
			s.logError(opApplyBatch, reasonShapeSaveFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonShapeSaveFailed, err)
		}

		changeID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opApplyBatch, reasonIDGenerationFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonIDGenerationFailed, err)
		}
		outcome.Audit.ChangeID = changeID
		if err := tx.Create(outcome.Audit).Error; err != nil {
			s.logError(opApplyBatch, reasonAuditInsertFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonAuditInsertFailed, err)
		}

		if err := s.applyToSnapshot(tx, roomID, shapeID, outcome.Shape, outcome.Row.Version, appliedAt); err != nil {
			s.logError(opApplyBatch, reasonSnapshotFailed, err,
				zap.String(fieldRoomID, roomID),
				zap.String(fieldShapeID, shapeID))
			return newServiceError(opApplyBatch, reasonSnapshotFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return OperationOutcome{}, txErr
	}
	if !outcome.Applied {
		s.logger.Info("shape operation rejected",
			zap.String(fieldRoomID, roomID),
			zap.String(fieldShapeID, shapeID),
			zap.String(fieldUserID, request.UserID.String()),
			zap.String(fieldClientID, request.ClientID.String()),
			zap.String("op", string(request.Operation.Op)),
			zap.Int64("commit_version", request.Operation.CommitVersion),
			zap.String("reason", outcome.Reason))
	}
	return outcome, nil
}

func (s *Service) invalidateMirror(ctx context.Context, roomID string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Invalidate(ctx, roomID); err != nil {
		s.logger.Warn("snapshot mirror invalidation failed", zap.String(fieldRoomID, roomID), zap.Error(err))
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("shapes service error", attrs...)
}
