package shapes

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"gorm.io/datatypes"
)

// Rejection reasons reported back to clients.
const (
	ReasonInvalidCommitVersion = "invalid_commit_version"
	ReasonInvalidPayload       = "invalid_payload"
	ReasonShapeIDMismatch      = "shape_id_mismatch"
	ReasonShapeExists          = "shape_exists"
	ReasonShapeMissing         = "shape_missing"
	ReasonShapeDeleted         = "shape_deleted"
)

var errMissingPayload = errors.New("payload is required")

// OperationRequest is one validated batch entry with its author.
type OperationRequest struct {
	RoomID    RoomID
	UserID    UserID
	ClientID  ClientID
	Operation canvas.Operation
}

// OperationOutcome captures the decision from resolveOperation.
type OperationOutcome struct {
	Applied   bool
	Duplicate bool
	Reason    string
	Row       *ShapeRow
	Audit     *ShapeChange
	// Shape is the stored shape after the operation; nil for deletes.
	Shape *canvas.Shape
}

// isDuplicate reports whether the row already reflects this client's commit.
func isDuplicate(existing *ShapeRow, request OperationRequest) bool {
	if existing == nil {
		return false
	}
	return existing.LastWriterClient == request.ClientID.String() &&
		request.Operation.CommitVersion <= existing.LastCommitVersion
}

func resolveOperation(existing *ShapeRow, request OperationRequest, appliedAt time.Time) (OperationOutcome, error) {
	operation := request.Operation
	if operation.CommitVersion <= 0 {
		return OperationOutcome{Reason: ReasonInvalidCommitVersion}, nil
	}
	if isDuplicate(existing, request) {
		return OperationOutcome{Applied: true, Duplicate: true}, nil
	}

	live := existing != nil && !existing.IsDeleted
	switch operation.Op {
	case canvas.OperationCreate:
		if live {
			return OperationOutcome{Reason: ReasonShapeExists}, nil
		}
	case canvas.OperationUpdate, canvas.OperationDelete:
		if existing == nil {
			return OperationOutcome{Reason: ReasonShapeMissing}, nil
		}
		if existing.IsDeleted {
			return OperationOutcome{Reason: ReasonShapeDeleted}, nil
		}
	}

	var shape *canvas.Shape
	if operation.Op != canvas.OperationDelete {
		if operation.Payload == nil {
			return OperationOutcome{Reason: ReasonInvalidPayload}, nil
		}
		if operation.Payload.ID != operation.ShapeID {
			return OperationOutcome{Reason: ReasonShapeIDMismatch}, nil
		}
		if err := operation.Payload.Validate(); err != nil {
			return OperationOutcome{Reason: ReasonInvalidPayload}, nil
		}
		candidate := operation.Payload.Clone()
		shape = &candidate
	}

	stored := ShapeRow{
		RoomID:           request.RoomID.String(),
		ShapeID:          operation.ShapeID,
		CreatedAtSeconds: appliedAt.Unix(),
	}
	if existing != nil {
		stored = *existing
	}
	previousVersion := stored.Version

	updated := stored
	updated.Version = previousVersion + 1
	updated.LastWriterUser = request.UserID.String()
	updated.LastWriterClient = request.ClientID.String()
	updated.LastCommitVersion = operation.CommitVersion
	updated.UpdatedAtSeconds = appliedAt.Unix()
	if operation.Op == canvas.OperationCreate && existing != nil && existing.IsDeleted {
		updated.CreatedAtSeconds = appliedAt.Unix()
	}

	if shape != nil {
		shape.Version = updated.Version
		shape.Deleted = false
		payload, err := json.Marshal(shape)
		if err != nil {
			return OperationOutcome{}, err
		}
		updated.PayloadJSON = datatypes.JSON(payload)
		updated.IsDeleted = false
	} else {
		updated.IsDeleted = true
	}

	audit := &ShapeChange{
		RoomID:           updated.RoomID,
		ShapeID:          updated.ShapeID,
		UserID:           request.UserID.String(),
		ClientID:         request.ClientID.String(),
		Operation:        string(operation.Op),
		CommitVersion:    operation.CommitVersion,
		NewVersion:       updated.Version,
		AppliedAtSeconds: appliedAt.Unix(),
	}
	if previousVersion > 0 {
		audit.PreviousVersion = pointerTo(previousVersion)
	}
	if shape != nil {
		audit.PayloadJSON = updated.PayloadJSON
	}

	return OperationOutcome{
		Applied: true,
		Row:     &updated,
		Audit:   audit,
		Shape:   shape,
	}, nil
}

// decodeRowShape returns the shape stored in a row, stamped with the row version.
func decodeRowShape(row ShapeRow) (canvas.Shape, error) {
	var shape canvas.Shape
	if len(row.PayloadJSON) == 0 {
		return shape, errMissingPayload
	}
	if err := json.Unmarshal(row.PayloadJSON, &shape); err != nil {
		return shape, err
	}
	shape.ID = row.ShapeID
	shape.Version = row.Version
	shape.Deleted = row.IsDeleted
	return shape, nil
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
