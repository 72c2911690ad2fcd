package canvas

import (
	"fmt"
	"strings"
)

// OperationType enumerates batch operations.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// ParseOperationType normalises a raw operation name.
func ParseOperationType(value string) (OperationType, error) {
	switch OperationType(strings.ToLower(strings.TrimSpace(value))) {
	case OperationCreate:
		return OperationCreate, nil
	case OperationUpdate:
		return OperationUpdate, nil
	case OperationDelete:
		return OperationDelete, nil
	default:
		return "", fmt.Errorf("unknown operation %q", value)
	}
}

// CommitKind is the kind of a completed local gesture. It doubles as the
// commitType carried by durable shape:commit events.
type CommitKind string

const (
	CommitNew     CommitKind = "new"
	CommitUpdated CommitKind = "updated"
	CommitDeleted CommitKind = "deleted"
)

// Operation maps the commit kind onto the batch operation that persists it.
func (k CommitKind) Operation() OperationType {
	switch k {
	case CommitNew:
		return OperationCreate
	case CommitDeleted:
		return OperationDelete
	default:
		return OperationUpdate
	}
}

// CommitKindFor maps a batch operation onto the commitType broadcast to peers.
func CommitKindFor(op OperationType) CommitKind {
	switch op {
	case OperationCreate:
		return CommitNew
	case OperationDelete:
		return CommitDeleted
	default:
		return CommitUpdated
	}
}

// Operation is one entry of a batch update. Payload is nil for deletes.
type Operation struct {
	Op            OperationType `json:"op"`
	ShapeID       string        `json:"shapeId"`
	CommitVersion int64         `json:"commitVersion"`
	Payload       *Shape        `json:"payload"`
}

// BatchRequest is the body of a batch update call.
// ConnectionID names the realtime connection of the author so the
// resulting shape:commit broadcast is not echoed back to it.
type BatchRequest struct {
	RoomID       string      `json:"roomId,omitempty"`
	ClientID     string      `json:"clientId"`
	ConnectionID string      `json:"connectionId,omitempty"`
	Operations   []Operation `json:"operations"`
}

// AppliedOperation acknowledges that a commit version is durable.
type AppliedOperation struct {
	ShapeID       string `json:"shapeId"`
	CommitVersion int64  `json:"commitVersion"`
}

// RejectedOperation reports an operation skipped as structurally invalid.
type RejectedOperation struct {
	ShapeID       string `json:"shapeId"`
	CommitVersion int64  `json:"commitVersion"`
	Reason        string `json:"reason"`
}

// BatchResponse is the result of a batch update call.
type BatchResponse struct {
	Applied  []AppliedOperation  `json:"applied"`
	Rejected []RejectedOperation `json:"rejected,omitempty"`
}

// Snapshot is the full shape map of a room.
type Snapshot struct {
	RoomID string           `json:"roomId,omitempty"`
	Shapes map[string]Shape `json:"shapes"`
}
