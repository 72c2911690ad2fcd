package shapes

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidRoomID indicates that a room identifier is empty or exceeds storage bounds.
	ErrInvalidRoomID = errors.New("shapes: invalid room id")
	// ErrInvalidShapeID indicates that a shape identifier is empty or exceeds storage bounds.
	ErrInvalidShapeID = errors.New("shapes: invalid shape id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("shapes: invalid user id")
	// ErrInvalidClientID indicates that a client identifier is empty or exceeds storage bounds.
	ErrInvalidClientID = errors.New("shapes: invalid client id")
)

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// RoomID represents a validated room identifier.
type RoomID string

// NewRoomID validates raw input and returns a RoomID.
func NewRoomID(rawInput string) (RoomID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidRoomID)
	return RoomID(value), err
}

// String returns the underlying string identifier.
func (id RoomID) String() string {
	return string(id)
}

// ShapeID represents a validated shape identifier.
type ShapeID string

// NewShapeID validates raw input and returns a ShapeID.
func NewShapeID(rawInput string) (ShapeID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidShapeID)
	return ShapeID(value), err
}

// String returns the underlying string identifier.
func (id ShapeID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidUserID)
	return UserID(value), err
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ClientID identifies one client instance of a user; commit versions are
// scoped to it.
type ClientID string

// NewClientID validates raw input and returns a ClientID.
func NewClientID(rawInput string) (ClientID, error) {
	value, err := validateIdentifier(rawInput, ErrInvalidClientID)
	return ClientID(value), err
}

// String returns the underlying string identifier.
func (id ClientID) String() string {
	return string(id)
}

// ShapeRow is the authoritative record of one shape in a room. Deleted
// shapes stay behind as tombstones until swept.
type ShapeRow struct {
	RoomID            string         `gorm:"column:room_id;primaryKey;size:190;not null;index:idx_shapes_room_deleted,priority:1"`
	ShapeID           string         `gorm:"column:shape_id;primaryKey;size:190;not null"`
	PayloadJSON       datatypes.JSON `gorm:"column:payload_json;not null"`
	Version           int64          `gorm:"column:version;not null;default:0"`
	IsDeleted         bool           `gorm:"column:is_deleted;not null;default:false;index:idx_shapes_room_deleted,priority:2"`
	LastWriterUser    string         `gorm:"column:last_writer_user;size:190;not null;default:''"`
	LastWriterClient  string         `gorm:"column:last_writer_client;size:190;not null;default:''"`
	LastCommitVersion int64          `gorm:"column:last_commit_version;not null;default:0"`
	CreatedAtSeconds  int64          `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds  int64          `gorm:"column:updated_at_s;not null;index:idx_shapes_updated"`
}

// TableName provides the explicit table binding for GORM.
func (ShapeRow) TableName() string {
	return "canvas_shapes"
}

// ShapeChange captures an append-only audit trail of applied operations.
type ShapeChange struct {
	ChangeID         string         `gorm:"column:change_id;primaryKey;size:190;not null"`
	RoomID           string         `gorm:"column:room_id;size:190;not null;index:idx_shape_changes_room_time,priority:1;index:idx_shape_changes_client,priority:1"`
	ShapeID          string         `gorm:"column:shape_id;size:190;not null;index:idx_shape_changes_client,priority:2"`
	UserID           string         `gorm:"column:user_id;size:190;not null"`
	ClientID         string         `gorm:"column:client_id;size:190;not null;index:idx_shape_changes_client,priority:3"`
	Operation        string         `gorm:"column:op;size:16;not null"`
	CommitVersion    int64          `gorm:"column:commit_version;not null;index:idx_shape_changes_client,priority:4"`
	PreviousVersion  *int64         `gorm:"column:prev_version"`
	NewVersion       int64          `gorm:"column:new_version;not null"`
	PayloadJSON      datatypes.JSON `gorm:"column:payload_json"`
	AppliedAtSeconds int64          `gorm:"column:applied_at_s;not null;index:idx_shape_changes_room_time,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (ShapeChange) TableName() string {
	return "canvas_shape_changes"
}

// RoomSnapshot is the derived cache of every live shape in a room.
// RemovedJSON keeps the version at which each shape was deleted so a late
// write cannot resurrect it in the cache.
type RoomSnapshot struct {
	RoomID           string         `gorm:"column:room_id;primaryKey;size:190;not null"`
	ShapesJSON       datatypes.JSON `gorm:"column:shapes_json;not null"`
	RemovedJSON      datatypes.JSON `gorm:"column:removed_json;not null"`
	UpdatedAtSeconds int64          `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RoomSnapshot) TableName() string {
	return "canvas_room_snapshots"
}

// ViewState is a user's pan and zoom in a room.
type ViewState struct {
	RoomID           string  `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;primaryKey;size:190;not null"`
	Scale            float64 `gorm:"column:scale;not null;default:1"`
	OffsetX          float64 `gorm:"column:offset_x;not null;default:0"`
	OffsetY          float64 `gorm:"column:offset_y;not null;default:0"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ViewState) TableName() string {
	return "canvas_view_states"
}

// Models lists every table owned by this package, for migration.
func Models() []any {
	return []any{&ShapeRow{}, &ShapeChange{}, &RoomSnapshot{}, &ViewState{}}
}
