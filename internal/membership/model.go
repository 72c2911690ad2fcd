package membership

import "strings"

// Role names a member's standing in a room.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
)

// Member is one user's membership of one room.
type Member struct {
	RoomID          string `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null;index"`
	Role            Role   `gorm:"column:role;size:32;not null"`
	JoinedAtSeconds int64  `gorm:"column:joined_at_s;not null"`
}

// TableName exposes the table backing room memberships.
func (Member) TableName() string {
	return "room_members"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
