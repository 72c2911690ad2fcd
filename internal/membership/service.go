// Package membership decides which users may read and write a room.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInvalidMembership indicates an empty room or user id.
	ErrInvalidMembership = errors.New("membership: room and user required")
	// ErrNotMember is returned by Require for users outside the room.
	ErrNotMember = errors.New("membership: not a member of the room")
)

// Checker answers whether a user belongs to a room.
type Checker interface {
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
}

// Policy selects how unknown users are treated.
type Policy string

const (
	// PolicyOpen admits any authenticated user and records them as an
	// editor on first access.
	PolicyOpen Policy = "open"
	// PolicyClosed admits only users already recorded as members.
	PolicyClosed Policy = "closed"
)

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(normalize(value)) {
	case "", PolicyOpen:
		return PolicyOpen, nil
	case PolicyClosed:
		return PolicyClosed, nil
	default:
		return "", fmt.Errorf("membership: unknown policy %q", value)
	}
}

// ServiceConfig describes the dependencies of the membership directory.
type ServiceConfig struct {
	Database *gorm.DB
	Policy   Policy
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the gorm-backed membership directory.
type Service struct {
	db     *gorm.DB
	policy Policy
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("membership: database connection required")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyOpen
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, policy: policy, now: clock, logger: logger}, nil
}

// IsMember reports whether userID may use roomID. Under the open policy
// the first access records the membership.
func (s *Service) IsMember(ctx context.Context, roomID, userID string) (bool, error) {
	roomID, userID = normalize(roomID), normalize(userID)
	if roomID == "" || userID == "" {
		return false, ErrInvalidMembership
	}
	cacheKey := roomID + "\x00" + userID
	if _, ok := s.cache.Load(cacheKey); ok {
		return true, nil
	}

	var member Member
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Take(&member).
		Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		if s.policy != PolicyOpen {
			return false, nil
		}
		role := RoleEditor
		var count int64
		if err := s.db.WithContext(ctx).Model(&Member{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
			return false, err
		}
		if count == 0 {
			role = RoleOwner
		}
		if err := s.add(ctx, roomID, userID, role); err != nil {
			return false, err
		}
		s.logger.Info("room member admitted",
			zap.String("room_id", roomID),
			zap.String("user_id", userID),
			zap.String("role", string(role)))
	default:
		return false, err
	}

	s.cache.Store(cacheKey, struct{}{})
	return true, nil
}

// Require is IsMember with a sentinel error for outsiders.
func (s *Service) Require(ctx context.Context, roomID, userID string) error {
	ok, err := s.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// Add records a membership, keeping an existing one untouched.
func (s *Service) Add(ctx context.Context, roomID, userID string, role Role) error {
	roomID, userID = normalize(roomID), normalize(userID)
	if roomID == "" || userID == "" {
		return ErrInvalidMembership
	}
	if role == "" {
		role = RoleEditor
	}
	return s.add(ctx, roomID, userID, role)
}

// Remove deletes a membership.
func (s *Service) Remove(ctx context.Context, roomID, userID string) error {
	roomID, userID = normalize(roomID), normalize(userID)
	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&Member{}).
		Error; err != nil {
		return err
	}
	s.cache.Delete(roomID + "\x00" + userID)
	return nil
}

// Members lists a room's members ordered by join time.
func (s *Service) Members(ctx context.Context, roomID string) ([]Member, error) {
	var members []Member
	err := s.db.WithContext(ctx).
		Where("room_id = ?", normalize(roomID)).
		Order("joined_at_s ASC, user_id ASC").
		Find(&members).
		Error
	return members, err
}

func (s *Service) add(ctx context.Context, roomID, userID string, role Role) error {
	member := Member{
		RoomID:          roomID,
		UserID:          userID,
		Role:            role,
		JoinedAtSeconds: s.now().UTC().Unix(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
}
