package shapes

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetView returns a user's stored view for a room, or the identity view.
func (s *Service) GetView(ctx context.Context, roomID RoomID, userID UserID) (canvas.View, error) {
	if s.db == nil {
		s.logError(opGetView, reasonMissingDatabase, errMissingDatabase)
		return canvas.View{}, newServiceError(opGetView, reasonMissingDatabase, errMissingDatabase)
	}
	var state ViewState
	err := s.db.WithContext(ctx).Where(queryRoomUser, roomID.String(), userID.String()).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return canvas.DefaultView(), nil
	}
	if err != nil {
		s.logError(opGetView, reasonQueryFailed, err,
			zap.String(fieldRoomID, roomID.String()),
			zap.String(fieldUserID, userID.String()))
		return canvas.View{}, newServiceError(opGetView, reasonQueryFailed, err)
	}
	return canvas.View{Scale: state.Scale, OffsetX: state.OffsetX, OffsetY: state.OffsetY}, nil
}

// SaveView replaces a user's stored view. Views carry no versions; the
// last write wins.
func (s *Service) SaveView(ctx context.Context, roomID RoomID, userID UserID, view canvas.View) error {
	if s.db == nil {
		s.logError(opSaveView, reasonMissingDatabase, errMissingDatabase)
		return newServiceError(opSaveView, reasonMissingDatabase, errMissingDatabase)
	}
	if err := view.Validate(); err != nil {
		return newServiceError(opSaveView, reasonInvalidView, err)
	}
	state := ViewState{
		RoomID:           roomID.String(),
		UserID:           userID.String(),
		Scale:            view.Scale,
		OffsetX:          view.OffsetX,
		OffsetY:          view.OffsetY,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&state).Error; err != nil {
		s.logError(opSaveView, reasonSaveFailed, err,
			zap.String(fieldRoomID, roomID.String()),
			zap.String(fieldUserID, userID.String()))
		return newServiceError(opSaveView, reasonSaveFailed, err)
	}
	return nil
}
