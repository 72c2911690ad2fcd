// Package server exposes the canvas synchronization HTTP surface: batch
// persistence, snapshots, view state and the realtime websocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/auth"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/membership"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "sketchboard_user_id"
	roomIDContextKey = "sketchboard_room_id"
	roomIDParam      = "roomId"

	errorUnauthorized     = "unauthorized"
	errorForbidden        = "forbidden"
	errorInvalidRoom      = "invalid_room"
	errorInvalidRequest   = "invalid_request"
	errorInvalidOperation = "invalid_operation"
	errorInvalidView      = "invalid_view"
	errorMembershipFailed = "membership_check_failed"
	errorBatchFailed      = "batch_failed"
	errorSnapshotFailed   = "snapshot_failed"
	errorViewFailed       = "view_failed"
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingMembership       = errors.New("membership dependency required")
	errMissingShapeStore       = errors.New("shape store dependency required")
	errMissingHub              = errors.New("realtime hub dependency required")
)

// SessionValidator authenticates a request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// ShapeStore is the authoritative store behind the room endpoints.
type ShapeStore interface {
	ApplyBatch(ctx context.Context, command shapes.BatchCommand) (shapes.BatchResult, error)
	Snapshot(ctx context.Context, roomID shapes.RoomID) (canvas.Snapshot, error)
	GetView(ctx context.Context, roomID shapes.RoomID, userID shapes.UserID) (canvas.View, error)
	SaveView(ctx context.Context, roomID shapes.RoomID, userID shapes.UserID, view canvas.View) error
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	SessionValidator SessionValidator
	Membership       membership.Checker
	Shapes           ShapeStore
	Hub              *realtime.Hub
	AllowedOrigins   []string
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Membership == nil {
		return nil, errMissingMembership
	}
	if deps.Shapes == nil {
		return nil, errMissingShapeStore
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		sessions:   deps.SessionValidator,
		membership: deps.Membership,
		shapes:     deps.Shapes,
		hub:        deps.Hub,
		upgrader:   newUpgrader(deps.AllowedOrigins),
		logger:     logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/rooms/:roomId/ws", handler.handleRealtime)

	rooms := router.Group("/rooms/:roomId")
	rooms.Use(handler.authorizeRequest, handler.authorizeRoom)
	rooms.POST("/shapes/batch", handler.handleBatch)
	rooms.GET("/snapshot", handler.handleSnapshot)
	rooms.GET("/view", handler.handleGetView)
	rooms.PUT("/view", handler.handleSaveView)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	sessions   SessionValidator
	membership membership.Checker
	shapes     ShapeStore
	hub        *realtime.Hub
	upgrader   websocketUpgrader
	logger     *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logTokenFailure(err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) authorizeRoom(c *gin.Context) {
	roomID, err := shapes.NewRoomID(c.Param(roomIDParam))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": errorInvalidRoom})
		return
	}
	userID := c.GetString(userIDContextKey)
	allowed, err := h.membership.IsMember(c.Request.Context(), roomID.String(), userID)
	if err != nil {
		h.logger.Error("membership check failed",
			zap.String("room_id", roomID.String()),
			zap.String("user_id", userID),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": errorMembershipFailed})
		return
	}
	if !allowed {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errorForbidden})
		return
	}
	c.Set(roomIDContextKey, roomID.String())
	c.Next()
}

// logTokenFailure keeps routine expiries out of warning-level logs.
func (h *httpHandler) logTokenFailure(err error) {
	if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
		h.logger.Info("token validation failed", zap.Error(err))
		return
	}
	h.logger.Warn("token validation failed", zap.Error(err))
}

func errorBody(reason string, err error) gin.H {
	body := gin.H{"error": reason}
	var serviceErr *shapes.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	return body
}
