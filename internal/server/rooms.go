package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleBatch(c *gin.Context) {
	roomID := shapes.RoomID(c.GetString(roomIDContextKey))
	userID := shapes.UserID(c.GetString(userIDContextKey))

	var request canvas.BatchRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	clientID, err := shapes.NewClientID(request.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	for index := range request.Operations {
		opType, err := canvas.ParseOperationType(string(request.Operations[index].Op))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidOperation})
			return
		}
		request.Operations[index].Op = opType
	}

	result, err := h.shapes.ApplyBatch(c.Request.Context(), shapes.BatchCommand{
		RoomID:     roomID,
		UserID:     userID,
		ClientID:   clientID,
		Operations: request.Operations,
	})
	// Operations applied before a storage failure are durable and must
	// still reach peers.
	h.broadcastCommits(roomID.String(), userID.String(), request.ConnectionID, result.Commits)
	if err != nil {
		h.logger.Error("failed to apply shape batch",
			zap.String("room_id", roomID.String()),
			zap.String("client_id", clientID.String()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(errorBatchFailed, err))
		return
	}

	c.JSON(http.StatusOK, canvas.BatchResponse{Applied: result.Applied, Rejected: result.Rejected})
}

// broadcastCommits announces applied operations to the room. The author's
// own connection is skipped when the batch names it.
func (h *httpHandler) broadcastCommits(roomID, userID, connectionID string, commits []shapes.Commit) {
	if len(commits) == 0 {
		return
	}
	exclude := ""
	if connectionID != "" {
		if member, ok := h.hub.Member(roomID, connectionID); ok && member.UserID == userID {
			exclude = connectionID
		}
	}
	for _, commit := range commits {
		h.hub.Broadcast(roomID, canvas.ShapeCommitMessage(commit.Kind, commit.ShapeID, commit.Shape, commit.Version), exclude)
	}
}

func (h *httpHandler) handleSnapshot(c *gin.Context) {
	roomID := shapes.RoomID(c.GetString(roomIDContextKey))
	snapshot, err := h.shapes.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		h.logger.Error("failed to load snapshot", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(errorSnapshotFailed, err))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *httpHandler) handleGetView(c *gin.Context) {
	roomID := shapes.RoomID(c.GetString(roomIDContextKey))
	userID := shapes.UserID(c.GetString(userIDContextKey))
	view, err := h.shapes.GetView(c.Request.Context(), roomID, userID)
	if err != nil {
		h.logger.Error("failed to load view", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(errorViewFailed, err))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleSaveView(c *gin.Context) {
	roomID := shapes.RoomID(c.GetString(roomIDContextKey))
	userID := shapes.UserID(c.GetString(userIDContextKey))

	var view canvas.View
	if err := c.ShouldBindJSON(&view); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	if err := h.shapes.SaveView(c.Request.Context(), roomID, userID, view); err != nil {
		if errors.Is(err, canvas.ErrInvalidView) {
			c.JSON(http.StatusBadRequest, errorBody(errorInvalidView, err))
			return
		}
		h.logger.Error("failed to save view", zap.String("room_id", roomID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody(errorViewFailed, err))
		return
	}
	c.JSON(http.StatusOK, view)
}
