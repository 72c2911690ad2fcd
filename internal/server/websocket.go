package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type websocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(allowed) == 0 {
				return sameOrigin(origin, r.Host)
			}
			if _, ok := allowed["*"]; ok {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

// sameOrigin reports whether the browser origin names the host serving
// the request. Without an allowlist only same-origin pages may open a
// socket, since the session cookie rides along on cross-site upgrades.
func sameOrigin(origin, host string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, host)
}

// handleRealtime upgrades first and authorizes second so a refused client
// learns the reason from a policy-violation close frame.
func (h *httpHandler) handleRealtime(c *gin.Context) {
	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	roomID, err := shapes.NewRoomID(c.Param(roomIDParam))
	if err != nil {
		realtime.Reject(socket, errorInvalidRoom)
		return
	}
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logTokenFailure(err)
		realtime.Reject(socket, errorUnauthorized)
		return
	}
	allowed, err := h.membership.IsMember(c.Request.Context(), roomID.String(), claims.UserID)
	if err != nil {
		h.logger.Error("membership check failed",
			zap.String("room_id", roomID.String()),
			zap.String("user_id", claims.UserID),
			zap.Error(err))
		realtime.Reject(socket, errorMembershipFailed)
		return
	}
	if !allowed {
		realtime.Reject(socket, errorForbidden)
		return
	}

	realtime.Serve(h.hub, socket, roomID.String(), claims.UserID, h.logger)
}
