package realtime

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Serve joins an authenticated socket to a room and pumps messages until
// the socket closes. It blocks; the member leaves the room on return.
func Serve(hub *Hub, socket *websocket.Conn, roomID, userID string, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	member := hub.Join(roomID, userID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		writePump(socket, member, logger)
	}()
	readPump(hub, socket, member, logger)
	hub.Leave(member)
	<-done
}

// Reject closes an upgraded socket with a policy violation status.
func Reject(socket *websocket.Conn, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = socket.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
	_ = socket.Close()
}

func readPump(hub *Hub, socket *websocket.Conn, member *Member, logger *zap.Logger) {
	socket.SetReadLimit(maxMessageSize)
	_ = socket.SetReadDeadline(time.Now().Add(pongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Debug("realtime read failed",
					zap.String("connection_id", member.ConnectionID),
					zap.Error(err))
			}
			return
		}
		var message canvas.Message
		if err := json.Unmarshal(raw, &message); err != nil {
			logger.Debug("realtime message ignored",
				zap.String("connection_id", member.ConnectionID),
				zap.Error(err))
			continue
		}
		hub.Relay(member, message)
	}
}

func writePump(socket *websocket.Conn, member *Member, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = socket.Close()
	}()

	for {
		select {
		case message, ok := <-member.Messages():
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := socket.WriteJSON(message); err != nil {
				logger.Debug("realtime write failed",
					zap.String("connection_id", member.ConnectionID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
