package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn is the client end of a room's realtime socket.
type Conn struct {
	socket *websocket.Conn
	logger *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dial opens the realtime socket at address.
func Dial(ctx context.Context, address string, logger *zap.Logger) (*Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	return &Conn{socket: socket, logger: logger}, nil
}

// Send writes one message.
func (c *Conn) Send(message canvas.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.socket.WriteJSON(message)
}

// Run attaches the connection to session and dispatches inbound messages
// until the socket closes or ctx ends. A close for policy violation is
// reported as an error.
func (c *Conn) Run(ctx context.Context, session *Session) error {
	detach := session.Attach(c)
	defer detach()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, raw, err := c.socket.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("realtime refused: %s", closeErr.Text)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read realtime: %w", err)
		}
		var message canvas.Message
		if err := json.Unmarshal(raw, &message); err != nil {
			c.logger.Debug("realtime message ignored", zap.Error(err))
			continue
		}
		session.Dispatch(message)
	}
}

// Close sends a normal close frame and closes the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.socket.Close()
	})
	return err
}
