package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/auth"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/database"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/membership"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "test-signing-secret"

var testDatabaseCounter atomic.Int64

type testServer struct {
	server     *httptest.Server
	issuer     *auth.TokenIssuer
	hub        *realtime.Hub
	membership *membership.Service
}

func newTestServer(t *testing.T, policy membership.Policy) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:sketchboard_server_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDatabaseCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	shapeService, err := shapes.NewService(shapes.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct shapes service: %v", err)
	}
	membershipService, err := membership.NewService(membership.ServiceConfig{Database: db, Policy: policy})
	if err != nil {
		t.Fatalf("failed to construct membership service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	hub := realtime.NewHub()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Membership:       membershipService,
		Shapes:           shapeService,
		Hub:              hub,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testServer{server: server, issuer: issuer, hub: hub, membership: membershipService}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.Issue(auth.Identity{UserID: userID})
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := s.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return response.StatusCode, payload
}

func (s *testServer) applyBatch(t *testing.T, token, roomID string, request canvas.BatchRequest) canvas.BatchResponse {
	t.Helper()
	status, payload := s.do(t, http.MethodPost, "/rooms/"+roomID+"/shapes/batch", token, request)
	if status != http.StatusOK {
		t.Fatalf("expected batch status 200, got %d: %s", status, payload)
	}
	var response canvas.BatchResponse
	if err := json.Unmarshal(payload, &response); err != nil {
		t.Fatalf("failed to decode batch response: %v", err)
	}
	return response
}

func (s *testServer) dial(t *testing.T, roomID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/rooms/" + roomID + "/ws"
	if token != "" {
		url += "?" + auth.AccessTokenQueryParameter + "=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil skips messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want canvas.MessageType) canvas.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var message canvas.Message
		if err := conn.ReadJSON(&message); err != nil {
			t.Fatalf("expected %s, read failed: %v", want, err)
		}
		if message.Type == want {
			return message
		}
	}
}

func rectShape(id string, x, y float64) *canvas.Shape {
	return &canvas.Shape{
		ID:      id,
		Type:    canvas.ShapeRect,
		X:       x,
		Y:       y,
		Width:   100,
		Height:  50,
		Stroke:  canvas.Stroke{Kind: canvas.StrokeSolid, Color: "#000000", Width: 1},
		Fill:    "transparent",
		Opacity: 1,
	}
}
