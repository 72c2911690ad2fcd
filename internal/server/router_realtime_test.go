package server

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/auth"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/membership"
	"github.com/gorilla/websocket"
)

func TestRealtimePresenceOnConnect(t *testing.T) {
	server := newTestServer(t, membership.PolicyOpen)

	first := server.dial(t, "room-1", server.token(t, "user-a"))
	snapshot := readUntil(t, first, canvas.MessagePresenceSnapshot)
	if snapshot.ConnectionID == "" || len(snapshot.Users) != 1 || snapshot.Users[0].UserID != "user-a" {
		t.Fatalf("unexpected first snapshot %#v", snapshot)
	}

	second := server.dial(t, "room-1", server.token(t, "user-b"))
	secondSnapshot := readUntil(t, second, canvas.MessagePresenceSnapshot)
	if len(secondSnapshot.Users) != 2 {
		t.Fatalf("expected both users in snapshot, got %#v", secondSnapshot.Users)
	}
	join := readUntil(t, first, canvas.MessagePresenceJoin)
	if join.UserID != "user-b" || join.Color == "" {
		t.Fatalf("unexpected join %#v", join)
	}

	_ = second.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = second.Close()
	if leave := readUntil(t, first, canvas.MessageCursorLeave); leave.UserID != "user-b" {
		t.Fatalf("unexpected cursor leave %#v", leave)
	}
	if leave := readUntil(t, first, canvas.MessagePresenceLeave); leave.UserID != "user-b" {
		t.Fatalf("unexpected presence leave %#v", leave)
	}
}

func TestRealtimeCommitReachesPeersButNotAuthor(t *testing.T) {
	server := newTestServer(t, membership.PolicyOpen)
	authorToken := server.token(t, "user-a")

	author := server.dial(t, "room-1", authorToken)
	authorConnection := readUntil(t, author, canvas.MessagePresenceSnapshot).ConnectionID
	peer := server.dial(t, "room-1", server.token(t, "user-b"))
	readUntil(t, peer, canvas.MessagePresenceSnapshot)
	readUntil(t, author, canvas.MessagePresenceJoin)

	server.applyBatch(t, authorToken, "room-1", canvas.BatchRequest{
		ClientID:     "client-a",
		ConnectionID: authorConnection,
		Operations: []canvas.Operation{
			{Op: canvas.OperationCreate, ShapeID: "shape-1", CommitVersion: 1, Payload: rectShape("shape-1", 5, 5)},
		},
	})

	commit := readUntil(t, peer, canvas.MessageShapeCommit)
	if commit.CommitType != canvas.CommitNew || commit.ShapeID != "shape-1" || commit.Version != 1 {
		t.Fatalf("unexpected commit %#v", commit)
	}
	if commit.Shape == nil || commit.Shape.X != 5 || commit.Shape.Version != 1 {
		t.Fatalf("expected full shape in commit, got %#v", commit.Shape)
	}

	server.applyBatch(t, authorToken, "room-1", canvas.BatchRequest{
		ClientID:     "client-a",
		ConnectionID: authorConnection,
		Operations:   []canvas.Operation{{Op: canvas.OperationDelete, ShapeID: "shape-1", CommitVersion: 2}},
	})
	deleted := readUntil(t, peer, canvas.MessageShapeCommit)
	if deleted.CommitType != canvas.CommitDeleted || deleted.Shape != nil || deleted.Version != 2 {
		t.Fatalf("unexpected delete commit %#v", deleted)
	}

	_ = author.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var echoed canvas.Message
	if err := author.ReadJSON(&echoed); err == nil {
		t.Fatalf("did not expect the author to receive %#v", echoed)
	}
}

func TestRealtimeRelaysCursorWithSenderIdentity(t *testing.T) {
	server := newTestServer(t, membership.PolicyOpen)

	sender := server.dial(t, "room-1", server.token(t, "user-a"))
	readUntil(t, sender, canvas.MessagePresenceSnapshot)
	receiver := server.dial(t, "room-1", server.token(t, "user-b"))
	readUntil(t, receiver, canvas.MessagePresenceSnapshot)

	if err := sender.WriteJSON(canvas.Message{Type: canvas.MessageShapeCommit, ShapeID: "forged", Version: 99}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sender.WriteJSON(canvas.CursorMoveMessage(canvas.Point{X: 40, Y: 60})); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	message := readUntil(t, receiver, canvas.MessageCursorMove)
	if message.UserID != "user-a" || message.Point == nil || message.Point.X != 40 {
		t.Fatalf("unexpected relayed cursor %#v", message)
	}
}

func TestRealtimeClosesUnauthorizedSocketWithPolicyViolation(t *testing.T) {
	server := newTestServer(t, membership.PolicyOpen)

	conn := server.dial(t, "room-1", "")
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected close code %d, got %d", websocket.ClosePolicyViolation, closeErr.Code)
	}
	if server.hub.Connections("room-1") != 0 {
		t.Fatalf("did not expect the socket to join the room")
	}
}

func TestRealtimeRefusesCrossOriginUpgradeWithoutAllowlist(t *testing.T) {
	server := newTestServer(t, membership.PolicyOpen)
	address := "ws" + strings.TrimPrefix(server.server.URL, "http") + "/rooms/room-1/ws?" +
		auth.AccessTokenQueryParameter + "=" + server.token(t, "user-a")

	foreign := http.Header{"Origin": []string{"https://attacker.example"}}
	conn, response, err := websocket.DefaultDialer.Dial(address, foreign)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("expected cross-origin upgrade to be refused")
	}
	if !errors.Is(err, websocket.ErrBadHandshake) || response == nil || response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden handshake, got %v", err)
	}

	same := http.Header{"Origin": []string{server.server.URL}}
	conn, _, err = websocket.DefaultDialer.Dial(address, same)
	if err != nil {
		t.Fatalf("expected same-origin upgrade to succeed: %v", err)
	}
	defer conn.Close()
	readUntil(t, conn, canvas.MessagePresenceSnapshot)
}
