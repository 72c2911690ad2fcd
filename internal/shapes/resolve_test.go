package shapes

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

func mustRoomID(t *testing.T, value string) RoomID {
	t.Helper()
	id, err := NewRoomID(value)
	if err != nil {
		t.Fatalf("unexpected room id error: %v", err)
	}
	return id
}

func TestResolveOperationUpdateIncrementsVersion(t *testing.T) {
	existing := &ShapeRow{
		RoomID:            "room-1",
		ShapeID:           "shape-1",
		Version:           4,
		LastWriterClient:  "client-b",
		LastCommitVersion: 9,
		CreatedAtSeconds:  1699990000,
	}
	request := OperationRequest{
		RoomID:    mustRoomID(t, "room-1"),
		UserID:    "user-1",
		ClientID:  "client-a",
		Operation: updateOp("shape-1", 2, 30, 40),
	}

	outcome, err := resolveOperation(existing, request, time.Unix(1700000600, 0).UTC())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Applied || outcome.Duplicate {
		t.Fatalf("expected update to apply, got %#v", outcome)
	}
	if outcome.Row.Version != 5 {
		t.Fatalf("expected version 5, got %d", outcome.Row.Version)
	}
	if outcome.Row.LastWriterClient != "client-a" || outcome.Row.LastCommitVersion != 2 {
		t.Fatalf("expected writer metadata to move to client-a, got %#v", outcome.Row)
	}
	if outcome.Row.CreatedAtSeconds != 1699990000 {
		t.Fatalf("expected creation time to be kept")
	}
	if outcome.Shape == nil || outcome.Shape.Version != 5 || outcome.Shape.X != 30 {
		t.Fatalf("unexpected resulting shape %#v", outcome.Shape)
	}
	if outcome.Audit.PreviousVersion == nil || *outcome.Audit.PreviousVersion != 4 || outcome.Audit.NewVersion != 5 {
		t.Fatalf("unexpected audit versions: %#v", outcome.Audit)
	}
	stored, err := decodeRowShape(*outcome.Row)
	if err != nil {
		t.Fatalf("failed to decode stored payload: %v", err)
	}
	if stored.X != 30 || stored.Version != 5 {
		t.Fatalf("unexpected stored payload %#v", stored)
	}
}

func TestResolveOperationTreatsReplayAsDuplicate(t *testing.T) {
	existing := &ShapeRow{ShapeID: "shape-1", Version: 2, LastWriterClient: "client-a", LastCommitVersion: 3}
	request := OperationRequest{RoomID: "room-1", UserID: "user-1", ClientID: "client-a", Operation: updateOp("shape-1", 3, 0, 0)}

	outcome, err := resolveOperation(existing, request, time.Unix(1700000600, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Applied || !outcome.Duplicate || outcome.Row != nil {
		t.Fatalf("expected duplicate acknowledgement without a write, got %#v", outcome)
	}
}

func TestResolveOperationDeleteKeepsPayload(t *testing.T) {
	existing := &ShapeRow{ShapeID: "shape-1", Version: 1, PayloadJSON: []byte(`{"id":"shape-1","type":"rect"}`)}
	request := OperationRequest{RoomID: "room-1", UserID: "user-1", ClientID: "client-a", Operation: deleteOp("shape-1", 1)}

	outcome, err := resolveOperation(existing, request, time.Unix(1700000600, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Row.IsDeleted || outcome.Shape != nil {
		t.Fatalf("expected tombstone, got %#v", outcome)
	}
	if string(outcome.Row.PayloadJSON) != `{"id":"shape-1","type":"rect"}` {
		t.Fatalf("expected payload to be retained, got %s", outcome.Row.PayloadJSON)
	}
	if outcome.Audit.Operation != string(canvas.OperationDelete) || outcome.Audit.PayloadJSON != nil {
		t.Fatalf("unexpected audit record %#v", outcome.Audit)
	}
}

func TestIdentifierValidation(t *testing.T) {
	if _, err := NewShapeID("   "); err == nil {
		t.Fatalf("expected empty id to be rejected")
	}
	long := make([]byte, maxIdentifierLength+1)
	for index := range long {
		long[index] = 'a'
	}
	if _, err := NewClientID(string(long)); err == nil {
		t.Fatalf("expected long id to be rejected")
	}
	id, err := NewUserID("  user-7 ")
	if err != nil || id != "user-7" {
		t.Fatalf("expected trimmed id, got %q (%v)", id, err)
	}
}
