package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/client"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/flush"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/membership"
)

// roomClient is a complete headless participant: local store, flush
// scheduler and realtime session.
type roomClient struct {
	store     *board.Store
	session   *collab.Session
	scheduler *flush.Scheduler
	transport *client.HTTPTransport
}

func joinRoom(t *testing.T, ctx context.Context, wg *sync.WaitGroup, srv *testServer, roomID, userID string) *roomClient {
	t.Helper()
	transport := client.NewHTTPTransport(client.Config{BaseURL: srv.server.URL, Token: srv.token(t, userID)})
	store := board.New()
	session := collab.NewSession(store, userID, nil)
	scheduler, err := flush.NewScheduler(store, transport, flush.Config{RoomID: roomID, ClientID: userID + "-client"},
		flush.WithConnectionID(session.ConnectionID))
	if err != nil {
		t.Fatalf("failed to construct scheduler: %v", err)
	}

	resyncer, err := collab.NewResyncer(store, transport, roomID, 0, nil)
	if err != nil {
		t.Fatalf("failed to construct resyncer: %v", err)
	}
	if _, err := resyncer.Resync(ctx); err != nil {
		t.Fatalf("failed to hydrate: %v", err)
	}

	address, err := transport.RealtimeURL(roomID)
	if err != nil {
		t.Fatalf("failed to build realtime url: %v", err)
	}
	conn, err := collab.Dial(ctx, address, nil)
	if err != nil {
		t.Fatalf("failed to dial realtime: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = conn.Run(ctx, session)
	}()
	waitFor(t, "presence snapshot for "+userID, func() bool { return session.ConnectionID() != "" })
	return &roomClient{store: store, session: session, scheduler: scheduler, transport: transport}
}

func (c *roomClient) flush(t *testing.T) flush.Result {
	t.Helper()
	result, err := c.scheduler.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	return result
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTwoClientsConvergeThroughServer(t *testing.T) {
	srv := newTestServer(t, membership.PolicyOpen)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	alice := joinRoom(t, ctx, &wg, srv, "board-1", "alice")
	bob := joinRoom(t, ctx, &wg, srv, "board-1", "bob")
	waitFor(t, "alice to see bob", func() bool { return len(alice.session.Presence().Users()) == 2 })

	id, err := alice.store.BeginDraw(canvas.ShapeRect, canvas.Point{X: 10, Y: 10})
	if err != nil {
		t.Fatalf("begin draw: %v", err)
	}
	if err := alice.store.DrawTo(canvas.Point{X: 110, Y: 60}); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if _, err := alice.store.EndDraw(); err != nil {
		t.Fatalf("end draw: %v", err)
	}
	if result := alice.flush(t); len(result.Applied) != 1 {
		t.Fatalf("expected one applied operation, got %+v", result)
	}
	entry, _ := alice.store.Entry(id)
	if entry.Status != board.StatusSynced {
		t.Fatalf("expected synced entry, got %s", entry.Status)
	}

	waitFor(t, "bob to receive the shape", func() bool {
		shape, ok := bob.store.Shape(id)
		return ok && shape.Width == 100
	})

	if _, err := bob.store.BeginDrag(canvas.Point{}, false, id); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := bob.store.DragTo(canvas.Point{X: 40, Y: 0}); err != nil {
		t.Fatalf("drag: %v", err)
	}
	if err := bob.store.EndDrag(); err != nil {
		t.Fatalf("end drag: %v", err)
	}
	bob.flush(t)

	waitFor(t, "alice to receive the move", func() bool {
		shape, ok := alice.store.Shape(id)
		return ok && shape.X == 50 && shape.Version == 2
	})

	if err := alice.session.MoveCursor(canvas.Point{X: 3, Y: 4}); err != nil {
		t.Fatalf("move cursor: %v", err)
	}
	waitFor(t, "bob to see alice's cursor", func() bool {
		point, ok := bob.session.Cursors().Document("alice")
		return ok && point == canvas.Point{X: 3, Y: 4}
	})

	if err := bob.store.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	bob.flush(t)
	waitFor(t, "alice to drop the deleted shape", func() bool {
		_, ok := alice.store.Shape(id)
		return !ok
	})

	snapshot, err := alice.transport.FetchSnapshot(context.Background(), "board-1")
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if len(snapshot.Shapes) != 0 {
		t.Fatalf("expected empty snapshot, got %d shapes", len(snapshot.Shapes))
	}
}
