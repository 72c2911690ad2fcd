package cache

import (
	"context"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/alicebob/miniredis/v2"
)

func setupTestMirror(t *testing.T) (*RedisSnapshotMirror, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	mirror, err := NewRedisSnapshotMirror("redis://"+server.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create mirror: %v", err)
	}
	t.Cleanup(func() { _ = mirror.Close() })
	return mirror, server
}

func TestMirrorRoundTrip(t *testing.T) {
	mirror, _ := setupTestMirror(t)
	ctx := context.Background()

	if _, ok, err := mirror.Get(ctx, "room-1"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	snapshot := canvas.Snapshot{RoomID: "room-1", Shapes: map[string]canvas.Shape{
		"shape-1": {ID: "shape-1", Type: canvas.ShapeRect, Width: 10, Height: 5, Opacity: 1, Version: 3},
	}}
	if stored, err := mirror.Put(ctx, snapshot, 0); err != nil || !stored {
		t.Fatalf("put failed: stored=%v err=%v", stored, err)
	}
	cached, ok, err := mirror.Get(ctx, "room-1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if cached.Shapes["shape-1"].Version != 3 || cached.Shapes["shape-1"].Width != 10 {
		t.Fatalf("unexpected cached snapshot %#v", cached)
	}

	if err := mirror.Invalidate(ctx, "room-1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if _, ok, _ := mirror.Get(ctx, "room-1"); ok {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestMirrorEntriesExpire(t *testing.T) {
	mirror, server := setupTestMirror(t)
	ctx := context.Background()

	if _, err := mirror.Put(ctx, canvas.Snapshot{RoomID: "room-2", Shapes: map[string]canvas.Shape{}}, 0); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	server.FastForward(2 * time.Minute)
	if _, ok, _ := mirror.Get(ctx, "room-2"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestMirrorRejectsSnapshotsReadBeforeInvalidation(t *testing.T) {
	mirror, server := setupTestMirror(t)
	ctx := context.Background()

	generation, err := mirror.Generation(ctx, "room-4")
	if err != nil || generation != 0 {
		t.Fatalf("expected zero generation, got %d (%v)", generation, err)
	}
	if err := mirror.Invalidate(ctx, "room-4"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	stale := canvas.Snapshot{RoomID: "room-4", Shapes: map[string]canvas.Shape{}}
	stored, err := mirror.Put(ctx, stale, generation)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if stored || server.Exists(defaultPrefix+"room-4") {
		t.Fatalf("expected snapshot read before invalidation to be discarded")
	}

	current, err := mirror.Generation(ctx, "room-4")
	if err != nil || current != 1 {
		t.Fatalf("expected generation 1, got %d (%v)", current, err)
	}
	fresh := canvas.Snapshot{RoomID: "room-4", Shapes: map[string]canvas.Shape{
		"shape-1": {ID: "shape-1", Type: canvas.ShapeRect, Width: 4, Height: 4, Opacity: 1, Version: 1},
	}}
	if stored, err := mirror.Put(ctx, fresh, current); err != nil || !stored {
		t.Fatalf("expected current snapshot to be stored, got stored=%v err=%v", stored, err)
	}
	cached, ok, err := mirror.Get(ctx, "room-4")
	if err != nil || !ok || len(cached.Shapes) != 1 {
		t.Fatalf("expected mirrored snapshot with one shape, got %#v ok=%v err=%v", cached, ok, err)
	}
}

func TestMirrorDropsCorruptEntries(t *testing.T) {
	mirror, server := setupTestMirror(t)
	if err := server.Set(defaultPrefix+"room-3", "not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, ok, err := mirror.Get(context.Background(), "room-3"); ok || err != nil {
		t.Fatalf("expected corrupt entry to read as a miss, got ok=%v err=%v", ok, err)
	}
	if server.Exists(defaultPrefix + "room-3") {
		t.Fatalf("expected corrupt entry to be deleted")
	}
}

func TestNewRedisSnapshotMirrorRejectsBadURL(t *testing.T) {
	if _, err := NewRedisSnapshotMirror("://bad", 0); err == nil {
		t.Fatalf("expected parse error")
	}
}
