package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu      sync.Mutex
	shapes  map[string]canvas.Shape
	err     error
	fetches int
	fetched chan struct{}
	during  func()
}

func (f *stubFetcher) FetchSnapshot(_ context.Context, roomID string) (canvas.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.during != nil {
		f.during()
	}
	f.fetches++
	if f.fetched != nil {
		select {
		case f.fetched <- struct{}{}:
		default:
		}
	}
	if f.err != nil {
		return canvas.Snapshot{}, f.err
	}
	shapes := make(map[string]canvas.Shape, len(f.shapes))
	for id, shape := range f.shapes {
		shapes[id] = shape
	}
	return canvas.Snapshot{RoomID: roomID, Shapes: shapes}, nil
}

func TestNewResyncerRequiresCollaborators(t *testing.T) {
	_, err := NewResyncer(nil, &stubFetcher{}, "room", 0, nil)
	assert.Error(t, err)
	_, err = NewResyncer(board.New(), nil, "room", 0, nil)
	assert.Error(t, err)
}

func TestResyncReconcilesStore(t *testing.T) {
	store := board.New()
	stale := rect("gone", 0, 0)
	store.MergeRemote(canvas.CommitNew, "gone", &stale, 1)

	kept := rect("kept", 5, 5)
	kept.Version = 3
	fetcher := &stubFetcher{shapes: map[string]canvas.Shape{"kept": kept}}
	resyncer, err := NewResyncer(store, fetcher, "room", time.Minute, nil)
	require.NoError(t, err)

	touched, err := resyncer.Resync(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone", "kept"}, touched)

	_, ok := store.Shape("gone")
	assert.False(t, ok)
	shape, ok := store.Shape("kept")
	require.True(t, ok)
	assert.Equal(t, int64(3), shape.Version)
}

func TestResyncKeepsShapesAcknowledgedDuringFetch(t *testing.T) {
	store := board.New()
	id, err := store.BeginDraw(canvas.ShapeRect, canvas.Point{})
	require.NoError(t, err)
	require.NoError(t, store.DrawTo(canvas.Point{X: 20, Y: 20}))
	_, err = store.EndDraw()
	require.NoError(t, err)
	store.BeginFlush([]canvas.AppliedOperation{{ShapeID: id, CommitVersion: 1}})

	fetcher := &stubFetcher{shapes: map[string]canvas.Shape{}}
	fetcher.during = func() {
		store.Acknowledge([]canvas.AppliedOperation{{ShapeID: id, CommitVersion: 1}})
	}
	resyncer, err := NewResyncer(store, fetcher, "room", time.Minute, nil)
	require.NoError(t, err)

	touched, err := resyncer.Resync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, touched)
	_, ok := store.Shape(id)
	assert.True(t, ok)

	fetcher.during = nil
	touched, err = resyncer.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{id}, touched)
	_, ok = store.Shape(id)
	assert.False(t, ok)
}

func TestResyncWrapsFetchErrors(t *testing.T) {
	failure := errors.New("offline")
	resyncer, err := NewResyncer(board.New(), &stubFetcher{err: failure}, "room", 0, nil)
	require.NoError(t, err)

	_, err = resyncer.Resync(context.Background())
	assert.ErrorIs(t, err, failure)
}

func TestRunHydratesImmediatelyAndStopsWithContext(t *testing.T) {
	store := board.New()
	fetcher := &stubFetcher{
		shapes:  map[string]canvas.Shape{"s1": rect("s1", 1, 1)},
		fetched: make(chan struct{}, 1),
	}
	resyncer, err := NewResyncer(store, fetcher, "room", time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- resyncer.Run(ctx) }()

	select {
	case <-fetcher.fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("resync never fetched")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("resync did not stop")
	}
	_, ok := store.Shape("s1")
	assert.True(t, ok)
}
