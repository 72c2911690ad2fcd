package flush

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
)

const defaultViewDelay = time.Second

// ViewTransport persists a user's view transform.
type ViewTransport interface {
	SaveView(ctx context.Context, roomID string, view canvas.View) error
}

// ViewSaver persists the view after it has been still for Delay. View
// state has no versions; the latest value simply replaces the stored one.
type ViewSaver struct {
	store     *board.Store
	transport ViewTransport
	roomID    string
	delay     time.Duration
	logger    *zap.Logger
	changed   chan struct{}

	mu       sync.Mutex
	saved    canvas.View
	hasSaved bool
}

// NewViewSaver constructs a ViewSaver. A zero delay selects one second.
func NewViewSaver(store *board.Store, transport ViewTransport, roomID string, delay time.Duration, logger *zap.Logger) (*ViewSaver, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if transport == nil {
		return nil, errors.New("flush: view transport is required")
	}
	if strings.TrimSpace(roomID) == "" {
		return nil, errMissingRoom
	}
	if delay <= 0 {
		delay = defaultViewDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ViewSaver{
		store:     store,
		transport: transport,
		roomID:    roomID,
		delay:     delay,
		logger:    logger,
		changed:   make(chan struct{}, 1),
	}, nil
}

// MarkSaved records a view known to be stored already, such as the one
// loaded at startup, so it is not written back.
func (v *ViewSaver) MarkSaved(view canvas.View) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.saved = view
	v.hasSaved = true
}

// Run saves view changes until ctx is cancelled.
func (v *ViewSaver) Run(ctx context.Context) error {
	unsubscribe := v.store.Subscribe(func(change board.Change) {
		if change.Kind != board.ChangeView {
			return
		}
		select {
		case v.changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(v.delay)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.changed:
			timer.Reset(v.delay)
		case <-timer.C:
			if err := v.Save(ctx); err != nil && ctx.Err() == nil {
				v.logger.Warn("view save failed", zap.String("room_id", v.roomID), zap.Error(err))
			}
		}
	}
}

// Save writes the current view if it differs from the last saved one.
func (v *ViewSaver) Save(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	view := v.store.View()
	if v.hasSaved && view == v.saved {
		return nil
	}
	if err := v.transport.SaveView(ctx, v.roomID, view); err != nil {
		return err
	}
	v.saved = view
	v.hasSaved = true
	return nil
}
