// Package flush moves committed shape changes from the client store to the
// durable store. The Scheduler batches dirty shapes into one request at a
// time; the ViewSaver persists the view transform on its own, slower cadence.
package flush

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
)

const (
	defaultDebounce = 10 * time.Millisecond
	defaultMaxWait  = 250 * time.Millisecond
	defaultTimeout  = 15 * time.Second
)

var (
	errMissingStore     = errors.New("flush: store is required")
	errMissingTransport = errors.New("flush: transport is required")
	errMissingRoom      = errors.New("flush: room id is required")
	errMissingClient    = errors.New("flush: client id is required")
)

// Transport is the durable store as seen from the client.
type Transport interface {
	ApplyBatch(ctx context.Context, request canvas.BatchRequest) (canvas.BatchResponse, error)
	FetchSnapshot(ctx context.Context, roomID string) (canvas.Snapshot, error)
}

// SkipReason explains why a flush attempt sent nothing.
type SkipReason string

const (
	SkipNone     SkipReason = ""
	SkipClean    SkipReason = "clean"
	SkipBusy     SkipReason = "busy"
	SkipInFlight SkipReason = "in_flight"
)

// Result summarizes one flush attempt.
type Result struct {
	Skipped  SkipReason
	Sent     int
	Applied  []canvas.AppliedOperation
	Rejected []canvas.RejectedOperation
	Purged   []string
}

// Config holds scheduler parameters.
type Config struct {
	RoomID   string
	ClientID string
	// Debounce is the quiet period after the latest store change before a
	// flush is attempted.
	Debounce time.Duration
	// MaxWait bounds how long a burst of changes can defer a flush.
	MaxWait time.Duration
	// Timeout bounds one batch round-trip.
	Timeout time.Duration
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithConnectionID supplies the realtime connection id sent with each
// batch so the server can skip echoing the commit back to this client.
func WithConnectionID(provider func() string) Option {
	return func(s *Scheduler) {
		s.connectionID = provider
	}
}

// Scheduler flushes dirty shapes. At most one batch is in flight; triggers
// that arrive meanwhile coalesce into the next cycle.
type Scheduler struct {
	store        *board.Store
	transport    Transport
	config       Config
	logger       *zap.Logger
	connectionID func() string
	trigger      chan struct{}

	mu       sync.Mutex
	inFlight string
	observed string
}

// NewScheduler validates its collaborators and constructs a Scheduler.
func NewScheduler(store *board.Store, transport Transport, config Config, options ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if transport == nil {
		return nil, errMissingTransport
	}
	if strings.TrimSpace(config.RoomID) == "" {
		return nil, errMissingRoom
	}
	if strings.TrimSpace(config.ClientID) == "" {
		return nil, errMissingClient
	}
	if config.Debounce <= 0 {
		config.Debounce = defaultDebounce
	}
	if config.MaxWait <= 0 {
		config.MaxWait = defaultMaxWait
	}
	if config.MaxWait < config.Debounce {
		config.MaxWait = config.Debounce
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	scheduler := &Scheduler{
		store:     store,
		transport: transport,
		config:    config,
		logger:    zap.NewNop(),
		trigger:   make(chan struct{}, 1),
	}
	for _, option := range options {
		option(scheduler)
	}
	return scheduler, nil
}

// Notify requests a flush cycle.
func (s *Scheduler) Notify() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// observe wakes the scheduler when the persistence signature
// {id, commitVersion, lastPersistedVersion} may have moved.
func (s *Scheduler) observe(change board.Change) {
	switch change.Kind {
	case board.ChangeCommit, board.ChangePersist, board.ChangeRemote, board.ChangeGesture:
	default:
		return
	}
	signature := persistSignature(s.store.Entries())
	s.mu.Lock()
	moved := signature != s.observed
	s.observed = signature
	s.mu.Unlock()
	if moved || change.Kind == board.ChangeGesture {
		s.Notify()
	}
}

// Run drives flush cycles until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	unsubscribe := s.store.Subscribe(s.observe)
	defer unsubscribe()
	s.Notify()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.trigger:
		}
		if err := s.coalesce(ctx); err != nil {
			return err
		}
		if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("flush failed", zap.String("room_id", s.config.RoomID), zap.Error(err))
		}
	}
}

// coalesce waits for a quiet period of Debounce, never longer than MaxWait.
func (s *Scheduler) coalesce(ctx context.Context) error {
	deadline := time.NewTimer(s.config.MaxWait)
	defer deadline.Stop()
	quiet := time.NewTimer(s.config.Debounce)
	defer quiet.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-quiet.C:
			return nil
		case <-s.trigger:
			quiet.Reset(s.config.Debounce)
		}
	}
}

// Flush sends every dirty shape in one batch and folds the response back
// into the store. It is safe to call directly; overlapping calls return
// SkipInFlight and the trailing one is retried by Run.
func (s *Scheduler) Flush(ctx context.Context) (Result, error) {
	if s.store.Busy() {
		return Result{Skipped: SkipBusy}, nil
	}
	dirty := s.store.DirtyEntries()
	if len(dirty) == 0 {
		return Result{Skipped: SkipClean}, nil
	}
	signature := batchSignature(dirty)
	s.mu.Lock()
	if current := s.inFlight; current != "" {
		s.mu.Unlock()
		if current != signature {
			s.Notify()
		}
		return Result{Skipped: SkipInFlight}, nil
	}
	s.inFlight = signature
	s.mu.Unlock()
	defer s.clearInFlight()

	request := canvas.BatchRequest{
		RoomID:     s.config.RoomID,
		ClientID:   s.config.ClientID,
		Operations: make([]canvas.Operation, 0, len(dirty)),
	}
	if s.connectionID != nil {
		request.ConnectionID = s.connectionID()
	}
	sent := make([]canvas.AppliedOperation, 0, len(dirty))
	for _, entry := range dirty {
		request.Operations = append(request.Operations, operationFor(entry))
		sent = append(sent, canvas.AppliedOperation{ShapeID: entry.Shape.ID, CommitVersion: entry.CommitVersion})
	}
	s.store.BeginFlush(sent)

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	response, err := s.transport.ApplyBatch(callCtx, request)
	if err != nil {
		s.store.FailFlush(shapeIDs(sent))
		return Result{Sent: len(sent)}, fmt.Errorf("flush: apply batch: %w", err)
	}

	result := Result{Sent: len(sent), Applied: response.Applied, Rejected: response.Rejected}
	result.Purged = s.store.Acknowledge(response.Applied)
	if len(response.Rejected) > 0 {
		s.resync(ctx, response.Rejected)
	}
	if missing := unanswered(sent, response); len(missing) > 0 {
		s.store.FailFlush(missing)
	}
	s.logger.Debug("flush completed",
		zap.String("room_id", s.config.RoomID),
		zap.Int("sent", result.Sent),
		zap.Int("applied", len(result.Applied)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

func (s *Scheduler) clearInFlight() {
	s.mu.Lock()
	s.inFlight = ""
	s.mu.Unlock()
}

// resync adopts the server's copy of every rejected shape.
func (s *Scheduler) resync(ctx context.Context, rejected []canvas.RejectedOperation) {
	snapshot, err := s.transport.FetchSnapshot(ctx, s.config.RoomID)
	if err != nil {
		ids := make([]string, 0, len(rejected))
		for _, operation := range rejected {
			ids = append(ids, operation.ShapeID)
		}
		s.store.FailFlush(ids)
		s.logger.Warn("resync of rejected shapes failed", zap.String("room_id", s.config.RoomID), zap.Strings("shape_ids", ids), zap.Error(err))
		return
	}
	for _, operation := range rejected {
		s.logger.Info("shape operation rejected",
			zap.String("room_id", s.config.RoomID),
			zap.String("shape_id", operation.ShapeID),
			zap.Int64("commit_version", operation.CommitVersion),
			zap.String("reason", operation.Reason),
		)
		if shape, ok := snapshot.Shapes[operation.ShapeID]; ok {
			s.store.ForceResync(operation.ShapeID, operation.CommitVersion, &shape)
			continue
		}
		s.store.ForceResync(operation.ShapeID, operation.CommitVersion, nil)
	}
}

func operationFor(entry board.Entry) canvas.Operation {
	kind := entry.Kind()
	operation := canvas.Operation{
		Op:            kind.Operation(),
		ShapeID:       entry.Shape.ID,
		CommitVersion: entry.CommitVersion,
	}
	if kind != canvas.CommitDeleted {
		payload := entry.Shape.Clone()
		operation.Payload = &payload
	}
	return operation
}

// batchSignature identifies the dirty state a batch describes.
func batchSignature(dirty []board.Entry) string {
	var builder strings.Builder
	for _, entry := range dirty {
		builder.WriteString(entry.Shape.ID)
		builder.WriteByte(':')
		builder.WriteString(strconv.FormatInt(entry.CommitVersion, 10))
		builder.WriteByte(';')
	}
	return builder.String()
}

func persistSignature(entries []board.Entry) string {
	var builder strings.Builder
	for _, entry := range entries {
		builder.WriteString(entry.Shape.ID)
		builder.WriteByte(':')
		builder.WriteString(strconv.FormatInt(entry.CommitVersion, 10))
		builder.WriteByte('/')
		builder.WriteString(strconv.FormatInt(entry.LastPersistedVersion, 10))
		builder.WriteByte(';')
	}
	return builder.String()
}

func shapeIDs(operations []canvas.AppliedOperation) []string {
	ids := make([]string, 0, len(operations))
	for _, operation := range operations {
		ids = append(ids, operation.ShapeID)
	}
	return ids
}

func unanswered(sent []canvas.AppliedOperation, response canvas.BatchResponse) []string {
	answered := make(map[string]struct{}, len(response.Applied)+len(response.Rejected))
	for _, operation := range response.Applied {
		answered[operation.ShapeID] = struct{}{}
	}
	for _, operation := range response.Rejected {
		answered[operation.ShapeID] = struct{}{}
	}
	var missing []string
	for _, operation := range sent {
		if _, ok := answered[operation.ShapeID]; !ok {
			missing = append(missing, operation.ShapeID)
		}
	}
	return missing
}
