package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/auth"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/client"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/collab"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/config"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/flush"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/logging"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// room is a hydrated local copy of one room with its flush pipeline.
type room struct {
	config    config.ClientConfig
	logger    *zap.Logger
	transport *client.HTTPTransport
	store     *board.Store
	scheduler *flush.Scheduler
	resyncer  *collab.Resyncer
}

func openRoom(ctx context.Context, options ...flush.Option) (*room, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if clientConfig.ClientID == "" {
		clientConfig.ClientID = uuid.NewString()
	}
	logger, err := logging.NewLogger(clientConfig.LogLevel, clientConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	transport := client.NewHTTPTransport(client.Config{
		BaseURL: clientConfig.ServerURL,
		Token:   clientConfig.Token,
		Timeout: clientConfig.RequestTimeout,
	})
	store := board.New()

	options = append([]flush.Option{flush.WithLogger(logger)}, options...)
	scheduler, err := flush.NewScheduler(store, transport, flush.Config{
		RoomID:   clientConfig.RoomID,
		ClientID: clientConfig.ClientID,
		Debounce: clientConfig.FlushDebounce,
		MaxWait:  clientConfig.FlushMaxWait,
		Timeout:  clientConfig.RequestTimeout,
	}, options...)
	if err != nil {
		return nil, err
	}
	resyncer, err := collab.NewResyncer(store, transport, clientConfig.RoomID, clientConfig.ResyncInterval, logger)
	if err != nil {
		return nil, err
	}
	if _, err := resyncer.Resync(ctx); err != nil {
		return nil, err
	}

	return &room{
		config:    clientConfig,
		logger:    logger,
		transport: transport,
		store:     store,
		scheduler: scheduler,
		resyncer:  resyncer,
	}, nil
}

func (r *room) flush(cmd *cobra.Command) error {
	defer r.logger.Sync() //nolint:errcheck
	result, err := r.scheduler.Flush(cmd.Context())
	if err != nil {
		return err
	}
	for _, rejected := range result.Rejected {
		fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %s\n", rejected.ShapeID, rejected.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sent %d applied %d rejected %d\n", result.Sent, len(result.Applied), len(result.Rejected))
	return nil
}

func newDrawCommand() *cobra.Command {
	var (
		from string
		to   string
		text string
	)
	cmd := &cobra.Command{
		Use:   "draw <rect|ellipse|line|arrow|text|sticky>",
		Short: "Draw one shape and persist it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shapeType, err := parseShapeType(args[0])
			if err != nil {
				return err
			}
			start, err := parsePoint(from)
			if err != nil {
				return err
			}
			end, err := parsePoint(to)
			if err != nil {
				return err
			}
			r, err := openRoom(cmd.Context())
			if err != nil {
				return err
			}

			id, err := r.store.BeginDraw(shapeType, start)
			if err != nil {
				return err
			}
			if err := r.store.DrawTo(end); err != nil {
				return err
			}
			if _, err := r.store.EndDraw(); err != nil {
				return err
			}
			if text != "" {
				shape, ok := r.store.Shape(id)
				if !ok {
					return fmt.Errorf("shape %s was discarded", id)
				}
				payload := r.store.Defaults().Text
				if shape.Text != nil {
					payload = *shape.Text
				}
				payload.Content = text
				if err := r.store.Edit(id, canvas.Patch{Text: &payload}); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return r.flush(cmd)
		},
	}
	cmd.Flags().StringVar(&from, "from", "0,0", "Start corner as x,y")
	cmd.Flags().StringVar(&to, "to", "100,60", "Opposite corner as x,y")
	cmd.Flags().StringVar(&text, "text", "", "Text content")
	return cmd
}

func newMoveCommand() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "move <shape-id>...",
		Short: "Move shapes by an offset and persist them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			offset, err := parsePoint(by)
			if err != nil {
				return err
			}
			r, err := openRoom(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := r.store.BeginDrag(canvas.Point{}, false, args...); err != nil {
				return err
			}
			if err := r.store.DragTo(offset); err != nil {
				r.store.CancelGesture()
				return err
			}
			if err := r.store.EndDrag(); err != nil {
				return err
			}
			return r.flush(cmd)
		},
	}
	cmd.Flags().StringVar(&by, "by", "10,10", "Offset as dx,dy")
	return cmd
}

func newDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <shape-id>...",
		Short: "Delete shapes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRoom(cmd.Context())
			if err != nil {
				return err
			}
			if err := r.store.Delete(args...); err != nil {
				return err
			}
			return r.flush(cmd)
		},
	}
}

func newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print the room snapshot as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			clientConfig, err := config.LoadClient(viper.GetViper())
			if err != nil {
				return err
			}
			transport := client.NewHTTPTransport(client.Config{
				BaseURL: clientConfig.ServerURL,
				Token:   clientConfig.Token,
				Timeout: clientConfig.RequestTimeout,
			})
			snapshot, err := transport.FetchSnapshot(cmd.Context(), clientConfig.RoomID)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(snapshot)
		},
	}
}

func newZoomCommand() *cobra.Command {
	var anchor string
	cmd := &cobra.Command{
		Use:   "zoom <factor>",
		Short: "Zoom the saved view around a screen point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var factor float64
			if _, err := fmt.Sscan(args[0], &factor); err != nil {
				return fmt.Errorf("zoom factor %q: %w", args[0], err)
			}
			point, err := parsePoint(anchor)
			if err != nil {
				return err
			}
			r, err := openRoom(cmd.Context())
			if err != nil {
				return err
			}
			defer r.logger.Sync() //nolint:errcheck

			saver, err := flush.NewViewSaver(r.store, r.transport, r.config.RoomID, r.config.ViewSaveDelay, r.logger)
			if err != nil {
				return err
			}
			current, err := r.transport.GetView(cmd.Context(), r.config.RoomID)
			if err != nil {
				return err
			}
			saver.MarkSaved(current)
			if err := r.store.SetView(current); err != nil {
				return err
			}
			if err := r.store.Zoom(factor, point); err != nil {
				return err
			}
			if err := saver.Save(cmd.Context()); err != nil {
				return err
			}
			view := r.store.View()
			fmt.Fprintf(cmd.OutOrStdout(), "scale %.3f offset %.1f,%.1f\n", view.Scale, view.OffsetX, view.OffsetY)
			return nil
		},
	}
	cmd.Flags().StringVar(&anchor, "anchor", "0,0", "Screen point kept fixed as x,y")
	return cmd
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Join the room and log presence and shape changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var session *collab.Session
			r, err := openRoom(ctx, flush.WithConnectionID(func() string { return session.ConnectionID() }))
			if err != nil {
				return err
			}
			defer r.logger.Sync() //nolint:errcheck

			userID, err := auth.UserIDFromToken(r.config.Token)
			if err != nil {
				return err
			}
			session = collab.NewSession(r.store, userID, r.logger)

			address, err := r.transport.RealtimeURL(r.config.RoomID)
			if err != nil {
				return err
			}
			conn, err := collab.Dial(ctx, address, r.logger)
			if err != nil {
				return err
			}
			defer conn.Close() //nolint:errcheck

			unsubscribe := r.store.Subscribe(func(change board.Change) {
				if change.Kind != board.ChangeRemote {
					return
				}
				for _, id := range change.ShapeIDs {
					if shape, ok := r.store.Shape(id); ok {
						r.logger.Info("shape changed", zap.String("shape_id", id), zap.String("type", string(shape.Type)), zap.Int64("version", shape.Version))
						continue
					}
					r.logger.Info("shape removed", zap.String("shape_id", id))
				}
			})
			defer unsubscribe()

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			group, groupCtx := errgroup.WithContext(runCtx)
			group.Go(func() error {
				defer cancel()
				return conn.Run(groupCtx, session)
			})
			group.Go(func() error { return ignoreCanceled(r.resyncer.Run(groupCtx)) })
			group.Go(func() error { return ignoreCanceled(r.scheduler.Run(groupCtx)) })
			group.Go(func() error {
				logPresence(groupCtx, session, r.logger)
				return nil
			})
			return group.Wait()
		},
	}
}

func logPresence(ctx context.Context, session *collab.Session, logger *zap.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		users := session.Presence().Users()
		ids := make([]string, 0, len(users))
		for _, user := range users {
			ids = append(ids, user.UserID)
		}
		current := fmt.Sprint(ids)
		if current == last {
			continue
		}
		last = current
		logger.Info("presence", zap.Strings("users", ids), zap.Int("cursors", len(session.CursorPositions())))
	}
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
