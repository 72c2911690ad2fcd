package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/auth"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/cache"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/config"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/database"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/logging"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/membership"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/realtime"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/server"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/shapes"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sketchboard-api",
		Short: "Sketchboard canvas synchronization service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand(), newGrantCommand(), newRebuildSnapshotCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Origins allowed for CORS and websocket upgrades")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("redis-url", defaults.GetString("redis.url"), "Redis URL for the snapshot mirror (optional)")
	cmd.PersistentFlags().String("membership-policy", defaults.GetString("membership.policy"), "Room membership policy (open, closed)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "redis.url", "redis-url")
	bindFlag(cmd, "membership.policy", "membership-policy")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// environment holds what every subcommand opens from configuration.
type environment struct {
	config config.AppConfig
	logger *zap.Logger
	db     *gorm.DB
}

func openEnvironment() (*environment, func(), error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.Open(database.Config{Driver: appConfig.DatabaseDriver, DSN: appConfig.DatabaseDSN}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	cleanup := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}
	return &environment{config: appConfig, logger: logger, db: db}, cleanup, nil
}

func runServer(ctx context.Context) error {
	env, cleanup, err := openEnvironment()
	if err != nil {
		return err
	}
	defer cleanup()
	appConfig, logger := env.config, env.logger

	var mirror shapes.SnapshotMirror
	if appConfig.RedisURL != "" {
		redisMirror, err := cache.NewRedisSnapshotMirror(appConfig.RedisURL, appConfig.SnapshotTTL)
		if err != nil {
			return err
		}
		defer redisMirror.Close() //nolint:errcheck
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisMirror.Ping(pingCtx); err != nil {
			logger.Warn("snapshot mirror unavailable", zap.Error(err))
		}
		cancel()
		mirror = redisMirror
	}

	shapeService, err := shapes.NewService(shapes.ServiceConfig{
		Database:   env.db,
		Clock:      time.Now,
		IDProvider: shapes.NewUUIDProvider(),
		Mirror:     mirror,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	policy, err := membership.ParsePolicy(appConfig.MembershipPolicy)
	if err != nil {
		return err
	}
	memberships, err := membership.NewService(membership.ServiceConfig{
		Database: env.db,
		Policy:   policy,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		CookieName:    appConfig.CookieName,
	})
	if err != nil {
		return err
	}

	hub := realtime.NewHub(realtime.WithLogger(logger))

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Membership:       memberships,
		Shapes:           shapeService,
		Hub:              hub,
		AllowedOrigins:   appConfig.AllowedOrigins,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := shapes.NewSweeper(shapeService, appConfig.TombstoneRetention, appConfig.SweepInterval, logger)
	go sweeper.Run(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
			zap.String("membership_policy", string(policy)),
			zap.Bool("snapshot_mirror", mirror != nil),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newIssueTokenCommand() *cobra.Command {
	var (
		email       string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token <user-id>",
		Short: "Print a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signingSecret := viper.GetString("auth.signing_secret")
			if signingSecret == "" {
				return fmt.Errorf("auth.signing_secret is required")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(signingSecret),
				Issuer:        viper.GetString("auth.issuer"),
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(auth.Identity{UserID: args[0], Email: email, DisplayName: displayName})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default 12h)")
	return cmd
}

func newGrantCommand() *cobra.Command {
	var (
		owner  bool
		revoke bool
	)
	cmd := &cobra.Command{
		Use:   "grant <room-id> <user-id>",
		Short: "Add or remove a room member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, cleanup, err := openEnvironment()
			if err != nil {
				return err
			}
			defer cleanup()

			memberships, err := membership.NewService(membership.ServiceConfig{
				Database: env.db,
				Policy:   membership.PolicyClosed,
				Logger:   env.logger,
			})
			if err != nil {
				return err
			}
			if revoke {
				return memberships.Remove(cmd.Context(), args[0], args[1])
			}
			role := membership.RoleEditor
			if owner {
				role = membership.RoleOwner
			}
			if err := memberships.Add(cmd.Context(), args[0], args[1], role); err != nil {
				return err
			}
			members, err := memberships.Members(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, member := range members {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", member.UserID, member.Role)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&owner, "owner", false, "Grant the owner role")
	cmd.Flags().BoolVar(&revoke, "revoke", false, "Remove the member instead")
	return cmd
}

func newRebuildSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild-snapshot <room-id>",
		Short: "Regenerate a room snapshot from its shape rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roomID, err := shapes.NewRoomID(args[0])
			if err != nil {
				return err
			}
			env, cleanup, err := openEnvironment()
			if err != nil {
				return err
			}
			defer cleanup()

			shapeService, err := shapes.NewService(shapes.ServiceConfig{Database: env.db, Logger: env.logger})
			if err != nil {
				return err
			}
			snapshot, err := shapeService.RebuildSnapshot(cmd.Context(), roomID)
			if err != nil {
				return err
			}
			env.logger.Info("snapshot rebuilt", zap.String("room_id", roomID.String()), zap.Int("shapes", len(snapshot.Shapes)))
			return nil
		},
	}
}
