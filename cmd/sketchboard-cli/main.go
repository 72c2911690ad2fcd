package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "sketchboard-cli",
		Short:        "Headless Sketchboard room client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newDrawCommand(),
		newMoveCommand(),
		newDeleteCommand(),
		newSnapshotCommand(),
		newZoomCommand(),
		newWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server", defaults.GetString("client.server_url"), "Server base URL")
	cmd.PersistentFlags().String("token", "", "Session token (overrides env)")
	cmd.PersistentFlags().String("room", defaults.GetString("client.room"), "Room identifier")
	cmd.PersistentFlags().String("client-id", defaults.GetString("client.client_id"), "Client identifier (random when empty)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "Log format (json, console)")

	bindFlag(cmd, "client.server_url", "server")
	bindFlag(cmd, "client.token", "token")
	bindFlag(cmd, "client.room", "room")
	bindFlag(cmd, "client.client_id", "client-id")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
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

// parsePoint reads "x,y".
func parsePoint(value string) (canvas.Point, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return canvas.Point{}, fmt.Errorf("point %q must be x,y", value)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return canvas.Point{}, fmt.Errorf("point %q: %w", value, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return canvas.Point{}, fmt.Errorf("point %q: %w", value, err)
	}
	return canvas.Point{X: x, Y: y}, nil
}

func parseShapeType(value string) (canvas.ShapeType, error) {
	shapeType := canvas.ShapeType(strings.ToLower(strings.TrimSpace(value)))
	switch shapeType {
	case canvas.ShapeRect, canvas.ShapeEllipse, canvas.ShapeLine, canvas.ShapeArrow, canvas.ShapeText, canvas.ShapeSticky:
		return shapeType, nil
	default:
		return "", fmt.Errorf("unknown shape type %q", value)
	}
}
