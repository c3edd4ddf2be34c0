// rdp-server bridges a local Wayland desktop to a remote RDP client:
// GNOME Mutter/portal screen capture and input injection on one side,
// an RDP virtual-channel session (graphics, input, clipboard) on the
// other. CLI surface and exit codes per spec: listen_address, port
// (default 3389), config_path, verbosity; exit 0 on clean shutdown, 1 on
// configuration error, 2 on fatal runtime error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lamco-admin/wayland-rdp-sub000/internal/config"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/rdpproto"
	"github.com/lamco-admin/wayland-rdp-sub000/internal/session"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("rdp-server: command failed")
		return exitConfigError
	}
	return exitCode
}

// exitCode is set by the RunE handler since cobra itself only reports
// success/failure, not our three-way exit code taxonomy (spec §6).
var exitCode int

func newRootCmd() *cobra.Command {
	var (
		listenAddress string
		port          int
		configPath    string
		verbose       bool
	)

	cmd := &cobra.Command{
		Use:   "rdp-server",
		Short: "RDP-over-Wayland bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				log.Error().Err(err).Msg("rdp-server: configuration error")
				exitCode = exitConfigError
				return nil
			}
			if listenAddress != "" {
				cfg.Listen.Address = listenAddress
			}
			if port != 0 {
				cfg.Listen.Port = port
			}
			if err := cfg.Validate(); err != nil {
				log.Error().Err(err).Msg("rdp-server: configuration error")
				exitCode = exitConfigError
				return nil
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			if err := serve(logger, cfg); err != nil {
				logger.Error("rdp-server: fatal runtime error", "err", err)
				exitCode = exitRuntimeError
				return nil
			}
			exitCode = exitOK
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen_address", "", "bind address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config, default 3389)")
	cmd.Flags().StringVar(&configPath, "config_path", "", "path to TOML config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	return cmd
}

func serve(logger *slog.Logger, cfg config.Config) error {
	logger.Info("rdp-server: starting", "listen", fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ln, err := session.NewTLSListener(cfg)
	if err != nil {
		return fmt.Errorf("rdp-server: listen: %w", err)
	}

	acceptor := rdpproto.NewListenerAcceptor(ln)
	srv := session.NewServer(logger, cfg, acceptor)

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("rdp-server: server: %w", err)
	}

	logger.Info("rdp-server: shutdown complete")
	return nil
}
