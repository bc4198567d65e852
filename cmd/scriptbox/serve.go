package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelbrown/scriptbox/internal/sandbox"
	"github.com/michaelbrown/scriptbox/internal/server"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scriptbox HTTP server",
	Long: `Start the HTTP server. POST /api/run executes a script; GET / reports health.

Containers orphaned by a previous process are removed at startup.

Examples:
  scriptbox serve
  scriptbox serve --port 9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	sb, rt, err := newSandbox(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := sb.Policy.ValidateDeadline(cfg.Server.RequestTimeout); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	ctx := cmd.Context()
	sweeper := sandbox.NewSweeper(rt, sb.Policy, log)
	if n, err := sweeper.Sweep(ctx, orphanAge(sb.Policy)); err != nil {
		log.Warn("sweeping orphaned containers", zap.Error(err))
	} else if n > 0 {
		log.Info("removed orphaned containers", zap.Int("count", n))
	}

	// Each request checks again, so a missing image can be fixed without a restart.
	if err := sb.Provision(ctx); err != nil {
		log.Warn("sandbox not provisioned", zap.String("kind", sandbox.KindOf(err).String()), zap.Error(err))
	}

	port := cfg.Server.Port
	if portFlag > 0 {
		port = portFlag
	}

	srv := server.New(cfg.Server, sb, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		srv.Shutdown(context.Background())
	}()

	if err := srv.Start(port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
