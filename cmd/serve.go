package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/man-iishkr/RupX/internal/attendance"
	"github.com/man-iishkr/RupX/internal/identity"
	"github.com/man-iishkr/RupX/internal/matcher"
	"github.com/man-iishkr/RupX/internal/metrics"
	"github.com/man-iishkr/RupX/internal/notify"
	"github.com/man-iishkr/RupX/internal/recognition"
	"github.com/man-iishkr/RupX/internal/training"
	"github.com/man-iishkr/RupX/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recognition API server",
	Long: `Start the RupX API server.

The server restores every trained project from the database, accepts
identity uploads from the training pipeline, runs recognition sessions
and serves attendance reports. Frames are posted over HTTP or streamed
over a WebSocket; session events are available as Server-Sent Events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// resolveServeHostPort applies flag overrides to the configured address.
func resolveServeHostPort(cmd *cobra.Command, env *engineEnv) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		env.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		env.cfg.Web.Host = host
	}
}

// restoreCatalog loads the latest identity version of every trained project.
func restoreCatalog(ctx context.Context, env *engineEnv) (*identity.Catalog, error) {
	catalog := identity.NewCatalog(env.backend, identity.Options{IndexThreshold: env.cfg.Recognition.HNSWMinIdentities})
	n, err := catalog.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("restoring identities: %w", err)
	}
	env.logger.Info("identities restored", "projects", n)
	return catalog, nil
}

// newLedger wraps the backend ledger with the mark cache when enabled.
func newLedger(env *engineEnv) (attendance.Ledger, error) {
	if env.cfg.Recognition.MarkCacheSize <= 0 {
		return env.backend, nil
	}
	cached, err := attendance.NewCachedLedger(env.backend, env.cfg.Recognition.MarkCacheSize, env.loc)
	if err != nil {
		return nil, fmt.Errorf("creating mark cache: %w", err)
	}
	return cached, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setupEngineEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	resolveServeHostPort(cmd, env)

	catalog, err := restoreCatalog(ctx, env)
	if err != nil {
		return err
	}
	ledger, err := newLedger(env)
	if err != nil {
		return err
	}

	defaultMode, err := attendance.ParseMode(env.cfg.Attendance.DefaultMode, attendance.ModeDaily)
	if err != nil {
		return err
	}

	m := metrics.New()
	notifier := notify.New(env.cfg.Notify)
	rc := env.cfg.Recognition
	registry := recognition.NewRegistry(catalog, ledger, recognition.Options{
		Matcher:       matcher.New(rc.Threshold, rc.TieEpsilon),
		DefaultMode:   defaultMode,
		Workers:       rc.Workers,
		UnknownStreak: rc.UnknownStreak,
		TrackTTL:      rc.TrackTTL,
		Notifier:      notifier,
		NotifyTimeout: env.cfg.Notify.Timeout,
		Metrics:       m,
		Logger:        env.logger,
	})
	trainer := training.New(catalog, env.backend, notifier, training.Options{
		Dim:           rc.EmbeddingDim,
		NotifyTimeout: env.cfg.Notify.Timeout,
	}, env.logger)

	server := web.NewServer(env.cfg, registry, trainer, m, env.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("RupX API listening on http://%s:%d/api/v1\n", env.cfg.Web.Host, env.cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	select {
	case err := <-errCh:
		registry.Close()
		return err
	case <-ctx.Done():
	}

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
