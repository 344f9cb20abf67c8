// cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/fatiguedetector/internal/config"
	"github.com/ColonelBlimp/fatiguedetector/internal/fatigue"
	"github.com/ColonelBlimp/fatiguedetector/internal/hub"
	"github.com/ColonelBlimp/fatiguedetector/internal/recovery"
	"github.com/ColonelBlimp/fatiguedetector/internal/stream"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume live samples from NATS and publish state transitions",
	Long: `Subscribes to the sample subject, runs the detector and publishes state
transitions (and optionally debug frames) back to NATS. When listen_addr is
set, events are also pushed to websocket clients on /ws and the current
status is served on /state.

Publish {"action":"reset"} on the control subject to start a new set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := settings.NewLogger(cmd.ErrOrStderr())

	det, err := fatigue.New(settings.Detector(), fatigue.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("config: detector: %w", err)
	}

	nc, err := stream.Connect(settings.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", settings.NATSURL, err)
	}
	defer nc.Close()

	var h *hub.Hub
	var broadcaster stream.Broadcaster
	if settings.ListenAddr != "" {
		h = hub.New(logger)
		broadcaster = h
	}

	bridge, err := stream.NewBridge(stream.Config{
		SampleSubject:  settings.SampleSubject,
		StateSubject:   settings.StateSubject,
		DebugSubject:   settings.DebugSubject,
		ControlSubject: settings.ControlSubject,
		PublishDebug:   settings.PublishDebug,
	}, det, nc, broadcaster, logger)
	if err != nil {
		return err
	}
	if err := bridge.Start(nc); err != nil {
		return err
	}
	defer func() {
		if err := bridge.Close(); err != nil {
			logger.Warn("bridge close", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	var srv *http.Server
	if h != nil {
		srv = &http.Server{
			Addr:              settings.ListenAddr,
			Handler:           h.Handler(func() any { return bridge.Status() }),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			defer recovery.HandlePanicFunc(stop)
			logger.Info("websocket hub listening", "addr", settings.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("http shutdown", "error", serr)
		}
		h.Close()
	}
	return err
}
