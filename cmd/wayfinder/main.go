// Command wayfinder fetches and verifies one piece of permanent data.
//
// It reads configuration from environment variables (or wayfinder.yaml) and
// writes the verified payload to stdout:
//
//	TRUSTED_GATEWAYS=https://permagate.io ./wayfinder ar://<txId>
//
// See internal/config for all available configuration variables.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ar-io/wayfinder-go/internal/client"
	"github.com/ar-io/wayfinder-go/internal/config"
	"github.com/ar-io/wayfinder-go/internal/events"
	"github.com/ar-io/wayfinder-go/internal/logger"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s ar://<txId|name>[/path]\n", os.Args[0])
		os.Exit(2)
	}
	uri := os.Args[1]

	// Load configuration — exits with a descriptive error when a variable
	// is malformed.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build the structured logger. All subsystems share this instance.
	slogger := logger.Build(cfg.LogLevel)
	slog.SetDefault(slogger)

	c, reg, recorder, err := client.FromConfig(ctx, cfg, slogger, version)
	if err != nil {
		slogger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer recorder.Close()

	if reg != nil {
		if port := os.Getenv("METRICS_PORT"); port != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", reg.Handler())
				if err := http.ListenAndServe(":"+port, mux); err != nil {
					slogger.Error("metrics server stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}

	resp, err := c.Request(ctx, uri,
		client.WithEventHandler(events.VerificationFailed, func(_ context.Context, ev events.Event) {
			slogger.Warn("verification_failed",
				slog.String("tx_id", ev.TxID),
				slog.String("error", errString(ev.Err)),
			)
		}),
	)
	if err != nil {
		slogger.Error("request failed", slog.String("uri", uri), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		slogger.Error("stream error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
