// Command ingest-email is an MTA pipe target: it reads one raw message from
// stdin and runs it through the email pipeline. It exits 0 even when the
// message is rejected or fails to parse so the MTA does not bounce it;
// outcomes are recorded in processing_logs.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mr1hm/go-disaster-ingest/internal/app"
	"github.com/mr1hm/go-disaster-ingest/internal/config"
	"github.com/mr1hm/go-disaster-ingest/internal/logging"
	"github.com/mr1hm/go-disaster-ingest/internal/observability"
)

const maxMessageBytes = 25 << 20

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	raw, err := io.ReadAll(io.LimitReader(os.Stdin, maxMessageBytes))
	if err != nil {
		logging.Fatalf("Failed to read message: %v", err)
	}

	// nothing scrapes a one-shot process
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	a, err := app.Build(cfg, metrics, slog.Default())
	if err != nil {
		logging.Fatalf("Failed to initialize pipeline: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := a.Runner.IngestMIME(ctx, raw)
	if err != nil {
		slog.Error("email ingestion failed", "bytes", len(raw), "error", err)
		return
	}
	slog.Info("email ingested", "processed", res.Processed, "new", res.New,
		"updated", res.Updated, "errors", len(res.Errors))
}
