package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	kdb "github.com/st-keller/kdb-client"
	"github.com/st-keller/kdb-client/telemetry"
	"github.com/st-keller/kdb-client/types"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("example failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := kdb.LoadConfig()
	if err != nil {
		return err
	}
	var otelCfg telemetry.Config
	if err := env.Parse(&otelCfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	shutdown, err := telemetry.Setup(ctx, "kdb-example", otelCfg)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	client, err := kdb.Dial(ctx, cfg, kdb.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := client.Query(qctx, "t:([] c1:`a`b`c; c2:10 20 30; c3:1.1 2.2 3.3)"); err != nil {
		return err
	}
	result, err := client.Query(qctx, "select from t where c2>15,c1 in `b`c")
	if err != nil {
		return err
	}

	table, ok := result.(*types.Table)
	if !ok {
		return fmt.Errorf("expected a table, got %T", result)
	}
	fmt.Printf("%d rows\n", table.Rows())
	for i, name := range table.Columns {
		fmt.Printf("%s: %v\n", name, table.Data[i])
	}

	for _, s := range client.Stats() {
		logger.Info("kdb stats", "endpoint", s.Endpoint, "calls", s.TotalCalls, "p95_ms", s.LatencyP95)
	}
	return nil
}
