package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/ledger"
	"fenrir/internal/wire"
)

func main() {
	cfg := config.FromEnv()
	zerolog.SetGlobalLevel(cfg.LogLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	eng := engine.New(ctx, engine.Config{
		AutoCreateSymbols: cfg.AutoCreateSymbols,
		ReportBuffer:      cfg.ReportBuffer,
		LatencyWindow:     cfg.LatencyWindow,
	})

	books := ledger.New()
	go applyReportsToLedger(eng, books)

	srv := wire.New(cfg.Address, cfg.Port, eng)

	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Error().Err(err).Msg("server exited")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	srv.Shutdown()
	if err := eng.Shutdown(); err != nil {
		log.Error().Err(err).Msg("engine shutdown error")
	}
}

// applyReportsToLedger feeds every execution report into the position
// ledger under the order's ClientID, so the ledger's positions reflect
// fills as they happen.
func applyReportsToLedger(eng *engine.Engine, books *ledger.Ledger) {
	for report := range eng.Reports() {
		books.OnExecution(report.ClientID, report)
	}
}
