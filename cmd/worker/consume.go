package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume intake messages from the broker",
	Long: `Consume intake messages from the configured broker until SIGINT or SIGTERM.
With TEST_MODE set, the input directory is replayed instead and nothing is
uploaded.`,
	RunE: runConsume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	log := logging.NewLogger("Main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TestMode {
		log.Info("TEST_MODE enabled, replaying input directory", "dir", cfg.PDFInputPath)
		return runScanDir(ctx, cfg.PDFInputPath, cmd.OutOrStdout())
	}

	w, err := newWorker(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			log.Error("Error closing worker", "error", err)
		}
	}()

	consumer, err := w.newConsumer()
	if err != nil {
		return fmt.Errorf("failed to initialize queue consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	log.Info("PDF intake worker is ready",
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"prefetch", cfg.Prefetch,
		"onMissingFile", cfg.OnMissingFile,
		"output", cfg.JSONOutputPath,
		"bucket", cfg.ObjectBucket)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, draining in-flight messages...")
	case runErr = <-consumer.Err():
		log.Error("Queue consumer failed, draining in-flight messages...", "error", runErr)
	}

	if err := consumer.Stop(); err != nil {
		log.Error("Error stopping queue consumer", "error", err)
	}

	stats, err := w.sink.GetStats(context.Background())
	if err == nil {
		log.Info("Sink statistics", "stats", stats)
	}
	if runErr != nil {
		return fmt.Errorf("queue consumer stopped: %w", runErr)
	}
	log.Info("Shutdown complete")
	return nil
}
