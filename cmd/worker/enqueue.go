package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
	"github.com/adverant/nexus/pdf-intake-worker/internal/queue"
)

var (
	enqueueSubject        string
	enqueueSender         string
	enqueueClassification string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <file-ref>...",
	Short: "Publish intake messages for files",
	Long: `Publish one intake message per file reference to the configured broker.
References may be local paths (relative to ROOT_PATH) or gs:// URIs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueSubject, "subject", "", "subject metadata")
	enqueueCmd.Flags().StringVar(&enqueueSender, "sender", "", "sender metadata")
	enqueueCmd.Flags().StringVar(&enqueueClassification, "classification", "", "classification metadata")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	log := logging.NewLogger("Enqueue")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pub, err := queue.NewPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	now := time.Now().UTC()
	for _, ref := range args {
		msg := models.IntakeMessage{
			MessageID:      uuid.New().String(),
			FileRef:        filepath.ToSlash(ref),
			Subject:        enqueueSubject,
			Sender:         enqueueSender,
			Classification: enqueueClassification,
			ReceivedAt:     &now,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message for %s: %w", ref, err)
		}
		if err := pub.Publish(ctx, body); err != nil {
			return err
		}
		log.Info("Message published", "messageId", msg.MessageID, "fileRef", msg.FileRef, "queue", cfg.QueueName)
		fmt.Fprintln(cmd.OutOrStdout(), msg.MessageID)
	}
	return nil
}
