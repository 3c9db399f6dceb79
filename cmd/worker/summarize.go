package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf-intake-worker/internal/clients"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/text"
)

var (
	summarizeSentences int
	summarizeEngine    string
)

var summarizeCmd = &cobra.Command{
	Use:         "summarize [file]",
	Short:       "Summarize a text file (or stdin)",
	Annotations: map[string]string{"mode": "offline"},
	Args:        cobra.MaximumNArgs(1),
	RunE:        runSummarize,
}

func init() {
	summarizeCmd.Flags().IntVarP(&summarizeSentences, "sentences", "n", 0, "summary length (default SUMMARY_SENTENCES)")
	summarizeCmd.Flags().StringVar(&summarizeEngine, "engine", "", "textrank, frequency or keyphrases (default SUMMARY_ENGINE)")
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	engine := summarizeEngine
	if engine == "" {
		engine = cfg.SummaryEngine
	}
	n := summarizeSentences
	if n <= 0 {
		n = cfg.SummarySentences
	}

	var nlp *clients.NLPClient
	if engine == "keyphrases" && cfg.NLPEnabled() {
		nlp, err = clients.NewNLPClient(ctx, clients.NLPClientConfig{
			ProjectID: cfg.GCPProject,
			Region:    cfg.GCPRegion,
			Model:     cfg.NLPModel,
		})
		if err != nil {
			return err
		}
		defer nlp.Close()
	}

	s, err := newSummarizer(engine, nlp, logging.NewLogger("Summarizer"))
	if err != nil {
		return err
	}
	summary := s.SummarizeDetailed(ctx, text.Normalize(string(raw)), n)

	logging.NewLogger("Summarize").Debug("Summary produced",
		"engine", summary.Engine, "sentences", summary.Sentences, "truncated", summary.Truncated)
	fmt.Fprintln(cmd.OutOrStdout(), summary.Text)
	return nil
}
