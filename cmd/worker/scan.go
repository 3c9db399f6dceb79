package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pdf-intake-worker/internal/queue"
)

var scanDir string

var scanCmd = &cobra.Command{
	Use:         "scan",
	Short:       "Replay every PDF in a directory through the pipeline",
	Annotations: map[string]string{"mode": "offline"},
	Long: `Process every *.pdf under the input directory in lexicographic order, the
same way consumed messages are processed, without a broker. Results are
written to JSON_OUTPUT_PATH; statistics are printed as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir := scanDir
		if dir == "" {
			dir = cfg.PDFInputPath
		}
		return runScanDir(ctx, dir, cmd.OutOrStdout())
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanDir, "dir", "", "directory to scan (default PDF_INPUT_PATH)")
	rootCmd.AddCommand(scanCmd)
}

type scanReport struct {
	Stats queue.ScanStats `json:"stats"`
	Files []scanFile      `json:"files"`
}

type scanFile struct {
	Path    string `json:"path"`
	Outcome string `json:"outcome"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

func runScanDir(ctx context.Context, dir string, out io.Writer) error {
	offline := *cfg
	offline.TestMode = true

	w, err := newWorker(ctx, &offline, false)
	if err != nil {
		return err
	}
	defer w.Close()

	results, stats, err := queue.NewDirectoryScanner(dir, w.handler, cfg.Prefetch, nil).Scan(ctx)
	if err != nil {
		return err
	}

	report := scanReport{Stats: stats, Files: make([]scanFile, 0, len(results))}
	for _, r := range results {
		f := scanFile{Path: r.Path, Outcome: string(r.Outcome())}
		if r.Result == nil {
			report.Files = append(report.Files, f)
			continue
		}
		for _, doc := range r.Result.Documents {
			if doc.Emit != nil {
				f.Output = doc.Emit.LocalPath
			}
		}
		if r.Result.Err != nil {
			f.Error = r.Result.Err.Error()
		}
		report.Files = append(report.Files, f)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
