package queue

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/models"
)

// ScanStats summarizes a directory replay
type ScanStats struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Partial   int           `json:"partial"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// FileResult is the outcome of one replayed file
type FileResult struct {
	Path   string
	Result *HandleResult
}

// Record returns the record emitted for the file, or nil
func (r FileResult) Record() *models.ProcessingRecord {
	if r.Result == nil {
		return nil
	}
	if recs := r.Result.Records(); len(recs) > 0 {
		return recs[0]
	}
	return nil
}

// Outcome returns the file's outcome; a file without a record failed
func (r FileResult) Outcome() models.Outcome {
	if rec := r.Record(); rec != nil {
		return rec.Outcome
	}
	return models.OutcomeFailed
}

// DirectoryScanner replays every PDF under a directory through the intake
// handler. There is no broker, so nothing is acknowledged.
type DirectoryScanner struct {
	root        string
	handler     *Handler
	concurrency int
	logger      *logging.Logger
}

// NewDirectoryScanner creates a scanner. concurrency bounds how many files
// are processed at once.
func NewDirectoryScanner(root string, handler *Handler, concurrency int, logger *logging.Logger) *DirectoryScanner {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = logging.NewLogger("DirectoryScanner")
	}
	return &DirectoryScanner{root: root, handler: handler, concurrency: concurrency, logger: logger}
}

// ListPDFs returns the *.pdf files under root in lexicographic order.
// Hidden files and directories are skipped.
func ListPDFs(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".pdf") {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// Scan processes every PDF and returns per-file results in file order
func (s *DirectoryScanner) Scan(ctx context.Context) ([]FileResult, ScanStats, error) {
	start := time.Now()

	files, err := ListPDFs(s.root)
	if err != nil {
		return nil, ScanStats{}, err
	}
	s.logger.Info("Starting directory replay", "root", s.root, "files", len(files), "concurrency", s.concurrency)

	results := make([]FileResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			msg := scanMessage(path)
			results[i] = FileResult{Path: path, Result: s.handler.Process(gctx, msg)}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, ScanStats{}, err
	}

	stats := ScanStats{Total: len(files)}
	for _, r := range results {
		switch r.Outcome() {
		case models.OutcomeSuccess:
			stats.Succeeded++
		case models.OutcomePartial:
			stats.Partial++
		default:
			stats.Failed++
		}
	}
	stats.Duration = time.Since(start)

	s.logger.Info("Directory replay complete",
		"total", stats.Total,
		"succeeded", stats.Succeeded,
		"partial", stats.Partial,
		"failed", stats.Failed,
		"duration", stats.Duration.String())

	return results, stats, nil
}

// scanMessage builds the message a broker would have delivered for path.
// The message ID is derived from the path so replays are stable.
func scanMessage(path string) *models.IntakeMessage {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &models.IntakeMessage{
		MessageID: uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(),
		FileRef:   abs,
	}
}
