package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/pdf-intake-worker/internal/clients"
	"github.com/adverant/nexus/pdf-intake-worker/internal/config"
	"github.com/adverant/nexus/pdf-intake-worker/internal/extract"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
	"github.com/adverant/nexus/pdf-intake-worker/internal/processor"
	"github.com/adverant/nexus/pdf-intake-worker/internal/queue"
	"github.com/adverant/nexus/pdf-intake-worker/internal/storage"
	"github.com/adverant/nexus/pdf-intake-worker/internal/summarize"
)

// worker holds every long-lived component built from the configuration
type worker struct {
	cfg     *config.Config
	logger  *logging.Logger
	nlp     *clients.NLPClient
	gcs     *storage.GCSClient
	sink    *storage.StorageManager
	handler *queue.Handler
}

// newSummarizer builds the summarizer for the configured engine. nlp may
// be nil unless the engine is keyphrases.
func newSummarizer(engine string, nlp *clients.NLPClient, logger *logging.Logger) (*summarize.Summarizer, error) {
	var detector summarize.KeyPhraseDetector
	if nlp != nil {
		detector = nlp
	}
	preferred, err := summarize.EngineByName(engine, detector)
	if err != nil {
		return nil, err
	}
	return summarize.New(summarize.Options{Preferred: preferred, Logger: logger}), nil
}

// newWorker wires the pipeline. live selects <messageID>_<stem>.json names
// for the local result files.
func newWorker(ctx context.Context, cfg *config.Config, live bool) (*worker, error) {
	w := &worker{cfg: cfg, logger: logging.NewLogger("Worker")}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	if cfg.NLPEnabled() {
		nlp, err := clients.NewNLPClient(ctx, clients.NLPClientConfig{
			ProjectID: cfg.GCPProject,
			Region:    cfg.GCPRegion,
			Model:     cfg.NLPModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize NLP client: %w", err)
		}
		w.nlp = nlp
		w.logger.Info("Cloud NLP enabled", "project", cfg.GCPProject, "region", cfg.GCPRegion, "model", cfg.NLPModel)
	} else {
		w.logger.Info("Cloud NLP disabled, pattern extractors only")
	}

	cedulas := []extract.CedulaExtractor{extract.NewPatternCedula()}
	names := []extract.NameExtractor{extract.NewPatternName()}
	if w.nlp != nil {
		cedulas = append(cedulas, extract.NewNLPCedula(w.nlp, extract.NLPOptions{}))
		names = append(names, extract.NewNLPName(w.nlp, extract.NLPOptions{}))
	}
	entities := extract.NewSet(
		extract.NewCedulaChain(logging.NewLogger("CedulaChain"), cedulas...),
		extract.NewNameChain(logging.NewLogger("NameChain"), names...),
	)

	summarizer, err := newSummarizer(cfg.SummaryEngine, w.nlp, logging.NewLogger("Summarizer"))
	if err != nil {
		return nil, err
	}

	ocr := processor.NewTesseractOCR(&processor.TesseractConfig{Languages: cfg.OCRLanguages})
	extractor := processor.NewPDFExtractor(processor.ExtractorConfig{
		MinNativeChars: cfg.MinNativeChars,
		OCRDPI:         cfg.OCRDPI,
		OCRConcurrency: cfg.OCRConcurrency,
		MaxPages:       cfg.MaxPages,
	}, ocr)

	proc, err := processor.NewDocumentProcessor(&processor.ProcessorConfig{
		Extractor:        extractor,
		Entities:         entities,
		Summarizer:       summarizer,
		SummarySentences: cfg.SummarySentences,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document processor: %w", err)
	}

	managerCfg := storage.ManagerConfig{OutputDir: cfg.JSONOutputPath, Live: live}
	var objects queue.ObjectReader
	if !cfg.TestMode {
		gcs, err := storage.NewGCSClient(ctx, cfg.ObjectBucket, cfg.ObjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize object storage: %w", err)
		}
		w.gcs = gcs
		managerCfg.Uploader = gcs
		objects = gcs
	}
	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize record store: %w", err)
		}
		managerCfg.Records = pg
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	sink, err := storage.NewStorageManager(managerCfg)
	if err != nil {
		if managerCfg.Records != nil {
			managerCfg.Records.Close()
		}
		return nil, fmt.Errorf("failed to initialize storage manager: %w", err)
	}
	w.sink = sink

	handler, err := queue.NewHandler(&queue.HandlerConfig{
		Processor:         proc,
		Sink:              sink,
		Resolver:          queue.NewFileResolver(cfg.RootPath, objects),
		OnMissingFile:     cfg.OnMissingFile,
		NackRequeue:       cfg.NackRequeue,
		ProcessingTimeout: w.processingTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize intake handler: %w", err)
	}
	w.handler = handler

	ok = true
	return w, nil
}

func (w *worker) processingTimeout() time.Duration {
	return time.Duration(w.cfg.ProcessingTimeoutMs) * time.Millisecond
}

// newConsumer creates the broker transport for the configured backend
func (w *worker) newConsumer() (queue.Consumer, error) {
	switch w.cfg.QueueBackend {
	case config.BackendAsynq:
		return queue.NewAsynqConsumer(&queue.AsynqConsumerConfig{
			RedisURL:            w.cfg.RedisURL,
			QueueName:           w.cfg.QueueName,
			Prefetch:            w.cfg.Prefetch,
			Handler:             w.handler,
			ProcessingTimeout:   w.processingTimeout(),
			MaxConnectionErrors: w.cfg.MaxConnectionErrors,
		})
	default:
		return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:            w.cfg.RedisURL,
			QueueName:           w.cfg.QueueName,
			Prefetch:            w.cfg.Prefetch,
			Handler:             w.handler,
			ProcessingTimeout:   w.processingTimeout(),
			MaxConnectionErrors: w.cfg.MaxConnectionErrors,
		})
	}
}

// Close releases clients in reverse order of creation
func (w *worker) Close() error {
	var errs []error
	if w.sink != nil {
		errs = append(errs, w.sink.Close())
	}
	if w.gcs != nil {
		errs = append(errs, w.gcs.Close())
	}
	if w.nlp != nil {
		errs = append(errs, w.nlp.Close())
	}
	return errors.Join(errs...)
}
