package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/gftdcojp/flowfile-queue/internal/config"
	"github.com/gftdcojp/flowfile-queue/internal/events"
	"github.com/gftdcojp/flowfile-queue/internal/flowfile"
	"github.com/gftdcojp/flowfile-queue/internal/ingest"
	"github.com/gftdcojp/flowfile-queue/internal/metrics"
	"github.com/gftdcojp/flowfile-queue/internal/queue"
	"github.com/gftdcojp/flowfile-queue/internal/repo"
	"github.com/gftdcojp/flowfile-queue/internal/scheduler"
	"github.com/gftdcojp/flowfile-queue/internal/serve"
	"github.com/gftdcojp/flowfile-queue/internal/swap"
	"github.com/gftdcojp/flowfile-queue/pkg/natsutil"
	"github.com/gftdcojp/flowfile-queue/pkg/s3util"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("flowfile-queue %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	nc, err := natsutil.Connect(cfg.NATS, logger.Named("nats"))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	repository, err := repo.NewBoltRepository(cfg.Repository.Path, cfg.Repository.NoSync, logger.Named("repo"))
	if err != nil {
		return fmt.Errorf("opening flowfile repository: %w", err)
	}
	defer repository.Close()

	// The S3 client is shared between the swap manager and the readiness
	// probe when the S3 backend is configured.
	var s3Client *s3util.Client
	if cfg.Swap.Backend == "s3" {
		s3Client, err = s3util.NewClient(ctx, cfg.Swap.S3)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
	}

	swapManager, err := newSwapManager(cfg.Swap, s3Client, logger)
	if err != nil {
		return fmt.Errorf("creating swap manager: %w", err)
	}

	reporter := events.MultiReporter{
		events.NewLogReporter(logger.Named("events")),
		events.NewNATSReporter(nc, cfg.NATS.BulletinSubject, logger.Named("events")),
	}

	claimManager := flowfile.NewClaimManager()
	sched := scheduler.NewChannelScheduler()

	// Seed the record id generator past everything the repository has seen.
	var nextID atomic.Uint64
	maxID, err := repository.MaxRecordID()
	if err != nil {
		return fmt.Errorf("reading max record id: %w", err)
	}
	nextID.Store(maxID)

	g, gctx := errgroup.WithContext(ctx)

	var queues []*queue.Queue
	for _, qc := range cfg.Queues {
		qc := qc
		config.ApplyQueueDefaults(&qc)

		source := scheduler.StandardComponent{ID: qc.Identifier + ".source", Strategy: scheduler.EventDriven}
		dest := scheduler.StandardComponent{ID: qc.Identifier + ".destination", Strategy: scheduler.EventDriven}

		prioritizers := make([]flowfile.Prioritizer, 0, len(qc.Prioritizers))
		for _, name := range qc.Prioritizers {
			p, err := flowfile.PrioritizerByName(name)
			if err != nil {
				return fmt.Errorf("queue %s: %w", qc.Identifier, err)
			}
			prioritizers = append(prioritizers, p)
		}

		q := queue.New(queue.Config{
			Identifier:           qc.Identifier,
			Connection:           scheduler.StandardConnection{Src: source, Dst: dest},
			Scheduler:            sched,
			SwapManager:          swapManager,
			FlowFileRepository:   repository,
			ProvenanceRepository: repository,
			ClaimManager:         claimManager,
			EventReporter:        reporter,
			SwapThreshold:        qc.SwapThreshold,
			DiscardCorruptSwap:   cfg.Swap.DiscardCorruptSwap,
			Logger:               logger.Named("queue").With(zap.String("queue", qc.Identifier)),
		})
		q.SetPriorities(prioritizers)
		q.SetBackPressureObjectThreshold(int64(qc.MaxObjectCount))
		if err := q.SetBackPressureDataSizeThreshold(qc.MaxByteCount); err != nil {
			return fmt.Errorf("queue %s: %w", qc.Identifier, err)
		}
		if err := q.SetFlowFileExpiration(qc.Expiration); err != nil {
			return fmt.Errorf("queue %s: %w", qc.Identifier, err)
		}

		// Re-register swap files persisted by a previous run before the
		// queue serves traffic.
		if swappedMaxID, ok := q.RecoverSwappedFlowFiles(); ok && swappedMaxID > nextID.Load() {
			nextID.Store(swappedMaxID)
		}

		queues = append(queues, q)

		p := ingest.NewPipeline(ingest.PipelineConfig{
			NC:           nc,
			Queue:        q,
			QueueCfg:     qc,
			Repository:   repository,
			Provenance:   repository,
			ClaimManager: claimManager,
			Scheduler:    sched,
			Source:       source,
			Destination:  dest,
			NextID:       &nextID,
			Logger:       logger.Named("ingest").With(zap.String("queue", qc.Identifier)),
		})
		g.Go(func() error { return p.Run(gctx) })
	}

	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, queues, logger.Named("api"))
		})
	}

	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(nc, repository, s3Client)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("flowfile-queue started",
		zap.String("version", version),
		zap.Int("queues", len(cfg.Queues)),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("swap_backend", cfg.Swap.Backend),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newSwapManager(cfg config.SwapConfig, s3Client *s3util.Client, logger *zap.Logger) (swap.Manager, error) {
	switch cfg.Backend {
	case "s3":
		return swap.NewS3Manager(s3Client.S3, s3Client.Bucket, s3Client.Prefix, logger.Named("swap")), nil
	default:
		return swap.NewFileManager(cfg.Dir, logger.Named("swap"))
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	return zapCfg.Build()
}
