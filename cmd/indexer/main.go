package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/counters"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/job"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/database"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/redis"
)

type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file")
	jobID := flag.String("job-id", "", "job identifier (default: derived from the start time)")
	var inputs, params stringList
	flag.Var(&inputs, "input", "JSONL document file, '-' for stdin (repeatable)")
	flag.Var(&params, "param", "job parameter key=value (repeatable)")
	flag.Parse()

	cfg, err := loadConfig(*configPath, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return apperrors.ExitCode(err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if *jobID == "" {
		*jobID = "job-" + time.Now().UTC().Format("20060102T150405Z")
	}
	log := slog.Default().With("job_id", *jobID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()
	deps := job.Deps{Metrics: m}
	sinks := counters.MultiSink{counters.NewPrometheusSink(m)}

	if cfg.Catalog.Enabled {
		db, err := database.New(cfg.Catalog)
		if err != nil {
			log.Error("failed to connect to catalog", "driver", cfg.Catalog.Driver, "error", err)
			return apperrors.ExitResource
		}
		defer db.Close()
		store := catalog.NewStore(db)
		if err := store.Migrate(ctx); err != nil {
			log.Error("failed to migrate catalog", "error", err)
			return apperrors.ExitResource
		}
		checker.Register("catalog", health.PingCheck(db, health.StatusDown))
		deps.Catalog = store
	}

	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(cfg.Redis)
		if err != nil {
			// Counter aggregation is informational; the job still runs.
			log.Warn("redis unavailable, job counters are not aggregated", "error", err)
		} else {
			defer rc.Close()
			checker.Register("redis", health.PingCheck(rc, health.StatusDegraded))
			sinks = append(sinks, counters.NewRedisSink(rc, *jobID))
		}
	}
	deps.Counters = sinks

	var sources []document.Source
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		deps.Publisher = producer
		if len(inputs) == 0 {
			consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents)
			sources = append(sources, document.NewKafkaSource(consumer, cfg.Kafka.IdleTimeout))
			log.Info("consuming documents from kafka",
				"topic", cfg.Kafka.Topics.Documents,
				"group", cfg.Kafka.ConsumerGroup,
			)
		}
	}
	for _, path := range inputs {
		src, err := openInput(path)
		if err != nil {
			log.Error("failed to open input", "path", path, "error", err)
			return apperrors.ExitCode(err)
		}
		sources = append(sources, src)
	}
	defer func() {
		for _, src := range sources {
			src.Close()
		}
	}()
	if len(sources) == 0 {
		log.Error("no document source: pass -input or enable kafka")
		return apperrors.ExitConfig
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/ready": checker.ReadyHandler(),
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	preflightCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	report := checker.Run(preflightCtx)
	cancel()
	if report.Status == health.StatusDown {
		log.Error("preflight checks failed", "down", report.Down())
		return apperrors.ExitResource
	}

	runner, err := job.New(cfg, deps)
	if err != nil {
		log.Error("invalid job configuration", "error", err)
		return apperrors.ExitCode(err)
	}
	res, err := runner.Run(ctx, *jobID, sources...)
	if err != nil {
		log.Error("indexing job failed", "error", err, "exit_code", apperrors.ExitCode(err))
		return apperrors.ExitCode(err)
	}
	log.Info("indexing job succeeded", "duration", res.Duration, "partitions", len(res.Parts))
	return apperrors.ExitOK
}

func loadConfig(path string, params stringList) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]string, len(params))
	for _, p := range params {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", apperrors.ErrInvalidConfig, p)
		}
		kv[k] = v
	}
	if err := cfg.ApplyParams(kv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openInput(path string) (document.Source, error) {
	if path == "-" {
		return document.NewJSONLSource(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfig, err)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrIO, err)
	}
	return document.NewJSONLSource(f), nil
}
