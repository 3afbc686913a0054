// Command callwatch runs the call analysis service: it consumes ingest
// jobs from the queue, transcribes and grades each call, persists the
// results, and evaluates alerts.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fixadev/callwatch/infrastructure/billing"
	"github.com/fixadev/callwatch/infrastructure/llm"
	"github.com/fixadev/callwatch/infrastructure/notify"
	"github.com/fixadev/callwatch/infrastructure/queue"
	"github.com/fixadev/callwatch/infrastructure/recordings"
	"github.com/fixadev/callwatch/infrastructure/transcribe"
	"github.com/fixadev/callwatch/internal/alerting"
	"github.com/fixadev/callwatch/internal/analysis"
	"github.com/fixadev/callwatch/internal/config"
	"github.com/fixadev/callwatch/internal/consumer"
	"github.com/fixadev/callwatch/internal/pipeline"
	"github.com/fixadev/callwatch/internal/ports"
	"github.com/fixadev/callwatch/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	if err := run(*configPath, log); err != nil {
		log.WithError(err).Fatal("service exited with error")
	}
}

func run(configPath string, log *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer store.Close()

	llmClient, err := llm.NewClient(cfg.LLM.Provider, llm.ClientConfig{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		BaseURL:    cfg.LLM.BaseURL,
		Timeout:    cfg.LLM.Timeout,
		Middleware: llmMiddleware(cfg.LLM),
	})
	if err != nil {
		return err
	}

	matcher, err := analysis.NewRelevanceMatcher(llmClient, store)
	if err != nil {
		return err
	}
	grader, err := analysis.NewTranscriptGrader(llmClient, store)
	if err != nil {
		return err
	}

	notifier := notify.NewWebhook(0)
	evaluator, err := alerting.NewEvaluator(store, store, notifier, cfg.Pipeline.DeepLinkBaseURL, log)
	if err != nil {
		return err
	}

	var billingSvc *billing.Client
	if cfg.Billing.BaseURL != "" {
		billingSvc = billing.NewClient(billing.Config{
			BaseURL: cfg.Billing.BaseURL,
			APIKey:  cfg.Billing.APIKey,
			Timeout: cfg.Billing.Timeout,
		})
	}

	pipe, err := pipeline.New(
		pipeline.Config{DeepLinkBaseURL: cfg.Pipeline.DeepLinkBaseURL},
		recordings.NewClient(recordings.Config{
			BaseURL: cfg.Recordings.BaseURL,
			APIKey:  cfg.Recordings.APIKey,
			Timeout: cfg.Recordings.Timeout,
		}),
		transcribe.NewClient(transcribe.Config{
			BaseURL: cfg.Transcription.BaseURL,
			APIKey:  cfg.Transcription.APIKey,
			Timeout: cfg.Transcription.Timeout,
		}),
		matcher,
		grader,
		store,
		store,
		billingService(billingSvc),
		notifier,
		evaluator,
		log,
	)
	if err != nil {
		return err
	}

	kafkaQueue := queue.New(queue.Config{
		Brokers: cfg.Queue.Brokers,
		Topic:   cfg.Queue.Topic,
		GroupID: cfg.Queue.GroupID,
	})
	defer kafkaQueue.Close()

	callConsumer, err := consumer.New(kafkaQueue, pipe, cfg.Queue.MaxConcurrency, log)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, log)
	}

	log.WithFields(logrus.Fields{
		"topic":       cfg.Queue.Topic,
		"provider":    cfg.LLM.Provider,
		"model":       llmClient.GetModel(),
		"concurrency": cfg.Queue.MaxConcurrency,
	}).Info("callwatch started")

	callConsumer.Run(ctx)
	log.Info("callwatch stopped")
	return nil
}

func llmMiddleware(cfg config.LLMConfig) []llm.Middleware {
	var chain []llm.Middleware
	if cfg.MaxRetries > 0 {
		chain = append(chain, llm.RetryMiddleware(cfg.MaxRetries, time.Second, 30*time.Second))
	}
	if cfg.RequestsPerSecond > 0 {
		chain = append(chain, llm.RateLimitMiddleware(rate.Limit(cfg.RequestsPerSecond), 1))
	}
	if cfg.Timeout > 0 {
		chain = append(chain, llm.TimeoutMiddleware(cfg.Timeout))
	}
	chain = append(chain, llm.MetricsMiddleware())
	return chain
}

// billingService keeps a nil *billing.Client from becoming a non-nil
// interface inside the pipeline.
func billingService(c *billing.Client) ports.BillingService {
	if c == nil {
		return nil
	}
	return c
}

func serveMetrics(addr string, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server failed")
	}
}
