package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/cache"
	"incident-monitor/internal/config"
	"incident-monitor/internal/metrics"
	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/incidents"
	"incident-monitor/internal/services/llm"
	"incident-monitor/internal/services/pipeline"
)

// app holds the wired components shared by serve and ingest.
type app struct {
	cfg        *config.Config
	db         *repo.DB
	repository repo.Repository
	redis      *cache.RedisCache
	registry   *prometheus.Registry
	metrics    *metrics.Pipeline

	classifier *pipeline.Classifier
	extractor  *pipeline.Extractor
	processor  *pipeline.Processor
	incidents  *incidents.Service
}

func newApp(ctx context.Context, cfg *config.Config, memory bool) (*app, error) {
	if err := cfg.RequireGateway(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewPipeline(a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	a.metrics = m

	if memory {
		log.Warn().Msg("Using in-memory store, data is lost on exit")
		a.repository = repo.NewMemoryRepository()
	} else {
		db, err := repo.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.repository = repo.NewRepository(db)
	}

	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = redisCache
	}

	gateway, err := llm.NewOpenAIGateway(llm.GatewayOptions{
		APIKey:  cfg.Gateway.APIKey,
		BaseURL: cfg.Gateway.BaseURL,
		Model:   cfg.Gateway.Model,
		Timeout: cfg.Gateway.Timeout,
		Metrics: a.metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	p := cfg.Pipeline
	a.classifier = pipeline.NewClassifier(gateway, a.repository, pipeline.ClassifierConfig{
		Model:       cfg.Gateway.Model,
		Temperature: p.ClassifyTemp,
		Threshold:   p.ExtractThreshold,
	}, a.metrics)
	a.extractor = pipeline.NewExtractor(gateway, a.repository, pipeline.ExtractorConfig{
		Model:              cfg.Gateway.Model,
		Temperature:        p.ExtractTemp,
		SummaryTemperature: p.SummaryTemp,
		DedupLimit:         p.DedupLimit,
		Location:           p.Location(),
		DefaultSourceName:  p.DefaultSourceName,
	}, a.metrics)
	a.processor = pipeline.NewProcessor(a.classifier, a.extractor, a.metrics)

	// New incidents change the aggregates, so cached stats are dropped
	a.incidents = incidents.NewService(a.repository, a.redis)
	a.extractor.OnNewIncident(func(ctx context.Context, _ string) {
		a.incidents.InvalidateStats(ctx)
	})

	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
