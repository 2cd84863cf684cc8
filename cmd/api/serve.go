package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httphandler "incident-monitor/internal/http"
	"incident-monitor/internal/middleware"
	"incident-monitor/internal/services/feeds"
)

func serveCommand(opts *rootOptions) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, memory)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "Use the in-memory store instead of Postgres")

	return cmd
}

func serve(ctx context.Context, opts *rootOptions, memory bool) error {
	cfg := opts.cfg

	a, err := newApp(ctx, cfg, memory)
	if err != nil {
		return err
	}
	defer a.Close()

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		var counter middleware.Counter
		if a.redis != nil {
			counter = a.redis
		}
		limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, counter)
	}

	router := httphandler.NewRouter(httphandler.RouterOptions{
		RequestTimeout: cfg.Server.RequestTimeout,
		RateLimiter:    limiter,
	})
	router.RegisterPipelineRoutes(httphandler.NewPipelineHandler(a.classifier, a.extractor, a.processor))
	router.RegisterAPIRoutes(
		httphandler.NewIncidentHandler(a.incidents),
		httphandler.NewFeedHandler(feeds.NewService(a.repository)),
	)
	router.RegisterHealthRoutes(a.repository.Ping)
	router.RegisterMetricsRoutes(a.registry)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}
