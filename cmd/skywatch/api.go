package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/api"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/storage"
	"github.com/skywatchhq/skywatch/internal/stream"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP ingress and query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAPI()
	},
}

func runAPI() error {
	cfg, ctx, stop, err := setup("api")
	if err != nil {
		return err
	}
	defer stop()

	metricsStore, err := newStore(cfg, "metrics")
	if err != nil {
		return err
	}
	alarmsStore, err := newStore(cfg, "alarms")
	if err != nil {
		return err
	}
	definitionsStore, err := newStore(cfg, "alarmdefinitions")
	if err != nil {
		return err
	}
	methodsStore, err := newStore(cfg, "notificationmethods")
	if err != nil {
		return err
	}

	// A store that cannot hold the index template cannot hold samples.
	template := storage.DefaultTemplate(cfg.Store.IndexPrefix)
	if err := metricsStore.InstallTemplate(ctx, "metrics", template); err != nil {
		log.Fatal().Err(err).Msg("Failed to install the index template")
	}

	producer, err := bus.NewProducer(cfg.BusConfig(), bus.TopicMetrics)
	if err != nil {
		return err
	}
	defer producer.Close()

	hub := stream.NewHub()
	router := api.NewRouter(api.Deps{
		Metrics:     metricsStore,
		Alarms:      alarmsStore,
		Definitions: definitionsStore,
		Methods:     methodsStore,
		Producer:    producer,
		Hub:         hub,
		Size:        cfg.Store.Size,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })

	// Live alarm events for websocket subscribers come off the bus.
	alarmsConsumer, err := bus.NewConsumer(cfg.BusConfig(), bus.TopicAlarms)
	if err != nil {
		return err
	}
	defer alarmsConsumer.Close()
	relay := stream.NewRelay(alarmsConsumer, hub)
	g.Go(func() error { return relay.Run(ctx) })

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("listen", cfg.HTTP.Listen).Msg("API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return waitGroup(g)
}
