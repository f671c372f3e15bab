package main

import (
	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/persister"
	"github.com/skywatchhq/skywatch/internal/storage"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var persisterCmd = &cobra.Command{
	Use:   "persister",
	Short: "Run the bus-to-store persisters",
	Long:  `Drains the metrics and alarms topics and writes every record into the time-sharded document store`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPersister()
	},
}

func runPersister() error {
	cfg, ctx, stop, err := setup("persister")
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

	template := storage.DefaultTemplate(cfg.Store.IndexPrefix)
	if err := metricsStore.InstallTemplate(ctx, "metrics", template); err != nil {
		log.Fatal().Err(err).Msg("Failed to install the index template")
	}

	metricsConsumer, err := bus.NewConsumer(cfg.BusConfig(), bus.TopicMetrics)
	if err != nil {
		return err
	}
	defer metricsConsumer.Close()

	alarmsConsumer, err := bus.NewConsumer(cfg.BusConfig(), bus.TopicAlarms)
	if err != nil {
		return err
	}
	defer alarmsConsumer.Close()

	metricsSink := persister.NewMetricsSink(metricsConsumer, metricsStore)
	alarmsSink := persister.NewAlarmsSink(alarmsConsumer, alarmsStore)

	g, ctx := errgroup.WithContext(ctx)
	serveTelemetry(ctx, g, cfg.Telemetry.Listen)
	g.Go(func() error { return metricsSink.Run(ctx) })
	g.Go(func() error { return alarmsSink.Run(ctx) })

	return waitGroup(g)
}
