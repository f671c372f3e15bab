package main

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/engine"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Run the threshold engine",
	Long:  `Consumes the metrics topic, evaluates alarm definitions refreshed from the store and publishes alarm state changes to the alarms topic`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine()
	},
}

func runEngine() error {
	cfg, ctx, stop, err := setup("engine")
	if err != nil {
		return err
	}
	defer stop()

	definitionsStore, err := newStore(cfg, "alarmdefinitions")
	if err != nil {
		return err
	}

	metricsConsumer, err := bus.NewConsumer(cfg.BusConfig(), bus.TopicMetrics)
	if err != nil {
		return err
	}
	defer metricsConsumer.Close()

	alarmsProducer, err := bus.NewProducer(cfg.BusConfig(), bus.TopicAlarms)
	if err != nil {
		return err
	}
	defer alarmsProducer.Close()

	catalog := engine.NewCatalog()
	refresher := engine.NewRefresher(catalog, definitionsStore,
		time.Duration(cfg.Engine.CheckAlarmDefInterval)*time.Second,
		cfg.Engine.DefinitionName, cfg.Engine.DefinitionDimensions)
	consumer := engine.NewConsumer(metricsConsumer, catalog)
	publisher := engine.NewPublisher(alarmsProducer, catalog,
		time.Duration(cfg.Engine.CheckAlarmInterval)*time.Second)

	log.Info().
		Int("check_alarm_interval", cfg.Engine.CheckAlarmInterval).
		Int("check_alarm_def_interval", cfg.Engine.CheckAlarmDefInterval).
		Msg("Threshold engine starting")

	g, ctx := errgroup.WithContext(ctx)
	serveTelemetry(ctx, g, cfg.Telemetry.Listen)
	g.Go(func() error { return refresher.Run(ctx) })
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return publisher.Run(ctx) })

	return waitGroup(g)
}
