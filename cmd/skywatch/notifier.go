package main

import (
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/notifier"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Run the notification consumer",
	Long:  `Drains the alarms topic, resolves the notification methods referenced by each event and delivers via email, webhook or PagerDuty`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNotifier()
	},
}

func runNotifier() error {
	cfg, ctx, stop, err := setup("notifier")
	if err != nil {
		return err
	}
	defer stop()

	methodsStore, err := newStore(cfg, "notificationmethods")
	if err != nil {
		return err
	}

	alarmsConsumer, err := bus.NewConsumer(cfg.BusConfig(), bus.TopicAlarms)
	if err != nil {
		return err
	}
	defer alarmsConsumer.Close()

	registry := notifier.NewRegistry(notifier.SMTPConfig{
		Host:     cfg.Notifier.SMTPHost,
		Port:     cfg.Notifier.SMTPPort,
		From:     cfg.Notifier.SMTPFrom,
		Username: cfg.Notifier.SMTPUser,
		Password: cfg.Notifier.SMTPPassword,
	})
	consumer := notifier.NewConsumer(alarmsConsumer, methodsStore, registry)

	g, ctx := errgroup.WithContext(ctx)
	serveTelemetry(ctx, g, cfg.Telemetry.Listen)
	g.Go(func() error { return consumer.Run(ctx) })

	return waitGroup(g)
}
