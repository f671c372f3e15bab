package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/metrics"
)

// Publisher evaluates every processor on a fixed interval and sends the
// resulting state transition events to the alarms topic.
type Publisher struct {
	producer bus.Producer
	catalog  *Catalog
	interval time.Duration
}

func NewPublisher(producer bus.Producer, catalog *Catalog, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Publisher{producer: producer, catalog: catalog, interval: interval}
}

// Run ticks until the context is cancelled. Send failures are handled by
// the producer's reconnect retry; a still-failing event is logged and
// dropped so the tick loop keeps going.
func (p *Publisher) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("Alarm publisher started")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.publish(ctx)
		}
	}
}

func (p *Publisher) publish(ctx context.Context) {
	for _, alarm := range p.catalog.EvaluateAll() {
		payload, err := json.Marshal(alarm)
		if err != nil {
			log.Error().Err(err).Str("id", alarm.ID).Msg("Alarm event marshal failed")
			continue
		}
		if _, err := p.producer.Send(ctx, payload); err != nil {
			log.Warn().Err(err).Str("id", alarm.ID).Msg("Alarm event send failed")
			continue
		}
		metrics.AlarmsEmittedTotal.WithLabelValues(string(alarm.State)).Inc()
	}
}
