package engine

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/models"
)

// Consumer drains the metrics topic and feeds every sample to the
// catalog. Records are either bare samples or the ingress envelope.
type Consumer struct {
	consumer bus.Consumer
	catalog  *Catalog
	backoff  time.Duration
	sleep    func(time.Duration)
}

func NewConsumer(consumer bus.Consumer, catalog *Catalog) *Consumer {
	return &Consumer{
		consumer: consumer,
		catalog:  catalog,
		backoff:  time.Second,
		sleep:    time.Sleep,
	}
}

// Run drains the topic until the context is cancelled. Invalid records
// are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Msg("Metrics consumer started")
	for {
		record, err := c.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return err
			}
			log.Warn().Err(err).Msg("Bus fetch failed")
			c.sleep(c.backoff)
			continue
		}
		metric, err := DecodeSample(record)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping invalid metric record")
			continue
		}
		c.catalog.IngestAll(metric)
	}
}

// DecodeSample parses a metrics topic record into a sample, unwrapping
// the ingress envelope when present.
func DecodeSample(record []byte) (*models.Metric, error) {
	var envelope models.Envelope
	if err := json.Unmarshal(record, &envelope); err == nil && len(envelope.Metric) > 0 {
		var metric models.Metric
		if err := json.Unmarshal(envelope.Metric, &metric); err != nil {
			return nil, err
		}
		return &metric, nil
	}
	var metric models.Metric
	if err := json.Unmarshal(record, &metric); err != nil {
		return nil, err
	}
	return &metric, nil
}
