package notifier

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/metrics"
	"github.com/skywatchhq/skywatch/internal/models"
	"github.com/skywatchhq/skywatch/internal/storage"
)

// MethodSource is the slice of the store client the notifier needs to
// resolve action ids into notification methods.
type MethodSource interface {
	GetByID(ctx context.Context, id string) (*storage.Hit, error)
}

// Consumer drains the alarms topic and dispatches every event through
// the notification methods configured for its state.
type Consumer struct {
	consumer bus.Consumer
	methods  MethodSource
	registry Registry
	backoff  time.Duration
	sleep    func(time.Duration)
}

func NewConsumer(consumer bus.Consumer, methods MethodSource, registry Registry) *Consumer {
	return &Consumer{
		consumer: consumer,
		methods:  methods,
		registry: registry,
		backoff:  time.Second,
		sleep:    time.Sleep,
	}
}

// Run drains the topic until the context is cancelled. Per-event
// failures are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	log.Info().Msg("Notification consumer started")
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
		if err := c.handle(ctx, record); err != nil {
			log.Warn().Err(err).Msg("Alarm notification failed")
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record []byte) error {
	var alarm models.Alarm
	if err := json.Unmarshal(record, &alarm); err != nil {
		return fmt.Errorf("decode alarm event: %w", err)
	}
	if !alarm.State.Valid() {
		return fmt.Errorf("alarm %s has unknown state %q", alarm.ID, alarm.State)
	}
	if alarm.AlarmDefinition == nil {
		return fmt.Errorf("alarm %s carries no definition", alarm.ID)
	}

	for _, actionID := range alarm.AlarmDefinition.ActionsFor(alarm.State) {
		method, err := c.resolveMethod(ctx, actionID)
		if err != nil {
			log.Warn().Err(err).Str("action", actionID).Msg("Notification method lookup failed")
			continue
		}
		deliverer, ok := c.registry.Resolve(method.Type)
		if !ok {
			log.Warn().Str("type", method.Type).Str("action", actionID).Msg("Unknown notification method type")
			continue
		}
		if err := deliverer.Deliver(ctx, method, &alarm); err != nil {
			log.Warn().Err(err).Str("action", actionID).Str("type", method.Type).Msg("Notification delivery failed")
			metrics.NotificationErrorsTotal.WithLabelValues(method.Type).Inc()
			continue
		}
		metrics.NotificationsSentTotal.WithLabelValues(method.Type).Inc()
		log.Info().Str("alarm", alarm.ID).Str("type", method.Type).Str("address", method.Address).Msg("Notification delivered")
	}
	return nil
}

func (c *Consumer) resolveMethod(ctx context.Context, id string) (*models.NotificationMethod, error) {
	hit, err := c.methods.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var method models.NotificationMethod
	if err := json.Unmarshal(hit.Source, &method); err != nil {
		return nil, fmt.Errorf("decode notification method %s: %w", id, err)
	}
	if method.ID == "" {
		method.ID = hit.ID
	}
	return &method, nil
}
