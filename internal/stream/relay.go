package stream

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/models"
)

// Relay drains the alarms topic and broadcasts every event to the hub.
type Relay struct {
	consumer bus.Consumer
	hub      *Hub
	backoff  time.Duration
	sleep    func(time.Duration)
}

func NewRelay(consumer bus.Consumer, hub *Hub) *Relay {
	return &Relay{
		consumer: consumer,
		hub:      hub,
		backoff:  time.Second,
		sleep:    time.Sleep,
	}
}

// Run loops until the context is cancelled. Malformed records are logged
// and skipped.
func (r *Relay) Run(ctx context.Context) error {
	for {
		record, err := r.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return err
			}
			log.Warn().Err(err).Msg("Alarm stream fetch failed")
			r.sleep(r.backoff)
			continue
		}

		var alarm models.Alarm
		if err := json.Unmarshal(record, &alarm); err != nil {
			log.Debug().Err(err).Msg("Skipping malformed alarm record")
			continue
		}
		r.hub.BroadcastAlarm(&alarm)
	}
}
