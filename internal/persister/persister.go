// Package persister drains a bus topic into the document store. Two
// instances run in the persister process: one for metric samples, one for
// alarm events.
package persister

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
)

// DocWriter is the slice of the store client the sink needs.
type DocWriter interface {
	Insert(ctx context.Context, id string, doc any) (int, error)
}

// Transform turns one bus record into a store document and its id. An
// empty id lets the store assign one.
type Transform func(record []byte, now func() float64) (id string, doc any, err error)

// Sink pumps records from a consumer into the store.
type Sink struct {
	consumer  bus.Consumer
	store     DocWriter
	docType   string
	transform Transform
	backoff   time.Duration

	now   func() float64
	sleep func(time.Duration)
}

// NewMetricsSink persists metric samples: the sample is unwrapped from
// its ingress envelope if present, its timestamp is filled and its
// dimensions_hash computed.
func NewMetricsSink(consumer bus.Consumer, store DocWriter) *Sink {
	return newSink(consumer, store, "metrics", FixMetric)
}

// NewAlarmsSink persists alarm events verbatim under their event id.
func NewAlarmsSink(consumer bus.Consumer, store DocWriter) *Sink {
	return newSink(consumer, store, "alarms", PassAlarm)
}

func newSink(consumer bus.Consumer, store DocWriter, docType string, transform Transform) *Sink {
	return &Sink{
		consumer:  consumer,
		store:     store,
		docType:   docType,
		transform: transform,
		backoff:   time.Second,
		now:       func() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) },
		sleep:     time.Sleep,
	}
}

// Run drains the topic until the context is cancelled. Per-record
// failures are logged and skipped; fetch failures back off and retry.
func (s *Sink) Run(ctx context.Context) error {
	log.Info().Str("docType", s.docType).Msg("Persister started")
	for {
		record, err := s.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, context.Canceled) {
				return err
			}
			log.Warn().Err(err).Str("docType", s.docType).Msg("Bus fetch failed")
			s.sleep(s.backoff)
			continue
		}
		s.persist(ctx, record)
	}
}

func (s *Sink) persist(ctx context.Context, record []byte) {
	id, doc, err := s.transform(record, s.now)
	if err != nil {
		log.Warn().Err(err).Str("docType", s.docType).Msg("Skipping malformed record")
		metrics.PersistErrorsTotal.WithLabelValues(s.docType).Inc()
		return
	}
	if _, err := s.store.Insert(ctx, id, doc); err != nil {
		log.Warn().Err(err).Str("docType", s.docType).Msg("Store write failed")
		metrics.PersistErrorsTotal.WithLabelValues(s.docType).Inc()
		return
	}
	metrics.DocumentsPersistedTotal.WithLabelValues(s.docType).Inc()
}

// FixMetric prepares a metric sample for the store. Records may arrive as
// the ingress envelope or as a bare sample; the persisted document is the
// flat sample, because the read paths query name, timestamp, value and
// dimensions at the top level.
func FixMetric(record []byte, now func() float64) (string, any, error) {
	var raw map[string]any
	if err := json.Unmarshal(record, &raw); err != nil {
		return "", nil, fmt.Errorf("decode metric record: %w", err)
	}

	doc := raw
	if wrapped, ok := raw["metric"].(map[string]any); ok {
		doc = wrapped
	}

	if ts, ok := doc["timestamp"].(float64); !ok || ts == 0 {
		doc["timestamp"] = now()
	}
	if _, ok := doc["dimensions_hash"]; !ok {
		if dims, ok := doc["dimensions"].(map[string]any); ok && len(dims) > 0 {
			doc["dimensions_hash"] = models.HashDimensions(stringDims(dims))
		}
	}
	return "", doc, nil
}

func stringDims(dims map[string]any) map[string]string {
	out := make(map[string]string, len(dims))
	for k, v := range dims {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}

// PassAlarm persists an alarm event as-is under its event id.
func PassAlarm(record []byte, _ func() float64) (string, any, error) {
	var raw map[string]any
	if err := json.Unmarshal(record, &raw); err != nil {
		return "", nil, fmt.Errorf("decode alarm record: %w", err)
	}
	id, _ := raw["id"].(string)
	return id, raw, nil
}
