// Package engine runs the threshold evaluation process: a catalog of
// live processors, a periodic definition refresher, a metrics consumer
// and a periodic alarm publisher.
package engine

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/metrics"
	"github.com/skywatchhq/skywatch/internal/models"
	"github.com/skywatchhq/skywatch/internal/thresh"
)

// Definition pairs a decoded alarm definition with its serialized store
// form. The raw form is what the refresher compares to detect changes.
type Definition struct {
	Def *models.AlarmDefinition
	Raw string
}

type entry struct {
	processor *thresh.Processor
	raw       string
	epoch     bool
}

// Catalog is the process-wide map of threshold processors keyed by
// definition id. One mutex serializes ingest and evaluate traversals
// against structural changes by the refresher.
type Catalog struct {
	mu      sync.Mutex
	entries map[string]*entry
	epoch   bool
}

func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]*entry)}
}

// IngestAll routes one sample into every live processor.
func (c *Catalog) IngestAll(metric *models.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.processor.Ingest(metric)
	}
}

// EvaluateAll recomputes every processor and collects the emitted state
// transition events.
func (c *Catalog) EvaluateAll() []*models.Alarm {
	c.mu.Lock()
	defer c.mu.Unlock()
	var alarms []*models.Alarm
	for _, e := range c.entries {
		alarms = append(alarms, e.processor.Evaluate()...)
	}
	return alarms
}

// Size returns the number of live processors.
func (c *Catalog) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Reconcile folds one full store snapshot into the catalog. New
// definitions get a processor, changed ones are updated in place, and
// every processor absent from the snapshot is removed. Feeding the same
// snapshot twice is a no-op.
func (c *Catalog) Reconcile(defs []Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch = !c.epoch
	for _, d := range defs {
		e, exists := c.entries[d.Def.ID]
		if !exists {
			processor, err := thresh.New(d.Def)
			if err != nil {
				log.Warn().Err(err).Str("id", d.Def.ID).Msg("Skipping unparseable alarm definition")
				continue
			}
			c.entries[d.Def.ID] = &entry{processor: processor, raw: d.Raw, epoch: c.epoch}
			log.Info().Str("id", d.Def.ID).Str("name", d.Def.Name).Msg("Alarm definition loaded")
			continue
		}
		if e.raw != d.Raw {
			if err := e.processor.Update(d.Def); err != nil {
				log.Warn().Err(err).Str("id", d.Def.ID).Msg("Alarm definition update rejected")
			} else {
				e.raw = d.Raw
				log.Info().Str("id", d.Def.ID).Msg("Alarm definition updated")
			}
		}
		e.epoch = c.epoch
	}

	for id, e := range c.entries {
		if e.epoch != c.epoch {
			delete(c.entries, id)
			log.Info().Str("id", id).Msg("Alarm definition removed")
		}
	}
	metrics.ProcessorsLive.Set(float64(len(c.entries)))
}
