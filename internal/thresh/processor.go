// Package thresh implements the per-alarm-definition streaming evaluator.
// A Processor keeps sliding-window sample buffers for every matched metric
// stream, recomputes sub-alarm states on demand and emits alarm events on
// state transitions.
package thresh

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/expr"
	"github.com/skywatchhq/skywatch/internal/models"
)

var reasons = map[models.State]string{
	models.StateAlarm:        "The alarm threshold(s) have been exceeded for the sub-alarms",
	models.StateOK:           "The alarm threshold(s) have not been exceeded for the sub-alarms",
	models.StateUndetermined: "Unable to determine the alarm state",
}

// noGroupKey is the bucket key used when the definition has no match_by.
// Real keys always carry a trailing comma per dimension, so it cannot
// collide.
const noGroupKey = ""

type sample struct {
	value float64
	ts    float64
}

type subState struct {
	state   models.State
	samples []sample   // ordered by ts, trimmed on evaluation
	values  []*float64 // per-period aggregates from the last evaluation
}

type bucket struct {
	state          models.State
	createdTS      float64
	updatedTS      float64
	stateUpdatedTS float64
	subs           map[string]*subState // keyed by leaf canonical string
}

// Processor evaluates one alarm definition. It is not safe for concurrent
// use; the engine serializes access through the catalog lock.
type Processor struct {
	definition *models.AlarmDefinition
	parsed     *expr.Result
	matchBy    []string // empty means no grouping
	buckets    map[string]*bucket

	// relatedMetrics[key] is the definition's metric descriptor list with
	// the match_by dimensions filled in from that bucket's samples.
	relatedMetrics map[string][]models.MetricDescriptor

	now func() float64 // wall clock, replaceable in tests
}

// New builds a processor for the definition. The expression is parsed
// eagerly; an unparseable definition is rejected.
func New(definition *models.AlarmDefinition) (*Processor, error) {
	parsed, err := expr.Parse(definition.Expression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	p := &Processor{
		definition:     definition,
		parsed:         parsed,
		matchBy:        pruneMatchBy(definition.MatchBy),
		buckets:        make(map[string]*bucket),
		relatedMetrics: make(map[string][]models.MetricDescriptor),
		now:            wallClock,
	}
	return p, nil
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func pruneMatchBy(matchBy []string) []string {
	pruned := make([]string, 0, len(matchBy))
	for _, key := range matchBy {
		if key != "" {
			pruned = append(pruned, key)
		}
	}
	return pruned
}

// Definition returns the definition this processor evaluates.
func (p *Processor) Definition() *models.AlarmDefinition { return p.definition }

// Ingest routes a sample into every matching sub-expression buffer. The
// sample is windowed by the evaluator's wall clock, not by its own
// timestamp, so late or reordered samples are treated as fresh.
func (p *Processor) Ingest(metric *models.Metric) {
	for _, leaf := range p.parsed.SubExprs {
		if !leaf.Matches(metric) {
			continue
		}
		key, ok := p.bucketKey(metric)
		if !ok {
			// A required match_by dimension is missing; drop for this leaf.
			continue
		}
		b, exists := p.buckets[key]
		if !exists {
			b = p.createBucket(key, metric)
		}
		sub := b.subs[leaf.Canonical()]
		sub.samples = append(sub.samples, sample{value: metric.Value, ts: p.now()})
	}
}

// bucketKey derives the bucket key for a sample: the match_by dimension
// values joined with a trailing comma after each, or the no-group sentinel.
func (p *Processor) bucketKey(metric *models.Metric) (string, bool) {
	if len(p.matchBy) == 0 {
		return noGroupKey, true
	}
	key := ""
	for _, dim := range p.matchBy {
		value, ok := metric.Dimensions[dim]
		if !ok {
			return "", false
		}
		key += value + ","
	}
	return key, true
}

func (p *Processor) createBucket(key string, metric *models.Metric) *bucket {
	ts := p.now()
	b := &bucket{
		state:          models.StateUndetermined,
		createdTS:      ts,
		updatedTS:      ts,
		stateUpdatedTS: ts,
		subs:           make(map[string]*subState),
	}
	for _, leaf := range p.parsed.SubExprs {
		if _, ok := b.subs[leaf.Canonical()]; !ok {
			b.subs[leaf.Canonical()] = &subState{state: models.StateUndetermined}
		}
	}
	p.buckets[key] = b

	related := p.parsed.RelatedMetrics()
	for i := range related {
		for _, dim := range p.matchBy {
			related[i].Dimensions[dim] = metric.Dimensions[dim]
		}
	}
	p.relatedMetrics[key] = related
	return b
}

// Evaluate recomputes every bucket and returns an alarm event for each
// bucket whose combined state changed. The first evaluation of a fresh
// bucket stays UNDETERMINED and emits nothing.
func (p *Processor) Evaluate() []*models.Alarm {
	var alarms []*models.Alarm
	for key, b := range p.buckets {
		for _, leaf := range p.parsed.SubExprs {
			p.evaluateLeaf(leaf, b.subs[leaf.Canonical()])
		}
		state := p.foldState(p.parsed.Root, b)
		if state == b.state {
			continue
		}
		ts := p.now()
		b.state = state
		b.stateUpdatedTS = ts
		b.updatedTS = ts
		alarms = append(alarms, p.buildAlarm(key, b))
	}
	return alarms
}

// evaluateLeaf trims the leaf's sample buffer to the evaluation horizon,
// partitions it into period-wide windows anchored at now and derives the
// leaf state from the per-window aggregates.
func (p *Processor) evaluateLeaf(leaf *expr.SubExpr, sub *subState) {
	now := p.now()
	period := float64(leaf.Period)
	horizon := now - period*float64(leaf.Periods)

	drop := 0
	for drop < len(sub.samples) && sub.samples[drop].ts < horizon {
		drop++
	}
	sub.samples = sub.samples[drop:]

	// Walk newest to oldest, closing a window every time a sample falls
	// left of the current window boundary.
	left := now - period
	var window []float64
	var values []*float64
	for i := len(sub.samples) - 1; i >= 0; {
		if sub.samples[i].ts >= left {
			window = append(window, sub.samples[i].value)
			i--
			continue
		}
		values = append(values, expr.Aggregate(leaf.Func, window))
		window = window[:0]
		left -= period
	}
	values = append(values, expr.Aggregate(leaf.Func, window))
	for len(values) < leaf.Periods {
		values = append(values, expr.Aggregate(leaf.Func, nil))
	}

	sub.values = values
	sub.state = expr.Compare(values, leaf.Operator, leaf.Threshold)
}

func (p *Processor) foldState(node expr.Node, b *bucket) models.State {
	switch n := node.(type) {
	case *expr.BinOp:
		states := make([]models.State, 0, len(n.Children))
		for _, child := range n.Children {
			states = append(states, p.foldState(child, b))
		}
		return expr.Combine(n.Op, states)
	case *expr.SubExpr:
		return b.subs[n.Canonical()].state
	}
	return models.StateUndetermined
}

func (p *Processor) buildAlarm(key string, b *bucket) *models.Alarm {
	subAlarms := make([]models.SubAlarm, 0, len(p.parsed.SubExprs))
	for _, leaf := range p.parsed.SubExprs {
		sub := b.subs[leaf.Canonical()]
		subAlarms = append(subAlarms, models.SubAlarm{
			SubAlarmExpression: leaf.Data(),
			SubAlarmState:      sub.state,
			CurrentValues:      sub.values,
		})
	}
	return &models.Alarm{
		ID:                    uuid.NewString(),
		AlarmDefinition:       p.definition,
		Metrics:               p.relatedMetrics[key],
		State:                 b.state,
		Reason:                reasons[b.state],
		ReasonData:            map[string]any{},
		SubAlarms:             subAlarms,
		CreatedTimestamp:      models.ISO8601(b.createdTS),
		UpdatedTimestamp:      models.ISO8601(b.updatedTS),
		StateUpdatedTimestamp: models.ISO8601(b.stateUpdatedTS),
	}
}

// Update re-parses the definition and carries every bucket's sample
// buffers over by leaf position: the i-th old leaf's samples feed the
// i-th new leaf. Sub-alarm states reset to UNDETERMINED until the next
// evaluation. The update validator guarantees matching leaf counts for
// definitions that came through the API; a mismatched count is rejected
// here as well.
func (p *Processor) Update(definition *models.AlarmDefinition) error {
	parsed, err := expr.Parse(definition.Expression)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	if len(parsed.SubExprs) != len(p.parsed.SubExprs) {
		return fmt.Errorf("%w: sub-expression count changed", errors.ErrInvalidInput)
	}

	now := p.now()
	rebuilt := make(map[string]*bucket, len(p.buckets))
	for key, old := range p.buckets {
		next := &bucket{
			state:          models.StateUndetermined,
			createdTS:      old.createdTS,
			updatedTS:      now,
			stateUpdatedTS: old.stateUpdatedTS,
			subs:           make(map[string]*subState),
		}
		for i, newLeaf := range parsed.SubExprs {
			oldSub := old.subs[p.parsed.SubExprs[i].Canonical()]
			next.subs[newLeaf.Canonical()] = &subState{
				state:   models.StateUndetermined,
				samples: oldSub.samples,
			}
		}
		rebuilt[key] = next
	}

	p.buckets = rebuilt
	p.parsed = parsed
	p.definition = definition
	p.matchBy = pruneMatchBy(definition.MatchBy)
	return nil
}
