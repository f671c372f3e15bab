// Package storage holds the document-store HTTP client, the index naming
// strategies and the search body builders shared by the read API, the
// persisters and the notifier.
package storage

import (
	"fmt"
	"time"

	"github.com/skywatchhq/skywatch/internal/errors"
)

// Strategy names accepted in config.
const (
	StrategyFixed = "fixed"
	StrategyTimed = "timed"
)

// Time units accepted by the timed strategy.
const (
	UnitYear  = "y"
	UnitMonth = "m"
	UnitDay   = "d"
	UnitWeek  = "w"
	UnitHour  = "h"
)

// IndexStrategy names the index a document written at the given instant
// belongs to. Writers call it per request so indices roll over without a
// restart.
type IndexStrategy interface {
	Index(now time.Time) string
}

// StrategyConfig carries the per-strategy options from config.
type StrategyConfig struct {
	IndexName string // fixed: the static index name
	TimeUnit  string // timed: y, m, d, w or h
}

type strategyFactory func(cfg StrategyConfig) (IndexStrategy, error)

var strategies = map[string]strategyFactory{
	StrategyFixed: newFixedStrategy,
	StrategyTimed: newTimedStrategy,
}

// NewStrategy instantiates the strategy registered under name.
func NewStrategy(name string, cfg StrategyConfig) (IndexStrategy, error) {
	factory, ok := strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown index strategy %q", errors.ErrInvalidInput, name)
	}
	return factory(cfg)
}

// fixedStrategy always returns the configured name. An empty name is
// legal: documents then land in the bare prefix index.
type fixedStrategy struct {
	name string
}

func newFixedStrategy(cfg StrategyConfig) (IndexStrategy, error) {
	return &fixedStrategy{name: cfg.IndexName}, nil
}

func (s *fixedStrategy) Index(time.Time) string { return s.name }

// timedStrategy buckets time into year, month, day, week or hour wide
// index names of the form YYYYMMDDHH0000 padded with zeros.
type timedStrategy struct {
	unit string
}

func newTimedStrategy(cfg StrategyConfig) (IndexStrategy, error) {
	switch cfg.TimeUnit {
	case UnitYear, UnitMonth, UnitDay, UnitWeek, UnitHour:
		return &timedStrategy{unit: cfg.TimeUnit}, nil
	}
	return nil, fmt.Errorf("%w: unknown time unit %q", errors.ErrInvalidInput, cfg.TimeUnit)
}

func (s *timedStrategy) Index(now time.Time) string {
	switch s.unit {
	case UnitYear:
		return fmt.Sprintf("%04d0101000000", now.Year())
	case UnitMonth:
		return fmt.Sprintf("%04d%02d01000000", now.Year(), now.Month())
	case UnitDay:
		return fmt.Sprintf("%04d%02d%02d000000", now.Year(), now.Month(), now.Day())
	case UnitHour:
		return fmt.Sprintf("%04d%02d%02d%02d0000", now.Year(), now.Month(), now.Day(), now.Hour())
	case UnitWeek:
		day := weekBucket(now)
		return fmt.Sprintf("%04d%02d%02d000000", day.Year(), day.Month(), day.Day())
	}
	return ""
}

// weekBucket rounds a date down to the Sunday its stored data belongs to.
// An ISO Sunday (weekday 7) keeps its own week; every other day rolls back
// to the previous week's Sunday. This matches the bucketing already present
// in stored indices and must not be changed without a reindex.
func weekBucket(now time.Time) time.Time {
	isoYear, isoWeek := now.ISOWeek()
	week := isoWeek
	if now.Weekday() != time.Sunday {
		week--
	}

	jan1 := time.Date(isoYear, time.January, 1, 0, 0, 0, 0, now.Location())
	offset := (7 - int(jan1.Weekday())) % 7
	firstSunday := jan1.AddDate(0, 0, offset)
	if week < 1 {
		return jan1
	}
	return firstSunday.AddDate(0, 0, (week-1)*7)
}
