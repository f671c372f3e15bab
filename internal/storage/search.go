package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Filter carries the common query parameters of the metric read paths.
// A zero Name or empty Dimensions map matches everything in that slot.
type Filter struct {
	Name       string
	Dimensions map[string]string
	Start      time.Time
	End        time.Time
}

// Clauses renders the filter as bool/must clauses. Dimension clauses are
// emitted in sorted key order so bodies are deterministic.
func (f Filter) Clauses() []any {
	var clauses []any
	if f.Name != "" {
		clauses = append(clauses, map[string]any{
			"match": map[string]any{"name": f.Name},
		})
	}
	clauses = append(clauses, map[string]any{
		"range": map[string]any{
			"timestamp": map[string]any{"gte": f.Start.Unix(), "lt": f.End.Unix()},
		},
	})
	keys := make([]string, 0, len(f.Dimensions))
	for k := range f.Dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, map[string]any{
			"match": map[string]any{"dimensions." + k: f.Dimensions[k]},
		})
	}
	return clauses
}

func boolQuery(clauses []any) map[string]any {
	return map[string]any{"bool": map[string]any{"must": clauses}}
}

// MetricsListBody groups samples by (name, dimensions_hash) and pulls one
// representative document per group.
func MetricsListBody(f Filter, size int) map[string]any {
	return map[string]any{
		"query": boolQuery(f.Clauses()),
		"size":  size,
		"aggs": map[string]any{
			"by_name": map[string]any{
				"terms": map[string]any{"field": "name", "size": size},
				"aggs": map[string]any{
					"by_dim": map[string]any{
						"terms": map[string]any{"field": "dimensions_hash", "size": size},
						"aggs": map[string]any{
							"metrics": map[string]any{
								"top_hits": map[string]any{
									"_source": map[string]any{
										"exclude": []string{"dimensions_hash", "timestamp", "value"},
									},
									"size": 1,
								},
							},
						},
					},
				},
			},
		},
	}
}

// MeasurementsBody returns the raw samples of every (name, dimensions)
// group, oldest first.
func MeasurementsBody(f Filter, size int) map[string]any {
	return map[string]any{
		"query": boolQuery(f.Clauses()),
		"size":  size,
		"aggs": map[string]any{
			"by_name": map[string]any{
				"terms": map[string]any{"field": "name", "size": size},
				"aggs": map[string]any{
					"by_dim": map[string]any{
						"terms": map[string]any{"field": "dimensions_hash", "size": size},
						"aggs": map[string]any{
							"dimension": map[string]any{
								"top_hits": map[string]any{
									"_source": map[string]any{
										"exclude": []string{"dimensions_hash", "timestamp", "value"},
									},
									"size": 1,
								},
							},
							"measures": map[string]any{
								"top_hits": map[string]any{
									"_source": map[string]any{
										"include": []string{"timestamp", "value"},
									},
									"sort": []any{map[string]any{"timestamp": "asc"}},
									"size": size,
								},
							},
						},
					},
				},
			},
		},
	}
}

// StatisticsBody buckets every (name, dimensions) group into period-wide
// date histogram buckets carrying a stats aggregate over value.
func StatisticsBody(f Filter, size, periodSeconds int) map[string]any {
	return map[string]any{
		"query": boolQuery(f.Clauses()),
		"size":  size,
		"aggs": map[string]any{
			"by_name": map[string]any{
				"terms": map[string]any{"field": "name", "size": size},
				"aggs": map[string]any{
					"by_dim": map[string]any{
						"terms": map[string]any{"field": "dimensions_hash", "size": size},
						"aggs": map[string]any{
							"dimension": map[string]any{
								"top_hits": map[string]any{
									"_source": map[string]any{
										"exclude": []string{"dimensions_hash", "timestamp", "value"},
									},
									"size": 1,
								},
							},
							"periods": map[string]any{
								"date_histogram": map[string]any{
									"field":    "timestamp",
									"interval": strconv.Itoa(periodSeconds) + "s",
								},
								"aggs": map[string]any{
									"statistics": map[string]any{
										"stats": map[string]any{"field": "value"},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

// LatestAlarmsBody groups alarm events by definition name and keeps the
// most recently updated event per group.
func LatestAlarmsBody(size int) map[string]any {
	return map[string]any{
		"aggs": map[string]any{
			"latest_state": map[string]any{
				"terms": map[string]any{"field": "alarm_definition.name", "size": size},
				"aggs": map[string]any{
					"top_state_hits": map[string]any{
						"top_hits": map[string]any{
							"sort": []any{
								map[string]any{"updated_timestamp": map[string]any{"order": "desc"}},
							},
							"size": 1,
						},
					},
				},
			},
		},
	}
}

// QueryStringClause matches one field against a value with query_string
// syntax, as the alarm-definition filters do.
func QueryStringClause(field, value string) map[string]any {
	return map[string]any{
		"query_string": map[string]any{
			"default_field": field,
			"query":         value,
		},
	}
}

// QueryBody wraps arbitrary clauses into a plain bool/must query.
func QueryBody(clauses ...any) map[string]any {
	if len(clauses) == 0 {
		return map[string]any{}
	}
	return map[string]any{"query": boolQuery(clauses)}
}

// TopHits is the inner hits envelope of a top_hits aggregation.
type TopHits struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// StatsValues is the stats aggregation payload.
type StatsValues struct {
	Count float64 `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// Value returns the named statistic.
func (s StatsValues) Value(name string) (float64, bool) {
	switch name {
	case "count":
		return s.Count, true
	case "min":
		return s.Min, true
	case "max":
		return s.Max, true
	case "avg":
		return s.Avg, true
	case "sum":
		return s.Sum, true
	}
	return 0, false
}

// PeriodBucket is one date histogram bucket of the statistics query.
type PeriodBucket struct {
	Key        int64       `json:"key"`
	Statistics StatsValues `json:"statistics"`
}

// DimBucket is one dimensions_hash group under a metric name.
type DimBucket struct {
	Key       string  `json:"key"`
	Metrics   TopHits `json:"metrics"`
	Dimension TopHits `json:"dimension"`
	Measures  TopHits `json:"measures"`
	Periods   struct {
		Buckets []PeriodBucket `json:"buckets"`
	} `json:"periods"`
}

// NameBucket is one metric name group.
type NameBucket struct {
	Key   string `json:"key"`
	ByDim struct {
		Buckets []DimBucket `json:"buckets"`
	} `json:"by_dim"`
}

// MetricAggs is the aggregations section of the metric read queries.
type MetricAggs struct {
	ByName struct {
		Buckets []NameBucket `json:"buckets"`
	} `json:"by_name"`
}

// ParseMetricAggs decodes the aggregations of a metric read query. A nil
// raw section yields empty aggs, not an error.
func ParseMetricAggs(raw json.RawMessage) (*MetricAggs, error) {
	var aggs MetricAggs
	if len(raw) == 0 {
		return &aggs, nil
	}
	if err := json.Unmarshal(raw, &aggs); err != nil {
		return nil, fmt.Errorf("decode metric aggregations: %w", err)
	}
	return &aggs, nil
}

// AlarmAggs is the aggregations section of the latest-alarms query.
type AlarmAggs struct {
	LatestState struct {
		Buckets []struct {
			Key          string  `json:"key"`
			TopStateHits TopHits `json:"top_state_hits"`
		} `json:"buckets"`
	} `json:"latest_state"`
}

// ParseAlarmAggs decodes the aggregations of the latest-alarms query.
func ParseAlarmAggs(raw json.RawMessage) (*AlarmAggs, error) {
	var aggs AlarmAggs
	if len(raw) == 0 {
		return &aggs, nil
	}
	if err := json.Unmarshal(raw, &aggs); err != nil {
		return nil, fmt.Errorf("decode alarm aggregations: %w", err)
	}
	return &aggs, nil
}
