package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	pipelineerrors "github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/models"
	"github.com/skywatchhq/skywatch/internal/storage"
)

var defaultStatistics = []string{"avg", "count", "max", "min", "sum"}

// QueryHandlers serves the read-only metric views.
type QueryHandlers struct {
	store Store
	size  int
	now   func() time.Time
}

func NewQueryHandlers(store Store, size int) *QueryHandlers {
	return &QueryHandlers{store: store, size: size, now: time.Now}
}

// ListMetrics handles GET /v2.0/metrics: unique (name, dimensions) pairs
// matching the optional name/dimensions filters.
func (h *QueryHandlers) ListMetrics(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.store.Search(r.Context(), storage.MetricsListBody(filter, h.size), "")
	if err != nil {
		writeError(w, err)
		return
	}
	aggs, err := storage.ParseMetricAggs(result.Aggregations)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]json.RawMessage, 0)
	for _, name := range aggs.ByName.Buckets {
		for _, dim := range name.ByDim.Buckets {
			if len(dim.Metrics.Hits.Hits) > 0 {
				out = append(out, dim.Metrics.Hits.Hits[0].Source)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type metricIdentity struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions"`
}

type measurementGroup struct {
	Name         string            `json:"name"`
	Dimensions   map[string]string `json:"dimensions"`
	Columns      []string          `json:"columns"`
	Measurements [][]any           `json:"measurements"`
}

// GetMeasurements handles GET /v2.0/metrics/measurements: raw samples
// grouped by (name, dimensions).
func (h *QueryHandlers) GetMeasurements(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.store.Search(r.Context(), storage.MeasurementsBody(filter, h.size), "")
	if err != nil {
		writeError(w, err)
		return
	}
	aggs, err := storage.ParseMetricAggs(result.Aggregations)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]measurementGroup, 0)
	for _, name := range aggs.ByName.Buckets {
		for _, dim := range name.ByDim.Buckets {
			identity, ok := dimIdentity(dim.Dimension)
			if !ok {
				continue
			}
			group := measurementGroup{
				Name:         identity.Name,
				Dimensions:   identity.Dimensions,
				Columns:      []string{"id", "timestamp", "value"},
				Measurements: make([][]any, 0, len(dim.Measures.Hits.Hits)),
			}
			for _, hit := range dim.Measures.Hits.Hits {
				var sample struct {
					Timestamp float64 `json:"timestamp"`
					Value     float64 `json:"value"`
				}
				if err := json.Unmarshal(hit.Source, &sample); err != nil {
					continue
				}
				group.Measurements = append(group.Measurements, []any{
					hit.ID, models.ISO8601(sample.Timestamp), sample.Value,
				})
			}
			out = append(out, group)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type statisticsGroup struct {
	Name       string            `json:"name"`
	Dimensions map[string]string `json:"dimensions"`
	Columns    []string          `json:"columns"`
	Statistics [][]any           `json:"statistics"`
}

// GetStatistics handles GET /v2.0/metrics/statistics: period-bucketed
// aggregates per (name, dimensions) group.
func (h *QueryHandlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	filter, err := h.filterFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	period := 300
	if raw := r.URL.Query().Get("period"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_period")
			return
		}
		period = parsed
	}

	stats := defaultStatistics
	if raw := r.URL.Query().Get("statistics"); raw != "" {
		stats = nil
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToLower(strings.TrimSpace(s))
			if _, ok := (storage.StatsValues{}).Value(s); !ok {
				writeJSONError(w, http.StatusBadRequest, "invalid_statistic")
				return
			}
			stats = append(stats, s)
		}
	}

	result, err := h.store.Search(r.Context(), storage.StatisticsBody(filter, h.size, period), "")
	if err != nil {
		writeError(w, err)
		return
	}
	aggs, err := storage.ParseMetricAggs(result.Aggregations)
	if err != nil {
		writeError(w, err)
		return
	}

	columns := append([]string{"timestamp"}, stats...)
	out := make([]statisticsGroup, 0)
	for _, name := range aggs.ByName.Buckets {
		for _, dim := range name.ByDim.Buckets {
			identity, ok := dimIdentity(dim.Dimension)
			if !ok {
				continue
			}
			group := statisticsGroup{
				Name:       identity.Name,
				Dimensions: identity.Dimensions,
				Columns:    columns,
				Statistics: make([][]any, 0, len(dim.Periods.Buckets)),
			}
			for _, bucket := range dim.Periods.Buckets {
				row := make([]any, 0, len(columns))
				row = append(row, models.ISO8601(float64(bucket.Key)))
				for _, s := range stats {
					value, _ := bucket.Statistics.Value(s)
					row = append(row, value)
				}
				group.Statistics = append(group.Statistics, row)
			}
			out = append(out, group)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func dimIdentity(hits storage.TopHits) (metricIdentity, bool) {
	if len(hits.Hits.Hits) == 0 {
		return metricIdentity{}, false
	}
	var identity metricIdentity
	if err := json.Unmarshal(hits.Hits.Hits[0].Source, &identity); err != nil {
		return metricIdentity{}, false
	}
	return identity, true
}

// filterFromRequest parses name, dimensions and the time window. The
// window defaults to the last 30 days.
func (h *QueryHandlers) filterFromRequest(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	now := h.now().UTC()
	filter := storage.Filter{
		Name:  q.Get("name"),
		Start: now.AddDate(0, 0, -30),
		End:   now,
	}

	if raw := q.Get("dimensions"); raw != "" {
		filter.Dimensions = map[string]string{}
		for _, pair := range strings.Split(raw, ",") {
			key, value, found := strings.Cut(pair, ":")
			if !found || key == "" {
				return filter, pipelineerrors.WrapValidation("parse", "dimensions", pipelineerrors.ErrInvalidInput)
			}
			filter.Dimensions[key] = value
		}
	}

	if raw := q.Get("start_time"); raw != "" {
		start, err := parseTimestamp(raw)
		if err != nil {
			return filter, err
		}
		filter.Start = start
	}
	if raw := q.Get("end_time"); raw != "" {
		end, err := parseTimestamp(raw)
		if err != nil {
			return filter, err
		}
		filter.End = end
	}
	return filter, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, pipelineerrors.WrapValidation("parse", "timestamp", pipelineerrors.ErrInvalidInput)
}
