package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/metrics"
	"github.com/skywatchhq/skywatch/internal/models"
)

const maxIngressBody = 8 << 20

// IngressHandlers accepts metric and meter posts, validates them and
// forwards one envelope per sample to the metrics topic.
type IngressHandlers struct {
	producer bus.Producer
	now      func() float64
}

func NewIngressHandlers(producer bus.Producer) *IngressHandlers {
	return &IngressHandlers{
		producer: producer,
		now:      func() float64 { return float64(time.Now().UnixNano()) / float64(time.Second) },
	}
}

// PostMetrics handles POST /v2.0/metrics. The body is a sample object or
// a list of them; every sample must carry name, dimensions, timestamp and
// value. Nothing reaches the bus unless the whole body validates.
func (h *IngressHandlers) PostMetrics(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.readSamples(w, r, isValidMetric)
	if !ok {
		metrics.SamplesRejectedTotal.WithLabelValues("metrics").Inc()
		return
	}

	augmentFromHeaders(samples, r)
	h.forward(w, r, samples, "metric", "metrics")
}

// PostMeters handles POST /v2.0/meters, the Ceilometer-compatible
// ingress. Same 204/400 contract as PostMetrics.
func (h *IngressHandlers) PostMeters(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.readSamples(w, r, isValidMeter)
	if !ok {
		metrics.SamplesRejectedTotal.WithLabelValues("meters").Inc()
		return
	}
	h.forward(w, r, samples, "meter", "meters")
}

func (h *IngressHandlers) readSamples(w http.ResponseWriter, r *http.Request, valid func(map[string]any) bool) ([]map[string]any, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngressBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "unreadable_body")
		return nil, false
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return nil, false
	}

	var samples []map[string]any
	switch v := parsed.(type) {
	case []any:
		for _, entry := range v {
			sample, ok := entry.(map[string]any)
			if !ok {
				writeJSONError(w, http.StatusBadRequest, "invalid_sample")
				return nil, false
			}
			samples = append(samples, sample)
		}
	case map[string]any:
		samples = append(samples, v)
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_sample")
		return nil, false
	}
	if len(samples) == 0 {
		writeJSONError(w, http.StatusBadRequest, "empty_body")
		return nil, false
	}

	for _, sample := range samples {
		if !valid(sample) {
			writeJSONError(w, http.StatusBadRequest, "invalid_sample")
			return nil, false
		}
	}
	return samples, true
}

// forward wraps each sample in the internal envelope and sends it to the
// bus. The bus status code is returned to the caller verbatim.
func (h *IngressHandlers) forward(w http.ResponseWriter, r *http.Request, samples []map[string]any, kind, endpoint string) {
	meta := models.EnvelopeMeta{TenantID: r.Header.Get("X-Project-Id")}
	status := http.StatusNoContent
	for _, sample := range samples {
		envelope := map[string]any{
			kind:            sample,
			"meta":          meta,
			"creation_time": h.now(),
		}
		payload, err := json.Marshal(envelope)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_sample")
			return
		}
		code, err := h.producer.Send(r.Context(), payload)
		if err != nil {
			log.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to enqueue sample")
			writeError(w, err)
			return
		}
		status = code
		metrics.SamplesIngestedTotal.WithLabelValues(endpoint).Inc()
	}
	w.WriteHeader(status)
}

func isValidMetric(sample map[string]any) bool {
	name, ok := sample["name"].(string)
	if !ok || name == "" {
		return false
	}
	if _, ok := sample["dimensions"].(map[string]any); !ok {
		return false
	}
	if _, ok := sample["timestamp"].(float64); !ok {
		return false
	}
	_, ok = sample["value"].(float64)
	return ok
}

func isValidMeter(sample map[string]any) bool {
	for _, field := range []string{"counter_name", "message_id", "project_id", "source", "user_id"} {
		value, ok := sample[field].(string)
		if !ok || value == "" {
			return false
		}
	}
	if _, ok := sample["counter_volume"].(float64); !ok {
		return false
	}
	_, present := sample["timestamp"]
	return present
}

// augmentFromHeaders copies identity fields from the request headers onto
// every sample, the way an authenticating proxy hands them over.
func augmentFromHeaders(samples []map[string]any, r *http.Request) {
	fields := map[string]string{
		"tenant":     r.Header.Get("X-Tenant"),
		"tenant_id":  r.Header.Get("X-Tenant-Id"),
		"user":       r.Header.Get("X-User"),
		"user_agent": r.Header.Get("User-Agent"),
		"project_id": r.Header.Get("X-Project-Id"),
		"user_id":    r.Header.Get("X-User-Id"),
	}
	for _, sample := range samples {
		for key, value := range fields {
			if value != "" {
				sample[key] = value
			}
		}
	}
}
