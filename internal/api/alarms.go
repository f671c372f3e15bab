package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/storage"
)

// AlarmHandlers serves alarm events: the latest event per definition and
// item-level access by event id.
type AlarmHandlers struct {
	store Store
	size  int
}

func NewAlarmHandlers(store Store, size int) *AlarmHandlers {
	return &AlarmHandlers{store: store, size: size}
}

// ListLatest handles GET /v2.0/alarms: the most recently updated event
// per alarm-definition name.
func (h *AlarmHandlers) ListLatest(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.Search(r.Context(), storage.LatestAlarmsBody(h.size), "")
	if err != nil {
		writeError(w, err)
		return
	}
	aggs, err := storage.ParseAlarmAggs(result.Aggregations)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]json.RawMessage, 0, len(aggs.LatestState.Buckets))
	for _, bucket := range aggs.LatestState.Buckets {
		if len(bucket.TopStateHits.Hits.Hits) > 0 {
			out = append(out, bucket.TopStateHits.Hits.Hits[0].Source)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleItem dispatches /v2.0/alarms/{id}.
func (h *AlarmHandlers) HandleItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r.URL.Path, "/v2.0/alarms/")
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.replace(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *AlarmHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	hit, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(hit.Source))
}

func (h *AlarmHandlers) replace(w http.ResponseWriter, r *http.Request, id string) {
	var event map[string]any
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	event["id"] = id

	status, err := h.store.Replace(r.Context(), id, event)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, event)
}

func (h *AlarmHandlers) delete(w http.ResponseWriter, r *http.Request, id string) {
	status, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Alarm deleted")
	w.WriteHeader(status)
}
