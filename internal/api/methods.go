package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/models"
	"github.com/skywatchhq/skywatch/internal/storage"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// MethodHandlers is the notification-method CRUD surface.
type MethodHandlers struct {
	store Store
	size  int
}

func NewMethodHandlers(store Store, size int) *MethodHandlers {
	return &MethodHandlers{store: store, size: size}
}

// HandleCollection dispatches /v2.0/notification-methods.
func (h *MethodHandlers) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleItem dispatches /v2.0/notification-methods/{id}.
func (h *MethodHandlers) HandleItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r.URL.Path, "/v2.0/notification-methods/")
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not_found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// validateMethod normalizes the type spelling and checks the address
// shape. The legacy PAGEDUTY spelling is accepted.
func validateMethod(method *models.NotificationMethod) bool {
	kind := strings.ToUpper(strings.TrimSpace(method.Type))
	if kind == "PAGEDUTY" {
		kind = models.MethodPagerDuty
	}
	switch kind {
	case models.MethodEmail:
		if !emailPattern.MatchString(method.Address) {
			return false
		}
	case models.MethodPagerDuty, models.MethodWebhook:
		if strings.TrimSpace(method.Address) == "" {
			return false
		}
	default:
		return false
	}
	method.Type = kind
	return true
}

func (h *MethodHandlers) create(w http.ResponseWriter, r *http.Request) {
	var method models.NotificationMethod
	if err := json.NewDecoder(r.Body).Decode(&method); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if !validateMethod(&method) {
		writeJSONError(w, http.StatusBadRequest, "invalid_method")
		return
	}
	method.ID = uuid.NewString()

	status, err := h.store.Insert(r.Context(), method.ID, &method)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", method.ID).Str("type", method.Type).Msg("Notification method created")
	writeJSON(w, status, &method)
}

func (h *MethodHandlers) list(w http.ResponseWriter, r *http.Request) {
	result, err := h.store.Search(r.Context(), storage.QueryBody(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]json.RawMessage, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		out = append(out, hit.Source)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MethodHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	hit, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(hit.Source))
}

func (h *MethodHandlers) update(w http.ResponseWriter, r *http.Request, id string) {
	var method models.NotificationMethod
	if err := json.NewDecoder(r.Body).Decode(&method); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if !validateMethod(&method) {
		writeJSONError(w, http.StatusBadRequest, "invalid_method")
		return
	}
	method.ID = id

	status, err := h.store.Replace(r.Context(), id, &method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, &method)
}

func (h *MethodHandlers) delete(w http.ResponseWriter, r *http.Request, id string) {
	status, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Notification method deleted")
	w.WriteHeader(status)
}
