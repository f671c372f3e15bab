package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	pipelineerrors "github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/expr"
	"github.com/skywatchhq/skywatch/internal/models"
	"github.com/skywatchhq/skywatch/internal/storage"
)

// DefinitionHandlers is the alarm-definition CRUD surface.
type DefinitionHandlers struct {
	store Store
	size  int
}

func NewDefinitionHandlers(store Store, size int) *DefinitionHandlers {
	return &DefinitionHandlers{store: store, size: size}
}

// HandleCollection dispatches /v2.0/alarm-definitions.
func (h *DefinitionHandlers) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleItem dispatches /v2.0/alarm-definitions/{id}.
func (h *DefinitionHandlers) HandleItem(w http.ResponseWriter, r *http.Request) {
	id, ok := itemID(r.URL.Path, "/v2.0/alarm-definitions/")
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

func (h *DefinitionHandlers) create(w http.ResponseWriter, r *http.Request) {
	var def models.AlarmDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return
	}

	def.ID = uuid.NewString()
	def.Severity = models.NormalizeSeverity(def.Severity)
	result, err := expr.ValidateDefinition(&def)
	if err != nil {
		writeError(w, pipelineerrors.WrapValidation("create", "alarm-definition", err))
		return
	}
	def.ExpressionData = result.ExpressionData()

	status, err := h.store.Insert(r.Context(), def.ID, &def)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", def.ID).Str("name", def.Name).Msg("Alarm definition created")
	writeJSON(w, status, &def)
}

func (h *DefinitionHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var clauses []any
	if name := q.Get("name"); name != "" {
		clauses = append(clauses, storage.QueryStringClause("name", name))
	}
	if raw := q.Get("dimensions"); raw != "" {
		for _, pair := range strings.Split(raw, ",") {
			key, value, found := strings.Cut(pair, ":")
			if !found || key == "" {
				writeJSONError(w, http.StatusBadRequest, "invalid_dimensions")
				return
			}
			clauses = append(clauses, storage.QueryStringClause("expression_data.dimensions."+key, value))
		}
	}

	result, err := h.store.Search(r.Context(), storage.QueryBody(clauses...), "")
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

func (h *DefinitionHandlers) get(w http.ResponseWriter, r *http.Request, id string) {
	hit, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(hit.Source))
}

// update enforces the structural update rule: same sub-expression count,
// per-position same metric name and dimensions, unchanged match_by.
func (h *DefinitionHandlers) update(w http.ResponseWriter, r *http.Request, id string) {
	hit, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	var oldDef models.AlarmDefinition
	if err := json.Unmarshal(hit.Source, &oldDef); err != nil {
		writeError(w, pipelineerrors.WrapUpstream("decode", "alarm-definition", err))
		return
	}

	var newDef models.AlarmDefinition
	if err := json.NewDecoder(r.Body).Decode(&newDef); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	newDef.ID = id
	newDef.Severity = models.NormalizeSeverity(newDef.Severity)

	result, err := expr.ValidateDefinition(&newDef)
	if err != nil {
		writeError(w, pipelineerrors.WrapValidation("update", "alarm-definition", err))
		return
	}
	newDef.ExpressionData = result.ExpressionData()

	if err := expr.ValidateUpdate(&oldDef, &newDef); err != nil {
		writeError(w, pipelineerrors.WrapValidation("update", "alarm-definition", err))
		return
	}

	status, err := h.store.Replace(r.Context(), id, &newDef)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Alarm definition updated")
	writeJSON(w, status, &newDef)
}

func (h *DefinitionHandlers) delete(w http.ResponseWriter, r *http.Request, id string) {
	status, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("id", id).Msg("Alarm definition deleted")
	w.WriteHeader(status)
}

// itemID extracts the trailing id of an item path. Nested paths are not
// item requests.
func itemID(path, prefix string) (string, bool) {
	id := strings.TrimPrefix(path, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
