package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skywatchhq/skywatch/internal/models"
)

func TestCreateDefinition(t *testing.T) {
	store := newFakeStore()
	store.status = http.StatusCreated
	h := NewDefinitionHandlers(store, 100)

	body := `{"name":"high cpu","description":"","expression":"max(cpu{host=h1})>90",
		"match_by":["host"],"severity":"weird","alarm_actions":["m-1"]}`
	req := httptest.NewRequest(http.MethodPost, "/v2.0/alarm-definitions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCollection(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.Bytes())
	}
	var def models.AlarmDefinition
	decodeBody(t, rec.Body.Bytes(), &def)
	if def.ID == "" {
		t.Fatalf("no id assigned")
	}
	if def.Severity != models.SeverityLow {
		t.Fatalf("severity = %q, want LOW", def.Severity)
	}
	if len(def.ExpressionData) != 1 {
		t.Fatalf("expression_data = %+v", def.ExpressionData)
	}
	leaf := def.ExpressionData[0]
	if leaf.Function != "MAX" || leaf.MetricName != "cpu" || leaf.Operator != "GT" {
		t.Fatalf("leaf = %+v", leaf)
	}
	if _, ok := store.inserted[def.ID]; !ok {
		t.Fatalf("definition not stored")
	}
}

func TestCreateDefinitionBadExpression(t *testing.T) {
	store := newFakeStore()
	h := NewDefinitionHandlers(store, 100)

	body := `{"name":"broken","expression":"max(cpu"}`
	req := httptest.NewRequest(http.MethodPost, "/v2.0/alarm-definitions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCollection(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("invalid definition stored")
	}
}

func storedDefinition(t *testing.T, expression string, matchBy ...string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(&models.AlarmDefinition{
		ID:         "d-1",
		Name:       "high cpu",
		Expression: expression,
		MatchBy:    matchBy,
		Severity:   models.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("marshal definition: %v", err)
	}
	return raw
}

func TestUpdateDefinitionAllowsThresholdChange(t *testing.T) {
	store := newFakeStore()
	store.hits["d-1"] = storedDefinition(t, "max(cpu{host=h1})>90", "host")
	h := NewDefinitionHandlers(store, 100)

	body := `{"name":"high cpu","expression":"max(cpu{host=h1})>95","match_by":["host"]}`
	req := httptest.NewRequest(http.MethodPut, "/v2.0/alarm-definitions/d-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.Bytes())
	}
	if _, ok := store.replaced["d-1"]; !ok {
		t.Fatalf("definition not replaced")
	}
	var def models.AlarmDefinition
	decodeBody(t, rec.Body.Bytes(), &def)
	if def.ID != "d-1" {
		t.Fatalf("id = %q", def.ID)
	}
}

func TestUpdateDefinitionStructuralViolation(t *testing.T) {
	store := newFakeStore()
	store.hits["d-1"] = storedDefinition(t, "max(cpu{host=h1})>90", "host")
	h := NewDefinitionHandlers(store, 100)

	// Different metric name per position is a structural change.
	body := `{"name":"high cpu","expression":"max(mem{host=h1})>90","match_by":["host"]}`
	req := httptest.NewRequest(http.MethodPut, "/v2.0/alarm-definitions/d-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.replaced) != 0 {
		t.Fatalf("structural change stored")
	}
}

func TestUpdateDefinitionChangedMatchBy(t *testing.T) {
	store := newFakeStore()
	store.hits["d-1"] = storedDefinition(t, "max(cpu{host=h1})>90", "host")
	h := NewDefinitionHandlers(store, 100)

	body := `{"name":"high cpu","expression":"max(cpu{host=h1})>90","match_by":["region"]}`
	req := httptest.NewRequest(http.MethodPut, "/v2.0/alarm-definitions/d-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetDefinitionNotFound(t *testing.T) {
	h := NewDefinitionHandlers(newFakeStore(), 100)
	req := httptest.NewRequest(http.MethodGet, "/v2.0/alarm-definitions/missing", nil)
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListDefinitionsFiltered(t *testing.T) {
	store := newFakeStore()
	h := NewDefinitionHandlers(store, 100)

	req := httptest.NewRequest(http.MethodGet, "/v2.0/alarm-definitions?name=high&dimensions=host:h1", nil)
	rec := httptest.NewRecorder()
	h.HandleCollection(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	raw, err := json.Marshal(store.searchBody)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	for _, want := range []string{`"default_field":"name"`, `"expression_data.dimensions.host"`} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("query body missing %s: %s", want, raw)
		}
	}
}

func TestDeleteDefinitionStatusPassthrough(t *testing.T) {
	store := newFakeStore()
	store.status = http.StatusNoContent
	h := NewDefinitionHandlers(store, 100)

	req := httptest.NewRequest(http.MethodDelete, "/v2.0/alarm-definitions/d-1", nil)
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "d-1" {
		t.Fatalf("deleted = %v", store.deleted)
	}
}
