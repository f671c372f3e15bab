package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/skywatchhq/skywatch/internal/models"
)

func postMethod(t *testing.T, h *MethodHandlers, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v2.0/notification-methods", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleCollection(rec, req)
	return rec
}

func TestCreateEmailMethod(t *testing.T) {
	store := newFakeStore()
	store.status = http.StatusCreated
	h := NewMethodHandlers(store, 100)

	rec := postMethod(t, h, `{"name":"oncall","type":"EMAIL","address":"oncall@example.com"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.Bytes())
	}
	var method models.NotificationMethod
	decodeBody(t, rec.Body.Bytes(), &method)
	if method.ID == "" {
		t.Fatalf("no id assigned")
	}
}

func TestCreateEmailMethodBadAddress(t *testing.T) {
	store := newFakeStore()
	h := NewMethodHandlers(store, 100)

	rec := postMethod(t, h, `{"name":"oncall","type":"EMAIL","address":"not-an-email"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.inserted) != 0 {
		t.Fatalf("invalid method stored")
	}
}

func TestCreateMethodLegacyPagerDutySpelling(t *testing.T) {
	store := newFakeStore()
	h := NewMethodHandlers(store, 100)

	rec := postMethod(t, h, `{"name":"pd","type":"PAGEDUTY","address":"service-key"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var method models.NotificationMethod
	decodeBody(t, rec.Body.Bytes(), &method)
	if method.Type != models.MethodPagerDuty {
		t.Fatalf("type = %q", method.Type)
	}
}

func TestCreateMethodUnknownType(t *testing.T) {
	h := NewMethodHandlers(newFakeStore(), 100)
	rec := postMethod(t, h, `{"name":"x","type":"CARRIER_PIGEON","address":"coop"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateMethod(t *testing.T) {
	store := newFakeStore()
	h := NewMethodHandlers(store, 100)

	body := `{"name":"hook","type":"WEBHOOK","address":"http://hooks.example.com/a"}`
	req := httptest.NewRequest(http.MethodPut, "/v2.0/notification-methods/n-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	method, ok := store.replaced["n-1"].(*models.NotificationMethod)
	if !ok {
		t.Fatalf("method not replaced")
	}
	if method.ID != "n-1" {
		t.Fatalf("id = %q", method.ID)
	}
}

func TestDeleteMethod(t *testing.T) {
	store := newFakeStore()
	h := NewMethodHandlers(store, 100)

	req := httptest.NewRequest(http.MethodDelete, "/v2.0/notification-methods/n-1", nil)
	rec := httptest.NewRecorder()
	h.HandleItem(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "n-1" {
		t.Fatalf("deleted = %v", store.deleted)
	}
}
