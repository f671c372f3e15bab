package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func httpBody(s string) io.Reader { return strings.NewReader(s) }

func testRouter() http.Handler {
	return NewRouter(Deps{
		Metrics:     newFakeStore(),
		Alarms:      newFakeStore(),
		Definitions: newFakeStore(),
		Methods:     newFakeStore(),
		Producer:    &fakeProducer{},
	})
}

func TestVersionList(t *testing.T) {
	router := testRouter()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []versionEntry
	decodeBody(t, rec.Body.Bytes(), &out)
	if len(out) != 1 || out[0].ID != "v2.0" || out[0].Status != "CURRENT" {
		t.Fatalf("versions = %+v", out)
	}
}

func TestVersionByID(t *testing.T) {
	router := testRouter()
	for _, id := range []string{"v2.0", "2.0", "2"} {
		req := httptest.NewRequest(http.MethodGet, "/"+id, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /%s: status = %d", id, rec.Code)
		}
	}
}

func TestVersionUnknown(t *testing.T) {
	router := testRouter()
	req := httptest.NewRequest(http.MethodGet, "/v9.9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterMethodChecks(t *testing.T) {
	router := testRouter()
	cases := []struct {
		method, path string
	}{
		{http.MethodDelete, "/v2.0/metrics"},
		{http.MethodGet, "/v2.0/meters"},
		{http.MethodPost, "/v2.0/metrics/measurements"},
		{http.MethodPost, "/v2.0/alarms"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status = %d", c.method, c.path, rec.Code)
		}
	}
}

func TestRouterServesTelemetry(t *testing.T) {
	router := testRouter()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRouterIngressRoundTrip(t *testing.T) {
	producer := &fakeProducer{}
	router := NewRouter(Deps{
		Metrics:     newFakeStore(),
		Alarms:      newFakeStore(),
		Definitions: newFakeStore(),
		Methods:     newFakeStore(),
		Producer:    producer,
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v2.0/metrics", "application/json",
		httpBody(`{"name":"cpu","dimensions":{},"timestamp":1,"value":1}`))
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(producer.sent) != 1 {
		t.Fatalf("sent = %d", len(producer.sent))
	}
}
