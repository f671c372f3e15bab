package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stderrors "errors"

	pipelineerrors "github.com/skywatchhq/skywatch/internal/errors"
)

func fixedClient(t *testing.T, serverURL string, drop bool) *Client {
	t.Helper()
	strategy, _ := NewStrategy(StrategyFixed, StrategyConfig{IndexName: "20140101000000"})
	c, err := NewClient(Config{URI: serverURL, IndexPrefix: "data_", DropData: drop}, "metrics", strategy)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestClientWritePaths(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)

	status, err := c.Insert(context.Background(), "abc", map[string]string{"name": "cpu"})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if status != http.StatusCreated {
		t.Fatalf("Insert status = %d, want 201 passed through", status)
	}
	if gotMethod != http.MethodPost || gotPath != "/data_20140101000000/metrics/abc" {
		t.Fatalf("Insert hit %s %s", gotMethod, gotPath)
	}

	if _, err := c.Replace(context.Background(), "abc", map[string]string{"name": "cpu"}); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if gotMethod != http.MethodPut {
		t.Fatalf("Replace used %s", gotMethod)
	}

	if _, err := c.Delete(context.Background(), "abc"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/data_*/metrics/abc" {
		t.Fatalf("Delete hit %s %s", gotMethod, gotPath)
	}
}

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data_*/metrics/_search" {
			t.Errorf("search hit %s", r.URL.Path)
		}
		w.Write([]byte(`{"hits":{"hits":[{"_id":"1","_source":{"name":"cpu"}}]},` +
			`"aggregations":{"by_name":{"buckets":[]}}}`))
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)
	result, err := c.Search(context.Background(), map[string]any{"size": 1}, "")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Hits.Hits) != 1 || result.Hits.Hits[0].ID != "1" {
		t.Fatalf("unexpected hits: %+v", result.Hits)
	}
	if len(result.Aggregations) == 0 {
		t.Fatalf("aggregations not captured")
	}
}

func TestClientGetByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery == "q=_id:hit" {
			w.Write([]byte(`{"hits":{"hits":[{"_id":"hit","_source":{}}]}}`))
			return
		}
		w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)
	hit, err := c.GetByID(context.Background(), "hit")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if hit.ID != "hit" {
		t.Fatalf("wrong hit: %+v", hit)
	}

	_, err = c.GetByID(context.Background(), "miss")
	if !stderrors.Is(err, pipelineerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)
	if _, err := c.Search(context.Background(), nil, ""); !stderrors.Is(err, pipelineerrors.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestClientDropData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("drop_data client must not touch the store")
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, true)
	if status, err := c.Insert(context.Background(), "x", nil); err != nil || status != http.StatusNoContent {
		t.Fatalf("Insert = %d, %v", status, err)
	}
	if status, err := c.Delete(context.Background(), "x"); err != nil || status != http.StatusNoContent {
		t.Fatalf("Delete = %d, %v", status, err)
	}
	result, err := c.Search(context.Background(), nil, "")
	if err != nil || len(result.Hits.Hits) != 0 {
		t.Fatalf("Search = %+v, %v", result, err)
	}
}

func TestClientInstallTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/_template/metrics" {
			t.Errorf("template hit %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)
	if err := c.InstallTemplate(context.Background(), "metrics", map[string]any{"template": "data_*"}); err != nil {
		t.Fatalf("InstallTemplate failed: %v", err)
	}
}

func TestClientInstallTemplateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := fixedClient(t, srv.URL, false)
	if err := c.InstallTemplate(context.Background(), "metrics", nil); err == nil {
		t.Fatalf("template failure not surfaced")
	}
}

func TestClientRequiresURI(t *testing.T) {
	strategy, _ := NewStrategy(StrategyFixed, StrategyConfig{})
	if _, err := NewClient(Config{}, "metrics", strategy); err == nil {
		t.Fatalf("missing uri accepted")
	}
}

func TestClientDefaultTimeout(t *testing.T) {
	c := fixedClient(t, "http://127.0.0.1:9200", false)
	if c.httpClient.Timeout != 30*time.Second {
		t.Fatalf("default timeout = %v", c.httpClient.Timeout)
	}
}
