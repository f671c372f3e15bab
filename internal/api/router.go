// Package api is the HTTP surface: metric/meter ingress, the read-only
// query endpoints over the document store, alarm-definition and
// notification-method CRUD, and the version listing.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	pipelineerrors "github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/metrics"
	"github.com/skywatchhq/skywatch/internal/storage"
	"github.com/skywatchhq/skywatch/internal/stream"
)

// Store is the slice of the document-store client the handlers use. One
// instance per document type.
type Store interface {
	Insert(ctx context.Context, id string, doc any) (int, error)
	Replace(ctx context.Context, id string, doc any) (int, error)
	Delete(ctx context.Context, id string) (int, error)
	Search(ctx context.Context, body any, rawQuery string) (*storage.SearchResult, error)
	GetByID(ctx context.Context, id string) (*storage.Hit, error)
}

// Deps carries everything the router needs. Hub may be nil when the
// process runs without the live alarm stream.
type Deps struct {
	Metrics     Store
	Alarms      Store
	Definitions Store
	Methods     Store
	Producer    bus.Producer
	Hub         *stream.Hub
	Size        int
}

// Router dispatches the v2.0 API.
type Router struct {
	mux *http.ServeMux
}

// NewRouter builds the router and wires all routes.
func NewRouter(deps Deps) http.Handler {
	if deps.Size <= 0 {
		deps.Size = 10000
	}
	r := &Router{mux: http.NewServeMux()}

	ingress := NewIngressHandlers(deps.Producer)
	query := NewQueryHandlers(deps.Metrics, deps.Size)
	definitions := NewDefinitionHandlers(deps.Definitions, deps.Size)
	alarms := NewAlarmHandlers(deps.Alarms, deps.Size)
	methods := NewMethodHandlers(deps.Methods, deps.Size)

	r.mux.HandleFunc("/", handleVersions)
	r.mux.Handle("/metrics", metrics.Handler())

	r.mux.HandleFunc("/v2.0/metrics", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			ingress.PostMetrics(w, req)
		case http.MethodGet:
			query.ListMetrics(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/v2.0/meters", requireMethod(http.MethodPost, ingress.PostMeters))
	r.mux.HandleFunc("/v2.0/metrics/measurements", requireMethod(http.MethodGet, query.GetMeasurements))
	r.mux.HandleFunc("/v2.0/metrics/statistics", requireMethod(http.MethodGet, query.GetStatistics))

	r.mux.HandleFunc("/v2.0/alarm-definitions", definitions.HandleCollection)
	r.mux.HandleFunc("/v2.0/alarm-definitions/", definitions.HandleItem)

	r.mux.HandleFunc("/v2.0/alarms", requireMethod(http.MethodGet, alarms.ListLatest))
	r.mux.HandleFunc("/v2.0/alarms/", alarms.HandleItem)
	if deps.Hub != nil {
		r.mux.Handle("/v2.0/alarms/stream", deps.Hub)
	}

	r.mux.HandleFunc("/v2.0/notification-methods", methods.HandleCollection)
	r.mux.HandleFunc("/v2.0/notification-methods/", methods.HandleItem)

	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != method {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next(w, req)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("Failed to encode response body")
		}
	}
}

// writeError flattens an internal error to a status code at the boundary
// without leaking internal messages.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	code := "bad_request"
	switch {
	case stderrors.Is(err, pipelineerrors.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case stderrors.Is(err, pipelineerrors.ErrUpstream):
		status = http.StatusServiceUnavailable
		code = "upstream_unavailable"
	}
	log.Debug().Err(err).Int("status", status).Msg("Request failed")
	writeJSONError(w, status, code)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
