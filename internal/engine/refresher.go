package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/storage"
)

// DefinitionSource is the slice of the store client the refresher needs.
type DefinitionSource interface {
	Search(ctx context.Context, body any, rawQuery string) (*storage.SearchResult, error)
}

// Refresher periodically reloads the alarm definitions from the store
// and reconciles the catalog against them. A failed query leaves the
// catalog untouched.
type Refresher struct {
	catalog  *Catalog
	store    DefinitionSource
	interval time.Duration
	query    map[string]any
}

// NewRefresher builds a refresher with an optional name/dimensions
// filter. dimensions uses the "k1:v1,k2:v2" form of the query API; an
// empty filter matches every definition.
func NewRefresher(catalog *Catalog, store DefinitionSource, interval time.Duration, name, dimensions string) *Refresher {
	if interval <= 0 {
		interval = 120 * time.Second
	}
	var clauses []any
	if dimensions != "" {
		for _, pair := range strings.Split(dimensions, ",") {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
				continue
			}
			clauses = append(clauses, storage.QueryStringClause(
				"alarmdefinitions.expression_data.dimensions."+strings.TrimSpace(kv[0]),
				strings.TrimSpace(kv[1])))
		}
	}
	if name != "" {
		clauses = append(clauses, storage.QueryStringClause("name", name))
	}
	return &Refresher{
		catalog:  catalog,
		store:    store,
		interval: interval,
		query:    storage.QueryBody(clauses...),
	}
}

// Run reloads definitions once immediately and then on every tick until
// the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	r.refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	result, err := r.store.Search(ctx, r.query, "")
	if err != nil {
		log.Warn().Err(err).Msg("Alarm definition query failed, keeping current processors")
		return
	}
	defs := decodeDefinitions(result)
	r.catalog.Reconcile(defs)
	log.Debug().Int("definitions", len(defs)).Int("processors", r.catalog.Size()).Msg("Alarm definitions refreshed")
}

func decodeDefinitions(result *storage.SearchResult) []Definition {
	defs := make([]Definition, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		var d Definition
		if err := json.Unmarshal(hit.Source, &d.Def); err != nil || d.Def == nil || d.Def.ID == "" {
			log.Warn().Err(err).Str("id", hit.ID).Msg("Skipping malformed alarm definition document")
			continue
		}
		d.Raw = string(hit.Source)
		defs = append(defs, d)
	}
	return defs
}
