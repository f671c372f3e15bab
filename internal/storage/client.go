package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/errors"
)

// Config holds the document-store connection settings shared by every
// client in the process.
type Config struct {
	URI         string
	IndexPrefix string
	DropData    bool // test mode: acknowledge writes without sending
	Timeout     time.Duration
}

// Client talks to one doc type of the HTTP document store. Writes resolve
// the target index through the strategy per request so indices roll over
// without a restart; reads go through the prefix wildcard.
type Client struct {
	uri        string
	prefix     string
	docType    string
	strategy   IndexStrategy
	dropData   bool
	httpClient *http.Client
	searchPath string

	now func() time.Time
}

// SearchResult is the store's query response envelope.
type SearchResult struct {
	Hits struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
	Aggregations json.RawMessage `json:"aggregations"`
}

// Hit is a single matched document.
type Hit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// NewClient builds a store client for one doc type.
func NewClient(cfg Config, docType string, strategy IndexStrategy) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: store uri is not configured", errors.ErrInvalidInput)
	}
	uri := cfg.URI
	if !strings.HasSuffix(uri, "/") {
		uri += "/"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		uri:        uri,
		prefix:     cfg.IndexPrefix,
		docType:    docType,
		strategy:   strategy,
		dropData:   cfg.DropData,
		httpClient: &http.Client{Timeout: timeout},
		searchPath: uri + cfg.IndexPrefix + "*/" + docType + "/_search",
		now:        time.Now,
	}
	log.Debug().Str("uri", uri).Str("docType", docType).Msg("Store client initialized")
	return c, nil
}

// writePath is the per-document URL for the index the strategy names now.
func (c *Client) writePath(id string) string {
	index := c.strategy.Index(c.now())
	return c.uri + c.prefix + index + "/" + c.docType + "/" + id
}

// Insert upserts a document and returns the store's status code verbatim.
func (c *Client) Insert(ctx context.Context, id string, doc any) (int, error) {
	return c.write(ctx, http.MethodPost, id, doc)
}

// Replace overwrites a document and returns the store's status code verbatim.
func (c *Client) Replace(ctx context.Context, id string, doc any) (int, error) {
	return c.write(ctx, http.MethodPut, id, doc)
}

func (c *Client) write(ctx context.Context, method, id string, doc any) (int, error) {
	if c.dropData {
		return http.StatusNoContent, nil
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("marshal %s document: %w", c.docType, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.writePath(id), bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.WrapUpstream("store."+strings.ToLower(method), c.docType, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	log.Debug().Str("docType", c.docType).Str("id", id).Int("status", resp.StatusCode).Msg("Store write")
	return resp.StatusCode, nil
}

// Delete removes a document by id across all shards of the prefix.
func (c *Client) Delete(ctx context.Context, id string) (int, error) {
	if c.dropData {
		return http.StatusNoContent, nil
	}
	path := c.uri + c.prefix + "*/" + c.docType + "/" + id
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.WrapUpstream("store.delete", c.docType, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Search runs a query body against every index under the prefix. rawQuery
// is appended to the URL as-is ("q=_id:abc", "search_type=count", "").
func (c *Client) Search(ctx context.Context, body any, rawQuery string) (*SearchResult, error) {
	if c.dropData {
		return &SearchResult{}, nil
	}
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s query: %w", c.docType, err)
		}
	}
	path := c.searchPath
	if rawQuery != "" {
		path += "?" + rawQuery
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapUpstream("store.search", c.docType, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.WrapUpstream("store.search", c.docType,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	var result SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s search response: %w", c.docType, err)
	}
	return &result, nil
}

// GetByID fetches one document through the search path. A miss returns
// ErrNotFound.
func (c *Client) GetByID(ctx context.Context, id string) (*Hit, error) {
	result, err := c.Search(ctx, nil, "q=_id:"+id)
	if err != nil {
		return nil, err
	}
	if len(result.Hits.Hits) == 0 {
		return nil, fmt.Errorf("%w: %s %s", errors.ErrNotFound, c.docType, id)
	}
	return &result.Hits.Hits[0], nil
}

// InstallTemplate installs an index template. Callers treat a failure as
// fatal at startup.
func (c *Client) InstallTemplate(ctx context.Context, name string, template any) error {
	body, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("marshal template %s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.uri+"_template/"+name, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WrapUpstream("store.template", name, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return errors.WrapUpstream("store.template", name,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	log.Info().Str("template", name).Msg("Index template installed")
	return nil
}
