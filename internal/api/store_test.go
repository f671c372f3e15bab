package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	pipelineerrors "github.com/skywatchhq/skywatch/internal/errors"
	"github.com/skywatchhq/skywatch/internal/storage"
)

// fakeStore is the document-store stand-in shared by the handler tests.
type fakeStore struct {
	searchResult *storage.SearchResult
	searchBody   any
	err          error
	status       int
	hits         map[string]json.RawMessage
	inserted     map[string]any
	replaced     map[string]any
	deleted      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		status:   http.StatusOK,
		hits:     map[string]json.RawMessage{},
		inserted: map[string]any{},
		replaced: map[string]any{},
	}
}

func (f *fakeStore) Insert(ctx context.Context, id string, doc any) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.inserted[id] = doc
	return f.status, nil
}

func (f *fakeStore) Replace(ctx context.Context, id string, doc any) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.replaced[id] = doc
	return f.status, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, id)
	return f.status, nil
}

func (f *fakeStore) Search(ctx context.Context, body any, rawQuery string) (*storage.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.searchBody = body
	if f.searchResult == nil {
		return &storage.SearchResult{}, nil
	}
	return f.searchResult, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (*storage.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	source, ok := f.hits[id]
	if !ok {
		return nil, pipelineerrors.New(pipelineerrors.ErrorTypeNotFound, "get", "test", pipelineerrors.ErrNotFound)
	}
	return &storage.Hit{ID: id, Source: source}, nil
}

func decodeBody(t *testing.T, body []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(body, target); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, body)
	}
}
