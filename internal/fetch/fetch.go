// Package fetch calls the upstream data source adapters.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hrvstr/datagate/internal/payload"
)

// ErrNoFetcher is returned when no fetcher is registered for a data type.
var ErrNoFetcher = errors.New("fetch: no fetcher registered")

// Request describes one upstream fetch.
type Request struct {
	UserID    uint64
	DataType  string
	TimeRange string
	Ticker    string
}

// Fetcher retrieves fresh data for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (payload.Payload, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context, req Request) (payload.Payload, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, req Request) (payload.Payload, error) {
	return f(ctx, req)
}

// Registry routes fetches by data type.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register sets the fetcher of dataType, replacing any previous one.
func (r *Registry) Register(dataType string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[dataType] = f
}

// Lookup returns the fetcher of dataType.
func (r *Registry) Lookup(dataType string) (Fetcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[dataType]
	return f, ok
}

// Fetch dispatches req to the fetcher of its data type.
func (r *Registry) Fetch(ctx context.Context, req Request) (payload.Payload, error) {
	f, ok := r.Lookup(req.DataType)
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, req.DataType)
	}
	return f.Fetch(ctx, req)
}
