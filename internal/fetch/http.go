package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hrvstr/datagate/internal/config"
	"github.com/hrvstr/datagate/internal/payload"
	log "github.com/sirupsen/logrus"
)

// maxResponseBytes caps an upstream response body.
const maxResponseBytes = 8 << 20

// ErrSourceNotConfigured is returned when the snapshot has no upstream for a data type.
var ErrSourceNotConfigured = errors.New("fetch: source not configured")

// HTTPFetcher calls an upstream adapter service at GET {base-url}/{data type}.
// The base URL and API key are read from the current snapshot on every call.
type HTTPFetcher struct {
	provider config.Provider
	client   *http.Client
}

// NewHTTPFetcher constructs an HTTPFetcher. A nil client uses a plain http.Client; the
// caller's context carries the timeout.
func NewHTTPFetcher(provider config.Provider, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{provider: provider, client: client}
}

// Fetch performs the upstream request and decodes the variant of req.DataType.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (payload.Payload, error) {
	src, ok := f.provider.Current().Source(req.DataType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotConfigured, req.DataType)
	}

	query := url.Values{}
	query.Set("range", req.TimeRange)
	if req.Ticker != "" {
		query.Set("ticker", req.Ticker)
	}
	target := src.BaseURL + "/" + url.PathEscape(req.DataType) + "?" + query.Encode()

	httpReq, errReq := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if errReq != nil {
		return nil, fmt.Errorf("fetch: build request: %w", errReq)
	}
	httpReq.Header.Set("Accept", "application/json")
	if src.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+src.APIKey)
	}

	resp, errDo := f.client.Do(httpReq)
	if errDo != nil {
		return nil, fmt.Errorf("fetch: %s request failed: %w", req.DataType, errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.WithError(errClose).Warn("fetch: close response body failed")
		}
	}()

	body, errRead := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if errRead != nil {
		return nil, fmt.Errorf("fetch: %s read response: %w", req.DataType, errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetch: %s unexpected status %d: %s", req.DataType, resp.StatusCode, snippet(body))
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("fetch: %s response exceeds %d bytes", req.DataType, maxResponseBytes)
	}
	return payload.Decode(req.DataType, body)
}

// RegisterHTTP registers f for every data type with a payload schema.
func RegisterHTTP(r *Registry, f *HTTPFetcher) {
	for _, dataType := range payload.DataTypes() {
		r.Register(dataType, f)
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
