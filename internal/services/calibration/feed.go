package calibration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	xhttp "CreditChain/pkg/http"
)

var ErrNotConfigured = errors.New("calibration feed not configured")

// Config for the HTTP migration-rate feed.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// HTTPFeed fetches sector migration rates from an HTTP endpoint returning
// {"migration_rates": {"stable_to_default": 0.001, ...}}.
type HTTPFeed struct {
	baseURL string
	client  *xhttp.Client
}

type envelope struct {
	MigrationRates map[string]float64 `json:"migration_rates"`
}

func NewHTTPFeed(cfg Config, opts ...xhttp.ClientOption) *HTTPFeed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts = append([]xhttp.ClientOption{
		xhttp.WithTimeout(timeout),
		xhttp.WithBearerToken(cfg.APIKey),
		xhttp.WithHeader("Accept", "application/json"),
	}, opts...)
	return &HTTPFeed{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  xhttp.NewClient(opts...),
	}
}

// Fetch issues a single GET. Retrying is left to the caller.
func (f *HTTPFeed) Fetch(ctx context.Context, sector string) (map[string]float64, error) {
	if f == nil || f.baseURL == "" {
		return nil, ErrNotConfigured
	}
	req := &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: f.baseURL}
	if sector != "" {
		req.QueryParams = map[string][]string{"sector": {sector}}
	}
	var body envelope
	if err := f.client.SendAndParse(ctx, req, &body); err != nil {
		return nil, fmt.Errorf("fetch migration rates: %w", err)
	}
	if len(body.MigrationRates) == 0 {
		return nil, fmt.Errorf("fetch migration rates: empty response")
	}
	return body.MigrationRates, nil
}
