package calibration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Equal(t, "Energy", r.URL.Query().Get("sector"))
		_, _ = w.Write([]byte(`{"migration_rates":{"stable_to_default":0.004,"high_to_default":0.07}}`))
	}))
	defer srv.Close()

	rates, err := NewHTTPFeed(Config{URL: srv.URL + "/", APIKey: "k", Timeout: time.Second}).
		Fetch(context.Background(), "Energy")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"stable_to_default": 0.004, "high_to_default": 0.07}, rates)
}

func TestFetchOmitsEmptySector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"migration_rates":{"stable_to_stable":0.9}}`))
	}))
	defer srv.Close()

	_, err := NewHTTPFeed(Config{URL: srv.URL}).Fetch(context.Background(), "")
	require.NoError(t, err)
}

func TestFetchErrors(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		},
		"malformed": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"migration_rates":`))
		},
		"empty": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"migration_rates":{}}`))
		},
		"slow": func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			_, err := NewHTTPFeed(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}).
				Fetch(context.Background(), "Retail")
			assert.Error(t, err)
		})
	}
}

func TestFetchNotConfigured(t *testing.T) {
	_, err := NewHTTPFeed(Config{}).Fetch(context.Background(), "Retail")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
