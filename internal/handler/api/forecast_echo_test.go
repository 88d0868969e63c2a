package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditChain/internal/services/markov"
	"CreditChain/internal/usecase"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) *echo.Echo {
	t.Helper()
	c, err := markov.NewClassifier(markov.DefaultThresholds())
	require.NoError(t, err)
	o := usecase.NewForecastOrchestrator(c, markov.NewBuilder(), markov.NewSimulator(),
		usecase.WithClock(func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }))

	e := echo.New()
	NewForecastEchoHandler(nil, o, checks).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestForecastEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	rec, env := do(t, e, http.MethodPost, "/api/forecast",
		`{"entity_id":"acme","score":80,"horizons":[12],"source":"default","monte_carlo_runs":500,"seed":9}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		EntityID   string `json:"entity_id"`
		State      string `json:"state"`
		DataSource string `json:"data_source"`
		Timestamp  string `json:"calculation_timestamp"`
		PerHorizon []struct {
			Horizon    int     `json:"horizon"`
			Analytical float64 `json:"analytical_probability"`
			Runs       int     `json:"monte_carlo_runs"`
		} `json:"per_horizon"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "acme", out.EntityID)
	assert.Equal(t, "high", out.State)
	assert.Equal(t, "default", out.DataSource)
	assert.Equal(t, "2026-01-01T00:00:00Z", out.Timestamp)
	require.Len(t, out.PerHorizon, 1)
	assert.InDelta(t, 0.5739038327912485, out.PerHorizon[0].Analytical, 1e-12)
	assert.Equal(t, 500, out.PerHorizon[0].Runs)
}

func TestForecastEndpointUndefinedAbsorption(t *testing.T) {
	e := newTestServer(t, nil)
	// Critical never leaves itself, so I-Q is singular.
	payload := `{"critical_to_stable":0,"critical_to_elevated":0,"critical_to_high":0,"critical_to_critical":1,"critical_to_default":0}`
	rec, env := do(t, e, http.MethodPost, "/api/forecast",
		`{"entity_id":"acme","score":10,"horizons":[6],"monte_carlo_runs":200,"seed":4,"calibration_payload":`+payload+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		State    string          `json:"state"`
		ETTA     json.RawMessage `json:"expected_time_to_absorption"`
		Variance json.RawMessage `json:"absorption_variance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "stable", out.State)
	assert.JSONEq(t, `"undefined"`, string(out.ETTA))
	assert.JSONEq(t, `"undefined"`, string(out.Variance))
}

func TestForecastEndpointValidation(t *testing.T) {
	e := newTestServer(t, nil)
	cases := map[string]string{
		"missing score":  `{"entity_id":"acme"}`,
		"score too high": `{"entity_id":"acme","score":101}`,
		"missing entity": `{"score":10}`,
		"bad source":     `{"entity_id":"acme","score":10,"source":"bloomberg"}`,
		"zero horizon":   `{"entity_id":"acme","score":10,"horizons":[0]}`,
		"malformed":      `{"entity_id":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, env := do(t, e, http.MethodPost, "/api/forecast", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, http.StatusBadRequest, env.Status)
		})
	}
}

func TestMatrixEndpoint(t *testing.T) {
	e := newTestServer(t, nil)
	rec, env := do(t, e, http.MethodGet, "/api/matrix?sector=Retail&post_event=true&source=table_b", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		States     []string    `json:"states"`
		Cells      [][]float64 `json:"cells"`
		DataSource string      `json:"data_source"`
		Policies   []string    `json:"policies"`
		Sector     string      `json:"sector"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, []string{"stable", "elevated", "high", "critical", "default"}, out.States)
	assert.Equal(t, "table_b", out.DataSource)
	assert.Equal(t, []string{"post_event", "sector"}, out.Policies)
	require.Len(t, out.Cells, 5)
	for i, row := range out.Cells {
		var sum float64
		for _, v := range row {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "row %d", i)
	}
	assert.Equal(t, []float64{0, 0, 0, 0, 1}, out.Cells[4])
}

func TestMatrixEndpointRejectsUnknownSource(t *testing.T) {
	e := newTestServer(t, nil)
	rec, _ := do(t, e, http.MethodGet, "/api/matrix?source=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyEndpoint(t *testing.T) {
	e := newTestServer(t, nil)

	rec, env := do(t, e, http.MethodGet, "/api/classify?score=75", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"score":75,"state":"high"}`, string(env.Data))

	rec, _ = do(t, e, http.MethodGet, "/api/classify?score=120", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/classify", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t, map[string]HealthCheck{
		"clickhouse": func(context.Context) error { return nil },
	})
	rec, env := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"clickhouse":"ok"}`, string(env.Data))

	e = newTestServer(t, map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec, _ = do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
