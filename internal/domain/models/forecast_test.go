package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Estimate
		want string
	}{
		{"defined", DefinedEstimate(18.5), `18.5`},
		{"undefined", Undefined(), `"undefined"`},
		{"nan becomes undefined", DefinedEstimate(math.NaN()), `"undefined"`},
		{"inf becomes undefined", DefinedEstimate(math.Inf(1)), `"undefined"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))

			var back Estimate
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestEstimateUnmarshalRejectsGarbage(t *testing.T) {
	var e Estimate
	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &e))

	require.NoError(t, json.Unmarshal([]byte(`null`), &e))
	assert.False(t, e.Defined)
}

func TestIntervalJSON(t *testing.T) {
	b, err := json.Marshal(Interval{Low: 1.1, High: 2.9, Defined: true})
	require.NoError(t, err)
	assert.Equal(t, `[1.1,2.9]`, string(b))

	var back Interval
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Interval{Low: 1.1, High: 2.9, Defined: true}, back)

	b, err = json.Marshal(Interval{})
	require.NoError(t, err)
	assert.Equal(t, `null`, string(b))

	back = Interval{Low: 3, Defined: true}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Interval{}, back)
}

func TestDistributionJSON(t *testing.T) {
	d := Distribution{0.5, 0.25, 0.125, 0.0625, 0.0625}
	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stable":0.5,"elevated":0.25,"high":0.125,"critical":0.0625,"default":0.0625}`, string(b))

	var back Distribution
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
	assert.InDelta(t, 1.0, back.Sum(), 1e-12)

	assert.Error(t, json.Unmarshal([]byte(`{"bankrupt":1}`), &back))
}

func TestForecastRecordJSON(t *testing.T) {
	rec := ForecastRecord{
		EntityID: "acme",
		Score:    10,
		State:    Stable,
		PerHorizon: []HorizonForecast{{
			Horizon:               6,
			AnalyticalProbability: 0.01,
			ExpectedDefaultTime:   Undefined(),
			StateDistribution:     Distribution{1},
		}},
		ExpectedTimeToAbsorption: Undefined(),
		AbsorptionVariance:       Undefined(),
		DataSource:               SourcePrimaryFeed,
		CalculationTimestamp:     "2026-01-01T00:00:00Z",
	}
	b, err := json.Marshal(rec)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.JSONEq(t, `"stable"`, string(raw["state"]))
	assert.JSONEq(t, `"undefined"`, string(raw["expected_time_to_absorption"]))
	assert.JSONEq(t, `"primary_feed"`, string(raw["data_source"]))
	assert.NotContains(t, raw, "sector")

	var horizons []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["per_horizon"], &horizons))
	require.Len(t, horizons, 1)
	assert.JSONEq(t, `null`, string(horizons[0]["confidence_interval"]))
	assert.JSONEq(t, `"undefined"`, string(horizons[0]["expected_default_time"]))

	var back ForecastRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec, back)
}

func TestNormalizeSource(t *testing.T) {
	assert.Equal(t, SourceTableA, NormalizeSource(" Table_A "))
	assert.Equal(t, SourceDefault, NormalizeSource("default"))
	assert.Equal(t, SourcePrimaryFeed, NormalizeSource(""))
	assert.Equal(t, SourcePrimaryFeed, NormalizeSource("bloomberg"))
}
