package markov

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditChain/internal/domain/models"
)

func defaultMatrix(t *testing.T) models.TransitionMatrix {
	t.Helper()
	return NewBuilder().Build(context.Background(), BuildRequest{Source: models.SourceDefault})
}

func naivePow(c models.Cells, h int) models.Cells {
	out := models.Identity()
	for k := 0; k < h; k++ {
		var next models.Cells
		for i := range out {
			for j := range out {
				for l := range out {
					next[i][j] += out[i][l] * c[l][j]
				}
			}
		}
		out = next
	}
	return out
}

func TestForecastRegression(t *testing.T) {
	m := defaultMatrix(t)
	p, err := Forecast(m, models.High, 12)
	require.NoError(t, err)
	assert.InDelta(t, 0.5739038327912485, p, 1e-12)

	want := map[int][models.NumStates]float64{
		1:  {0.001, 0.005, 0.05, 0.3, 1},
		6:  {0.062452274431249996, 0.15355794110437498, 0.381371829771875, 0.8823509999999999, 1},
		24: {0.511829127914028, 0.6021555800434722, 0.7465238853738548, 0.9998084187686194, 1},
	}
	for h, col := range want {
		for _, s := range models.AllStates() {
			got, err := Forecast(m, s, h)
			require.NoError(t, err)
			assert.InDelta(t, col[s], got, 1e-12, "state %s horizon %d", s, h)
		}
	}
}

func TestForecastMatchesMatrixPower(t *testing.T) {
	m := NewBuilder().Build(context.Background(), BuildRequest{Source: models.SourceTableB, Sector: "Energy", PostEvent: true})
	for _, h := range []int{1, 2, 7, 12, 36} {
		ref := naivePow(m.Cells, h)
		for _, s := range models.AllStates() {
			dist, err := StateDistribution(m, s, h)
			require.NoError(t, err)
			assert.InDeltaSlice(t, ref[s][:], dist[:], 1e-12)
			assert.InDelta(t, 1.0, dist.Sum(), 1e-9)

			p, err := Forecast(m, s, h)
			require.NoError(t, err)
			assert.Equal(t, dist[models.Default], p)
		}
	}
}

func TestForecastRejectsHorizon(t *testing.T) {
	m := defaultMatrix(t)
	for _, h := range []int{0, -3} {
		_, err := Forecast(m, models.Stable, h)
		assert.ErrorIs(t, err, ErrInvalidHorizon)
	}
}

func TestExpectedTimeToAbsorption(t *testing.T) {
	m := defaultMatrix(t)
	want := map[models.RiskState]float64{
		models.Stable:   31.207556549838404,
		models.Elevated: 26.67797663435245,
		models.High:     18.65771812080536,
		models.Critical: 3.333333333333333,
	}
	got := map[models.RiskState]float64{}
	for s, v := range want {
		a := ExpectedTimeToAbsorption(m, s)
		require.True(t, a.Periods.Defined, "state %s", s)
		assert.InDelta(t, v, a.Periods.Value, 1e-9, "state %s", s)
		got[s] = a.Periods.Value
	}
	assert.Less(t, got[models.Critical], got[models.High])
	assert.Less(t, got[models.High], got[models.Elevated])
	assert.Less(t, got[models.Elevated], got[models.Stable])

	crit := ExpectedTimeToAbsorption(m, models.Critical)
	assert.InDelta(t, 0.7/0.09, crit.Variance.Value, 1e-9)

	def := ExpectedTimeToAbsorption(m, models.Default)
	assert.Equal(t, models.DefinedEstimate(0), def.Periods)
}

func TestExpectedTimeUndefinedWhenSingular(t *testing.T) {
	m := defaultMatrix(t)
	m.Cells[models.Critical] = [models.NumStates]float64{0, 0, 0, 1, 0}

	a := ExpectedTimeToAbsorption(m, models.Stable)
	assert.False(t, a.Periods.Defined)
	assert.False(t, a.Variance.Defined)
}

func TestDistributionConfidence(t *testing.T) {
	assert.InDelta(t, 1.0, DistributionConfidence(models.Distribution{0, 0, 0, 0, 1}), 1e-12)
	assert.InDelta(t, 0.0, DistributionConfidence(models.Distribution{0.2, 0.2, 0.2, 0.2, 0.2}), 1e-12)

	c := DistributionConfidence(models.Distribution{0.6, 0.2, 0.1, 0.05, 0.05})
	assert.Greater(t, c, 0.0)
	assert.Less(t, c, 0.6)
}
