package markov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditChain/internal/domain/models"
)

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  models.RiskState
	}{
		{0, models.Stable},
		{49.999, models.Stable},
		{50, models.Elevated},
		{74.999, models.Elevated},
		{75, models.High},
		{89.999, models.High},
		{90, models.Critical},
		{100, models.Critical},
	}
	for _, tc := range cases {
		got, err := Classify(tc.score)
		require.NoError(t, err, "score %v", tc.score)
		assert.Equal(t, tc.want, got, "score %v", tc.score)
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	for _, s := range []float64{-0.001, 100.0001, math.NaN(), math.Inf(1)} {
		_, err := Classify(s)
		assert.ErrorIs(t, err, ErrScoreOutOfRange, "score %v", s)
	}
}

func TestClassifyNeverDefault(t *testing.T) {
	for s := 0.0; s <= 100; s += 0.5 {
		st, err := Classify(s)
		require.NoError(t, err)
		assert.True(t, st.IsTransient())
	}
}

func TestThresholdsValidate(t *testing.T) {
	require.NoError(t, DefaultThresholds().Validate())

	_, err := NewClassifier(Thresholds{Elevated: 60, High: 55, Critical: 90})
	assert.Error(t, err)
	_, err = NewClassifier(Thresholds{Elevated: 0, High: 55, Critical: 90})
	assert.Error(t, err)

	c, err := NewClassifier(Thresholds{Elevated: 40, High: 60, Critical: 80})
	require.NoError(t, err)
	st, err := c.Classify(80)
	require.NoError(t, err)
	assert.Equal(t, models.Critical, st)
}
