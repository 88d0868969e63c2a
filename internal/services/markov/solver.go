package markov

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"CreditChain/internal/domain/models"
)

// MaxConditionNumber bounds cond(I-Q) before N is treated as undefined.
const MaxConditionNumber = 1e12

// Absorption is the expected number of periods until Default, and its variance.
type Absorption struct {
	Periods  models.Estimate
	Variance models.Estimate
}

func dense(c models.Cells) *mat.Dense {
	d := mat.NewDense(models.NumStates, models.NumStates, nil)
	for i := range c {
		d.SetRow(i, c[i][:])
	}
	return d
}

// StateDistribution returns row state of m^horizon.
func StateDistribution(m models.TransitionMatrix, state models.RiskState, horizon int) (models.Distribution, error) {
	if horizon < 1 {
		return models.Distribution{}, fmt.Errorf("horizon %d: %w", horizon, ErrInvalidHorizon)
	}
	if !state.Valid() {
		return models.Distribution{}, fmt.Errorf("unknown state %d", int(state))
	}
	var p mat.Dense
	p.Pow(dense(m.Cells), horizon)

	var out models.Distribution
	for j := range out {
		out[j] = p.At(int(state), j)
	}
	return out, nil
}

// Forecast is the probability of having reached Default within horizon periods.
func Forecast(m models.TransitionMatrix, state models.RiskState, horizon int) (float64, error) {
	dist, err := StateDistribution(m, state, horizon)
	if err != nil {
		return 0, err
	}
	return dist[models.Default], nil
}

// DistributionConfidence scores how concentrated dist is: max(p) * (1 - H(p)/ln n), in [0,1].
func DistributionConfidence(dist models.Distribution) float64 {
	maxP := 0.0
	for _, p := range dist {
		maxP = max(maxP, p)
	}
	h := stat.Entropy(dist[:])
	c := maxP * (1 - h/math.Log(float64(len(dist))))
	return min(1, max(0, c))
}

// ExpectedTimeToAbsorption uses N = (I-Q)^-1 over the transient block. A singular or
// ill-conditioned I-Q yields undefined estimates instead of an error.
func ExpectedTimeToAbsorption(m models.TransitionMatrix, state models.RiskState) Absorption {
	if state == models.Default {
		return Absorption{Periods: models.DefinedEstimate(0), Variance: models.DefinedEstimate(0)}
	}
	if !state.IsTransient() {
		return Absorption{}
	}
	n, ok := fundamental(m.Cells)
	if !ok {
		return Absorption{}
	}

	const k = models.NumTransient
	ones := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		ones.SetVec(i, 1)
	}
	var t mat.VecDense
	t.MulVec(n, ones)

	// Var = (2N - I)t - t∘t
	var twoNI mat.Dense
	twoNI.Scale(2, n)
	for i := 0; i < k; i++ {
		twoNI.Set(i, i, twoNI.At(i, i)-1)
	}
	var v mat.VecDense
	v.MulVec(&twoNI, &t)

	i := int(state)
	return Absorption{
		Periods:  models.DefinedEstimate(t.AtVec(i)),
		Variance: models.DefinedEstimate(v.AtVec(i) - t.AtVec(i)*t.AtVec(i)),
	}
}

func fundamental(c models.Cells) (*mat.Dense, bool) {
	const k = models.NumTransient
	a := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			v := -c[i][j]
			if i == j {
				v += 1
			}
			a.Set(i, j, v)
		}
	}
	if cond := mat.Cond(a, 1); math.IsInf(cond, 0) || math.IsNaN(cond) || cond > MaxConditionNumber {
		return nil, false
	}
	var n mat.Dense
	if err := n.Inverse(a); err != nil {
		return nil, false
	}
	return &n, true
}
