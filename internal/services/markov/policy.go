package markov

import (
	"gonum.org/v1/gonum/floats"

	"CreditChain/internal/domain/models"
)

// DefaultPostEventDelta is the default-column uplift after a leverage-increasing event.
const DefaultPostEventDelta = 0.025

// AdjustmentPolicy rewrites raw cells before normalization. Implementations must keep
// every cell non-negative.
type AdjustmentPolicy interface {
	Name() string
	Apply(c *models.Cells)
}

// PostEventPolicy adds Delta to the Default column and Delta/2 to every worse transient
// state, taking the added mass from the stay-or-improve cells in proportion to their size.
type PostEventPolicy struct {
	Delta float64
}

func (PostEventPolicy) Name() string { return "post_event" }

func (p PostEventPolicy) Apply(c *models.Cells) {
	if p.Delta <= 0 {
		return
	}
	d := int(models.Default)
	for i := 0; i < d; i++ {
		var added float64
		for j := i + 1; j <= d; j++ {
			inc := p.Delta / 2
			if j == d {
				inc = p.Delta
			}
			before := c[i][j]
			c[i][j] = min(1, before+inc)
			added += c[i][j] - before
		}
		takeProportionally(c[i][:i+1], added)
	}
}

// SectorPolicy adds Delta to the Default column of every transient row and removes the
// same mass proportionally from the row's other transient cells.
type SectorPolicy struct {
	Sector string
	Delta  float64
}

func (SectorPolicy) Name() string { return "sector" }

func (p SectorPolicy) Apply(c *models.Cells) {
	if p.Delta <= 0 {
		return
	}
	d := int(models.Default)
	for i := 0; i < d; i++ {
		before := c[i][d]
		c[i][d] = min(1, before+p.Delta)
		takeProportionally(c[i][:d], c[i][d]-before)
	}
}

// takeProportionally subtracts mass from cells in proportion to their values, clamping at 0.
func takeProportionally(cells []float64, mass float64) {
	total := floats.Sum(cells)
	if total <= 0 || mass <= 0 {
		return
	}
	for j, v := range cells {
		cells[j] = max(0, v-mass*v/total)
	}
}

// Normalize scales every row to sum to 1. Zero-sum rows are left untouched and returned.
func Normalize(c *models.Cells) []models.RiskState {
	var degenerate []models.RiskState
	for i := range c {
		sum := floats.Sum(c[i][:])
		if sum <= 0 {
			degenerate = append(degenerate, models.RiskState(i))
			continue
		}
		for j := range c[i] {
			c[i][j] /= sum
		}
	}
	return degenerate
}

// zeroRows lists the transient rows whose raw cells sum to zero.
func zeroRows(c *models.Cells) []models.RiskState {
	var zero []models.RiskState
	for i := models.Stable; i < models.Default; i++ {
		if floats.Sum(c[i][:]) <= 0 {
			zero = append(zero, i)
		}
	}
	return zero
}

// absorb forces the Default row to the identity row.
func absorb(c *models.Cells) {
	c[models.Default] = [models.NumStates]float64{}
	c[models.Default][models.Default] = 1
}
