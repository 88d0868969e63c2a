package markov

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"CreditChain/internal/domain/models"
)

// One-year migration tables, rows/cols in RiskState order.
var (
	moodysCells = models.Cells{
		{0.850, 0.120, 0.025, 0.004, 0.001},
		{0.150, 0.700, 0.120, 0.025, 0.005},
		{0.050, 0.200, 0.550, 0.150, 0.050},
		{0.000, 0.000, 0.000, 0.700, 0.300},
		{0.000, 0.000, 0.000, 0.000, 1.000},
	}
	spCells = models.Cells{
		{0.820, 0.140, 0.030, 0.008, 0.002},
		{0.130, 0.680, 0.140, 0.040, 0.010},
		{0.040, 0.180, 0.520, 0.180, 0.080},
		{0.000, 0.000, 0.000, 0.650, 0.350},
		{0.000, 0.000, 0.000, 0.000, 1.000},
	}
)

// ReferenceTables are the historical fallbacks. Default also backs per-cell feed gaps.
type ReferenceTables struct {
	TableA  models.Cells
	TableB  models.Cells
	Default models.Cells
}

func DefaultReferenceTables() ReferenceTables {
	return ReferenceTables{TableA: moodysCells, TableB: spCells, Default: moodysCells}
}

// ValidateCells rejects non-finite or negative cells and zero rows.
func ValidateCells(c models.Cells) error {
	for i := range c {
		var sum float64
		for j, v := range c[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("cell %s->%s: invalid probability %v", models.RiskState(i), models.RiskState(j), v)
			}
			sum += v
		}
		if sum == 0 {
			return fmt.Errorf("row %s: all zero", models.RiskState(i))
		}
	}
	return nil
}

// SectorDeltas is an immutable sector -> default-uplift table. Lookups ignore case.
type SectorDeltas struct {
	m map[string]float64
}

func NewSectorDeltas(in map[string]float64) (SectorDeltas, error) {
	m := make(map[string]float64, len(in))
	for k, v := range in {
		if math.IsNaN(v) || v < 0 || v >= 1 {
			return SectorDeltas{}, fmt.Errorf("sector %q: delta must be in [0,1), got %v", k, v)
		}
		m[normalizeSector(k)] = v
	}
	return SectorDeltas{m: m}, nil
}

func DefaultSectorDeltas() SectorDeltas {
	d, _ := NewSectorDeltas(map[string]float64{
		"Retail":                 0.03,
		"Consumer Discretionary": 0.03,
		"Energy":                 0.02,
		"Healthcare":             0.02,
		"Technology":             0.00,
		"Real Estate":            0.025,
		"Financials":             0.015,
		"Utilities":              0.01,
		"Industrials":            0.01,
		"Materials":              0.02,
		"Telecommunications":     0.02,
		"Consumer Staples":       0.005,
	})
	return d
}

// Lookup returns the delta for sector, 0 for unknown or empty sectors.
func (s SectorDeltas) Lookup(sector string) float64 {
	if sector == "" {
		return 0
	}
	return s.m[normalizeSector(sector)]
}

// Sectors lists the known sectors (normalized) in sorted order.
func (s SectorDeltas) Sectors() []string {
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeSector(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
