package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

const undefinedLiteral = "undefined"

// Estimate is a scalar that may be mathematically undefined
// (no defaulting trials, singular fundamental matrix).
type Estimate struct {
	Value   float64
	Defined bool
}

// DefinedEstimate wraps v; non-finite values become undefined.
func DefinedEstimate(v float64) Estimate {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Estimate{}
	}
	return Estimate{Value: v, Defined: true}
}

// Undefined is the explicit "no value" estimate.
func Undefined() Estimate { return Estimate{} }

func (e Estimate) MarshalJSON() ([]byte, error) {
	if !e.Defined {
		return []byte(`"` + undefinedLiteral + `"`), nil
	}
	return []byte(strconv.FormatFloat(e.Value, 'g', -1, 64)), nil
}

func (e *Estimate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"`+undefinedLiteral+`"`)) {
		*e = Estimate{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("estimate: %w", err)
	}
	*e = DefinedEstimate(v)
	return nil
}

// Interval is a [low, high] pair that may be undefined.
type Interval struct {
	Low     float64
	High    float64
	Defined bool
}

func (iv Interval) MarshalJSON() ([]byte, error) {
	if !iv.Defined {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{iv.Low, iv.High})
}

func (iv *Interval) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*iv = Interval{}
		return nil
	}
	var pair [2]float64
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("interval: %w", err)
	}
	*iv = Interval{Low: pair[0], High: pair[1], Defined: true}
	return nil
}

// Distribution holds a probability per RiskState, encoded as {"stable": p, ...}.
type Distribution [NumStates]float64

func (d Distribution) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(RiskState(i).String()))
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(p, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Distribution) UnmarshalJSON(b []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("distribution: %w", err)
	}
	var out Distribution
	for k, v := range raw {
		s, err := ParseRiskState(k)
		if err != nil {
			return fmt.Errorf("distribution: %w", err)
		}
		out[s] = v
	}
	*d = out
	return nil
}

// Sum returns the total probability mass.
func (d Distribution) Sum() float64 {
	var s float64
	for _, p := range d {
		s += p
	}
	return s
}

// SimulationResult is the aggregate of a Monte Carlo run.
type SimulationResult struct {
	Runs                 int          `json:"runs"`
	Steps                int          `json:"steps"`
	Defaults             int          `json:"defaults"`
	DefaultProbability   float64      `json:"default_probability"`
	ExpectedDefaultTime  Estimate     `json:"expected_default_time"`
	ConfidenceInterval   Interval     `json:"confidence_interval"`
	TerminalDistribution Distribution `json:"terminal_distribution"`
	Seed                 uint64       `json:"seed"`
}

// HorizonForecast carries both estimates for one horizon.
type HorizonForecast struct {
	Horizon               int          `json:"horizon"`
	MonteCarloProbability float64      `json:"monte_carlo_probability"`
	AnalyticalProbability float64      `json:"analytical_probability"`
	ConfidenceInterval    Interval     `json:"confidence_interval"`
	ExpectedDefaultTime   Estimate     `json:"expected_default_time"`
	MonteCarloRuns        int          `json:"monte_carlo_runs"`
	TerminalDistribution  Distribution `json:"terminal_distribution"`
	StateDistribution     Distribution `json:"state_distribution"`
	Confidence            float64      `json:"confidence"`
}

// ForecastRecord is the single output handed back to collaborators.
type ForecastRecord struct {
	EntityID                 string            `json:"entity_id"`
	Score                    float64           `json:"score"`
	State                    RiskState         `json:"state"`
	Sector                   string            `json:"sector,omitempty"`
	PostEvent                bool              `json:"post_event_flag"`
	PerHorizon               []HorizonForecast `json:"per_horizon"`
	ExpectedTimeToAbsorption Estimate          `json:"expected_time_to_absorption"`
	AbsorptionVariance       Estimate          `json:"absorption_variance"`
	DataSource               DataSource        `json:"data_source"`
	DegenerateMatrix         bool              `json:"degenerate_matrix"`
	CalculationTimestamp     string            `json:"calculation_timestamp"`
}

// ForecastRequest is the collaborator input. Sector is optional.
type ForecastRequest struct {
	EntityID           string             `json:"entity_id"`
	Score              float64            `json:"score"`
	Sector             *string            `json:"sector,omitempty"`
	PostEvent          bool               `json:"post_event_flag"`
	Horizons           []int              `json:"horizons,omitempty"`
	CalibrationPayload map[string]float64 `json:"calibration_payload,omitempty"`
	Source             DataSource         `json:"source,omitempty"`
	MonteCarloRuns     int                `json:"monte_carlo_runs,omitempty"`
	Seed               *uint64            `json:"seed,omitempty"`
}

// SectorName returns the sector or "" when absent.
func (r ForecastRequest) SectorName() string {
	if r.Sector == nil {
		return ""
	}
	return *r.Sector
}
