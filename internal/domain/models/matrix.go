package models

// Cells is a dense row-major transition table indexed by RiskState.
type Cells [NumStates][NumStates]float64

// TransitionMatrix is a calibrated, row-stochastic matrix plus its provenance.
// The Default row is always the identity row.
type TransitionMatrix struct {
	Cells          Cells       `json:"cells"`
	Source         DataSource  `json:"data_source"`
	Sector         string      `json:"sector,omitempty"`
	SectorDelta    float64     `json:"sector_delta"`
	PostEvent      bool        `json:"post_event"`
	PostEventDelta float64     `json:"post_event_delta"`
	Policies       []string    `json:"policies,omitempty"`
	Degenerate     bool        `json:"degenerate"`
	DegenerateRows []RiskState `json:"degenerate_rows,omitempty"`
}

// Row returns a copy of the row for state s.
func (m TransitionMatrix) Row(s RiskState) [NumStates]float64 { return m.Cells[s] }

// At returns the one-step probability of moving from -> to.
func (m TransitionMatrix) At(from, to RiskState) float64 { return m.Cells[from][to] }

// RowSum returns the sum of the row for state s.
func (m TransitionMatrix) RowSum(s RiskState) float64 {
	var sum float64
	for _, v := range m.Cells[s] {
		sum += v
	}
	return sum
}

// Identity returns the identity table.
func Identity() Cells {
	var c Cells
	for i := range c {
		c[i][i] = 1
	}
	return c
}
