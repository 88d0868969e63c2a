package markov

import (
	"math"

	"CreditChain/internal/domain/models"
)

// PayloadKey returns the calibration key for one transition, e.g. "stable_to_default".
func PayloadKey(from, to models.RiskState) string {
	return from.String() + "_to_" + to.String()
}

// ParsePayload overlays usable payload values on fallback. Missing, non-finite or negative
// values keep the fallback cell; unknown keys are ignored. used counts the cells taken from
// the payload.
func ParsePayload(payload map[string]float64, fallback models.Cells) (cells models.Cells, used int) {
	cells = fallback
	if len(payload) == 0 {
		return cells, 0
	}
	for _, from := range models.AllStates() {
		for _, to := range models.AllStates() {
			v, ok := payload[PayloadKey(from, to)]
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				continue
			}
			cells[from][to] = v
			used++
		}
	}
	return cells, used
}

// EncodePayload is the inverse of ParsePayload for a full table.
func EncodePayload(c models.Cells) map[string]float64 {
	out := make(map[string]float64, models.NumStates*models.NumStates)
	for _, from := range models.AllStates() {
		for _, to := range models.AllStates() {
			out[PayloadKey(from, to)] = c[from][to]
		}
	}
	return out
}
