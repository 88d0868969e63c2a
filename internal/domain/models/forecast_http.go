package models

// Requests for the forecast HTTP endpoints. Defined in domain for consistency and reuse.

type ForecastHTTPRequest struct {
	EntityID           string             `json:"entity_id" validate:"required,max=128"`
	Score              *float64           `json:"score" validate:"required,gte=0,lte=100"`
	Sector             *string            `json:"sector"`
	PostEvent          bool               `json:"post_event_flag"`
	Horizons           []int              `json:"horizons" validate:"omitempty,max=24,dive,gte=1,lte=600"`
	CalibrationPayload map[string]float64 `json:"calibration_payload"`
	Source             string             `json:"source" default:"primary_feed" validate:"oneof=primary_feed table_a table_b default"`
	MonteCarloRuns     int                `json:"monte_carlo_runs" validate:"gte=0,lte=1000000"`
	Seed               *uint64            `json:"seed"`
}

// ToDomain converts the validated HTTP request into the engine input.
func (r *ForecastHTTPRequest) ToDomain() ForecastRequest {
	var score float64
	if r.Score != nil {
		score = *r.Score
	}
	return ForecastRequest{
		EntityID:           r.EntityID,
		Score:              score,
		Sector:             r.Sector,
		PostEvent:          r.PostEvent,
		Horizons:           r.Horizons,
		CalibrationPayload: r.CalibrationPayload,
		Source:             NormalizeSource(r.Source),
		MonteCarloRuns:     r.MonteCarloRuns,
		Seed:               r.Seed,
	}
}

type MatrixRequest struct {
	Sector    string `query:"sector" json:"sector"`
	PostEvent bool   `query:"post_event" json:"post_event"`
	Source    string `query:"source" json:"source" default:"primary_feed" validate:"oneof=primary_feed table_a table_b default"`
}

// ClassifyRequest keeps the score as text; range errors come from the classifier.
type ClassifyRequest struct {
	Score string `query:"score" json:"score" validate:"required,numeric"`
}
