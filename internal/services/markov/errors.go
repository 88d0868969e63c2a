package markov

import "errors"

// Input errors. Everything else degrades inside the engine.
var (
	ErrScoreOutOfRange = errors.New("score out of range [0,100]")
	ErrInvalidHorizon  = errors.New("horizon must be a positive number of periods")
	ErrInvalidRuns     = errors.New("monte carlo runs must be at least 1")
)
