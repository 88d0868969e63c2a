package markov

import (
	"fmt"
	"math"

	"CreditChain/internal/domain/models"
)

const (
	MinScore = 0.0
	MaxScore = 100.0
)

// Thresholds are the lower bounds of the Elevated, High and Critical buckets.
type Thresholds struct {
	Elevated float64 `yaml:"elevated" default:"50"`
	High     float64 `yaml:"high" default:"75"`
	Critical float64 `yaml:"critical" default:"90"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Elevated: 50, High: 75, Critical: 90}
}

func (t Thresholds) Validate() error {
	if !(MinScore < t.Elevated && t.Elevated < t.High && t.High < t.Critical && t.Critical <= MaxScore) {
		return fmt.Errorf("classifier thresholds must satisfy 0 < elevated < high < critical <= 100, got %v/%v/%v",
			t.Elevated, t.High, t.Critical)
	}
	return nil
}

type Classifier struct {
	t Thresholds
}

func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{t: t}, nil
}

// Classify maps a score to a transient state. Boundary scores go to the riskier bucket.
// Default is never returned; it is reachable only through a transition.
func (c *Classifier) Classify(score float64) (models.RiskState, error) {
	if math.IsNaN(score) || score < MinScore || score > MaxScore {
		return models.Stable, fmt.Errorf("classify %v: %w", score, ErrScoreOutOfRange)
	}
	switch {
	case score >= c.t.Critical:
		return models.Critical, nil
	case score >= c.t.High:
		return models.High, nil
	case score >= c.t.Elevated:
		return models.Elevated, nil
	default:
		return models.Stable, nil
	}
}

func (c *Classifier) Thresholds() Thresholds { return c.t }

var defaultClassifier = &Classifier{t: DefaultThresholds()}

// Classify uses the standard 50/75/90 buckets.
func Classify(score float64) (models.RiskState, error) {
	return defaultClassifier.Classify(score)
}
