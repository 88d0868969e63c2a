package usecase

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"CreditChain/internal/domain/models"
	domrepo "CreditChain/internal/domain/repository"
	"CreditChain/internal/domain/service"
	"CreditChain/internal/services/markov"
	applogger "CreditChain/pkg/logger"
)

var DefaultHorizons = []int{6, 12, 24}

const (
	DefaultMonteCarloRuns = 10000
	DefaultMaxRuns        = 1000000
)

// ForecastOrchestrator runs classify → build → solve → simulate for one entity.
type ForecastOrchestrator struct {
	classifier *markov.Classifier
	builder    *markov.Builder
	simulator  *markov.Simulator

	horizons []int
	runs     int
	maxRuns  int
	now      func() time.Time

	sink    domrepo.RecordSink
	metrics domrepo.Metrics
	l       *applogger.Logger
}

var _ service.Forecaster = (*ForecastOrchestrator)(nil)

type OrchestratorOption func(*ForecastOrchestrator)

// WithDefaultHorizons sets the horizons used when a request names none.
func WithDefaultHorizons(h []int) OrchestratorOption {
	return func(o *ForecastOrchestrator) {
		if len(h) > 0 {
			o.horizons = append([]int(nil), h...)
		}
	}
}

// WithRunLimits sets the default and maximum Monte Carlo run counts.
func WithRunLimits(def, max int) OrchestratorOption {
	return func(o *ForecastOrchestrator) {
		if def > 0 {
			o.runs = def
		}
		if max > 0 {
			o.maxRuns = max
		}
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *ForecastOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRecordSink persists every record; sink failures are logged, not returned.
func WithRecordSink(s domrepo.RecordSink) OrchestratorOption {
	return func(o *ForecastOrchestrator) { o.sink = s }
}

func WithOrchestratorMetrics(m domrepo.Metrics) OrchestratorOption {
	return func(o *ForecastOrchestrator) { o.metrics = m }
}

func WithOrchestratorLogger(l *applogger.Logger) OrchestratorOption {
	return func(o *ForecastOrchestrator) { o.l = l }
}

func NewForecastOrchestrator(c *markov.Classifier, b *markov.Builder, s *markov.Simulator, opts ...OrchestratorOption) *ForecastOrchestrator {
	o := &ForecastOrchestrator{
		classifier: c,
		builder:    b,
		simulator:  s,
		horizons:   DefaultHorizons,
		runs:       DefaultMonteCarloRuns,
		maxRuns:    DefaultMaxRuns,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runs > o.maxRuns {
		o.runs = o.maxRuns
	}
	return o
}

// Classify maps a score to its risk state using the configured thresholds.
func (o *ForecastOrchestrator) Classify(score float64) (models.RiskState, error) {
	return o.classifier.Classify(score)
}

func (o *ForecastOrchestrator) BuildMatrix(ctx context.Context, sector string, postEvent bool, source models.DataSource) (models.TransitionMatrix, error) {
	return o.builder.BuildMatrix(ctx, sector, postEvent, source)
}

// ComprehensiveAnalysis produces a ForecastRecord. Only input errors are returned;
// numeric trouble shows up as undefined estimates on the record.
func (o *ForecastOrchestrator) ComprehensiveAnalysis(ctx context.Context, req models.ForecastRequest) (*models.ForecastRecord, error) {
	start := time.Now()

	horizons, runs, err := o.resolve(req)
	if err != nil {
		o.recordError("invalid_input")
		return nil, err
	}
	state, err := o.classifier.Classify(req.Score)
	if err != nil {
		o.recordError("invalid_input")
		return nil, fmt.Errorf("classify %q: %w", req.EntityID, err)
	}

	seed, err := o.baseSeed(req.Seed)
	if err != nil {
		return nil, fmt.Errorf("draw seed: %w", err)
	}

	m := o.builder.Build(ctx, markov.BuildRequest{
		Source:    req.Source,
		Sector:    req.SectorName(),
		PostEvent: req.PostEvent,
		Payload:   req.CalibrationPayload,
	})
	abs := markov.ExpectedTimeToAbsorption(m, state)

	rec := &models.ForecastRecord{
		EntityID:                 req.EntityID,
		Score:                    req.Score,
		State:                    state,
		Sector:                   req.SectorName(),
		PostEvent:                req.PostEvent,
		ExpectedTimeToAbsorption: abs.Periods,
		AbsorptionVariance:       abs.Variance,
		DataSource:               m.Source,
		DegenerateMatrix:         m.Degenerate,
		PerHorizon:               make([]models.HorizonForecast, 0, len(horizons)),
	}

	for i, h := range horizons {
		hf, err := o.horizon(ctx, m, state, h, runs, horizonSeed(seed, i))
		if err != nil {
			o.recordError("simulation")
			return nil, fmt.Errorf("horizon %d: %w", h, err)
		}
		rec.PerHorizon = append(rec.PerHorizon, hf)
	}
	rec.CalculationTimestamp = o.now().UTC().Format(time.RFC3339)

	if o.metrics != nil {
		o.metrics.RecordForecast(state.String(), string(m.Source))
		o.metrics.RecordLatency("comprehensive_analysis", time.Since(start).Seconds())
	}
	if o.l != nil {
		o.l.Info("forecast computed",
			applogger.String("entity_id", req.EntityID),
			applogger.String("state", state.String()),
			applogger.String("data_source", string(m.Source)),
			applogger.Int("horizons", len(horizons)),
			applogger.Int("runs", runs),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}

	if o.sink != nil {
		if err := o.sink.Store(ctx, rec); err != nil {
			o.recordError("record_sink")
			if o.l != nil {
				o.l.Error("store forecast record failed", applogger.String("entity_id", req.EntityID), applogger.Error(err))
			}
		}
	}
	return rec, nil
}

func (o *ForecastOrchestrator) horizon(ctx context.Context, m models.TransitionMatrix, state models.RiskState, h, runs int, seed uint64) (models.HorizonForecast, error) {
	pd, err := markov.Forecast(m, state, h)
	if err != nil {
		return models.HorizonForecast{}, err
	}
	dist, err := markov.StateDistribution(m, state, h)
	if err != nil {
		return models.HorizonForecast{}, err
	}
	sim, err := o.simulator.Simulate(ctx, m, state, h, runs, &seed)
	if err != nil {
		return models.HorizonForecast{}, err
	}
	return models.HorizonForecast{
		Horizon:               h,
		MonteCarloProbability: sim.DefaultProbability,
		AnalyticalProbability: pd,
		ConfidenceInterval:    sim.ConfidenceInterval,
		ExpectedDefaultTime:   sim.ExpectedDefaultTime,
		MonteCarloRuns:        sim.Runs,
		TerminalDistribution:  sim.TerminalDistribution,
		StateDistribution:     dist,
		Confidence:            markov.DistributionConfidence(dist),
	}, nil
}

func (o *ForecastOrchestrator) resolve(req models.ForecastRequest) ([]int, int, error) {
	horizons := req.Horizons
	if len(horizons) == 0 {
		horizons = o.horizons
	}
	for _, h := range horizons {
		if h < 1 {
			return nil, 0, fmt.Errorf("horizon %d: %w", h, markov.ErrInvalidHorizon)
		}
	}
	runs := req.MonteCarloRuns
	if runs == 0 {
		runs = o.runs
	}
	if runs < 1 || runs > o.maxRuns {
		return nil, 0, fmt.Errorf("runs %d (max %d): %w", runs, o.maxRuns, markov.ErrInvalidRuns)
	}
	return horizons, runs, nil
}

func (o *ForecastOrchestrator) baseSeed(seed *uint64) (uint64, error) {
	if seed != nil {
		return *seed, nil
	}
	return markov.NewSeed()
}

// horizonSeed gives each horizon its own stream so one request seed reproduces the whole record.
func horizonSeed(base uint64, idx int) uint64 {
	return rand.NewPCG(base, uint64(idx)).Uint64()
}

func (o *ForecastOrchestrator) recordError(kind string) {
	if o.metrics != nil {
		o.metrics.RecordError(kind)
	}
}
