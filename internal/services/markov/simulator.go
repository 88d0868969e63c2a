package markov

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"CreditChain/internal/domain/models"
	"CreditChain/internal/domain/repository"
	"CreditChain/pkg/logger"
)

const (
	DefaultChunkSize         = 1000
	DefaultParallelThreshold = 5000
)

// Simulator runs Monte Carlo paths. Trials are grouped in fixed-size chunks and chunk k
// draws from PCG(seed, k), so a seeded result does not depend on the worker count.
type Simulator struct {
	chunkSize         int
	workers           int
	parallelThreshold int
	newSeed           func() (uint64, error)

	l *logger.Logger
	m repository.Metrics
}

type SimulatorOption func(*Simulator)

func WithChunkSize(n int) SimulatorOption {
	return func(s *Simulator) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

func WithWorkers(n int) SimulatorOption {
	return func(s *Simulator) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithParallelThreshold sets the run count from which chunks are spread across workers.
func WithParallelThreshold(n int) SimulatorOption {
	return func(s *Simulator) {
		if n > 0 {
			s.parallelThreshold = n
		}
	}
}

func WithSimulatorLogger(l *logger.Logger) SimulatorOption {
	return func(s *Simulator) { s.l = l }
}

func WithSimulatorMetrics(m repository.Metrics) SimulatorOption {
	return func(s *Simulator) { s.m = m }
}

func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		chunkSize:         DefaultChunkSize,
		workers:           runtime.GOMAXPROCS(0),
		parallelThreshold: DefaultParallelThreshold,
		newSeed:           cryptoSeed,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewSeed draws a seed from crypto/rand.
func NewSeed() (uint64, error) { return cryptoSeed() }

func cryptoSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

type chunkResult struct {
	defaults int
	times    []float64
	terminal [models.NumStates]int
}

// Simulate runs `runs` independent paths of at most `steps` periods from start.
// A nil seed draws a fresh one, which is reported on the result.
func (s *Simulator) Simulate(ctx context.Context, m models.TransitionMatrix, start models.RiskState, steps, runs int, seed *uint64) (models.SimulationResult, error) {
	if steps < 1 {
		return models.SimulationResult{}, fmt.Errorf("steps %d: %w", steps, ErrInvalidHorizon)
	}
	if runs < 1 {
		return models.SimulationResult{}, fmt.Errorf("runs %d: %w", runs, ErrInvalidRuns)
	}
	if !start.Valid() {
		return models.SimulationResult{}, fmt.Errorf("unknown start state %d", int(start))
	}

	var sd uint64
	if seed != nil {
		sd = *seed
	} else {
		var err error
		if sd, err = s.newSeed(); err != nil {
			return models.SimulationResult{}, err
		}
	}

	began := time.Now()
	cum := cumulative(m.Cells)
	nChunks := (runs + s.chunkSize - 1) / s.chunkSize
	results := make([]chunkResult, nChunks)

	run := func(k int) {
		n := min(s.chunkSize, runs-k*s.chunkSize)
		rng := rand.New(rand.NewPCG(sd, uint64(k)))
		results[k] = simulateChunk(rng, &cum, start, steps, n)
	}

	if runs >= s.parallelThreshold && s.workers > 1 && nChunks > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for k := 0; k < nChunks; k++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				run(k)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return models.SimulationResult{}, err
		}
	} else {
		for k := 0; k < nChunks; k++ {
			if err := ctx.Err(); err != nil {
				return models.SimulationResult{}, err
			}
			run(k)
		}
	}

	res := aggregate(results, runs, steps)
	res.Seed = sd

	if s.m != nil {
		s.m.RecordSimulation(runs)
		s.m.RecordLatency("simulate", time.Since(began).Seconds())
	}
	if s.l != nil {
		s.l.Debug("simulation finished",
			logger.String("start", start.String()),
			logger.Int("steps", steps),
			logger.Int("runs", runs),
			logger.Int("chunks", nChunks),
			logger.Duration("took_ms", time.Since(began)))
	}
	return res, nil
}

func cumulative(c models.Cells) models.Cells {
	var cum models.Cells
	for i := range c {
		var acc float64
		for j, v := range c[i] {
			acc += v
			cum[i][j] = acc
		}
	}
	return cum
}

// next samples the categorical row. If rounding leaves u above the row total the path stays put.
func next(cum *[models.NumStates]float64, cur models.RiskState, u float64) models.RiskState {
	for j, c := range cum {
		if u < c {
			return models.RiskState(j)
		}
	}
	return cur
}

func simulateChunk(rng *rand.Rand, cum *models.Cells, start models.RiskState, steps, n int) chunkResult {
	var r chunkResult
	for t := 0; t < n; t++ {
		state := start
		if state == models.Default {
			r.defaults++
			r.times = append(r.times, 0)
			r.terminal[state]++
			continue
		}
		for step := 1; step <= steps; step++ {
			state = next(&cum[state], state, rng.Float64())
			if state == models.Default {
				r.defaults++
				r.times = append(r.times, float64(step))
				break
			}
		}
		r.terminal[state]++
	}
	return r
}

func aggregate(chunks []chunkResult, runs, steps int) models.SimulationResult {
	res := models.SimulationResult{Runs: runs, Steps: steps}
	var times []float64
	var terminal [models.NumStates]int
	for _, c := range chunks {
		res.Defaults += c.defaults
		times = append(times, c.times...)
		for i, n := range c.terminal {
			terminal[i] += n
		}
	}

	res.DefaultProbability = float64(res.Defaults) / float64(runs)
	for i, n := range terminal {
		res.TerminalDistribution[i] = float64(n) / float64(runs)
	}
	if len(times) > 0 {
		res.ExpectedDefaultTime = models.DefinedEstimate(stat.Mean(times, nil))
	}
	if len(times) >= 2 {
		sort.Float64s(times)
		res.ConfidenceInterval = models.Interval{
			Low:     percentile(times, 0.05),
			High:    percentile(times, 0.95),
			Defined: true,
		}
	}
	return res
}

// percentile interpolates linearly between closest ranks at h = (n-1)p, matching the
// usual sample-percentile definition. sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo, hi := math.Floor(h), math.Ceil(h)
	return sorted[int(lo)] + (h-lo)*(sorted[int(hi)]-sorted[int(lo)])
}
