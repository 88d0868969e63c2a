package markov

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"CreditChain/internal/domain/models"
	"CreditChain/internal/domain/repository"
	"CreditChain/internal/service/cache"
	"CreditChain/internal/service/ratelimit"
	"CreditChain/pkg/logger"
)

// BuildRequest selects the first stage of the chain and the adjustments to apply.
type BuildRequest struct {
	Source    models.DataSource
	Sector    string
	PostEvent bool
	Payload   map[string]float64
}

// Strategy is one stage of the calibration chain. ok=false means "no data, try the next one".
type Strategy interface {
	Name() models.DataSource
	Cells(ctx context.Context, req BuildRequest) (cells models.Cells, ok bool)
}

// FeedStrategy reads a caller-supplied payload, or fetches one from Feed exactly once.
type FeedStrategy struct {
	Feed     repository.CalibrationFeed
	Timeout  time.Duration
	Budget   *ratelimit.Budget
	Fallback models.Cells
	Log      *logger.Logger
}

func (*FeedStrategy) Name() models.DataSource { return models.SourcePrimaryFeed }

func (s *FeedStrategy) Cells(ctx context.Context, req BuildRequest) (models.Cells, bool) {
	payload := req.Payload
	if len(payload) == 0 {
		if s.Feed == nil {
			return models.Cells{}, false
		}
		if !s.Budget.Take(req.Sector) {
			s.warn("calibration feed budget exhausted", logger.String("sector", req.Sector))
			return models.Cells{}, false
		}
		fctx := ctx
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, s.Timeout)
			defer cancel()
		}
		p, err := s.Feed.Fetch(fctx, req.Sector)
		if err != nil {
			s.warn("calibration feed unavailable", logger.String("sector", req.Sector), logger.Error(err))
			return models.Cells{}, false
		}
		payload = p
	}
	cells, used := ParsePayload(payload, s.Fallback)
	if used == 0 {
		s.warn("calibration payload has no usable rates", logger.Int("keys", len(payload)))
		return models.Cells{}, false
	}
	if used < models.NumStates*models.NumStates && s.Log != nil {
		s.Log.Debug("partial calibration payload", logger.Int("used", used))
	}
	return cells, true
}

// Volatile reports whether the stage result depends on a live fetch.
func (s *FeedStrategy) Volatile(req BuildRequest) bool {
	return len(req.Payload) == 0 && s.Feed != nil
}

func (s *FeedStrategy) warn(msg string, fields ...logger.Field) {
	if s.Log != nil {
		s.Log.Warn(msg, fields...)
	}
}

// TableStrategy serves a fixed reference table. An invalid table never serves.
type TableStrategy struct {
	name  models.DataSource
	cells models.Cells
	err   error
}

func NewTableStrategy(name models.DataSource, cells models.Cells) *TableStrategy {
	return &TableStrategy{name: name, cells: cells, err: ValidateCells(cells)}
}

func (s *TableStrategy) Name() models.DataSource { return s.name }

func (s *TableStrategy) Cells(context.Context, BuildRequest) (models.Cells, bool) {
	if s.err != nil {
		return models.Cells{}, false
	}
	return s.cells, true
}

// DefaultChain is primary_feed -> table_a -> table_b -> default.
func DefaultChain(feed *FeedStrategy, t ReferenceTables) []Strategy {
	if feed.Fallback == (models.Cells{}) {
		feed.Fallback = t.Default
	}
	return []Strategy{
		feed,
		NewTableStrategy(models.SourceTableA, t.TableA),
		NewTableStrategy(models.SourceTableB, t.TableB),
		NewTableStrategy(models.SourceDefault, t.Default),
	}
}

// Builder produces calibrated matrices. It always succeeds.
type Builder struct {
	chain     []Strategy
	tables    ReferenceTables
	sectors   SectorDeltas
	postEvent AdjustmentPolicy
	feed      *FeedStrategy

	cache    cache.BytesCache
	cacheTTL time.Duration

	l *logger.Logger
	m repository.Metrics
}

type BuilderOption func(*Builder)

func WithReferenceTables(t ReferenceTables) BuilderOption {
	return func(b *Builder) { b.tables = t }
}

func WithSectorDeltas(s SectorDeltas) BuilderOption {
	return func(b *Builder) { b.sectors = s }
}

// WithPostEventPolicy swaps the post-event heuristic.
func WithPostEventPolicy(p AdjustmentPolicy) BuilderOption {
	return func(b *Builder) { b.postEvent = p }
}

// WithCalibrationFeed enables live fetches when a request carries no payload.
func WithCalibrationFeed(feed repository.CalibrationFeed, timeout time.Duration, budget *ratelimit.Budget) BuilderOption {
	return func(b *Builder) {
		b.feed.Feed = feed
		b.feed.Timeout = timeout
		b.feed.Budget = budget
	}
}

// WithStrategies replaces the whole chain.
func WithStrategies(s ...Strategy) BuilderOption {
	return func(b *Builder) { b.chain = s }
}

func WithMatrixCache(c cache.BytesCache, ttl time.Duration) BuilderOption {
	return func(b *Builder) {
		b.cache = c
		b.cacheTTL = ttl
	}
}

func WithBuilderLogger(l *logger.Logger) BuilderOption {
	return func(b *Builder) { b.l = l }
}

func WithBuilderMetrics(m repository.Metrics) BuilderOption {
	return func(b *Builder) { b.m = m }
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		tables:    DefaultReferenceTables(),
		sectors:   DefaultSectorDeltas(),
		postEvent: PostEventPolicy{Delta: DefaultPostEventDelta},
		feed:      &FeedStrategy{},
	}
	for _, o := range opts {
		o(b)
	}
	if b.feed.Log == nil {
		b.feed.Log = b.l
	}
	if b.chain == nil {
		b.chain = DefaultChain(b.feed, b.tables)
	}
	return b
}

// BuildMatrix is Build without a payload.
func (b *Builder) BuildMatrix(ctx context.Context, sector string, postEvent bool, source models.DataSource) (models.TransitionMatrix, error) {
	return b.Build(ctx, BuildRequest{Source: source, Sector: sector, PostEvent: postEvent}), nil
}

func (b *Builder) Build(ctx context.Context, req BuildRequest) models.TransitionMatrix {
	start := time.Now()
	req.Source = models.NormalizeSource(string(req.Source))

	key := b.cacheKey(req)
	if m, ok := b.cached(ctx, key); ok {
		return m
	}

	cells, source, volatile := b.base(ctx, req)
	m := b.adjust(cells, source, req)

	// A fallback after a failed fetch is not a pure function of the key.
	if !volatile {
		b.store(ctx, key, m)
	}
	if len(m.DegenerateRows) > 0 && b.l != nil {
		b.l.Warn("degenerate transition matrix",
			logger.String("source", string(source)),
			logger.Any("rows", m.DegenerateRows))
	}
	if b.m != nil {
		b.m.RecordLatency("build_matrix", time.Since(start).Seconds())
	}
	return m
}

func (b *Builder) base(ctx context.Context, req BuildRequest) (models.Cells, models.DataSource, bool) {
	first := 0
	for i, s := range b.chain {
		if s.Name() == req.Source {
			first = i
			break
		}
	}
	volatile := false
	for _, s := range b.chain[first:] {
		if cells, ok := s.Cells(ctx, req); ok {
			return cells, s.Name(), volatile
		}
		if v, ok := s.(interface{ Volatile(BuildRequest) bool }); ok && v.Volatile(req) {
			volatile = true
		}
		if b.l != nil {
			b.l.Info("calibration stage unavailable, falling back", logger.String("stage", string(s.Name())))
		}
		if b.m != nil {
			b.m.RecordFallback(string(s.Name()))
		}
	}
	if b.l != nil {
		b.l.Error("every calibration stage failed, using built-in table")
	}
	return moodysCells, models.SourceDefault, volatile
}

func (b *Builder) adjust(cells models.Cells, source models.DataSource, req BuildRequest) models.TransitionMatrix {
	m := models.TransitionMatrix{Source: source, Sector: req.Sector, PostEvent: req.PostEvent}
	// Zero-sum rows stay zero through every policy so Normalize still reports them.
	zero := zeroRows(&cells)
	if req.PostEvent && b.postEvent != nil {
		b.postEvent.Apply(&cells)
		m.Policies = append(m.Policies, b.postEvent.Name())
		if p, ok := b.postEvent.(PostEventPolicy); ok {
			m.PostEventDelta = p.Delta
		}
	}
	if delta := b.sectors.Lookup(req.Sector); delta > 0 {
		p := SectorPolicy{Sector: req.Sector, Delta: delta}
		p.Apply(&cells)
		m.Policies = append(m.Policies, p.Name())
		m.SectorDelta = delta
	}
	for _, i := range zero {
		cells[i] = [models.NumStates]float64{}
	}
	absorb(&cells)
	m.DegenerateRows = Normalize(&cells)
	m.Degenerate = len(m.DegenerateRows) > 0
	m.Cells = cells
	return m
}

func (b *Builder) cacheKey(req BuildRequest) string {
	if b.cache == nil {
		return ""
	}
	policy := "-"
	if req.PostEvent && b.postEvent != nil {
		policy = fmt.Sprintf("%s:%v", b.postEvent.Name(), b.postEvent)
	}
	return fmt.Sprintf("matrix:%s:%s:%s:%s",
		req.Source, normalizeSector(req.Sector), policy, payloadDigest(req.Payload))
}

func (b *Builder) cached(ctx context.Context, key string) (models.TransitionMatrix, bool) {
	if key == "" {
		return models.TransitionMatrix{}, false
	}
	raw, ok, err := b.cache.GetBytes(ctx, key)
	if err != nil {
		if b.l != nil {
			b.l.Warn("matrix cache read failed", logger.String("key", key), logger.Error(err))
		}
		return models.TransitionMatrix{}, false
	}
	if !ok {
		return models.TransitionMatrix{}, false
	}
	var m models.TransitionMatrix
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.TransitionMatrix{}, false
	}
	return m, true
}

func (b *Builder) store(ctx context.Context, key string, m models.TransitionMatrix) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := b.cache.SetBytes(ctx, key, raw, b.cacheTTL); err != nil && b.l != nil {
		b.l.Warn("matrix cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// payloadDigest is order independent; "-" stands for no payload.
func payloadDigest(p map[string]float64) string {
	if len(p) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.FormatFloat(p[k], 'g', -1, 64)))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil)[:12])
}
