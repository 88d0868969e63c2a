package markov

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditChain/internal/domain/models"
	"CreditChain/internal/service/cache"
	"CreditChain/internal/service/ratelimit"
)

const rowTol = 1e-9

type feedFunc func(ctx context.Context, sector string) (map[string]float64, error)

func (f feedFunc) Fetch(ctx context.Context, sector string) (map[string]float64, error) {
	return f(ctx, sector)
}

func requireStochastic(t *testing.T, m models.TransitionMatrix) {
	t.Helper()
	for _, s := range models.AllStates() {
		assert.InDelta(t, 1.0, m.RowSum(s), rowTol, "row %s", s)
		for _, v := range m.Row(s) {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}
	assert.Equal(t, [models.NumStates]float64{0, 0, 0, 0, 1}, m.Row(models.Default))
}

func TestBuildAlwaysStochastic(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	sectors := append(DefaultSectorDeltas().Sectors(), "", "Unknown Sector")
	for _, src := range []models.DataSource{models.SourcePrimaryFeed, models.SourceTableA, models.SourceTableB, models.SourceDefault} {
		for _, sector := range sectors {
			for _, post := range []bool{false, true} {
				m := b.Build(ctx, BuildRequest{Source: src, Sector: sector, PostEvent: post})
				requireStochastic(t, m)
				assert.False(t, m.Degenerate)
			}
		}
	}
}

func TestBuildFallsBackWithoutFeed(t *testing.T) {
	m := NewBuilder().Build(context.Background(), BuildRequest{})
	assert.Equal(t, models.SourceTableA, m.Source)
	assert.InDelta(t, 0.001, m.At(models.Stable, models.Default), rowTol)
}

func TestBuildSourceSelectsFirstStage(t *testing.T) {
	b := NewBuilder()
	m := b.Build(context.Background(), BuildRequest{Source: models.SourceTableB})
	assert.Equal(t, models.SourceTableB, m.Source)
	assert.InDelta(t, 0.002, m.At(models.Stable, models.Default), rowTol)

	m = b.Build(context.Background(), BuildRequest{Source: "bogus"})
	assert.Equal(t, models.SourceTableA, m.Source)
}

func TestBuildSkipsInvalidTable(t *testing.T) {
	tables := DefaultReferenceTables()
	tables.TableA[models.Stable][models.Elevated] = -0.1
	m := NewBuilder(WithReferenceTables(tables)).Build(context.Background(), BuildRequest{Source: models.SourceTableA})
	assert.Equal(t, models.SourceTableB, m.Source)
}

func TestBuildUsesFeed(t *testing.T) {
	var gotSector string
	feed := feedFunc(func(_ context.Context, sector string) (map[string]float64, error) {
		gotSector = sector
		return map[string]float64{"stable_to_default": 0.01, "stable_to_stable": 0.841}, nil
	})
	m := NewBuilder(WithCalibrationFeed(feed, time.Second, nil)).
		Build(context.Background(), BuildRequest{Sector: "Technology"})

	assert.Equal(t, "Technology", gotSector)
	assert.Equal(t, models.SourcePrimaryFeed, m.Source)
	assert.InDelta(t, 0.01, m.At(models.Stable, models.Default), rowTol)
	assert.InDelta(t, 0.120, m.At(models.Stable, models.Elevated), rowTol)
	requireStochastic(t, m)
}

func TestBuildFeedFailuresFallThrough(t *testing.T) {
	cases := map[string]feedFunc{
		"error": func(context.Context, string) (map[string]float64, error) {
			return nil, errors.New("503")
		},
		"timeout": func(ctx context.Context, _ string) (map[string]float64, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"empty": func(context.Context, string) (map[string]float64, error) {
			return map[string]float64{"foo": 1}, nil
		},
	}
	for name, feed := range cases {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder(WithCalibrationFeed(feed, 20*time.Millisecond, nil))
			m := b.Build(context.Background(), BuildRequest{})
			assert.Equal(t, models.SourceTableA, m.Source)
		})
	}
}

func TestBuildFeedBudget(t *testing.T) {
	var calls atomic.Int32
	feed := feedFunc(func(context.Context, string) (map[string]float64, error) {
		calls.Add(1)
		return EncodePayload(DefaultReferenceTables().Default), nil
	})
	b := NewBuilder(WithCalibrationFeed(feed, time.Second, ratelimit.NewBudget(nil, 1, 0)))

	assert.Equal(t, models.SourcePrimaryFeed, b.Build(context.Background(), BuildRequest{Sector: "Energy"}).Source)
	assert.Equal(t, models.SourceTableA, b.Build(context.Background(), BuildRequest{Sector: "Energy"}).Source)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPayloadRoundTrip(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	want := b.Build(ctx, BuildRequest{Source: models.SourceDefault})
	got := b.Build(ctx, BuildRequest{Payload: EncodePayload(DefaultReferenceTables().Default)})

	assert.Equal(t, models.SourcePrimaryFeed, got.Source)
	for i := range want.Cells {
		assert.InDeltaSlice(t, want.Cells[i][:], got.Cells[i][:], 1e-12)
	}
}

func TestPayloadPerCellFallback(t *testing.T) {
	def := DefaultReferenceTables().Default
	cells, used := ParsePayload(map[string]float64{
		"high_to_default":    0.07,
		"high_to_high":       -1,
		"critical_to_stable": 0.5,
		"unknown_to_stable":  0.2,
	}, def)

	assert.Equal(t, 2, used)
	assert.Equal(t, 0.07, cells[models.High][models.Default])
	assert.Equal(t, def[models.High][models.High], cells[models.High][models.High])
	assert.Equal(t, 0.5, cells[models.Critical][models.Stable])
	assert.Equal(t, def[models.Stable], cells[models.Stable])
}

func TestBuildFlagsDegenerateRows(t *testing.T) {
	payload := map[string]float64{}
	for _, to := range models.AllStates() {
		payload[PayloadKey(models.Elevated, to)] = 0
	}
	m := NewBuilder().Build(context.Background(), BuildRequest{Payload: payload})

	assert.True(t, m.Degenerate)
	assert.Equal(t, []models.RiskState{models.Elevated}, m.DegenerateRows)
	assert.Zero(t, m.RowSum(models.Elevated))
	for _, s := range []models.RiskState{models.Stable, models.High, models.Critical, models.Default} {
		assert.InDelta(t, 1.0, m.RowSum(s), rowTol)
	}
}

func TestBuildKeepsDegenerateRowsThroughPolicies(t *testing.T) {
	payload := map[string]float64{}
	for _, to := range models.AllStates() {
		payload[PayloadKey(models.Elevated, to)] = 0
	}
	tests := []struct {
		name      string
		sector    string
		postEvent bool
		policies  []string
	}{
		{"sector", "Retail", false, []string{"sector"}},
		{"post event", "", true, []string{"post_event"}},
		{"both", "Retail", true, []string{"post_event", "sector"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBuilder().Build(context.Background(), BuildRequest{
				Payload: payload, Sector: tt.sector, PostEvent: tt.postEvent,
			})
			assert.True(t, m.Degenerate)
			assert.Equal(t, []models.RiskState{models.Elevated}, m.DegenerateRows)
			assert.Equal(t, [models.NumStates]float64{}, m.Row(models.Elevated))
			assert.Equal(t, tt.policies, m.Policies)
			assert.InDelta(t, 1.0, m.RowSum(models.Critical), rowTol)
		})
	}
}

func TestPostEventRaisesDefaultColumn(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	base := b.Build(ctx, BuildRequest{Source: models.SourceDefault})
	adj := b.Build(ctx, BuildRequest{Source: models.SourceDefault, PostEvent: true})

	requireStochastic(t, adj)
	assert.Equal(t, []string{"post_event"}, adj.Policies)
	assert.Equal(t, DefaultPostEventDelta, adj.PostEventDelta)
	for s := models.Stable; s < models.Default; s++ {
		assert.Greater(t, adj.At(s, models.Default), base.At(s, models.Default), "row %s", s)
	}
	assert.InDelta(t, 0.325, adj.At(models.Critical, models.Default), rowTol)
	assert.InDelta(t, 0.675, adj.At(models.Critical, models.Critical), rowTol)
}

func TestPostEventPolicyIsSwappable(t *testing.T) {
	ctx := context.Background()
	b := NewBuilder(WithPostEventPolicy(PostEventPolicy{Delta: 0.05}))
	m := b.Build(ctx, BuildRequest{Source: models.SourceDefault, PostEvent: true})
	assert.Equal(t, 0.05, m.PostEventDelta)
	assert.InDelta(t, 0.35, m.At(models.Critical, models.Default), rowTol)
}

func TestSectorZeroDeltaIsNoop(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	base := b.Build(ctx, BuildRequest{Source: models.SourceDefault})
	for _, sector := range []string{"Technology", "Underwater Basket Weaving", ""} {
		m := b.Build(ctx, BuildRequest{Source: models.SourceDefault, Sector: sector})
		assert.Equal(t, base.Cells, m.Cells, "sector %q", sector)
		assert.Empty(t, m.Policies)
	}
}

func TestSectorDeltaRaisesDefaultColumn(t *testing.T) {
	b := NewBuilder()
	ctx := context.Background()
	m := b.Build(ctx, BuildRequest{Source: models.SourceDefault, Sector: "retail"})

	requireStochastic(t, m)
	assert.Equal(t, 0.03, m.SectorDelta)
	assert.InDelta(t, 0.031, m.At(models.Stable, models.Default), rowTol)
	assert.InDelta(t, 0.33, m.At(models.Critical, models.Default), rowTol)
}

func TestNewSectorDeltasValidates(t *testing.T) {
	_, err := NewSectorDeltas(map[string]float64{"Retail": -0.1})
	assert.Error(t, err)
	d, err := NewSectorDeltas(map[string]float64{"  Real   Estate ": 0.025})
	require.NoError(t, err)
	assert.Equal(t, 0.025, d.Lookup("real estate"))
}

type countingStrategy struct{ calls int }

func (*countingStrategy) Name() models.DataSource { return models.SourceDefault }

func (c *countingStrategy) Cells(context.Context, BuildRequest) (models.Cells, bool) {
	c.calls++
	return DefaultReferenceTables().Default, true
}

func TestBuildCachesMatrices(t *testing.T) {
	ctx := context.Background()
	strat := &countingStrategy{}
	b := NewBuilder(WithStrategies(strat), WithMatrixCache(cache.NewTTLCache(), time.Minute))

	first := b.Build(ctx, BuildRequest{Source: models.SourceDefault, Sector: "Energy", PostEvent: true})
	second := b.Build(ctx, BuildRequest{Source: models.SourceDefault, Sector: "Energy", PostEvent: true})
	assert.Equal(t, 1, strat.calls)
	assert.Equal(t, first, second)

	b.Build(ctx, BuildRequest{Source: models.SourceDefault, Sector: "Energy"})
	assert.Equal(t, 2, strat.calls)
}

func TestBuildDoesNotCacheFailedFetch(t *testing.T) {
	var calls atomic.Int32
	feed := feedFunc(func(context.Context, string) (map[string]float64, error) {
		calls.Add(1)
		return nil, errors.New("down")
	})
	b := NewBuilder(WithCalibrationFeed(feed, time.Second, nil), WithMatrixCache(cache.NewTTLCache(), time.Minute))
	b.Build(context.Background(), BuildRequest{})
	b.Build(context.Background(), BuildRequest{})
	assert.EqualValues(t, 2, calls.Load())
}
