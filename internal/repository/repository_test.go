package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreditChain/internal/domain/models"
)

type fakeExec struct {
	queries []string
	args    [][]any
	err     error
}

func (f *fakeExec) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.queries = append(f.queries, q)
	f.args = append(f.args, args)
	return nil, f.err
}

func (f *fakeExec) PingContext(context.Context) error { return f.err }

type fakeProducer struct {
	topic string
	key   []byte
	value any
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value any) error {
	f.topic, f.key, f.value = topic, key, value
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func sampleRecord() *models.ForecastRecord {
	return &models.ForecastRecord{
		EntityID:                 "acme",
		Score:                    55,
		State:                    models.High,
		Sector:                   "Retail",
		DataSource:               models.SourceTableA,
		ExpectedTimeToAbsorption: models.DefinedEstimate(18.6),
		AbsorptionVariance:       models.Undefined(),
		CalculationTimestamp:     "2026-01-02T03:04:05Z",
		PerHorizon: []models.HorizonForecast{
			{Horizon: 6, AnalyticalProbability: 0.3, MonteCarloProbability: 0.31, MonteCarloRuns: 100,
				ConfidenceInterval: models.Interval{Low: 2, High: 5, Defined: true}, ExpectedDefaultTime: models.DefinedEstimate(3)},
			{Horizon: 12, AnalyticalProbability: 0.57, MonteCarloProbability: 0.58, MonteCarloRuns: 100},
		},
	}
}

func TestRecordSinkInitUsesTable(t *testing.T) {
	db := &fakeExec{}
	s := newCHRecordSink(db, "", nil)
	require.NoError(t, s.Init(context.Background()))
	require.Len(t, db.queries, 1)
	assert.Contains(t, db.queries[0], "CREATE TABLE IF NOT EXISTS forecast_records")
}

func TestRecordSinkStoreOneRowPerHorizon(t *testing.T) {
	db := &fakeExec{}
	s := newCHRecordSink(db, "fr", nil)

	require.NoError(t, s.Store(context.Background(), sampleRecord()))
	require.Len(t, db.queries, 1)
	assert.True(t, strings.HasPrefix(db.queries[0], "INSERT INTO fr ("))
	assert.Equal(t, 2, strings.Count(db.queries[0], "(?,"))

	args := db.args[0]
	require.Len(t, args, 2*len(recordColumns))
	assert.Equal(t, "acme", args[1])
	assert.Equal(t, "high", args[3])
	assert.Equal(t, uint16(6), args[8])
	assert.Equal(t, 2.0, *args[11].(*float64))

	second := args[len(recordColumns):]
	assert.Equal(t, uint16(12), second[8])
	assert.Nil(t, second[11].(*float64))
	assert.Nil(t, second[13].(*float64))
	assert.Nil(t, second[15].(*float64))
	assert.InDelta(t, 18.6, *second[14].(*float64), 1e-12)
}

func TestRecordSinkStoreSkipsEmpty(t *testing.T) {
	db := &fakeExec{}
	s := newCHRecordSink(db, "fr", nil)
	require.NoError(t, s.Store(context.Background(), &models.ForecastRecord{EntityID: "x"}))
	require.NoError(t, s.Store(context.Background(), nil))
	assert.Empty(t, db.queries)
}

func TestRecordSinkStoreError(t *testing.T) {
	db := &fakeExec{err: errors.New("down")}
	s := newCHRecordSink(db, "fr", nil)
	require.Error(t, s.Store(context.Background(), sampleRecord()))
	require.Error(t, s.Health(context.Background()))
}

func TestKafkaRecordPublisherKeysByEntity(t *testing.T) {
	fp := &fakeProducer{}
	p := NewKafkaRecordPublisher(fp, "forecast-records")

	rec := sampleRecord()
	require.NoError(t, p.Publish(context.Background(), rec))
	assert.Equal(t, "forecast-records", fp.topic)
	assert.Equal(t, []byte("acme"), fp.key)

	b, err := json.Marshal(fp.value)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"entity_id":"acme"`)
}
