package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"CreditChain/internal/domain/models"
	domrepo "CreditChain/internal/domain/repository"
	applogger "CreditChain/pkg/logger"
)

const DefaultRecordTable = "forecast_records"

// RecordSchema returns the DDL for the forecast table; one row per (record, horizon).
func RecordSchema(table string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            calculated_at         DateTime64(3, 'UTC'),
            entity_id             String,
            score                 Float64,
            state                 LowCardinality(String),
            sector                LowCardinality(String),
            post_event            UInt8,
            data_source           LowCardinality(String),
            degenerate            UInt8,
            horizon               UInt16,
            analytical_pd         Float64,
            monte_carlo_pd        Float64,
            ci_low                Nullable(Float64),
            ci_high               Nullable(Float64),
            expected_default_time Nullable(Float64),
            etta                  Nullable(Float64),
            etta_variance         Nullable(Float64),
            runs                  UInt32,
            confidence   Float64,
            state_distribution    Array(Float64),
            terminal_distribution Array(Float64)
        ) ENGINE = MergeTree
        ORDER BY (entity_id, calculated_at, horizon)
    `, table)}
}

var recordColumns = []string{
	"calculated_at", "entity_id", "score", "state", "sector", "post_event",
	"data_source", "degenerate", "horizon", "analytical_pd", "monte_carlo_pd",
	"ci_low", "ci_high", "expected_default_time", "etta", "etta_variance",
	"runs", "confidence", "state_distribution", "terminal_distribution",
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// CHRecordSink implements RecordSink backed by ClickHouse.
type CHRecordSink struct {
	db    execer
	table string
	l     *applogger.Logger
}

var _ domrepo.RecordSink = (*CHRecordSink)(nil)

func NewCHRecordSink(db *sql.DB, table string, l *applogger.Logger) *CHRecordSink {
	return newCHRecordSink(db, table, l)
}

func newCHRecordSink(db execer, table string, l *applogger.Logger) *CHRecordSink {
	if table == "" {
		table = DefaultRecordTable
	}
	return &CHRecordSink{db: db, table: table, l: l}
}

func (s *CHRecordSink) Init(ctx context.Context) error {
	for _, stmt := range RecordSchema(s.table) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s: %w", s.table, err)
		}
	}
	return nil
}

// Store writes every horizon of rec in a single multi-row insert.
func (s *CHRecordSink) Store(ctx context.Context, rec *models.ForecastRecord) error {
	if rec == nil || len(rec.PerHorizon) == 0 {
		return nil
	}
	start := time.Now()

	ts, err := time.Parse(time.RFC3339, rec.CalculationTimestamp)
	if err != nil {
		ts = time.Now().UTC()
	}
	etta := nullable(rec.ExpectedTimeToAbsorption)
	variance := nullable(rec.AbsorptionVariance)

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ") + ")"
	values := make([]string, 0, len(rec.PerHorizon))
	args := make([]any, 0, len(rec.PerHorizon)*len(recordColumns))
	for _, h := range rec.PerHorizon {
		var ciLow, ciHigh *float64
		if h.ConfidenceInterval.Defined {
			lo, hi := h.ConfidenceInterval.Low, h.ConfidenceInterval.High
			ciLow, ciHigh = &lo, &hi
		}
		values = append(values, placeholder)
		args = append(args,
			ts,
			rec.EntityID,
			rec.Score,
			rec.State.String(),
			rec.Sector,
			boolToUInt8(rec.PostEvent),
			string(rec.DataSource),
			boolToUInt8(rec.DegenerateMatrix),
			uint16(h.Horizon),
			h.AnalyticalProbability,
			h.MonteCarloProbability,
			ciLow,
			ciHigh,
			nullable(h.ExpectedDefaultTime),
			etta,
			variance,
			uint32(h.MonteCarloRuns),
			h.Confidence,
			h.StateDistribution[:],
			h.TerminalDistribution[:],
		)
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, strings.Join(recordColumns, ", "), strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse store_record error",
				applogger.String("table", s.table),
				applogger.String("entity_id", rec.EntityID),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("store record: %w", err)
	}
	if s.l != nil {
		s.l.Debug("clickhouse store_record ok",
			applogger.String("entity_id", rec.EntityID),
			applogger.Int("rows", len(values)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHRecordSink) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the ClickHouse client.
func (s *CHRecordSink) Close() error {
	return nil
}

func nullable(e models.Estimate) *float64 {
	if !e.Defined {
		return nil
	}
	v := e.Value
	return &v
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
