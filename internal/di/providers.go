package di

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"CreditChain/internal/domain/models"
	"CreditChain/internal/domain/repository"
	"CreditChain/internal/handler/api"
	internalrepo "CreditChain/internal/repository"
	"CreditChain/internal/service/cache"
	"CreditChain/internal/service/ratelimit"
	"CreditChain/internal/services/calibration"
	"CreditChain/internal/services/markov"
	"CreditChain/internal/usecase"
	pkgch "CreditChain/pkg/clickhouse"
	"CreditChain/pkg/config"
	xhttp "CreditChain/pkg/http"
	pkgkafka "CreditChain/pkg/kafka"
	applogger "CreditChain/pkg/logger"
	"CreditChain/pkg/metrics"
	"CreditChain/pkg/server"
)

// ProvideLogger builds the process logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: cfg.Log.TimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideReferenceTables overlays configured tables on the built-in ones.
func ProvideReferenceTables(cfg *config.Config) (markov.ReferenceTables, error) {
	t := markov.DefaultReferenceTables()
	for _, o := range []struct {
		name string
		in   [][]float64
		dst  *models.Cells
	}{
		{"table_a", cfg.Tables.TableA, &t.TableA},
		{"table_b", cfg.Tables.TableB, &t.TableB},
		{"default", cfg.Tables.Default, &t.Default},
	} {
		if len(o.in) == 0 {
			continue
		}
		var c models.Cells
		for i := range c {
			copy(c[i][:], o.in[i])
		}
		if err := markov.ValidateCells(c); err != nil {
			return markov.ReferenceTables{}, fmt.Errorf("tables.%s: %w", o.name, err)
		}
		*o.dst = c
	}
	return t, nil
}

// ProvideSectorDeltas uses the configured sector table, or the built-in one when empty.
func ProvideSectorDeltas(cfg *config.Config) (markov.SectorDeltas, error) {
	if len(cfg.Sectors) == 0 {
		return markov.DefaultSectorDeltas(), nil
	}
	s, err := markov.NewSectorDeltas(cfg.Sectors)
	if err != nil {
		return markov.SectorDeltas{}, fmt.Errorf("sectors: %w", err)
	}
	return s, nil
}

func ProvideClassifier(cfg *config.Config) (*markov.Classifier, error) {
	return markov.NewClassifier(markov.Thresholds{
		Elevated: cfg.Classifier.Elevated,
		High:     cfg.Classifier.High,
		Critical: cfg.Classifier.Critical,
	})
}

// ProvideCalibrationFeed returns nil when no feed URL is configured.
func ProvideCalibrationFeed(cfg *config.Config) repository.CalibrationFeed {
	if cfg.Calibration.URL == "" {
		return nil
	}
	return calibration.NewHTTPFeed(calibration.Config{
		URL:     cfg.Calibration.URL,
		APIKey:  cfg.Calibration.APIKey,
		Timeout: cfg.Calibration.Timeout,
	})
}

// ProvideRedisCache returns nil when redis is disabled.
func ProvideRedisCache(cfg *config.Config, l *applogger.Logger) (*cache.RedisCache, func()) {
	if !cfg.Cache.Enabled || !cfg.Cache.Redis.Enabled {
		return nil, func() {}
	}
	rc := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
		Prefix:   cfg.Cache.Redis.Prefix,
	})
	return rc, func() {
		if err := rc.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}
}

// ProvideMatrixCache layers the in-process TTL cache over redis when both are on.
func ProvideMatrixCache(cfg *config.Config, rc *cache.RedisCache) cache.BytesCache {
	if !cfg.Cache.Enabled {
		return nil
	}
	l1 := cache.NewTTLCache(cache.WithMaxEntries(cfg.Cache.MaxEntries))
	if rc == nil {
		return l1
	}
	return cache.NewLayered(l1, rc, cfg.Cache.TTL)
}

func ProvideMatrixBuilder(
	cfg *config.Config,
	tables markov.ReferenceTables,
	sectors markov.SectorDeltas,
	feed repository.CalibrationFeed,
	c cache.BytesCache,
	l *applogger.Logger,
	m repository.Metrics,
) *markov.Builder {
	budget := ratelimit.NewBudget(ratelimit.New(), cfg.Calibration.BudgetCapacity, cfg.Calibration.BudgetRefillPerSec)
	return markov.NewBuilder(
		markov.WithReferenceTables(tables),
		markov.WithSectorDeltas(sectors),
		markov.WithPostEventPolicy(markov.PostEventPolicy{Delta: cfg.Engine.PostEventDelta}),
		markov.WithCalibrationFeed(feed, cfg.Calibration.Timeout, budget),
		markov.WithMatrixCache(c, cfg.Cache.TTL),
		markov.WithBuilderLogger(l),
		markov.WithBuilderMetrics(m),
	)
}

func ProvideSimulator(cfg *config.Config, l *applogger.Logger, m repository.Metrics) *markov.Simulator {
	opts := []markov.SimulatorOption{
		markov.WithChunkSize(cfg.Engine.ChunkSize),
		markov.WithParallelThreshold(cfg.Engine.ParallelThreshold),
		markov.WithSimulatorLogger(l),
		markov.WithSimulatorMetrics(m),
	}
	if cfg.Engine.Workers > 0 {
		opts = append(opts, markov.WithWorkers(cfg.Engine.Workers))
	}
	return markov.NewSimulator(opts...)
}

// ProvideClickHouseClient returns nil when clickhouse is disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideRecordSink creates the forecast table and returns the sink, or nil without clickhouse.
func ProvideRecordSink(ch *pkgch.Client, l *applogger.Logger) (repository.RecordSink, error) {
	if ch == nil {
		return nil, nil
	}
	sink := internalrepo.NewCHRecordSink(ch.DB(), internalrepo.DefaultRecordTable, l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sink.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return sink, nil
}

func ProvideForecastOrchestrator(
	cfg *config.Config,
	classifier *markov.Classifier,
	builder *markov.Builder,
	sim *markov.Simulator,
	sink repository.RecordSink,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.ForecastOrchestrator {
	return usecase.NewForecastOrchestrator(classifier, builder, sim,
		usecase.WithDefaultHorizons(cfg.Engine.Horizons),
		usecase.WithRunLimits(cfg.Engine.MonteCarloRuns, cfg.Engine.MaxRuns),
		usecase.WithRecordSink(sink),
		usecase.WithOrchestratorMetrics(m),
		usecase.WithOrchestratorLogger(l),
	)
}

// ProvideKafkaProducer returns nil when kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

// ProvideRecordPublisher returns nil without a producer.
func ProvideRecordPublisher(p *pkgkafka.Producer, cfg *config.Config) repository.RecordPublisher {
	if p == nil {
		return nil
	}
	return internalrepo.NewKafkaRecordPublisher(p, cfg.Kafka.RecordTopic)
}

// ProvideKafkaConsumer returns nil when kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger, m repository.Metrics) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	trace := pkgkafka.TraceHook()
	consumer.WithConsumerHook(pkgkafka.HookFuncs{
		Before: trace.BeforeHandle,
		Err: func(_ context.Context, topic string, _ kafka.Message, _ []byte, _ error) {
			m.RecordError("kafka_handle_" + topic)
		},
	})
	return consumer, nil
}

// ProvideKafkaRequestsHandler returns nil when kafka is disabled.
func ProvideKafkaRequestsHandler(
	cfg *config.Config,
	o *usecase.ForecastOrchestrator,
	pub repository.RecordPublisher,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.KafkaRequestsHandler {
	if !cfg.Kafka.Enabled {
		return nil
	}
	return usecase.NewKafkaRequestsHandler(cfg.Kafka.RequestTopic, o, pub, m, l)
}

// ProvideForecastHandler registers health checks for whichever backends are enabled.
func ProvideForecastHandler(
	l *applogger.Logger,
	o *usecase.ForecastOrchestrator,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *api.ForecastEchoHandler {
	checks := map[string]api.HealthCheck{}
	if ch != nil {
		checks["clickhouse"] = ch.Health
	}
	if rc != nil {
		checks["redis"] = rc.Ping
	}
	return api.NewForecastEchoHandler(l, o, checks)
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, h *api.ForecastEchoHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer([]xhttp.Handler{h},
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(len(cfg.Server.CORSOrigins) > 0, cfg.Server.CORSOrigins...),
		xhttp.WithMetricsPath(metricsPath),
		xhttp.WithLogger(l),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaRequestsHandler,
) *server.App {
	var handler pkgkafka.MessageHandler
	if kh != nil {
		handler = kh
	}
	return server.New(l, srv, consumer, handler, cfg.Server.ShutdownTimeout)
}
