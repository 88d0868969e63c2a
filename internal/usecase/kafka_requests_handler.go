package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CreditChain/internal/domain/models"
	domrepo "CreditChain/internal/domain/repository"
	"CreditChain/internal/domain/service"
	"CreditChain/internal/service/cache"
	"CreditChain/internal/services/markov"
	pkgkafka "CreditChain/pkg/kafka"
	applogger "CreditChain/pkg/logger"
)

var errMissingEntity = errors.New("entity_id is required")

const (
	pendingTTL        = 10 * time.Minute
	pendingMaxEntries = 1024
)

// pendingStore holds records computed for a message whose publish failed.
type pendingStore interface {
	cache.BytesCache
	Delete(ctx context.Context, key string) error
}

// KafkaRequestsHandler consumes ForecastRequest messages and publishes ForecastRecords.
// A record whose publish fails is kept and republished when the same message is
// redelivered, so retries neither recompute nor store it again. Delivery of records is
// still at-least-once: a crash between publish and commit repeats the whole message.
type KafkaRequestsHandler struct {
	topic      string
	forecaster service.Forecaster
	pub        domrepo.RecordPublisher
	metrics    domrepo.Metrics
	pending    pendingStore
	l          *applogger.Logger
}

func NewKafkaRequestsHandler(topic string, f service.Forecaster, pub domrepo.RecordPublisher, metrics domrepo.Metrics, l *applogger.Logger) *KafkaRequestsHandler {
	return &KafkaRequestsHandler{
		topic:      topic,
		forecaster: f,
		pub:        pub,
		metrics:    metrics,
		pending:    cache.NewTTLCache(cache.WithMaxEntries(pendingMaxEntries)),
		l:          l,
	}
}

func (h *KafkaRequestsHandler) Topic() string { return h.topic }

// Handle returns permanent errors for payloads that can never succeed.
func (h *KafkaRequestsHandler) Handle(ctx context.Context, b []byte) error {
	key := messageKey(b)
	if rec, ok := h.takePending(ctx, key); ok {
		return h.publish(ctx, key, rec)
	}

	var req models.ForecastRequest
	if err := json.Unmarshal(b, &req); err != nil {
		h.recordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode forecast request: %w", err))
	}
	if req.EntityID == "" {
		h.recordError("consumer_invalid")
		return pkgkafka.Permanent(errMissingEntity)
	}

	rec, err := h.forecaster.ComprehensiveAnalysis(ctx, req)
	if err != nil {
		if isInputError(err) {
			h.recordError("consumer_invalid")
			return pkgkafka.Permanent(err)
		}
		return err
	}

	if h.pub == nil {
		return nil
	}
	return h.publish(ctx, key, rec)
}

func (h *KafkaRequestsHandler) publish(ctx context.Context, key string, rec *models.ForecastRecord) error {
	if err := h.pub.Publish(ctx, rec); err != nil {
		h.recordError("publish_record")
		h.keepPending(ctx, key, rec)
		return fmt.Errorf("publish record %s: %w", rec.EntityID, err)
	}
	if h.l != nil {
		h.l.Debug("forecast record published",
			applogger.String("entity_id", rec.EntityID),
			applogger.String("trace_id", pkgkafka.TraceID(ctx)))
	}
	return nil
}

func (h *KafkaRequestsHandler) keepPending(ctx context.Context, key string, rec *models.ForecastRecord) {
	b, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := h.pending.SetBytes(ctx, key, b, pendingTTL); err != nil && h.l != nil {
		h.l.Warn("keep pending record failed", applogger.Error(err))
	}
}

func (h *KafkaRequestsHandler) takePending(ctx context.Context, key string) (*models.ForecastRecord, bool) {
	b, ok, err := h.pending.GetBytes(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	_ = h.pending.Delete(ctx, key)
	var rec models.ForecastRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, false
	}
	return &rec, true
}

func messageKey(b []byte) string {
	sum := sha256.Sum256(b)
	return "pending:" + hex.EncodeToString(sum[:])
}

func (h *KafkaRequestsHandler) recordError(kind string) {
	if h.metrics != nil {
		h.metrics.RecordError(kind)
	}
}

func isInputError(err error) bool {
	return errors.Is(err, markov.ErrScoreOutOfRange) ||
		errors.Is(err, markov.ErrInvalidHorizon) ||
		errors.Is(err, markov.ErrInvalidRuns)
}

var _ pkgkafka.MessageHandler = (*KafkaRequestsHandler)(nil)
