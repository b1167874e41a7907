package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/messaging"
	"github.com/teambind/payment-server/common/retry"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// OutboxWorker Outbox 패턴 워커
//
// 커밋된 outbox 행을 주기적으로 읽어 Kafka로 발행한다. 발행 후 MarkSent 전에
// 종료되면 같은 이벤트가 다시 발행되므로 소비자는 eventId로 중복을 걸러야 한다.
type OutboxWorker struct {
	outboxRepo  repository.OutboxRepository
	publisher   messaging.Publisher
	metrics     metrics.PaymentMetrics
	logger      *zap.Logger
	interval    time.Duration
	batchSize   int
	retryConfig retry.Config
}

// NewOutboxWorker Outbox 워커 생성
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	paymentMetrics metrics.PaymentMetrics,
	logger *zap.Logger,
	interval time.Duration,
	batchSize int,
) *OutboxWorker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		metrics:    paymentMetrics,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		retryConfig: retry.Config{
			MaxAttempts:        3,
			InitialInterval:    100 * time.Millisecond,
			MaxInterval:        time.Second,
			BackoffCoefficient: 2.0,
		},
	}
}

// Start 워커 시작 (ctx 종료 시 반환)
func (w *OutboxWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started",
		zap.Duration("interval", w.interval),
		zap.Int("batchSize", w.batchSize))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return nil
		case <-ticker.C:
			if _, err := w.process(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

// process 대기 중인 이벤트를 한 번 발행하고 발행 건수를 반환
//
// 같은 키의 이벤트가 실패하면 배치의 나머지 같은 키 이벤트는 건너뛰어 키별 순서를 지킨다.
func (w *OutboxWorker) process(ctx context.Context) (int, error) {
	events, err := w.outboxRepo.FindPending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	w.logger.Info("processing outbox events", zap.Int("count", len(events)))

	blocked := make(map[string]struct{})
	sent := 0
	for _, event := range events {
		if _, ok := blocked[event.EventKey]; ok {
			continue
		}

		if err := w.publishEvent(ctx, event); err != nil {
			w.logger.Error("failed to publish event",
				zap.Int64("outboxId", event.ID),
				zap.String("topic", event.EventType),
				zap.String("key", event.EventKey),
				zap.Error(err))
			w.metrics.IncOutboxPublished(event.EventType, metrics.ResultFailure)
			blocked[event.EventKey] = struct{}{}
			continue
		}

		// 전송 완료 표시
		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("outboxId", event.ID),
				zap.Error(err))
			blocked[event.EventKey] = struct{}{}
			continue
		}

		w.metrics.IncOutboxPublished(event.EventType, metrics.ResultSuccess)
		sent++
	}

	return sent, nil
}

func (w *OutboxWorker) publishEvent(ctx context.Context, event *repository.OutboxEvent) error {
	// 예약 ID를 키로 사용 (파티셔닝)
	return retry.Do(ctx, w.retryConfig, w.logger, func() error {
		return w.publisher.Publish(ctx, event.EventType, event.EventKey, json.RawMessage(event.Payload))
	})
}
