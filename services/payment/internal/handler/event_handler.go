package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/common/idempotency"
	"github.com/teambind/payment-server/common/messaging"
	"github.com/teambind/payment-server/common/retry"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/service"
)

const (
	// 처리 중 선점 키 보관 기간 (소비자가 죽어도 이후 재전달은 처리된다)
	claimKeyTTL = 5 * time.Minute
	// 처리 완료 키 보관 기간
	processedKeyTTL = 24 * time.Hour
)

// EventHandler 이벤트 핸들러
type EventHandler struct {
	paymentService service.PaymentService
	idemStore      idempotency.Store
	metrics        metrics.PaymentMetrics
	logger         *zap.Logger
	retryConfig    retry.Config
}

// EventHandlerOption 이벤트 핸들러 옵션
type EventHandlerOption func(*EventHandler)

// WithRetryConfig 재시도 설정 변경 (ShouldRetry는 항상 재시도 가능 에러로 고정)
func WithRetryConfig(config retry.Config) EventHandlerOption {
	return func(h *EventHandler) {
		h.retryConfig = config
	}
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	paymentService service.PaymentService,
	idemStore idempotency.Store,
	paymentMetrics metrics.PaymentMetrics,
	logger *zap.Logger,
	opts ...EventHandlerOption,
) *EventHandler {
	h := &EventHandler{
		paymentService: paymentService,
		idemStore:      idemStore,
		metrics:        paymentMetrics,
		logger:         logger,
		retryConfig: retry.Config{
			MaxAttempts:        3,
			InitialInterval:    200 * time.Millisecond,
			MaxInterval:        2 * time.Second,
			BackoffCoefficient: 2.0,
			MaxElapsedTime:     30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.retryConfig.ShouldRetry = errors.IsRetryable
	return h
}

// HandleMessage 메시지 처리
//
// nil 반환은 커밋을 의미한다. 파싱 불가 메시지와 비즈니스 에러는 재전달해도
// 결과가 같으므로 로그를 남기고 커밋한다.
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset))

	switch msg.Topic {
	case events.TopicReservationConfirmed:
		return h.handleReservationConfirmed(ctx, msg)
	default:
		h.logger.Warn("unknown topic", zap.String("topic", msg.Topic))
		h.metrics.IncEventConsumed(msg.Topic, metrics.ResultSkipped)
		return nil
	}
}

func (h *EventHandler) handleReservationConfirmed(ctx context.Context, msg *messaging.Message) error {
	var evt events.ReservationConfirmedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.logger.Error("failed to decode reservation confirmed event, skipping",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
			zap.ByteString("payload", msg.Value))
		h.metrics.IncEventConsumed(msg.Topic, metrics.ResultFailure)
		return nil
	}

	key := evt.ReservationID

	// 멱등성 체크 (빠른 경로)
	if key != "" {
		processed, err := h.idemStore.IsProcessed(ctx, key)
		if err != nil {
			h.logger.Warn("idempotency store unavailable, falling back to database",
				zap.Error(err),
				zap.String("reservationId", key))
		}
		if processed {
			h.logger.Info("event already processed", zap.String("reservationId", key))
			h.metrics.IncEventConsumed(msg.Topic, metrics.ResultSkipped)
			return nil
		}
	}

	// 처리 전에 키를 선점한다. 실패하면 해제해서 재전달된 메시지가 건너뛰어지지 않게 한다.
	claimed := false
	if key != "" {
		reserved, err := h.idemStore.Reserve(ctx, key, claimKeyTTL)
		switch {
		case err != nil:
			h.logger.Warn("failed to reserve idempotency key, falling back to database",
				zap.Error(err),
				zap.String("reservationId", key))
		case !reserved:
			h.logger.Info("event claimed by another consumer", zap.String("reservationId", key))
			h.metrics.IncEventConsumed(msg.Topic, metrics.ResultSkipped)
			return nil
		default:
			claimed = true
		}
	}

	err := retry.Do(ctx, h.retryConfig, h.logger, func() error {
		return h.paymentService.HandleReservationConfirmed(ctx, evt)
	})
	if err != nil {
		if claimed {
			h.release(ctx, key)
		}
		h.metrics.IncEventConsumed(msg.Topic, metrics.ResultFailure)

		if errors.IsBusinessError(err) {
			h.logger.Warn("reservation confirmed event rejected, skipping",
				zap.Error(err),
				zap.String("reservationId", key),
				zap.String("code", string(errors.CodeOf(err))))
			return nil
		}
		return err
	}

	// 처리 완료 표시
	if key != "" {
		if err := h.idemStore.MarkProcessed(ctx, key, processedKeyTTL); err != nil {
			h.logger.Warn("failed to mark event processed",
				zap.Error(err),
				zap.String("reservationId", key))
		}
	}

	h.metrics.IncEventConsumed(msg.Topic, metrics.ResultSuccess)
	return nil
}

func (h *EventHandler) release(ctx context.Context, key string) {
	if err := h.idemStore.Release(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Error("failed to release idempotency key, redelivery may be skipped",
			zap.Error(err),
			zap.String("reservationId", key))
	}
}
