package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// EventPublisher 결제 도메인 이벤트 발행 포트
//
// 호출자의 트랜잭션(ctx) 안에서 기록되며, 실제 브로커 전송은 outbox 워커가 담당한다.
type EventPublisher interface {
	PublishRefundCompleted(ctx context.Context, event *events.RefundCompletedEvent) error
	PublishPaymentCancelled(ctx context.Context, event *events.PaymentCancelledEvent) error
}

type outboxEventPublisher struct {
	outbox repository.OutboxRepository
	now    func() time.Time
}

// NewOutboxEventPublisher outbox 테이블 기반 이벤트 발행자 생성
func NewOutboxEventPublisher(outbox repository.OutboxRepository) EventPublisher {
	return &outboxEventPublisher{outbox: outbox, now: time.Now}
}

func (p *outboxEventPublisher) PublishRefundCompleted(ctx context.Context, event *events.RefundCompletedEvent) error {
	fillBase(&event.BaseEvent, events.TopicRefundCompleted, events.EventRefundCompleted)
	return p.insert(ctx, event.PaymentID, event.ReservationID, event.Topic, event)
}

func (p *outboxEventPublisher) PublishPaymentCancelled(ctx context.Context, event *events.PaymentCancelledEvent) error {
	fillBase(&event.BaseEvent, events.TopicPaymentCancelled, events.EventPaymentCancelled)
	return p.insert(ctx, event.PaymentID, event.ReservationID, event.Topic, event)
}

func (p *outboxEventPublisher) insert(ctx context.Context, paymentID, reservationID, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	outboxEvent := &repository.OutboxEvent{
		AggregateType: "payment",
		AggregateID:   paymentID,
		EventType:     topic,
		EventKey:      reservationID,
		Payload:       payload,
		Status:        repository.OutboxStatusPending,
		CreatedAt:     p.now(),
	}

	if err := p.outbox.Insert(ctx, outboxEvent); err != nil {
		return errors.Wrap(errors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}
	return nil
}

func fillBase(base *events.BaseEvent, topic string, eventType events.EventType) {
	if base.EventID == "" {
		base.EventID = uuid.NewString()
	}
	base.Topic = topic
	base.EventType = eventType
}

// newRefundCompletedEvent refund가 nil이면 결제 직접 취소로 보고 전액, refundId null로 발행
func newRefundCompletedEvent(payment *domain.Payment, refund *domain.Refund, reason string, at time.Time) *events.RefundCompletedEvent {
	event := &events.RefundCompletedEvent{
		PaymentID:      payment.PaymentID,
		ReservationID:  payment.ReservationID,
		OriginalAmount: payment.Amount.Amount(),
		RefundAmount:   payment.Amount.Amount(),
		Reason:         reason,
		CompletedAt:    events.NewLocalDateTime(at),
	}
	if refund != nil {
		refundID := refund.RefundID
		event.RefundID = &refundID
		event.OriginalAmount = refund.OriginalAmount.Amount()
		event.RefundAmount = refund.RefundAmount.Amount()
		event.Reason = refund.Reason
		if refund.CompletedAt != nil {
			event.CompletedAt = events.NewLocalDateTime(*refund.CompletedAt)
		}
	}
	return event
}

func newPaymentCancelledEvent(payment *domain.Payment, reason string, at time.Time) *events.PaymentCancelledEvent {
	return &events.PaymentCancelledEvent{
		PaymentID:     payment.PaymentID,
		ReservationID: payment.ReservationID,
		Amount:        payment.Amount.Amount(),
		Reason:        reason,
		CancelledAt:   events.NewLocalDateTime(at),
	}
}
