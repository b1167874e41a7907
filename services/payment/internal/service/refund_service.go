package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/gateway"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// RefundService 환불 서비스 인터페이스
type RefundService interface {
	ProcessRefundByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error)
	ProcessRefund(ctx context.Context, paymentID, reason string) (*domain.Refund, error)
	GetRefund(ctx context.Context, refundID string) (*domain.Refund, error)
}

type refundService struct {
	txManager repository.TxManager
	payments  repository.PaymentRepository
	refunds   repository.RefundRepository
	gateway   gateway.Client
	publisher EventPublisher
	metrics   metrics.PaymentMetrics
	logger    *zap.Logger
	options
}

// NewRefundService 환불 서비스 생성
func NewRefundService(
	txManager repository.TxManager,
	payments repository.PaymentRepository,
	refunds repository.RefundRepository,
	gatewayClient gateway.Client,
	publisher EventPublisher,
	paymentMetrics metrics.PaymentMetrics,
	logger *zap.Logger,
	opts ...Option,
) RefundService {
	return &refundService{
		txManager: txManager,
		payments:  payments,
		refunds:   refunds,
		gateway:   gatewayClient,
		publisher: publisher,
		metrics:   paymentMetrics,
		logger:    logger,
		options:   newOptions(opts),
	}
}

// ProcessRefundByReservationID 예약 ID로 환불 (기본 사유)
func (s *refundService) ProcessRefundByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error) {
	s.logger.Info("processing refund", zap.String("reservationId", reservationID))

	payment, err := s.payments.FindByReservationID(ctx, reservationID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodePaymentNotFound, "payment not found for reservation: %s", reservationID).
			With("reservationId", reservationID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}

	return s.process(ctx, payment, DefaultCancelReason)
}

// ProcessRefund 결제 ID로 환불
func (s *refundService) ProcessRefund(ctx context.Context, paymentID, reason string) (*domain.Refund, error) {
	s.logger.Info("processing refund", zap.String("paymentId", paymentID), zap.String("reason", reason))

	payment, err := s.payments.FindByID(ctx, paymentID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodePaymentNotFound, "payment not found: %s", paymentID).
			With("paymentId", paymentID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}

	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}
	return s.process(ctx, payment, reason)
}

// process 환불 처리
//
//  1. 정책으로 환불 금액 계산 후 APPROVED 환불을 먼저 저장 (게이트웨이 호출 전 기록)
//  2. 트랜잭션 밖에서 게이트웨이 부분 취소 (환불 ID를 멱등 키로 사용)
//  3. 성공: 환불 COMPLETED, 결제 CANCELLED, 두 이벤트를 한 트랜잭션으로 기록
//     거절: 환불 FAILED 저장, 결제는 COMPLETED 유지
//     결과 불명: 환불은 APPROVED로 남고 다음 요청이 같은 멱등 키로 다시 실행
func (s *refundService) process(ctx context.Context, payment *domain.Payment, reason string) (*domain.Refund, error) {
	if err := payment.ValidateRefundable(); err != nil {
		return nil, err
	}

	active, err := s.refunds.FindActiveByPaymentID(ctx, payment.PaymentID)
	switch {
	case err == nil:
		return s.resume(ctx, payment, active)
	case !stderrors.Is(err, repository.ErrNotFound):
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find active refund", err)
	}

	now := s.now()
	policy := domain.NewRefundPolicy(payment.CheckInDate, now)
	if !policy.IsRefundable() {
		return nil, errors.Newf(errors.ErrCodeRefundPeriodExpired,
			"refund period expired for payment %s", payment.PaymentID).
			With("paymentId", payment.PaymentID).
			With("daysBeforeCheckIn", policy.DaysBeforeCheckIn())
	}

	refundAmount, err := policy.CalculateRefundAmount(payment.Amount)
	if err != nil {
		return nil, err
	}
	if refundAmount.IsZero() {
		return nil, errors.Newf(errors.ErrCodeRefundPeriodExpired,
			"refund amount rounds to zero for payment %s", payment.PaymentID).
			With("paymentId", payment.PaymentID)
	}

	s.logger.Info("refund amount calculated",
		zap.String("paymentId", payment.PaymentID),
		zap.Int64("originalAmount", payment.Amount.Amount()),
		zap.Int64("refundAmount", refundAmount.Amount()),
		zap.Int("refundRate", policy.RefundRate()),
		zap.String("tier", policy.Tier().Name))

	refund, err := domain.RequestRefund(payment.PaymentID, payment.Amount, refundAmount, reason, now)
	if err != nil {
		return nil, err
	}
	if err := refund.Approve(now); err != nil {
		return nil, err
	}

	if err := s.refunds.Create(ctx, refund); err != nil {
		if stderrors.Is(err, repository.ErrDuplicate) {
			return nil, alreadyProcessed(payment)
		}
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to save refund", err)
	}

	return s.execute(ctx, payment, refund)
}

// resume 이전 시도가 결과를 남기지 못한 APPROVED 환불을 같은 멱등 키로 다시 실행
//
// 승인 후 게이트웨이 제한 시간이 지나지 않았으면 다른 요청이 처리 중인 것으로 본다.
func (s *refundService) resume(ctx context.Context, payment *domain.Payment, refund *domain.Refund) (*domain.Refund, error) {
	if refund.Status != domain.RefundStatusApproved || s.now().Sub(refund.UpdatedAt) < s.gatewayTimeout {
		return nil, alreadyProcessed(payment).
			With("refundId", refund.RefundID).
			With("refundStatus", string(refund.Status))
	}

	s.logger.Warn("resuming unfinished refund",
		zap.String("refundId", refund.RefundID),
		zap.String("paymentId", payment.PaymentID),
		zap.Time("approvedAt", refund.UpdatedAt),
		zap.Int64("refundAmount", refund.RefundAmount.Amount()))

	return s.execute(ctx, payment, refund)
}

func (s *refundService) execute(ctx context.Context, payment *domain.Payment, refund *domain.Refund) (*domain.Refund, error) {
	// 게이트웨이 호출 이후는 요청이 끊겨도 결과 기록까지 진행한다
	ctx = context.WithoutCancel(ctx)

	result, err := cancelAtGateway(ctx, s.gateway, s.metrics, s.gatewayTimeout, gateway.CancelRequest{
		PaymentKey:     payment.PaymentKey,
		CancelReason:   refund.Reason,
		CancelAmount:   refund.RefundAmount.Amount(),
		IdempotencyKey: refund.RefundID,
	})
	if err != nil {
		return nil, s.fail(ctx, payment, refund, err)
	}

	completedAt := s.now()
	if err := refund.Complete(result.TransactionID, completedAt); err != nil {
		return nil, err
	}
	if err := payment.Cancel(completedAt); err != nil {
		return nil, err
	}

	err = recordOutcome(ctx, s.txManager, s.recordRetry, s.logger, payment, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		if err := s.refunds.Update(ctx, refund); err != nil {
			return err
		}
		if err := s.publisher.PublishRefundCompleted(ctx, newRefundCompletedEvent(payment, refund, refund.Reason, completedAt)); err != nil {
			return err
		}
		return s.publisher.PublishPaymentCancelled(ctx, newPaymentCancelledEvent(payment, refund.Reason, completedAt))
	})
	if err != nil {
		s.logger.Error("gateway refunded but local state not recorded",
			zap.String("refundId", refund.RefundID),
			zap.String("paymentId", payment.PaymentID),
			zap.String("transactionId", result.TransactionID),
			zap.Error(err))
		return nil, persistenceError(err, "failed to save completed refund")
	}

	tier := domain.NewRefundPolicy(payment.CheckInDate, refund.CreatedAt).Tier().Name
	s.metrics.IncRefund(metrics.ResultSuccess)
	s.metrics.ObserveRefundAmount(refund.RefundAmount.Amount(), tier)
	s.logger.Info("refund completed",
		zap.String("refundId", refund.RefundID),
		zap.String("paymentId", payment.PaymentID),
		zap.String("transactionId", refund.TransactionID),
		zap.Int64("refundAmount", refund.RefundAmount.Amount()))

	return refund, nil
}

// fail 게이트웨이 실패 처리
//
// 게이트웨이가 거절한 경우만 환불을 FAILED로 기록한다. 결과를 알 수 없으면
// 환불은 APPROVED로 남겨 같은 멱등 키로 다시 실행되게 한다.
func (s *refundService) fail(ctx context.Context, payment *domain.Payment, refund *domain.Refund, cause error) error {
	s.metrics.IncRefund(metrics.ResultFailure)

	failure := errors.Wrap(errors.ErrCodeRefundProcessingFailed,
		fmt.Sprintf("refund processing failed for payment: %s", payment.PaymentID), cause).
		With("refundId", refund.RefundID)

	if !gateway.IsRejected(cause) {
		s.logger.Error("refund outcome unknown at gateway, kept for replay",
			zap.String("refundId", refund.RefundID),
			zap.String("paymentId", payment.PaymentID),
			zap.Error(cause))
		return failure
	}

	s.logger.Error("refund rejected by gateway",
		zap.String("refundId", refund.RefundID),
		zap.String("paymentId", payment.PaymentID),
		zap.Error(cause))

	if err := refund.Fail(cause.Error(), s.now()); err != nil {
		return failure
	}
	if err := s.refunds.Update(ctx, refund); err != nil {
		s.logger.Error("failed to record refund failure",
			zap.String("refundId", refund.RefundID),
			zap.Error(err))
	}

	return failure
}

func alreadyProcessed(payment *domain.Payment) *errors.DomainError {
	return errors.Newf(errors.ErrCodeRefundAlreadyProcessed,
		"refund already in progress or completed for payment %s", payment.PaymentID).
		With("paymentId", payment.PaymentID)
}

// GetRefund 환불 조회
func (s *refundService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	refund, err := s.refunds.FindByID(ctx, refundID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodeRefundNotFound, "refund not found: %s", refundID).
			With("refundId", refundID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find refund", err)
	}
	return refund, nil
}
