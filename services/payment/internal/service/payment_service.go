package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/gateway"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// PaymentService 결제 서비스 인터페이스
type PaymentService interface {
	PreparePayment(ctx context.Context, cmd PrepareCommand) (*domain.Payment, error)
	HandleReservationConfirmed(ctx context.Context, evt events.ReservationConfirmedEvent) error
	ConfirmPayment(ctx context.Context, cmd ConfirmCommand) (*domain.Payment, error)
	CancelPaymentByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error)
	CancelPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
}

// PrepareCommand 결제 준비 요청
type PrepareCommand struct {
	ReservationID string
	Amount        int64
	CheckInDate   time.Time
}

// ConfirmCommand 결제 승인 요청
//
// PaymentID가 비어 있으면 OrderID를 예약 ID로 보고 결제를 찾는다.
type ConfirmCommand struct {
	PaymentID  string
	OrderID    string
	PaymentKey string
	Amount     int64
}

type paymentService struct {
	txManager repository.TxManager
	payments  repository.PaymentRepository
	guard     *PrepareGuard
	gateway   gateway.Client
	publisher EventPublisher
	metrics   metrics.PaymentMetrics
	logger    *zap.Logger
	options
}

// NewPaymentService 결제 서비스 생성
func NewPaymentService(
	txManager repository.TxManager,
	payments repository.PaymentRepository,
	gatewayClient gateway.Client,
	publisher EventPublisher,
	paymentMetrics metrics.PaymentMetrics,
	logger *zap.Logger,
	opts ...Option,
) PaymentService {
	return &paymentService{
		txManager: txManager,
		payments:  payments,
		guard:     NewPrepareGuard(payments, logger, opts...),
		gateway:   gatewayClient,
		publisher: publisher,
		metrics:   paymentMetrics,
		logger:    logger,
		options:   newOptions(opts),
	}
}

// PreparePayment 요청 경로의 결제 준비
func (s *paymentService) PreparePayment(ctx context.Context, cmd PrepareCommand) (*domain.Payment, error) {
	payment, created, err := s.guard.EnsurePrepared(ctx, cmd.ReservationID, cmd.Amount, cmd.CheckInDate)
	if err != nil {
		return nil, err
	}

	s.metrics.IncPaymentPrepared("request", created)
	return payment, nil
}

// HandleReservationConfirmed 예약 확정 이벤트 처리 (이벤트 경로의 결제 준비)
func (s *paymentService) HandleReservationConfirmed(ctx context.Context, evt events.ReservationConfirmedEvent) error {
	s.logger.Info("handling reservation confirmed event",
		zap.String("reservationId", evt.ReservationID),
		zap.Int64("totalPrice", evt.Price()),
		zap.Time("checkInDate", evt.CheckInDate.Time))

	if strings.TrimSpace(evt.ReservationID) == "" {
		return errors.New(errors.ErrCodeInvalidInput, "reservationId is required")
	}

	payment, created, err := s.guard.EnsurePrepared(ctx, evt.ReservationID, evt.Price(), evt.CheckInDate.Time)
	if err != nil {
		return err
	}

	s.metrics.IncPaymentPrepared("event", created)
	s.logger.Info("reservation confirmed event handled",
		zap.String("paymentId", payment.PaymentID),
		zap.String("reservationId", payment.ReservationID),
		zap.Bool("created", created))

	return nil
}

// ConfirmPayment 결제 승인
//
// 게이트웨이 호출은 트랜잭션 밖에서 이루어지고, 결과만 짧은 트랜잭션으로 기록한다.
// 게이트웨이 실패 시 결제는 PREPARED로 남아 재시도할 수 있다.
// 호출이 시작된 뒤에는 ctx 취소를 무시하고 제한 시간까지 응답을 기다린다.
func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmCommand) (*domain.Payment, error) {
	claimed, err := domain.NewMoney(cmd.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.PaymentKey) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "paymentKey is required")
	}

	payment, err := s.loadForConfirm(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if payment.Status != domain.PaymentStatusPrepared {
		return nil, errors.Newf(errors.ErrCodeInvalidPaymentStatus,
			"payment %s cannot be confirmed in status %s", payment.PaymentID, payment.Status).
			With("paymentId", payment.PaymentID).
			With("currentStatus", string(payment.Status)).
			With("expectedStatus", string(domain.PaymentStatusPrepared))
	}
	if err := payment.ValidateAmount(claimed); err != nil {
		return nil, err
	}

	orderID := cmd.OrderID
	if orderID == "" {
		orderID = payment.ReservationID
	}

	// 게이트웨이 호출 이후는 요청이 끊겨도 결과 기록까지 진행한다
	ctx = context.WithoutCancel(ctx)

	result, err := s.confirmAtGateway(ctx, gateway.ConfirmRequest{
		PaymentKey: cmd.PaymentKey,
		OrderID:    orderID,
		Amount:     payment.Amount.Amount(),
	})
	if err != nil {
		s.metrics.IncPaymentConfirmed(metrics.ResultFailure)
		s.logger.Error("payment confirmation failed at gateway",
			zap.String("paymentId", payment.PaymentID),
			zap.String("reservationId", payment.ReservationID),
			zap.Error(err))
		return nil, errors.Wrap(errors.ErrCodePaymentConfirmationFailed,
			fmt.Sprintf("payment confirmation failed for: %s", payment.PaymentID), err)
	}

	if result.OrderID != "" {
		orderID = result.OrderID
	}
	if err := payment.Complete(orderID, result.PaymentKey, result.TransactionID,
		domain.ParsePaymentMethod(result.Method), s.now()); err != nil {
		return nil, err
	}

	err = recordOutcome(ctx, s.txManager, s.recordRetry, s.logger, payment, func(ctx context.Context) error {
		return s.payments.Update(ctx, payment)
	})
	if err != nil {
		s.logger.Error("gateway confirmed but payment state not recorded",
			zap.String("paymentId", payment.PaymentID),
			zap.String("transactionId", result.TransactionID),
			zap.Error(err))
		return nil, persistenceError(err, "failed to save confirmed payment")
	}

	s.metrics.IncPaymentConfirmed(metrics.ResultSuccess)
	s.logger.Info("payment confirmed",
		zap.String("paymentId", payment.PaymentID),
		zap.String("reservationId", payment.ReservationID),
		zap.String("transactionId", payment.TransactionID),
		zap.String("method", string(payment.Method)))

	return payment, nil
}

func (s *paymentService) loadForConfirm(ctx context.Context, cmd ConfirmCommand) (*domain.Payment, error) {
	if cmd.PaymentID != "" {
		return s.findByID(ctx, cmd.PaymentID)
	}
	if cmd.OrderID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "paymentId or orderId is required")
	}
	return s.findByReservationID(ctx, cmd.OrderID)
}

// CancelPaymentByReservationID 예약 ID로 결제 취소 (기본 사유)
func (s *paymentService) CancelPaymentByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	payment, err := s.findByReservationID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, payment, DefaultCancelReason)
}

// CancelPayment 결제 ID로 결제 취소
func (s *paymentService) CancelPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	payment, err := s.findByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}
	return s.cancel(ctx, payment, reason)
}

func (s *paymentService) cancel(ctx context.Context, payment *domain.Payment, reason string) (*domain.Payment, error) {
	s.logger.Info("cancelling payment",
		zap.String("paymentId", payment.PaymentID),
		zap.String("status", string(payment.Status)),
		zap.String("reason", reason))

	if !payment.CanCancel() {
		return nil, errors.Newf(errors.ErrCodeInvalidPaymentStatus,
			"payment %s cannot be cancelled in status %s", payment.PaymentID, payment.Status).
			With("paymentId", payment.PaymentID).
			With("currentStatus", string(payment.Status))
	}

	// 승인 전이면 게이트웨이에 청구된 금액이 없다
	if payment.Status == domain.PaymentStatusPrepared {
		return s.cancelPrepared(ctx, payment, reason)
	}

	ctx = context.WithoutCancel(ctx)

	result, err := s.cancelAtGateway(ctx, gateway.CancelRequest{
		PaymentKey:     payment.PaymentKey,
		CancelReason:   reason,
		CancelAmount:   payment.Amount.Amount(),
		IdempotencyKey: "CANCEL-" + payment.PaymentID,
	})
	if err != nil {
		s.metrics.IncPaymentCancelled(metrics.ResultFailure)
		s.logger.Error("payment cancellation failed at gateway",
			zap.String("paymentId", payment.PaymentID),
			zap.Error(err))
		s.compensateCancelFailure(ctx, payment, err)
		return nil, errors.Wrap(errors.ErrCodePaymentCancellationFailed,
			fmt.Sprintf("payment cancellation failed for: %s", payment.PaymentID), err)
	}

	now := s.now()
	if err := payment.Cancel(now); err != nil {
		return nil, err
	}

	err = recordOutcome(ctx, s.txManager, s.recordRetry, s.logger, payment, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		return s.publisher.PublishRefundCompleted(ctx, newRefundCompletedEvent(payment, nil, reason, now))
	})
	if err != nil {
		s.logger.Error("gateway cancelled but payment state not recorded",
			zap.String("paymentId", payment.PaymentID),
			zap.String("transactionId", result.TransactionID),
			zap.Error(err))
		return nil, persistenceError(err, "failed to save cancelled payment")
	}

	s.metrics.IncPaymentCancelled(metrics.ResultSuccess)
	s.logger.Info("payment cancelled",
		zap.String("paymentId", payment.PaymentID),
		zap.String("transactionId", result.TransactionID),
		zap.Int64("amount", payment.Amount.Amount()))

	return payment, nil
}

func (s *paymentService) cancelPrepared(ctx context.Context, payment *domain.Payment, reason string) (*domain.Payment, error) {
	now := s.now()
	if err := payment.Cancel(now); err != nil {
		return nil, err
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Update(ctx, payment); err != nil {
			return err
		}
		return s.publisher.PublishPaymentCancelled(ctx, newPaymentCancelledEvent(payment, reason, now))
	})
	if err != nil {
		return nil, persistenceError(err, "failed to save cancelled payment")
	}

	s.metrics.IncPaymentCancelled(metrics.ResultSuccess)
	s.logger.Info("prepared payment cancelled before confirmation",
		zap.String("paymentId", payment.PaymentID),
		zap.String("reservationId", payment.ReservationID))

	return payment, nil
}

// compensateCancelFailure 게이트웨이 취소 실패 시 결제를 FAILED로 보상
//
// 전이표가 허용하지 않으면(COMPLETED) 결제 상태를 유지한다.
func (s *paymentService) compensateCancelFailure(ctx context.Context, payment *domain.Payment, cause error) {
	if err := payment.Fail("결제 취소 실패: "+cause.Error(), s.now()); err != nil {
		s.logger.Warn("payment kept in current status after cancellation failure",
			zap.String("paymentId", payment.PaymentID),
			zap.String("status", string(payment.Status)))
		return
	}

	if err := s.payments.Update(ctx, payment); err != nil {
		s.logger.Error("failed to record payment failure",
			zap.String("paymentId", payment.PaymentID),
			zap.Error(err))
	}
}

// GetPayment 결제 조회
func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.findByID(ctx, paymentID)
}

func (s *paymentService) findByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodePaymentNotFound, "payment not found: %s", paymentID).
			With("paymentId", paymentID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}
	return payment, nil
}

func (s *paymentService) findByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	payment, err := s.payments.FindByReservationID(ctx, reservationID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodePaymentNotFound, "payment not found for reservation: %s", reservationID).
			With("reservationId", reservationID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}
	return payment, nil
}

func (s *paymentService) confirmAtGateway(ctx context.Context, req gateway.ConfirmRequest) (*gateway.ConfirmResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.gateway.Confirm(ctx, req)
	err = normalizeGatewayError(err)
	s.metrics.ObserveGatewayCall("confirm", gatewayCode(err), time.Since(start))
	return result, err
}

func (s *paymentService) cancelAtGateway(ctx context.Context, req gateway.CancelRequest) (*gateway.CancelResult, error) {
	return cancelAtGateway(ctx, s.gateway, s.metrics, s.gatewayTimeout, req)
}

func cancelAtGateway(
	ctx context.Context,
	client gateway.Client,
	paymentMetrics metrics.PaymentMetrics,
	timeout time.Duration,
	req gateway.CancelRequest,
) (*gateway.CancelResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := client.Cancel(ctx, req)
	err = normalizeGatewayError(err)
	paymentMetrics.ObserveGatewayCall("cancel", gatewayCode(err), time.Since(start))
	return result, err
}

// normalizeGatewayError 코드 없는 게이트웨이 에러를 GATEWAY_* 코드로 감싼다
func normalizeGatewayError(err error) error {
	if err == nil || errors.CodeOf(err) != "" {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeGatewayTimeout, "gateway call timed out", err)
	}
	return errors.Wrap(errors.ErrCodeGatewayError, "gateway call failed", err)
}

func gatewayCode(err error) string {
	if err == nil {
		return "OK"
	}
	return string(errors.CodeOf(err))
}
