package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// PrepareGuard 예약 ID당 결제 1건을 보장하는 생성 가드
//
// 이벤트 경로와 요청 경로가 동시에 호출해도 락 없이 payments.reservation_id
// 유니크 인덱스 하나로 직렬화된다. 경쟁에서 진 호출자는 승자의 행을 다시 읽어 반환한다.
type PrepareGuard struct {
	payments repository.PaymentRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewPrepareGuard 생성 가드 생성
func NewPrepareGuard(payments repository.PaymentRepository, logger *zap.Logger, opts ...Option) *PrepareGuard {
	o := newOptions(opts)
	return &PrepareGuard{
		payments: payments,
		logger:   logger,
		now:      o.now,
	}
}

// EnsurePrepared 결제가 없으면 PREPARED로 생성하고, 있으면 기존 결제를 반환
//
// created는 이번 호출이 행을 생성했는지 여부다.
func (g *PrepareGuard) EnsurePrepared(ctx context.Context, reservationID string, amount int64, checkInDate time.Time) (payment *domain.Payment, created bool, err error) {
	money, err := domain.NewMoney(amount)
	if err != nil {
		return nil, false, err
	}

	existing, err := g.payments.FindByReservationID(ctx, reservationID)
	if err == nil {
		return g.reuse(existing, money)
	}
	if !stderrors.Is(err, repository.ErrNotFound) {
		return nil, false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to find payment", err)
	}

	payment, err = domain.PreparePayment(reservationID, money, checkInDate, g.now())
	if err != nil {
		return nil, false, err
	}

	err = g.payments.Create(ctx, payment)
	if err == nil {
		g.logger.Info("payment prepared",
			zap.String("paymentId", payment.PaymentID),
			zap.String("reservationId", reservationID),
			zap.Int64("amount", amount))
		return payment, true, nil
	}
	if !stderrors.Is(err, repository.ErrDuplicate) {
		return nil, false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to create payment", err)
	}

	// 동시 생성 경쟁에서 짐: 승자의 행을 반환
	winner, err := g.payments.FindByReservationID(ctx, reservationID)
	if err != nil {
		return nil, false, errors.Wrap(errors.ErrCodeDatabaseError, "failed to re-fetch payment after duplicate insert", err)
	}

	g.logger.Info("payment already prepared by concurrent caller",
		zap.String("paymentId", winner.PaymentID),
		zap.String("reservationId", reservationID))

	return g.reuse(winner, money)
}

func (g *PrepareGuard) reuse(existing *domain.Payment, claimed domain.Money) (*domain.Payment, bool, error) {
	if err := existing.ValidateAmount(claimed); err != nil {
		g.logger.Warn("prepare amount mismatch",
			zap.String("paymentId", existing.PaymentID),
			zap.String("reservationId", existing.ReservationID),
			zap.Int64("expected", existing.Amount.Amount()),
			zap.Int64("actual", claimed.Amount()))
		return nil, false, err
	}
	return existing, false, nil
}
