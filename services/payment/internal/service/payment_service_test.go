package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/gateway"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

func (f *fixture) prepare(t *testing.T, reservationID string, amount int64, checkInIn time.Duration) *domain.Payment {
	t.Helper()
	p, err := f.payment.PreparePayment(context.Background(), PrepareCommand{
		ReservationID: reservationID,
		Amount:        amount,
		CheckInDate:   f.clock.Now().Add(checkInIn),
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) confirm(t *testing.T, p *domain.Payment) *domain.Payment {
	t.Helper()
	f.gateway.On("Confirm", mock.Anything, gateway.ConfirmRequest{
		PaymentKey: "pk_" + p.ReservationID,
		OrderID:    p.ReservationID,
		Amount:     p.Amount.Amount(),
	}).Return(&gateway.ConfirmResult{
		PaymentKey:    "pk_" + p.ReservationID,
		OrderID:       p.ReservationID,
		TransactionID: "tx_" + p.ReservationID,
		TotalAmount:   p.Amount.Amount(),
		Method:        "카드",
		Status:        "DONE",
	}, nil).Once()

	confirmed, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		OrderID:    p.ReservationID,
		PaymentKey: "pk_" + p.ReservationID,
		Amount:     p.Amount.Amount(),
	})
	require.NoError(t, err)
	return confirmed
}

func TestPaymentService_HandleReservationConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	evt := events.ReservationConfirmedEvent{
		ReservationID: "RSV-EVT",
		TotalPrice:    70000,
		CheckInDate:   events.NewLocalDateTime(f.clock.Now().Add(10 * day)),
	}

	require.NoError(t, f.payment.HandleReservationConfirmed(ctx, evt))
	require.NoError(t, f.payment.HandleReservationConfirmed(ctx, evt))

	assert.Equal(t, 1, f.payments.count())

	// 요청 경로가 뒤늦게 도착해도 같은 결제를 받는다
	p, err := f.payment.PreparePayment(ctx, PrepareCommand{
		ReservationID: "RSV-EVT",
		Amount:        70000,
		CheckInDate:   evt.CheckInDate.Time,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPrepared, p.Status)
	assert.Equal(t, 1, f.payments.count())
}

func TestPaymentService_HandleReservationConfirmed_Invalid(t *testing.T) {
	f := newFixture(t)

	err := f.payment.HandleReservationConfirmed(context.Background(), events.ReservationConfirmedEvent{TotalPrice: 1000})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
	assert.True(t, errors.IsBusinessError(err))
}

func TestPaymentService_ConfirmPayment(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	confirmed := f.confirm(t, p)

	assert.Equal(t, domain.PaymentStatusCompleted, confirmed.Status)
	assert.Equal(t, "tx_RSV-001", confirmed.TransactionID)
	assert.Equal(t, "pk_RSV-001", confirmed.PaymentKey)
	assert.Equal(t, domain.PaymentMethodCard, confirmed.Method)

	stored := f.payments.get(p.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
}

func TestPaymentService_ConfirmPayment_ByOrderID(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-ORDER", 20000, 7*day)

	f.gateway.On("Confirm", mock.Anything, mock.AnythingOfType("gateway.ConfirmRequest")).
		Return(&gateway.ConfirmResult{PaymentKey: "pk", OrderID: "RSV-ORDER", TransactionID: "tx", TotalAmount: 20000, Method: "EASY_PAY"}, nil).Once()

	confirmed, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		OrderID:    "RSV-ORDER",
		PaymentKey: "pk",
		Amount:     20000,
	})

	require.NoError(t, err)
	assert.Equal(t, p.PaymentID, confirmed.PaymentID)
	assert.Equal(t, "RSV-ORDER", confirmed.OrderID)
	assert.Equal(t, domain.PaymentMethodEasyPay, confirmed.Method)
}

func TestPaymentService_ConfirmPayment_AmountMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     49000,
	})

	assert.True(t, errors.HasCode(err, errors.ErrCodePaymentAmountMismatch))
	f.gateway.AssertNotCalled(t, "Confirm", mock.Anything, mock.Anything)
}

func TestPaymentService_ConfirmPayment_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  "PAY-missing",
		PaymentKey: "pk",
		Amount:     1000,
	})

	assert.True(t, errors.HasCode(err, errors.ErrCodePaymentNotFound))
}

func TestPaymentService_ConfirmPayment_InvalidStatus(t *testing.T) {
	f := newFixture(t)
	p := f.confirm(t, f.prepare(t, "RSV-001", 50000, 7*day))

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk_RSV-001",
		Amount:     50000,
	})

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPaymentStatus))
}

func TestPaymentService_ConfirmPayment_GatewayFailureLeavesPrepared(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	f.gateway.On("Confirm", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeGatewayError, "card declined")).Once()

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     50000,
	})

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaymentConfirmationFailed, errors.CodeOf(err))
	assert.True(t, errors.HasCode(err, errors.ErrCodeGatewayError))
	assert.Equal(t, domain.PaymentStatusPrepared, f.payments.get(p.PaymentID).Status)

	// 같은 결제로 재시도 가능
	confirmed := f.confirm(t, f.payments.mustFind(t, p.PaymentID))
	assert.Equal(t, domain.PaymentStatusCompleted, confirmed.Status)
}

func TestPaymentService_ConfirmPayment_GatewayTimeout(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	f.gateway.On("Confirm", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     50000,
	})

	assert.True(t, errors.HasCode(err, errors.ErrCodeGatewayTimeout))
	assert.Equal(t, domain.PaymentStatusPrepared, f.payments.get(p.PaymentID).Status)
}

func TestPaymentService_ConfirmPayment_ConcurrentModification(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)
	f.payments.updateErr = fmt.Errorf("payment %s: %w", p.PaymentID, repository.ErrVersionConflict)

	f.gateway.On("Confirm", mock.Anything, mock.Anything).
		Return(&gateway.ConfirmResult{PaymentKey: "pk", TransactionID: "tx", TotalAmount: 50000}, nil).Once()

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     50000,
	})

	assert.Equal(t, errors.ErrCodeConcurrentModification, errors.CodeOf(err))
}

func TestPaymentService_ConfirmPayment_CallerCancelledDuringGatewayCall(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("Confirm", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(&gateway.ConfirmResult{PaymentKey: "pk", TransactionID: "tx", TotalAmount: 50000, Method: "카드"}, nil).Once()

	confirmed, err := f.payment.ConfirmPayment(ctx, ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     50000,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, confirmed.Status)
	stored := f.payments.get(p.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, "tx", stored.TransactionID)
}

func TestPaymentService_ConfirmPayment_RecordRetriesTransientFailure(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)
	f.payments.failUpdates = 2

	f.gateway.On("Confirm", mock.Anything, mock.Anything).
		Return(&gateway.ConfirmResult{PaymentKey: "pk", TransactionID: "tx", TotalAmount: 50000}, nil).Once()

	_, err := f.payment.ConfirmPayment(context.Background(), ConfirmCommand{
		PaymentID:  p.PaymentID,
		PaymentKey: "pk",
		Amount:     50000,
	})

	require.NoError(t, err)
	stored := f.payments.get(p.PaymentID)
	assert.Equal(t, domain.PaymentStatusCompleted, stored.Status)
	assert.Equal(t, p.Version+1, stored.Version)
}

func TestPaymentService_CancelCompletedPayment_CallerCancelledDuringGatewayCall(t *testing.T) {
	f := newFixture(t)
	p := f.confirm(t, f.prepare(t, "RSV-001", 50000, 7*day))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.gateway.On("Cancel", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			assert.NoError(t, args.Get(0).(context.Context).Err())
		}).
		Return(&gateway.CancelResult{TransactionID: "tx_cancel", CancelAmount: 50000}, nil).Once()

	cancelled, err := f.payment.CancelPayment(ctx, p.PaymentID, "")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, f.payments.get(p.PaymentID).Status)
	assert.Equal(t, []string{events.TopicRefundCompleted}, f.outbox.topics())
}

func TestPaymentService_CancelCompletedPayment(t *testing.T) {
	f := newFixture(t)
	p := f.confirm(t, f.prepare(t, "RSV-001", 50000, 7*day))

	f.gateway.On("Cancel", mock.Anything, gateway.CancelRequest{
		PaymentKey:     "pk_RSV-001",
		CancelReason:   DefaultCancelReason,
		CancelAmount:   50000,
		IdempotencyKey: "CANCEL-" + p.PaymentID,
	}).Return(&gateway.CancelResult{TransactionID: "tx_cancel", CancelAmount: 50000}, nil).Once()

	cancelled, err := f.payment.CancelPaymentByReservationID(context.Background(), "RSV-001")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, f.payments.get(p.PaymentID).Status)

	require.Equal(t, []string{events.TopicRefundCompleted}, f.outbox.topics())

	var evt events.RefundCompletedEvent
	require.NoError(t, json.Unmarshal(f.outbox.events[0].Payload, &evt))
	assert.Nil(t, evt.RefundID)
	assert.Equal(t, int64(50000), evt.RefundAmount)
	assert.Equal(t, int64(50000), evt.OriginalAmount)
	assert.Equal(t, DefaultCancelReason, evt.Reason)
	assert.Equal(t, "RSV-001", f.outbox.events[0].EventKey)
}

func TestPaymentService_CancelPreparedPayment(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	cancelled, err := f.payment.CancelPayment(context.Background(), p.PaymentID, "예약 취소")

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)
	assert.Equal(t, []string{events.TopicPaymentCancelled}, f.outbox.topics())
	f.gateway.AssertNotCalled(t, "Cancel", mock.Anything, mock.Anything)
}

func TestPaymentService_CancelGatewayFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t)
	p := f.confirm(t, f.prepare(t, "RSV-001", 50000, 7*day))

	f.gateway.On("Cancel", mock.Anything, mock.Anything).
		Return(nil, errors.New(errors.ErrCodeGatewayError, "already cancelled")).Once()

	_, err := f.payment.CancelPayment(context.Background(), p.PaymentID, "")

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePaymentCancellationFailed, errors.CodeOf(err))
	assert.True(t, errors.IsGatewayError(err))
	assert.Equal(t, domain.PaymentStatusCompleted, f.payments.get(p.PaymentID).Status)
	assert.Empty(t, f.outbox.topics())
}

func TestPaymentService_CancelTerminalPayment(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)
	_, err := f.payment.CancelPayment(context.Background(), p.PaymentID, "")
	require.NoError(t, err)

	_, err = f.payment.CancelPayment(context.Background(), p.PaymentID, "")

	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPaymentStatus))
}

func TestPaymentService_GetPayment(t *testing.T) {
	f := newFixture(t)
	p := f.prepare(t, "RSV-001", 50000, 7*day)

	found, err := f.payment.GetPayment(context.Background(), p.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, p.PaymentID, found.PaymentID)

	_, err = f.payment.GetPayment(context.Background(), "PAY-missing")
	assert.True(t, errors.HasCode(err, errors.ErrCodePaymentNotFound))
}

func (r *fakePaymentRepository) mustFind(t *testing.T, paymentID string) *domain.Payment {
	t.Helper()
	p, err := r.FindByID(context.Background(), paymentID)
	require.NoError(t, err)
	return p
}

const day = 24 * time.Hour
