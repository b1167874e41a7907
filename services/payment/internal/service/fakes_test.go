package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/retry"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/gateway"
	"github.com/teambind/payment-server/services/payment/internal/metrics"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// fakePaymentRepository reservation_id 유니크 제약과 버전 검사를 흉내내는 인메모리 저장소
type fakePaymentRepository struct {
	mu            sync.Mutex
	byID          map[string]domain.Payment
	byReservation map[string]string
	// onNotFound 조회 결과가 없을 때 호출 (동시성 테스트용 배리어)
	onNotFound func()
	updateErr  error
	// failUpdates 남은 횟수만큼 Update가 일시적 에러를 반환
	failUpdates int
}

func newFakePaymentRepository() *fakePaymentRepository {
	return &fakePaymentRepository{
		byID:          make(map[string]domain.Payment),
		byReservation: make(map[string]string),
	}
}

func (r *fakePaymentRepository) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byReservation[payment.ReservationID]; ok {
		return fmt.Errorf("payment for reservation %s: %w", payment.ReservationID, repository.ErrDuplicate)
	}
	r.byID[payment.PaymentID] = *payment
	r.byReservation[payment.ReservationID] = payment.PaymentID
	return nil
}

func (r *fakePaymentRepository) FindByID(_ context.Context, paymentID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s: %w", paymentID, repository.ErrNotFound)
	}
	return &p, nil
}

func (r *fakePaymentRepository) FindByReservationID(_ context.Context, reservationID string) (*domain.Payment, error) {
	r.mu.Lock()
	id, ok := r.byReservation[reservationID]
	var p domain.Payment
	if ok {
		p = r.byID[id]
	}
	hook := r.onNotFound
	r.mu.Unlock()

	if !ok {
		if hook != nil {
			hook()
		}
		return nil, fmt.Errorf("payment %s: %w", reservationID, repository.ErrNotFound)
	}
	return &p, nil
}

func (r *fakePaymentRepository) Update(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return r.updateErr
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		return fmt.Errorf("failed to update payment: connection reset by peer")
	}
	stored, ok := r.byID[payment.PaymentID]
	if !ok {
		return fmt.Errorf("payment %s: %w", payment.PaymentID, repository.ErrNotFound)
	}
	if stored.Version != payment.Version {
		return fmt.Errorf("payment %s: %w", payment.PaymentID, repository.ErrVersionConflict)
	}
	payment.Version++
	r.byID[payment.PaymentID] = *payment
	return nil
}

func (r *fakePaymentRepository) setUpdateErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateErr = err
}

func (r *fakePaymentRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *fakePaymentRepository) get(paymentID string) domain.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[paymentID]
}

// fakeRefundRepository 결제당 FAILED가 아닌 환불 1건 제약을 흉내낸다
type fakeRefundRepository struct {
	mu   sync.Mutex
	byID map[string]domain.Refund
}

func newFakeRefundRepository() *fakeRefundRepository {
	return &fakeRefundRepository{byID: make(map[string]domain.Refund)}
}

func (r *fakeRefundRepository) Create(_ context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.byID {
		if existing.PaymentID == refund.PaymentID && existing.Status != domain.RefundStatusFailed {
			return fmt.Errorf("refund for payment %s: %w", refund.PaymentID, repository.ErrDuplicate)
		}
	}
	r.byID[refund.RefundID] = *refund
	return nil
}

func (r *fakeRefundRepository) FindByID(_ context.Context, refundID string) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	refund, ok := r.byID[refundID]
	if !ok {
		return nil, fmt.Errorf("refund %s: %w", refundID, repository.ErrNotFound)
	}
	return &refund, nil
}

func (r *fakeRefundRepository) FindActiveByPaymentID(_ context.Context, paymentID string) (*domain.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, refund := range r.byID {
		if refund.PaymentID == paymentID && refund.Status != domain.RefundStatusFailed {
			return &refund, nil
		}
	}
	return nil, fmt.Errorf("active refund for payment %s: %w", paymentID, repository.ErrNotFound)
}

func (r *fakeRefundRepository) Update(_ context.Context, refund *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[refund.RefundID]; !ok {
		return fmt.Errorf("refund %s: %w", refund.RefundID, repository.ErrNotFound)
	}
	r.byID[refund.RefundID] = *refund
	return nil
}

func (r *fakeRefundRepository) forPayment(paymentID string) []domain.Refund {
	r.mu.Lock()
	defer r.mu.Unlock()

	var refunds []domain.Refund
	for _, refund := range r.byID {
		if refund.PaymentID == paymentID {
			refunds = append(refunds, refund)
		}
	}
	return refunds
}

type fakeOutboxRepository struct {
	mu     sync.Mutex
	events []*repository.OutboxEvent
}

func (r *fakeOutboxRepository) Insert(_ context.Context, event *repository.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.ID = int64(len(r.events) + 1)
	r.events = append(r.events, event)
	return nil
}

func (r *fakeOutboxRepository) FindPending(_ context.Context, limit int) ([]*repository.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*repository.OutboxEvent
	for _, e := range r.events {
		if e.Status == repository.OutboxStatusPending && len(pending) < limit {
			pending = append(pending, e)
		}
	}
	return pending, nil
}

func (r *fakeOutboxRepository) MarkSent(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.Status = repository.OutboxStatusSent
		}
	}
	return nil
}

func (r *fakeOutboxRepository) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.events))
	for _, e := range r.events {
		topics = append(topics, e.EventType)
	}
	return topics
}

// fakeTxManager fn을 그대로 실행 (취소된 ctx로는 트랜잭션을 시작하지 않는다)
type fakeTxManager struct{}

func (fakeTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return fn(ctx)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Confirm(ctx context.Context, req gateway.ConfirmRequest) (*gateway.ConfirmResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*gateway.ConfirmResult)
	return result, args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, req gateway.CancelRequest) (*gateway.CancelResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*gateway.CancelResult)
	return result, args.Error(1)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	payments *fakePaymentRepository
	refunds  *fakeRefundRepository
	outbox   *fakeOutboxRepository
	gateway  *mockGateway
	payment  PaymentService
	refund   RefundService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &testClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		payments: newFakePaymentRepository(),
		refunds:  newFakeRefundRepository(),
		outbox:   &fakeOutboxRepository{},
		gateway:  &mockGateway{},
	}
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })

	logger := zap.NewNop()
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.NewRegistry())
	publisher := NewOutboxEventPublisher(f.outbox)
	opts := []Option{
		WithClock(f.clock.Now),
		WithGatewayTimeout(time.Second),
		WithRecordRetry(retry.Config{
			MaxAttempts:        3,
			InitialInterval:    time.Millisecond,
			MaxInterval:        time.Millisecond,
			BackoffCoefficient: 1.0,
		}),
	}

	f.payment = NewPaymentService(fakeTxManager{}, f.payments, f.gateway, publisher, paymentMetrics, logger, opts...)
	f.refund = NewRefundService(fakeTxManager{}, f.payments, f.refunds, f.gateway, publisher, paymentMetrics, logger, opts...)
	return f
}
