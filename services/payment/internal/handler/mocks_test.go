package handler

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/service"
)

type mockPaymentService struct {
	mock.Mock
}

func (m *mockPaymentService) PreparePayment(ctx context.Context, cmd service.PrepareCommand) (*domain.Payment, error) {
	args := m.Called(ctx, cmd)
	payment, _ := args.Get(0).(*domain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) HandleReservationConfirmed(ctx context.Context, evt events.ReservationConfirmedEvent) error {
	return m.Called(ctx, evt).Error(0)
}

func (m *mockPaymentService) ConfirmPayment(ctx context.Context, cmd service.ConfirmCommand) (*domain.Payment, error) {
	args := m.Called(ctx, cmd)
	payment, _ := args.Get(0).(*domain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) CancelPaymentByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	args := m.Called(ctx, reservationID)
	payment, _ := args.Get(0).(*domain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) CancelPayment(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID, reason)
	payment, _ := args.Get(0).(*domain.Payment)
	return payment, args.Error(1)
}

func (m *mockPaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	args := m.Called(ctx, paymentID)
	payment, _ := args.Get(0).(*domain.Payment)
	return payment, args.Error(1)
}

type mockRefundService struct {
	mock.Mock
}

func (m *mockRefundService) ProcessRefundByReservationID(ctx context.Context, reservationID string) (*domain.Refund, error) {
	args := m.Called(ctx, reservationID)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

func (m *mockRefundService) ProcessRefund(ctx context.Context, paymentID, reason string) (*domain.Refund, error) {
	args := m.Called(ctx, paymentID, reason)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

func (m *mockRefundService) GetRefund(ctx context.Context, refundID string) (*domain.Refund, error) {
	args := m.Called(ctx, refundID)
	refund, _ := args.Get(0).(*domain.Refund)
	return refund, args.Error(1)
}

// memoryStore 메모리 멱등성 저장소
type memoryStore struct {
	mu          sync.Mutex
	keys        map[string]time.Duration
	released    []string
	failCheck   error
	failReserve error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: make(map[string]time.Duration)}
}

func (s *memoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReserve != nil {
		return false, s.failReserve
	}
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = ttl
	return true, nil
}

func (s *memoryStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = ttl
	return nil
}

func (s *memoryStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCheck != nil {
		return false, s.failCheck
	}
	_, ok := s.keys[key]
	return ok, nil
}

func (s *memoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	s.released = append(s.released, key)
	return nil
}

func (s *memoryStore) ttl(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key]
}

func (s *memoryStore) releasedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

var (
	testNow     = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	testCheckIn = time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC)
)

func samplePayment(status domain.PaymentStatus) *domain.Payment {
	amount, _ := domain.NewMoney(50000)
	return &domain.Payment{
		PaymentID:     "PAY-1",
		ReservationID: "RSV-001",
		Amount:        amount,
		CheckInDate:   testCheckIn,
		Status:        status,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func sampleRefund() *domain.Refund {
	original, _ := domain.NewMoney(50000)
	refundAmount, _ := domain.NewMoney(25000)
	completedAt := testNow.Add(time.Hour)
	return &domain.Refund{
		RefundID:       "REF-1",
		PaymentID:      "PAY-1",
		OriginalAmount: original,
		RefundAmount:   refundAmount,
		Reason:         "사용자 취소 요청",
		Status:         domain.RefundStatusCompleted,
		TransactionID:  "tx-cancel",
		CompletedAt:    &completedAt,
		CreatedAt:      testNow,
	}
}
