package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teambind/payment-server/common/errors"
)

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusPrepared  PaymentStatus = "PREPARED"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// IsTerminal 종료 상태 여부
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCancelled || s == PaymentStatusFailed
}

// COMPLETED -> FAILED 는 없다. 완료 후 실패는 Refund로 표현한다.
var paymentTransitions = transitionTable[PaymentStatus]{
	PaymentStatusPrepared: {
		OpComplete: PaymentStatusCompleted,
		OpCancel:   PaymentStatusCancelled,
		OpFail:     PaymentStatusFailed,
	},
	PaymentStatusCompleted: {
		OpCancel: PaymentStatusCancelled,
	},
}

// PaymentMethod 결제 수단
type PaymentMethod string

const (
	PaymentMethodCard            PaymentMethod = "CARD"
	PaymentMethodEasyPay         PaymentMethod = "EASY_PAY"
	PaymentMethodVirtualAccount  PaymentMethod = "VIRTUAL_ACCOUNT"
	PaymentMethodTransfer        PaymentMethod = "TRANSFER"
	PaymentMethodMobilePhone     PaymentMethod = "MOBILE_PHONE"
	PaymentMethodGiftCertificate PaymentMethod = "GIFT_CERTIFICATE"
	PaymentMethodUnknown         PaymentMethod = "UNKNOWN"
)

var paymentMethodAliases = map[string]PaymentMethod{
	"CARD":             PaymentMethodCard,
	"카드":               PaymentMethodCard,
	"EASY_PAY":         PaymentMethodEasyPay,
	"간편결제":             PaymentMethodEasyPay,
	"VIRTUAL_ACCOUNT":  PaymentMethodVirtualAccount,
	"가상계좌":             PaymentMethodVirtualAccount,
	"TRANSFER":         PaymentMethodTransfer,
	"계좌이체":             PaymentMethodTransfer,
	"MOBILE_PHONE":     PaymentMethodMobilePhone,
	"휴대폰":              PaymentMethodMobilePhone,
	"GIFT_CERTIFICATE": PaymentMethodGiftCertificate,
	"상품권":              PaymentMethodGiftCertificate,
}

// ParsePaymentMethod 게이트웨이 응답의 결제 수단 문자열 변환 (영문 코드 또는 한글 표기)
func ParsePaymentMethod(s string) PaymentMethod {
	if method, ok := paymentMethodAliases[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return method
	}
	return PaymentMethodUnknown
}

// Payment 결제 도메인 모델
type Payment struct {
	PaymentID     string
	ReservationID string
	OrderID       string
	PaymentKey    string
	TransactionID string
	Amount        Money
	Method        PaymentMethod
	CheckInDate   time.Time
	Status        PaymentStatus
	FailureReason string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPaymentID 결제 ID 생성
func NewPaymentID() string {
	return "PAY-" + uuid.NewString()
}

// PreparePayment PREPARED 상태의 결제 생성
func PreparePayment(reservationID string, amount Money, checkInDate time.Time, now time.Time) (*Payment, error) {
	if strings.TrimSpace(reservationID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "reservationId is required")
	}
	if amount.Amount() <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidAmount, "amount must be positive: %d", amount.Amount())
	}
	if checkInDate.IsZero() {
		return nil, errors.New(errors.ErrCodeInvalidInput, "checkInDate is required")
	}

	return &Payment{
		PaymentID:     NewPaymentID(),
		ReservationID: reservationID,
		Amount:        amount,
		CheckInDate:   checkInDate,
		Status:        PaymentStatusPrepared,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Complete 게이트웨이 승인 결과 반영 (PREPARED -> COMPLETED)
func (p *Payment) Complete(orderID, paymentKey, transactionID string, method PaymentMethod, at time.Time) error {
	next, err := paymentTransitions.next("payment", p.PaymentID, p.Status, OpComplete)
	if err != nil {
		return err
	}

	p.OrderID = orderID
	p.PaymentKey = paymentKey
	p.TransactionID = transactionID
	p.Method = method
	p.Status = next
	p.UpdatedAt = at
	return nil
}

// Cancel 결제 취소 (COMPLETED|PREPARED -> CANCELLED)
func (p *Payment) Cancel(at time.Time) error {
	next, err := paymentTransitions.next("payment", p.PaymentID, p.Status, OpCancel)
	if err != nil {
		return err
	}

	p.Status = next
	p.UpdatedAt = at
	return nil
}

// Fail 결제 실패 처리 (PREPARED -> FAILED)
func (p *Payment) Fail(reason string, at time.Time) error {
	next, err := paymentTransitions.next("payment", p.PaymentID, p.Status, OpFail)
	if err != nil {
		return err
	}

	p.FailureReason = reason
	p.Status = next
	p.UpdatedAt = at
	return nil
}

// CanCancel 취소 가능 여부
func (p *Payment) CanCancel() bool {
	return paymentTransitions.allows(p.Status, OpCancel)
}

// ValidateRefundable 환불 가능 여부 검증 (COMPLETED만 가능)
func (p *Payment) ValidateRefundable() error {
	if p.Status != PaymentStatusCompleted {
		return errors.Newf(errors.ErrCodePaymentNotRefundable, "payment %s is not refundable in status %s", p.PaymentID, p.Status).
			With("paymentId", p.PaymentID).
			With("currentStatus", string(p.Status)).
			With("expectedStatus", string(PaymentStatusCompleted))
	}
	return nil
}

// ValidateAmount 요청 금액과 결제 금액 일치 여부 검증
func (p *Payment) ValidateAmount(claimed Money) error {
	if !p.Amount.Equals(claimed) {
		return errors.Newf(errors.ErrCodePaymentAmountMismatch,
			"payment amount mismatch - expected: %d, actual: %d", p.Amount.Amount(), claimed.Amount()).
			With("paymentId", p.PaymentID).
			With("reservationId", p.ReservationID).
			With("expected", p.Amount.Amount()).
			With("actual", claimed.Amount())
	}
	return nil
}
