package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teambind/payment-server/common/errors"
)

// RefundStatus 환불 상태
type RefundStatus string

const (
	RefundStatusRequested RefundStatus = "REQUESTED"
	RefundStatusApproved  RefundStatus = "APPROVED"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// IsTerminal 종료 상태 여부
func (s RefundStatus) IsTerminal() bool {
	return s == RefundStatusCompleted || s == RefundStatusFailed
}

var refundTransitions = transitionTable[RefundStatus]{
	RefundStatusRequested: {
		OpApprove: RefundStatusApproved,
	},
	RefundStatusApproved: {
		OpComplete: RefundStatusCompleted,
		OpFail:     RefundStatusFailed,
	},
}

// Refund 환불 도메인 모델
//
// Payment는 PaymentID 값으로만 참조한다.
type Refund struct {
	RefundID       string
	PaymentID      string
	OriginalAmount Money
	RefundAmount   Money
	Reason         string
	Status         RefundStatus
	TransactionID  string
	FailureMessage string
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewRefundID 환불 ID 생성
func NewRefundID() string {
	return "REF-" + uuid.NewString()
}

// RequestRefund REQUESTED 상태의 환불 생성
func RequestRefund(paymentID string, originalAmount, refundAmount Money, reason string, now time.Time) (*Refund, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "paymentId is required")
	}
	if refundAmount.Amount() <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidAmount, "refund amount must be positive: %d", refundAmount.Amount())
	}
	if refundAmount.Compare(originalAmount) > 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidAmount,
			"refund amount exceeded - requested: %d, maximum: %d", refundAmount.Amount(), originalAmount.Amount()).
			With("paymentId", paymentID).
			With("requested", refundAmount.Amount()).
			With("maximum", originalAmount.Amount())
	}

	return &Refund{
		RefundID:       NewRefundID(),
		PaymentID:      paymentID,
		OriginalAmount: originalAmount,
		RefundAmount:   refundAmount,
		Reason:         reason,
		Status:         RefundStatusRequested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Approve REQUESTED -> APPROVED
func (r *Refund) Approve(at time.Time) error {
	next, err := refundTransitions.next("refund", r.RefundID, r.Status, OpApprove)
	if err != nil {
		return err
	}

	r.Status = next
	r.UpdatedAt = at
	return nil
}

// Complete APPROVED -> COMPLETED, 완료 시각 기록
func (r *Refund) Complete(transactionID string, at time.Time) error {
	next, err := refundTransitions.next("refund", r.RefundID, r.Status, OpComplete)
	if err != nil {
		return err
	}

	completedAt := at
	r.TransactionID = transactionID
	r.CompletedAt = &completedAt
	r.Status = next
	r.UpdatedAt = at
	return nil
}

// Fail APPROVED -> FAILED
func (r *Refund) Fail(message string, at time.Time) error {
	next, err := refundTransitions.next("refund", r.RefundID, r.Status, OpFail)
	if err != nil {
		return err
	}

	r.FailureMessage = message
	r.Status = next
	r.UpdatedAt = at
	return nil
}
