package domain

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/teambind/payment-server/common/errors"
)

// Money 불변 금액 값 객체 (원 단위 정수)
type Money struct {
	amount int64
}

// NewMoney 결제/환불 금액 생성 (0 이하 불가)
func NewMoney(amount int64) (Money, error) {
	if amount <= 0 {
		return Money{}, errors.Newf(errors.ErrCodeInvalidAmount, "amount must be positive: %d", amount).
			With("amount", amount)
	}
	return Money{amount: amount}, nil
}

// Amount 금액 값
func (m Money) Amount() int64 {
	return m.amount
}

// IsZero 0원 여부
func (m Money) IsZero() bool {
	return m.amount == 0
}

// Equals 금액 동등 비교
func (m Money) Equals(other Money) bool {
	return m.amount == other.amount
}

// Compare -1, 0, 1
func (m Money) Compare(other Money) int {
	switch {
	case m.amount < other.amount:
		return -1
	case m.amount > other.amount:
		return 1
	default:
		return 0
	}
}

// Subtract 차감 (결과가 음수면 실패)
func (m Money) Subtract(other Money) (Money, error) {
	if other.amount > m.amount {
		return Money{}, errors.Newf(errors.ErrCodeInvalidAmount, "subtraction would go negative: %d - %d", m.amount, other.amount).
			With("minuend", m.amount).
			With("subtrahend", other.amount)
	}
	return Money{amount: m.amount - other.amount}, nil
}

// MultiplyPercent 퍼센트 곱셈 (소수점 이하 버림)
func (m Money) MultiplyPercent(percent int) (Money, error) {
	if percent < 0 || percent > 100 {
		return Money{}, errors.Newf(errors.ErrCodeInvalidAmount, "percent out of range: %d", percent)
	}
	if percent != 0 && m.amount > math.MaxInt64/int64(percent) {
		return Money{}, errors.Newf(errors.ErrCodeInvalidAmount, "amount overflow: %d * %d%%", m.amount, percent)
	}
	return Money{amount: m.amount * int64(percent) / 100}, nil
}

func (m Money) String() string {
	return strconv.FormatInt(m.amount, 10)
}

// MarshalJSON 숫자로 직렬화
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.amount)
}
