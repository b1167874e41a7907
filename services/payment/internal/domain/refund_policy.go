package domain

import (
	"time"
)

const day = 24 * time.Hour

// RefundTier 체크인까지 남은 일수 구간별 환불율
type RefundTier struct {
	Name    string
	MinDays int
	Percent int
}

var (
	TierFullRefund    = RefundTier{Name: "FULL_REFUND", MinDays: 7, Percent: 100}
	TierHalfRefund    = RefundTier{Name: "HALF_REFUND", MinDays: 3, Percent: 50}
	TierPartialRefund = RefundTier{Name: "PARTIAL_REFUND", MinDays: 1, Percent: 30}
	TierNoRefund      = RefundTier{Name: "NO_REFUND", Percent: 0}
)

// 남은 일수가 큰 구간부터 검사
var refundTiers = []RefundTier{TierFullRefund, TierHalfRefund, TierPartialRefund}

// RefundPolicy 체크인 일시와 평가 시각으로 결정되는 환불 정책
type RefundPolicy struct {
	checkInDate    time.Time
	evaluationTime time.Time
	daysBefore     int
	tier           RefundTier
}

// NewRefundPolicy 환불 정책 평가 (I/O 없음, 결정적)
func NewRefundPolicy(checkInDate, evaluationTime time.Time) RefundPolicy {
	days := wholeDaysBetween(evaluationTime, checkInDate)

	tier := TierNoRefund
	for _, candidate := range refundTiers {
		if days >= candidate.MinDays {
			tier = candidate
			break
		}
	}

	return RefundPolicy{
		checkInDate:    checkInDate,
		evaluationTime: evaluationTime,
		daysBefore:     days,
		tier:           tier,
	}
}

// wholeDaysBetween floor((to - from) / 24h)
func wholeDaysBetween(from, to time.Time) int {
	diff := to.Sub(from)
	days := int(diff / day)
	if diff < 0 && diff%day != 0 {
		days--
	}
	return days
}

// DaysBeforeCheckIn 체크인까지 남은 일수
func (p RefundPolicy) DaysBeforeCheckIn() int {
	return p.daysBefore
}

// Tier 적용된 구간
func (p RefundPolicy) Tier() RefundTier {
	return p.tier
}

// RefundRate 환불율 (0~100 퍼센트)
func (p RefundPolicy) RefundRate() int {
	return p.tier.Percent
}

// IsRefundable 환불 가능 기간인지 여부
func (p RefundPolicy) IsRefundable() bool {
	return p.tier.Percent > 0
}

// CalculateRefundAmount floor(original * rate), original을 넘지 않음
func (p RefundPolicy) CalculateRefundAmount(original Money) (Money, error) {
	return original.MultiplyPercent(p.tier.Percent)
}
