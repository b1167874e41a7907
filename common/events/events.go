package events

// EventType 이벤트 타입 정의
type EventType string

const (
	// Reservation Events (inbound)
	EventReservationConfirmed EventType = "ReservationConfirmed"

	// Payment Events (outbound)
	EventRefundCompleted  EventType = "RefundCompleted"
	EventPaymentCancelled EventType = "PaymentCancelled"
)

// 토픽 이름
const (
	TopicReservationConfirmed = "reservation-confirmed"
	TopicRefundCompleted      = "refund-completed"
	TopicPaymentCancelled     = "payment-cancelled"
)

// BaseEvent 발행 이벤트의 기본 구조
type BaseEvent struct {
	EventID   string    `json:"eventId"`
	Topic     string    `json:"topic"`
	EventType EventType `json:"eventType"`
}

// ReservationConfirmedEvent 예약 서버에서 발행하는 예약 확정 이벤트
type ReservationConfirmedEvent struct {
	Topic         string        `json:"topic"`
	EventType     string        `json:"eventType"`
	ReservationID string        `json:"reservationId"`
	TotalPrice    int64         `json:"totalPrice"`
	Amount        int64         `json:"amount,omitempty"` // 구버전 페이로드 호환
	CheckInDate   LocalDateTime `json:"checkInDate"`
	OccurredAt    LocalDateTime `json:"occurredAt"`
}

// Price 결제 금액 (totalPrice 우선)
func (e ReservationConfirmedEvent) Price() int64 {
	if e.TotalPrice != 0 {
		return e.TotalPrice
	}
	return e.Amount
}

// RefundCompletedEvent 환불 완료 이벤트
//
// 결제 직접 취소의 경우 RefundID는 null로 발행된다.
type RefundCompletedEvent struct {
	BaseEvent
	RefundID       *string       `json:"refundId"`
	PaymentID      string        `json:"paymentId"`
	ReservationID  string        `json:"reservationId"`
	OriginalAmount int64         `json:"originalAmount"`
	RefundAmount   int64         `json:"refundAmount"`
	Reason         string        `json:"reason"`
	CompletedAt    LocalDateTime `json:"completedAt"`
}

// PaymentCancelledEvent 결제 취소 이벤트
type PaymentCancelledEvent struct {
	BaseEvent
	PaymentID     string        `json:"paymentId"`
	ReservationID string        `json:"reservationId"`
	Amount        int64         `json:"amount"`
	Reason        string        `json:"reason"`
	CancelledAt   LocalDateTime `json:"cancelledAt"`
}
