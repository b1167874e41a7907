package gateway

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/teambind/payment-server/common/errors"
)

// Client 외부 결제 게이트웨이 포트
//
// 구현체는 호출 결과를 common/errors 의 GATEWAY_* 코드로 반환해야 한다.
type Client interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error)
}

// ConfirmRequest 결제 승인 요청
type ConfirmRequest struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

// ConfirmResult 결제 승인 결과
type ConfirmResult struct {
	PaymentKey    string
	OrderID       string
	TransactionID string
	TotalAmount   int64
	Method        string
	Status        string
	ApprovedAt    time.Time
}

// CancelRequest 결제 취소 요청 (전액 또는 부분 금액)
type CancelRequest struct {
	PaymentKey     string
	CancelReason   string
	CancelAmount   int64
	IdempotencyKey string
}

// CancelResult 결제 취소 결과
type CancelResult struct {
	PaymentKey    string
	TransactionID string
	CancelAmount  int64
	Status        string
	CanceledAt    time.Time
}

// IsRejected 게이트웨이가 요청을 처리하지 않고 거절했는지 판단
//
// 4xx 응답만 확정 거절로 본다. 타임아웃, 전송 실패, 5xx, 해석할 수 없는 응답은
// 게이트웨이에서 처리되었는지 알 수 없다.
func IsRejected(err error) bool {
	var domainErr *errors.DomainError
	if !stderrors.As(err, &domainErr) || domainErr.Code != errors.ErrCodeGatewayError {
		return false
	}

	status, ok := domainErr.Details["httpStatus"].(int)
	if !ok {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}
