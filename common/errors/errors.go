package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Validation Errors
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidAmount ErrorCode = "INVALID_AMOUNT"

	// Payment / Refund Domain Errors
	ErrCodePaymentNotFound        ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeRefundNotFound         ErrorCode = "REFUND_NOT_FOUND"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeInvalidPaymentStatus   ErrorCode = "INVALID_PAYMENT_STATUS"
	ErrCodePaymentAmountMismatch  ErrorCode = "PAYMENT_AMOUNT_MISMATCH"
	ErrCodePaymentNotRefundable   ErrorCode = "PAYMENT_NOT_REFUNDABLE"
	ErrCodeRefundPeriodExpired    ErrorCode = "REFUND_PERIOD_EXPIRED"
	ErrCodeRefundAlreadyProcessed ErrorCode = "REFUND_ALREADY_PROCESSED"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"

	// Gateway Errors
	ErrCodeGatewayError              ErrorCode = "GATEWAY_ERROR"
	ErrCodeGatewayTimeout            ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeGatewayInvalidResponse    ErrorCode = "GATEWAY_INVALID_RESPONSE"
	ErrCodePaymentConfirmationFailed ErrorCode = "PAYMENT_CONFIRMATION_FAILED"
	ErrCodePaymentCancellationFailed ErrorCode = "PAYMENT_CANCELLATION_FAILED"
	ErrCodeRefundProcessingFailed    ErrorCode = "REFUND_PROCESSING_FAILED"

	// Technical Errors
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeoutError       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeUnknownError       ErrorCode = "UNKNOWN_ERROR"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
	// Details 충돌한 식별자/값 (expected vs actual 등)
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// With 상세 정보 추가
func (e *DomainError) With(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Newf 포맷 메시지로 도메인 에러 생성
func Newf(code ErrorCode, format string, args ...interface{}) *DomainError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf 가장 바깥쪽 도메인 에러의 코드 (없으면 빈 문자열)
func CodeOf(err error) ErrorCode {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// HasCode 에러 체인 어딘가에 해당 코드가 있는지 확인
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if domainErr, ok := err.(*DomainError); ok && domainErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeDatabaseError, ErrCodeNetworkError, ErrCodeTimeoutError:
		return true
	}
	return false
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidAmount,
		ErrCodePaymentNotFound, ErrCodeRefundNotFound,
		ErrCodeInvalidTransition, ErrCodeInvalidPaymentStatus,
		ErrCodePaymentAmountMismatch, ErrCodePaymentNotRefundable,
		ErrCodeRefundPeriodExpired, ErrCodeRefundAlreadyProcessed,
		ErrCodeConcurrentModification:
		return true
	}
	return false
}

// IsGatewayError 외부 결제 게이트웨이 관련 에러인지 판단
func IsGatewayError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeGatewayError, ErrCodeGatewayTimeout, ErrCodeGatewayInvalidResponse,
		ErrCodePaymentConfirmationFailed, ErrCodePaymentCancellationFailed,
		ErrCodeRefundProcessingFailed:
		return true
	}
	return false
}
