package handler

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/events"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/service"
)

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	paymentService service.PaymentService
	refundService  service.RefundService
	logger         *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(
	paymentService service.PaymentService,
	refundService service.RefundService,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		paymentService: paymentService,
		refundService:  refundService,
		logger:         logger,
	}
}

// PrepareRequest 결제 준비 요청
type PrepareRequest struct {
	ReservationID string               `json:"reservationId" binding:"required"`
	Amount        int64                `json:"amount" binding:"required,gt=0"`
	CheckInDate   events.LocalDateTime `json:"checkInDate"`
}

// ConfirmRequest 결제 승인 요청 (paymentId가 없으면 orderId로 조회)
type ConfirmRequest struct {
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	PaymentKey string `json:"paymentKey" binding:"required"`
	Amount     int64  `json:"amount" binding:"required,gt=0"`
}

// ReservationRequest 예약 ID 기반 취소/환불 요청
type ReservationRequest struct {
	ReservationID string `json:"reservationId" binding:"required"`
}

// ReasonRequest 사유가 담긴 취소/환불 요청
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// PaymentResponse 결제 응답
type PaymentResponse struct {
	PaymentID     string               `json:"paymentId"`
	ReservationID string               `json:"reservationId"`
	OrderID       string               `json:"orderId,omitempty"`
	PaymentKey    string               `json:"paymentKey,omitempty"`
	TransactionID string               `json:"transactionId,omitempty"`
	Amount        int64                `json:"amount"`
	Method        string               `json:"method,omitempty"`
	Status        string               `json:"status"`
	CheckInDate   events.LocalDateTime `json:"checkInDate"`
	FailureReason string               `json:"failureReason,omitempty"`
	CreatedAt     events.LocalDateTime `json:"createdAt"`
	UpdatedAt     events.LocalDateTime `json:"updatedAt"`
}

// RefundResponse 환불 응답
type RefundResponse struct {
	RefundID       string                `json:"refundId"`
	PaymentID      string                `json:"paymentId"`
	OriginalAmount int64                 `json:"originalAmount"`
	RefundAmount   int64                 `json:"refundAmount"`
	Reason         string                `json:"reason"`
	Status         string                `json:"status"`
	TransactionID  string                `json:"transactionId,omitempty"`
	FailureMessage string                `json:"failureMessage,omitempty"`
	CompletedAt    *events.LocalDateTime `json:"completedAt,omitempty"`
	CreatedAt      events.LocalDateTime  `json:"createdAt"`
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// PreparePayment 결제 준비
func (h *HTTPHandler) PreparePayment(c *gin.Context) {
	var req PrepareRequest
	if !h.bind(c, &req) {
		return
	}

	payment, err := h.paymentService.PreparePayment(c.Request.Context(), service.PrepareCommand{
		ReservationID: req.ReservationID,
		Amount:        req.Amount,
		CheckInDate:   req.CheckInDate.Time,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toPaymentResponse(payment))
}

// ConfirmPayment 결제 승인
func (h *HTTPHandler) ConfirmPayment(c *gin.Context) {
	var req ConfirmRequest
	if !h.bind(c, &req) {
		return
	}

	payment, err := h.paymentService.ConfirmPayment(c.Request.Context(), service.ConfirmCommand{
		PaymentID:  req.PaymentID,
		OrderID:    req.OrderID,
		PaymentKey: req.PaymentKey,
		Amount:     req.Amount,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// GetPayment 결제 조회
func (h *HTTPHandler) GetPayment(c *gin.Context) {
	payment, err := h.paymentService.GetPayment(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// CancelByReservation 예약 ID로 결제 취소
func (h *HTTPHandler) CancelByReservation(c *gin.Context) {
	var req ReservationRequest
	if !h.bind(c, &req) {
		return
	}

	payment, err := h.paymentService.CancelPaymentByReservationID(c.Request.Context(), req.ReservationID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// CancelPayment 결제 ID로 결제 취소
func (h *HTTPHandler) CancelPayment(c *gin.Context) {
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}

	payment, err := h.paymentService.CancelPayment(c.Request.Context(), c.Param("paymentId"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// RefundByReservation 예약 ID로 환불
func (h *HTTPHandler) RefundByReservation(c *gin.Context) {
	var req ReservationRequest
	if !h.bind(c, &req) {
		return
	}

	refund, err := h.refundService.ProcessRefundByReservationID(c.Request.Context(), req.ReservationID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// RefundPayment 결제 ID로 환불
func (h *HTTPHandler) RefundPayment(c *gin.Context) {
	var req ReasonRequest
	if !h.bindOptional(c, &req) {
		return
	}

	refund, err := h.refundService.ProcessRefund(c.Request.Context(), c.Param("paymentId"), req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// GetRefund 환불 조회
func (h *HTTPHandler) GetRefund(c *gin.Context) {
	refund, err := h.refundService.GetRefund(c.Request.Context(), c.Param("refundId"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRefundResponse(refund))
}

// HealthCheck 헬스 체크
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

func (h *HTTPHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Warn("invalid request body",
			zap.Error(err),
			zap.String("path", c.FullPath()))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  string(errors.ErrCodeInvalidInput),
		})
		return false
	}
	return true
}

// bindOptional 본문이 없으면 빈 요청으로 취급
func (h *HTTPHandler) bindOptional(c *gin.Context, req interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return h.bind(c, req)
}

func (h *HTTPHandler) respondError(c *gin.Context, err error) {
	status := statusForError(err)
	code := errors.CodeOf(err)
	if code == "" {
		code = errors.ErrCodeUnknownError
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Int("status", status))
	} else {
		h.logger.Warn("request rejected",
			zap.Error(err),
			zap.String("path", c.FullPath()),
			zap.String("code", string(code)),
			zap.Int("status", status))
	}

	resp := ErrorResponse{
		Error: err.Error(),
		Code:  string(code),
	}
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		resp.Details = domainErr.Details
	}

	c.JSON(status, resp)
}

// statusForError 에러 코드를 HTTP 상태로 변환
func statusForError(err error) int {
	// 확인/취소/환불 실패가 감싼 타임아웃도 504로 응답한다
	if errors.HasCode(err, errors.ErrCodeGatewayTimeout) {
		return http.StatusGatewayTimeout
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidAmount, errors.ErrCodePaymentAmountMismatch:
		return http.StatusBadRequest
	case errors.ErrCodePaymentNotFound, errors.ErrCodeRefundNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidTransition, errors.ErrCodeInvalidPaymentStatus,
		errors.ErrCodePaymentNotRefundable, errors.ErrCodeRefundPeriodExpired,
		errors.ErrCodeRefundAlreadyProcessed, errors.ErrCodeConcurrentModification:
		return http.StatusConflict
	case errors.ErrCodeGatewayError, errors.ErrCodeGatewayInvalidResponse,
		errors.ErrCodePaymentConfirmationFailed, errors.ErrCodePaymentCancellationFailed,
		errors.ErrCodeRefundProcessingFailed:
		return http.StatusBadGateway
	case errors.ErrCodeTimeoutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:     p.PaymentID,
		ReservationID: p.ReservationID,
		OrderID:       p.OrderID,
		PaymentKey:    p.PaymentKey,
		TransactionID: p.TransactionID,
		Amount:        p.Amount.Amount(),
		Method:        string(p.Method),
		Status:        string(p.Status),
		CheckInDate:   events.NewLocalDateTime(p.CheckInDate),
		FailureReason: p.FailureReason,
		CreatedAt:     events.NewLocalDateTime(p.CreatedAt),
		UpdatedAt:     events.NewLocalDateTime(p.UpdatedAt),
	}
}

func toRefundResponse(r *domain.Refund) RefundResponse {
	resp := RefundResponse{
		RefundID:       r.RefundID,
		PaymentID:      r.PaymentID,
		OriginalAmount: r.OriginalAmount.Amount(),
		RefundAmount:   r.RefundAmount.Amount(),
		Reason:         r.Reason,
		Status:         string(r.Status),
		TransactionID:  r.TransactionID,
		FailureMessage: r.FailureMessage,
		CreatedAt:      events.NewLocalDateTime(r.CreatedAt),
	}
	if r.CompletedAt != nil {
		completedAt := events.NewLocalDateTime(*r.CompletedAt)
		resp.CompletedAt = &completedAt
	}
	return resp
}
