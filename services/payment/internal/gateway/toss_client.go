package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
)

const (
	DefaultTossBaseURL = "https://api.tosspayments.com"

	confirmPath = "/v1/payments/confirm"
	cancelPath  = "/v1/payments/%s/cancel"
)

// TossClient 토스페이먼츠 REST API 클라이언트
type TossClient struct {
	baseURL    string
	authHeader string
	client     *http.Client
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewTossClient 토스 클라이언트 생성 (timeout은 요청 전체에 적용)
func NewTossClient(baseURL, secretKey string, timeout time.Duration, logger *zap.Logger) *TossClient {
	if baseURL == "" {
		baseURL = DefaultTossBaseURL
	}
	return &TossClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		client:     &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("payment-server/gateway"),
		logger:     logger,
	}
}

type tossPaymentResponse struct {
	PaymentKey         string       `json:"paymentKey"`
	OrderID            string       `json:"orderId"`
	LastTransactionKey string       `json:"lastTransactionKey"`
	TotalAmount        int64        `json:"totalAmount"`
	Method             string       `json:"method"`
	Status             string       `json:"status"`
	ApprovedAt         string       `json:"approvedAt"`
	Cancels            []tossCancel `json:"cancels"`
}

type tossCancel struct {
	TransactionKey string `json:"transactionKey"`
	CancelAmount   int64  `json:"cancelAmount"`
	CanceledAt     string `json:"canceledAt"`
}

type tossCancelRequest struct {
	CancelReason string `json:"cancelReason"`
	CancelAmount int64  `json:"cancelAmount,omitempty"`
}

type tossErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm 결제 승인
func (c *TossClient) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	ctx, span := c.tracer.Start(ctx, "toss.confirm", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.order_id", req.OrderID),
		attribute.Int64("payment.amount", req.Amount),
	)

	var resp tossPaymentResponse
	if err := c.post(ctx, span, confirmPath, "", req, &resp); err != nil {
		return nil, err
	}

	if resp.PaymentKey == "" || resp.LastTransactionKey == "" {
		return nil, c.invalidResponse(span, "confirm response missing paymentKey or lastTransactionKey")
	}
	if resp.TotalAmount != req.Amount {
		return nil, c.invalidResponse(span, fmt.Sprintf("confirmed amount %d differs from requested %d", resp.TotalAmount, req.Amount))
	}

	c.logger.Info("toss payment confirmed",
		zap.String("orderId", resp.OrderID),
		zap.String("transactionId", resp.LastTransactionKey),
		zap.Int64("amount", resp.TotalAmount))

	return &ConfirmResult{
		PaymentKey:    resp.PaymentKey,
		OrderID:       resp.OrderID,
		TransactionID: resp.LastTransactionKey,
		TotalAmount:   resp.TotalAmount,
		Method:        resp.Method,
		Status:        resp.Status,
		ApprovedAt:    parseTime(resp.ApprovedAt),
	}, nil
}

// Cancel 결제 취소 (CancelAmount 0이면 전액)
func (c *TossClient) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	ctx, span := c.tracer.Start(ctx, "toss.cancel", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.cancel_amount", req.CancelAmount))

	if req.PaymentKey == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "paymentKey is required for cancellation")
	}

	body := tossCancelRequest{CancelReason: req.CancelReason, CancelAmount: req.CancelAmount}
	path := fmt.Sprintf(cancelPath, url.PathEscape(req.PaymentKey))

	var resp tossPaymentResponse
	if err := c.post(ctx, span, path, req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	result := &CancelResult{
		PaymentKey:    resp.PaymentKey,
		TransactionID: resp.LastTransactionKey,
		CancelAmount:  req.CancelAmount,
		Status:        resp.Status,
	}
	if n := len(resp.Cancels); n > 0 {
		last := resp.Cancels[n-1]
		result.TransactionID = last.TransactionKey
		result.CancelAmount = last.CancelAmount
		result.CanceledAt = parseTime(last.CanceledAt)
	}
	if result.TransactionID == "" {
		return nil, c.invalidResponse(span, "cancel response missing transaction key")
	}

	c.logger.Info("toss payment cancelled",
		zap.String("transactionId", result.TransactionID),
		zap.Int64("cancelAmount", result.CancelAmount))

	return result, nil
}

func (c *TossClient) post(ctx context.Context, span trace.Span, path, idempotencyKey string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal gateway request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeGatewayError, "failed to create gateway request", err)
	}
	httpReq.Header.Set("Authorization", c.authHeader)
	httpReq.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if isTimeout(err) {
			c.logger.Warn("toss api timeout", zap.String("path", path), zap.Error(err))
			return errors.Wrap(errors.ErrCodeGatewayTimeout, "gateway request timed out", err)
		}
		return errors.Wrap(errors.ErrCodeGatewayError, "gateway request failed", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(semconv.HTTPStatusCodeKey.Int(resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		if isTimeout(err) {
			return errors.Wrap(errors.ErrCodeGatewayTimeout, "gateway response timed out", err)
		}
		return errors.Wrap(errors.ErrCodeGatewayError, "failed to read gateway response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var tossErr tossErrorResponse
		_ = json.Unmarshal(respBody, &tossErr)
		span.SetStatus(codes.Error, tossErr.Code)

		c.logger.Warn("toss api error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", tossErr.Code),
			zap.String("message", tossErr.Message))

		message := tossErr.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return errors.Newf(errors.ErrCodeGatewayError, "gateway error (%d): %s", resp.StatusCode, message).
			With("httpStatus", resp.StatusCode).
			With("gatewayCode", tossErr.Code)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		span.RecordError(err)
		return errors.Wrap(errors.ErrCodeGatewayInvalidResponse, "failed to decode gateway response", err)
	}

	return nil
}

func (c *TossClient) invalidResponse(span trace.Span, message string) error {
	span.SetStatus(codes.Error, message)
	c.logger.Error("invalid toss response", zap.String("reason", message))
	return errors.New(errors.ErrCodeGatewayInvalidResponse, message)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// 토스는 오프셋이 포함된 ISO 8601 시각을 반환한다
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
