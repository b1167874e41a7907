package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/teambind/payment-server/common/errors"
	"github.com/teambind/payment-server/common/retry"
	"github.com/teambind/payment-server/services/payment/internal/domain"
	"github.com/teambind/payment-server/services/payment/internal/repository"
)

// DefaultCancelReason 사유 없이 예약 ID로 취소/환불할 때 사용하는 사유
const DefaultCancelReason = "사용자 취소 요청"

const defaultGatewayTimeout = 10 * time.Second

type options struct {
	now            func() time.Time
	gatewayTimeout time.Duration
	recordRetry    retry.Config
}

// Option 서비스 생성 옵션
type Option func(*options)

// WithClock 현재 시각 함수 교체 (테스트용)
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithGatewayTimeout 게이트웨이 호출 제한 시간
func WithGatewayTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.gatewayTimeout = timeout
		}
	}
}

// WithRecordRetry 게이트웨이 결과 기록 트랜잭션 재시도 설정
func WithRecordRetry(config retry.Config) Option {
	return func(o *options) {
		if config.MaxAttempts > 0 {
			o.recordRetry = config
		}
	}
}

func defaultRecordRetry() retry.Config {
	return retry.Config{
		MaxAttempts:        4,
		InitialInterval:    200 * time.Millisecond,
		MaxInterval:        2 * time.Second,
		BackoffCoefficient: 2.0,
		MaxElapsedTime:     10 * time.Second,
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		gatewayTimeout: defaultGatewayTimeout,
		recordRetry:    defaultRecordRetry(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// persistenceError 레포지토리 에러를 도메인 에러로 변환
//
// 이미 DomainError인 경우 그대로 반환한다.
func persistenceError(err error, message string) error {
	var domainErr *errors.DomainError
	switch {
	case stderrors.As(err, &domainErr):
		return err
	case stderrors.Is(err, repository.ErrVersionConflict):
		return errors.Wrap(errors.ErrCodeConcurrentModification, message, err)
	default:
		return errors.Wrap(errors.ErrCodeDatabaseError, message, err)
	}
}

// recordOutcome 게이트웨이가 처리한 결과를 기록하는 트랜잭션 (일시적 실패는 재시도)
//
// 게이트웨이에는 이미 반영되었으므로 ctx는 요청 취소와 분리된 것이어야 한다.
// 롤백된 시도가 올린 payment.Version은 다음 시도 전에 되돌린다.
func recordOutcome(
	ctx context.Context,
	txManager repository.TxManager,
	config retry.Config,
	logger *zap.Logger,
	payment *domain.Payment,
	fn func(ctx context.Context) error,
) error {
	version := payment.Version
	config.ShouldRetry = isTransientPersistence

	return retry.Do(ctx, config, logger, func() error {
		payment.Version = version
		return txManager.WithinTx(ctx, fn)
	})
}

// isTransientPersistence 다시 시도하면 성공할 수 있는 저장 실패인지 판단
func isTransientPersistence(err error) bool {
	var domainErr *errors.DomainError
	switch {
	case stderrors.As(err, &domainErr):
		return errors.IsRetryable(err)
	case stderrors.Is(err, repository.ErrVersionConflict),
		stderrors.Is(err, repository.ErrDuplicate),
		stderrors.Is(err, repository.ErrNotFound):
		return false
	}
	return true
}
