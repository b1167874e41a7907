package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teambind/payment-server/services/payment/internal/domain"
)

// RefundRepository 환불 레포지토리 인터페이스
type RefundRepository interface {
	Create(ctx context.Context, refund *domain.Refund) error
	FindByID(ctx context.Context, refundID string) (*domain.Refund, error)
	FindActiveByPaymentID(ctx context.Context, paymentID string) (*domain.Refund, error)
	Update(ctx context.Context, refund *domain.Refund) error
}

type refundRepository struct {
	db *sqlx.DB
}

// NewRefundRepository 환불 레포지토리 생성
func NewRefundRepository(db *sqlx.DB) RefundRepository {
	return &refundRepository{db: db}
}

type refundRow struct {
	RefundID       string         `db:"refund_id"`
	PaymentID      string         `db:"payment_id"`
	OriginalAmount int64          `db:"original_amount"`
	RefundAmount   int64          `db:"refund_amount"`
	Reason         sql.NullString `db:"reason"`
	Status         string         `db:"status"`
	TransactionID  sql.NullString `db:"transaction_id"`
	FailureMessage sql.NullString `db:"failure_message"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

const refundColumns = `refund_id, payment_id, original_amount, refund_amount, reason, status,
	transaction_id, failure_message, completed_at, created_at, updated_at`

func toRefundRow(r *domain.Refund) refundRow {
	row := refundRow{
		RefundID:       r.RefundID,
		PaymentID:      r.PaymentID,
		OriginalAmount: r.OriginalAmount.Amount(),
		RefundAmount:   r.RefundAmount.Amount(),
		Reason:         nullString(r.Reason),
		Status:         string(r.Status),
		TransactionID:  nullString(r.TransactionID),
		FailureMessage: nullString(r.FailureMessage),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *r.CompletedAt, Valid: true}
	}
	return row
}

func (row refundRow) toDomain() (*domain.Refund, error) {
	original, err := domain.NewMoney(row.OriginalAmount)
	if err != nil {
		return nil, fmt.Errorf("refund %s has invalid original amount: %w", row.RefundID, err)
	}
	amount, err := domain.NewMoney(row.RefundAmount)
	if err != nil {
		return nil, fmt.Errorf("refund %s has invalid refund amount: %w", row.RefundID, err)
	}

	refund := &domain.Refund{
		RefundID:       row.RefundID,
		PaymentID:      row.PaymentID,
		OriginalAmount: original,
		RefundAmount:   amount,
		Reason:         row.Reason.String,
		Status:         domain.RefundStatus(row.Status),
		TransactionID:  row.TransactionID.String,
		FailureMessage: row.FailureMessage.String,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.CompletedAt.Valid {
		completedAt := row.CompletedAt.Time
		refund.CompletedAt = &completedAt
	}
	return refund, nil
}

// Create 환불 생성 (결제에 진행 중이거나 완료된 환불이 있으면 ErrDuplicate)
func (r *refundRepository) Create(ctx context.Context, refund *domain.Refund) error {
	query := `
		INSERT INTO refunds (` + refundColumns + `)
		VALUES (:refund_id, :payment_id, :original_amount, :refund_amount, :reason, :status,
			:transaction_id, :failure_message, :completed_at, :created_at, :updated_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, toRefundRow(refund)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("refund for payment %s: %w", refund.PaymentID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create refund: %w", err)
	}

	return nil
}

// FindByID 환불 ID로 조회
func (r *refundRepository) FindByID(ctx context.Context, refundID string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE refund_id = $1`

	var row refundRow
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &row, query, refundID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refund %s: %w", refundID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refund: %w", err)
	}

	return row.toDomain()
}

// FindActiveByPaymentID 결제의 FAILED가 아닌 환불 조회 (없으면 ErrNotFound)
func (r *refundRepository) FindActiveByPaymentID(ctx context.Context, paymentID string) (*domain.Refund, error) {
	query := `SELECT ` + refundColumns + ` FROM refunds WHERE payment_id = $1 AND status <> 'FAILED'`

	var row refundRow
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &row, query, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active refund for payment %s: %w", paymentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active refund: %w", err)
	}

	return row.toDomain()
}

// Update 환불 상태 저장
func (r *refundRepository) Update(ctx context.Context, refund *domain.Refund) error {
	query := `
		UPDATE refunds
		SET status = :status,
			transaction_id = :transaction_id,
			failure_message = :failure_message,
			completed_at = :completed_at,
			updated_at = :updated_at
		WHERE refund_id = :refund_id
	`

	result, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, toRefundRow(refund))
	if err != nil {
		return fmt.Errorf("failed to update refund: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows count: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("refund %s: %w", refund.RefundID, ErrNotFound)
	}

	return nil
}
