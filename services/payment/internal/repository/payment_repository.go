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

// PaymentRepository 결제 레포지토리 인터페이스
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	FindByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment) error
}

type paymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository 결제 레포지토리 생성
func NewPaymentRepository(db *sqlx.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

type paymentRow struct {
	PaymentID     string         `db:"payment_id"`
	ReservationID string         `db:"reservation_id"`
	OrderID       sql.NullString `db:"order_id"`
	PaymentKey    sql.NullString `db:"payment_key"`
	TransactionID sql.NullString `db:"transaction_id"`
	Amount        int64          `db:"amount"`
	Method        sql.NullString `db:"method"`
	CheckInDate   time.Time      `db:"check_in_date"`
	Status        string         `db:"status"`
	FailureReason sql.NullString `db:"failure_reason"`
	Version       int64          `db:"version"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

const paymentColumns = `payment_id, reservation_id, order_id, payment_key, transaction_id, amount,
	method, check_in_date, status, failure_reason, version, created_at, updated_at`

func toPaymentRow(p *domain.Payment) paymentRow {
	return paymentRow{
		PaymentID:     p.PaymentID,
		ReservationID: p.ReservationID,
		OrderID:       nullString(p.OrderID),
		PaymentKey:    nullString(p.PaymentKey),
		TransactionID: nullString(p.TransactionID),
		Amount:        p.Amount.Amount(),
		Method:        nullString(string(p.Method)),
		CheckInDate:   p.CheckInDate,
		Status:        string(p.Status),
		FailureReason: nullString(p.FailureReason),
		Version:       p.Version,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (row paymentRow) toDomain() (*domain.Payment, error) {
	amount, err := domain.NewMoney(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("payment %s has invalid amount: %w", row.PaymentID, err)
	}

	return &domain.Payment{
		PaymentID:     row.PaymentID,
		ReservationID: row.ReservationID,
		OrderID:       row.OrderID.String,
		PaymentKey:    row.PaymentKey.String,
		TransactionID: row.TransactionID.String,
		Amount:        amount,
		Method:        domain.PaymentMethod(row.Method.String),
		CheckInDate:   row.CheckInDate,
		Status:        domain.PaymentStatus(row.Status),
		FailureReason: row.FailureReason.String,
		Version:       row.Version,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Create 결제 생성 (reservation_id 중복 시 ErrDuplicate)
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (:payment_id, :reservation_id, :order_id, :payment_key, :transaction_id, :amount,
			:method, :check_in_date, :status, :failure_reason, :version, :created_at, :updated_at)
	`

	if _, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, toPaymentRow(payment)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment for reservation %s: %w", payment.ReservationID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

// FindByID 결제 ID로 조회
func (r *paymentRepository) FindByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_id = $1`
	return r.findOne(ctx, query, paymentID)
}

// FindByReservationID 예약 ID로 조회
func (r *paymentRepository) FindByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reservation_id = $1`
	return r.findOne(ctx, query, reservationID)
}

func (r *paymentRepository) findOne(ctx context.Context, query string, arg string) (*domain.Payment, error) {
	var row paymentRow
	err := sqlx.GetContext(ctx, executor(ctx, r.db), &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find payment: %w", err)
	}

	return row.toDomain()
}

// Update 결제 상태 저장 (버전이 다르면 ErrVersionConflict)
//
// 성공하면 payment.Version이 증가한다.
func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	query := `
		UPDATE payments
		SET order_id = :order_id,
			payment_key = :payment_key,
			transaction_id = :transaction_id,
			method = :method,
			status = :status,
			failure_reason = :failure_reason,
			version = version + 1,
			updated_at = :updated_at
		WHERE payment_id = :payment_id AND version = :version
	`

	result, err := sqlx.NamedExecContext(ctx, executor(ctx, r.db), query, toPaymentRow(payment))
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows count: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("payment %s at version %d: %w", payment.PaymentID, payment.Version, ErrVersionConflict)
	}

	payment.Version++
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
