package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound 조회 대상 없음
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 유니크 제약 위반
	ErrDuplicate = errors.New("duplicate record")
	// ErrVersionConflict 낙관적 락 버전 불일치
	ErrVersionConflict = errors.New("version conflict")
)

const uniqueViolation = "23505"

// TxManager 트랜잭션 경계 관리 인터페이스
//
// fn에 전달되는 ctx에 트랜잭션이 실려 있으며, 같은 ctx로 호출한 레포지토리는
// 모두 같은 트랜잭션 안에서 실행된다.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type sqlxTxManager struct {
	db *sqlx.DB
}

// NewTxManager 트랜잭션 관리자 생성
func NewTxManager(db *sqlx.DB) TxManager {
	return &sqlxTxManager{db: db}
}

// WithinTx fn이 에러 없이 끝나면 커밋, 아니면 롤백
func (m *sqlxTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return errors.Join(err, rollback(tx))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func rollback(tx *sqlx.Tx) error {
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// executor ctx에 트랜잭션이 있으면 트랜잭션, 없으면 DB 커넥션 풀
func executor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
