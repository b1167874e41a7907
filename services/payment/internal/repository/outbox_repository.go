package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Outbox 이벤트 상태
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
)

// OutboxEvent Outbox 이벤트
type OutboxEvent struct {
	ID            int64           `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"` // 발행 토픽
	EventKey      string          `db:"event_key"`
	Payload       json.RawMessage `db:"payload"`
	Status        string          `db:"status"`
	CreatedAt     time.Time       `db:"created_at"`
	SentAt        *time.Time      `db:"sent_at"`
}

// OutboxRepository Outbox 레포지토리 인터페이스
type OutboxRepository interface {
	// Insert ctx에 트랜잭션이 있으면 그 트랜잭션 안에서 삽입
	Insert(ctx context.Context, event *OutboxEvent) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkSent(ctx context.Context, id int64) error
}

type outboxRepository struct {
	db *sqlx.DB
}

// NewOutboxRepository Outbox 레포지토리 생성
func NewOutboxRepository(db *sqlx.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

// Insert Outbox 이벤트 삽입
func (r *outboxRepository) Insert(ctx context.Context, event *OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, event_key, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	if event.Status == "" {
		event.Status = OutboxStatusPending
	}

	err := executor(ctx, r.db).QueryRowxContext(
		ctx,
		query,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		nullString(event.EventKey),
		[]byte(event.Payload),
		event.Status,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// FindPending 전송 대기 중인 이벤트 조회 (생성 순)
func (r *outboxRepository) FindPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, COALESCE(event_key, '') AS event_key,
			payload, status, created_at, sent_at
		FROM outbox_events
		WHERE status = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`

	var events []*OutboxEvent
	if err := sqlx.SelectContext(ctx, executor(ctx, r.db), &events, query, OutboxStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to find pending events: %w", err)
	}

	return events, nil
}

// MarkSent 이벤트를 전송 완료로 표시
func (r *outboxRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, sent_at = NOW()
		WHERE id = $2
	`

	if _, err := executor(ctx, r.db).ExecContext(ctx, query, OutboxStatusSent, id); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}

	return nil
}
