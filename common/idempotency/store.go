package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store 멱등성 키 저장소 인터페이스
//
// 중복 메시지를 DB까지 보내지 않기 위한 빠른 경로일 뿐이며, 최종 중복 방지는
// payments.reservation_id 유니크 인덱스가 담당한다.
type Store interface {
	// Reserve 멱등성 키를 예약 (이미 존재하면 false 반환)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// MarkProcessed 키를 처리 완료로 기록 (기존 키의 TTL을 덮어쓴다)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) error
	// IsProcessed 이미 처리된 키인지 확인
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release 멱등성 키 해제
	Release(ctx context.Context, key string) error
}

// RedisStore Redis 기반 멱등성 저장소
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore Redis 기반 멱등성 저장소 생성
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Reserve 멱등성 키 예약
func (s *RedisStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetNX(ctx, s.getFullKey(key), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return result, nil
}

// MarkProcessed 처리 완료 기록
func (s *RedisStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.getFullKey(key), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark idempotency key: %w", err)
	}
	return nil
}

// IsProcessed 이미 처리된 키인지 확인
func (s *RedisStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.Exists(ctx, s.getFullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	return exists > 0, nil
}

// Release 멱등성 키 해제
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.getFullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) getFullKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// NoopStore Redis 없이 동작할 때 사용하는 저장소 (항상 미처리로 응답)
type NoopStore struct{}

func (NoopStore) Reserve(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (NoopStore) MarkProcessed(context.Context, string, time.Duration) error   { return nil }
func (NoopStore) IsProcessed(context.Context, string) (bool, error)            { return false, nil }
func (NoopStore) Release(context.Context, string) error                        { return nil }
