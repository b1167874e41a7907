package domain

import (
	"fmt"

	"github.com/teambind/payment-server/common/errors"
)

// Operation 상태 전이를 일으키는 도메인 연산
type Operation string

const (
	OpApprove  Operation = "approve"
	OpComplete Operation = "complete"
	OpCancel   Operation = "cancel"
	OpFail     Operation = "fail"
)

// transitionTable (현재 상태, 연산) -> 다음 상태
//
// 표에 없는 조합은 모두 거부된다. Payment와 Refund가 같은 메커니즘을 공유한다.
type transitionTable[S ~string] map[S]map[Operation]S

func (t transitionTable[S]) allows(from S, op Operation) bool {
	_, ok := t[from][op]
	return ok
}

func (t transitionTable[S]) next(entity, id string, from S, op Operation) (S, error) {
	if to, ok := t[from][op]; ok {
		return to, nil
	}
	return from, errors.New(errors.ErrCodeInvalidTransition,
		fmt.Sprintf("%s %s cannot %s from status %s", entity, id, op, from)).
		With("entity", entity).
		With("id", id).
		With("currentStatus", string(from)).
		With("operation", string(op))
}
