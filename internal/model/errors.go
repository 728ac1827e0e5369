// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStateConflict は会話状態の条件付き更新が他の更新と競合したことを示す。
	// 呼び出し元は再読み込みしてリトライできる。
	ErrStateConflict = errors.New("user state was modified concurrently")

	// ErrMalformedState は保存済みの会話状態が欠損または破損していることを示す。
	ErrMalformedState = errors.New("malformed user state")
)

// MalformedStateError は破損した会話状態の詳細を保持する。
type MalformedStateError struct {
	UserID string
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *MalformedStateError) Error() string {
	return fmt.Sprintf("malformed user state: user_id=%s field=%s: %s", e.UserID, e.Field, e.Reason)
}

// Is はerrors.Is(err, ErrMalformedState)を成立させる。
func (e *MalformedStateError) Is(target error) bool {
	return target == ErrMalformedState
}
