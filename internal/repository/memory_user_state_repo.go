package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/libfinder/internal/model"
)

// MemoryUserStateRepo はメモリ上に会話状態を保持するリポジトリ。
// PostgresUserStateRepoと同じ条件付き書き込みの規則に従う。
type MemoryUserStateRepo struct {
	mu     sync.Mutex
	states map[string]*model.UserState
	now    func() time.Time
}

// NewMemoryUserStateRepo はMemoryUserStateRepoを生成する。
func NewMemoryUserStateRepo() *MemoryUserStateRepo {
	return &MemoryUserStateRepo{
		states: make(map[string]*model.UserState),
		now:    time.Now,
	}
}

// Find は指定ユーザーの会話状態のコピーを返す。見つからない場合はnilを返す。
func (r *MemoryUserStateRepo) Find(ctx context.Context, userID string) (*model.UserState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.states[userID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

// Reset は候補図書館とお気に入り図書館を空にした状態で保存する。
func (r *MemoryUserStateRepo) Reset(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := model.NewUserState(userID)
	state.Version = 1
	if prev, ok := r.states[userID]; ok {
		state.Version = prev.Version + 1
	}
	state.UpdatedAt = r.now()
	r.states[userID] = state
	return nil
}

// Save は会話状態をVersionによる条件付き書き込みで保存する。
func (r *MemoryUserStateRepo) Save(ctx context.Context, state *model.UserState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.states[state.UserID]
	switch {
	case state.Version == 0 && ok:
		return model.ErrStateConflict
	case state.Version != 0 && (!ok || prev.Version != state.Version):
		return model.ErrStateConflict
	}

	state.Version++
	state.UpdatedAt = r.now()

	r.states[state.UserID] = state.Clone()
	return nil
}
