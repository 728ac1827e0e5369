// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/libfinder/internal/model"
)

// UserStateRepository はLINEユーザーごとの会話状態の永続化インターフェース。
// 更新はVersionによる条件付き書き込みで行い、競合時はmodel.ErrStateConflictを返す。
type UserStateRepository interface {
	// Find は指定ユーザーの会話状態を取得する。見つからない場合はnilを返す。
	// 保存内容が破損している場合はmodel.ErrMalformedStateを返す。
	Find(ctx context.Context, userID string) (*model.UserState, error)

	// Reset は候補図書館とお気に入り図書館を空にした状態で保存する。
	// 既存レコードの有無にかかわらず成功する。
	Reset(ctx context.Context, userID string) error

	// Save は会話状態を条件付きで保存する。
	// state.Versionが0の場合はレコードが存在しないときのみ作成する。
	// 保存済みのVersionと一致しない場合はmodel.ErrStateConflictを返す。
	// 成功時はstate.VersionとUpdatedAtを更新後の値に書き換える。
	Save(ctx context.Context, state *model.UserState) error
}
