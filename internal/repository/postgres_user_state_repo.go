package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/libfinder/internal/model"
)

// PostgresUserStateRepo はPostgreSQLを使用した会話状態リポジトリ。
// 候補図書館とお気に入り図書館はJSONBカラムに保存する。
type PostgresUserStateRepo struct {
	db *sql.DB
}

// NewPostgresUserStateRepo はPostgresUserStateRepoを生成する。
func NewPostgresUserStateRepo(db *sql.DB) *PostgresUserStateRepo {
	return &PostgresUserStateRepo{db: db}
}

// Find は指定ユーザーの会話状態を取得する。見つからない場合はnilを返す。
func (r *PostgresUserStateRepo) Find(ctx context.Context, userID string) (*model.UserState, error) {
	var (
		libraries          []byte
		favorites          []byte
		librariesUpdatedAt sql.NullTime
	)
	state := &model.UserState{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, libraries, favorites, version, libraries_updated_at, updated_at
		 FROM user_states WHERE user_id = $1`,
		userID,
	).Scan(&state.UserID, &libraries, &favorites, &state.Version, &librariesUpdatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user state: %w", err)
	}

	state.Libraries, err = decodeLibraryList(userID, "libraries", libraries)
	if err != nil {
		return nil, err
	}
	state.Favorites, err = decodeLibraryList(userID, "favorites", favorites)
	if err != nil {
		return nil, err
	}
	if librariesUpdatedAt.Valid {
		state.LibrariesUpdatedAt = librariesUpdatedAt.Time
	}

	return state, nil
}

// Reset は候補図書館とお気に入り図書館を空にした状態で保存する。
func (r *PostgresUserStateRepo) Reset(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_states (user_id, libraries, favorites, version, libraries_updated_at, created_at, updated_at)
		 VALUES ($1, '[]'::jsonb, '[]'::jsonb, 1, NULL, now(), now())
		 ON CONFLICT (user_id) DO UPDATE SET
		   libraries = '[]'::jsonb,
		   favorites = '[]'::jsonb,
		   version = user_states.version + 1,
		   libraries_updated_at = NULL,
		   updated_at = now()`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to reset user state: %w", err)
	}
	return nil
}

// Save は会話状態をVersionによる条件付き書き込みで保存する。
func (r *PostgresUserStateRepo) Save(ctx context.Context, state *model.UserState) error {
	libraries, err := encodeLibraryList(state.Libraries)
	if err != nil {
		return fmt.Errorf("failed to encode libraries: %w", err)
	}
	favorites, err := encodeLibraryList(state.Favorites)
	if err != nil {
		return fmt.Errorf("failed to encode favorites: %w", err)
	}

	var librariesUpdatedAt sql.NullTime
	if !state.LibrariesUpdatedAt.IsZero() {
		librariesUpdatedAt = sql.NullTime{Time: state.LibrariesUpdatedAt, Valid: true}
	}

	var (
		version   int64
		updatedAt time.Time
	)
	if state.Version == 0 {
		err = r.db.QueryRowContext(ctx,
			`INSERT INTO user_states (user_id, libraries, favorites, version, libraries_updated_at, created_at, updated_at)
			 VALUES ($1, $2, $3, 1, $4, now(), now())
			 ON CONFLICT (user_id) DO NOTHING
			 RETURNING version, updated_at`,
			state.UserID, libraries, favorites, librariesUpdatedAt,
		).Scan(&version, &updatedAt)
	} else {
		err = r.db.QueryRowContext(ctx,
			`UPDATE user_states SET
			   libraries = $2,
			   favorites = $3,
			   libraries_updated_at = $4,
			   version = version + 1,
			   updated_at = now()
			 WHERE user_id = $1 AND version = $5
			 RETURNING version, updated_at`,
			state.UserID, libraries, favorites, librariesUpdatedAt, state.Version,
		).Scan(&version, &updatedAt)
	}

	if err == sql.ErrNoRows {
		return model.ErrStateConflict
	}
	if err != nil {
		return fmt.Errorf("failed to save user state: %w", err)
	}

	state.Version = version
	state.UpdatedAt = updatedAt
	return nil
}

// encodeLibraryList は図書館リストをJSON配列の文字列にエンコードする。nilは空配列として扱う。
func encodeLibraryList(list []model.LibraryRecord) (string, error) {
	if list == nil {
		list = []model.LibraryRecord{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// decodeLibraryList はJSONBカラムの値を図書館リストにデコードする。
// NULLや配列以外の値は破損として扱う。
func decodeLibraryList(userID, field string, data []byte) ([]model.LibraryRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &model.MalformedStateError{UserID: userID, Field: field, Reason: "value is null"}
	}

	var list []model.LibraryRecord
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, &model.MalformedStateError{UserID: userID, Field: field, Reason: err.Error()}
	}

	return list, nil
}
