package model

import "time"

// MaxFavorites はお気に入り図書館の登録上限。
const MaxFavorites = 8

// UserState はLINEユーザーごとの会話状態を表す。
// 会話モードは保持せず、受信メッセージとLibraries/Favoritesの内容から都度判定する。
type UserState struct {
	UserID string
	// Libraries は直近の位置検索で得た候補図書館。選択確定または再検索で破棄される。
	Libraries []LibraryRecord
	// Favorites は登録済みのお気に入り図書館。LibIDで一意、最大MaxFavorites件。
	Favorites []LibraryRecord
	// Version は楽観的排他制御用のバージョン。未保存の状態は0。
	Version            int64
	LibrariesUpdatedAt time.Time
	UpdatedAt          time.Time
}

// NewUserState は空の会話状態を生成する。
func NewUserState(userID string) *UserState {
	return &UserState{
		UserID:    userID,
		Libraries: []LibraryRecord{},
		Favorites: []LibraryRecord{},
	}
}

// Clone は状態のディープコピーを返す。
func (s *UserState) Clone() *UserState {
	c := *s
	c.Libraries = append([]LibraryRecord{}, s.Libraries...)
	c.Favorites = append([]LibraryRecord{}, s.Favorites...)
	return &c
}
