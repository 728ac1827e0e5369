// Package favorites はお気に入り図書館リストの不変条件を管理する。
// LibIDによる重複排除、登録上限、登録順の維持を保証する。
package favorites

import (
	"errors"

	"github.com/hitoshi/libfinder/internal/model"
)

var (
	// ErrDuplicate は同じLibIDの図書館が登録済みであることを示す。
	ErrDuplicate = errors.New("library is already a favorite")
	// ErrFull はお気に入りが上限に達していることを示す。
	ErrFull = errors.New("favorites are full")
	// ErrIndexOutOfRange は指定番号がリストの範囲外であることを示す。
	ErrIndexOutOfRange = errors.New("favorite index out of range")
)

// List は登録順を保持するお気に入り図書館のリスト。
// 表示上の番号（1始まり）は登録順に対応し、削除用ポストバックの番号として使われる。
type List struct {
	items    []model.LibraryRecord
	capacity int
}

// NewList は既存のお気に入りからListを生成する。
// capacityが0以下の場合はmodel.MaxFavoritesを使用する。
func NewList(items []model.LibraryRecord, capacity int) *List {
	if capacity <= 0 {
		capacity = model.MaxFavorites
	}
	return &List{
		items:    append([]model.LibraryRecord{}, items...),
		capacity: capacity,
	}
}

// Len は登録件数を返す。
func (l *List) Len() int {
	return len(l.items)
}

// Capacity は登録上限を返す。
func (l *List) Capacity() int {
	return l.capacity
}

// Items は登録順のコピーを返す。
func (l *List) Items() []model.LibraryRecord {
	return append([]model.LibraryRecord{}, l.items...)
}

// Find はLibIDが一致する登録済み図書館を返す。
func (l *List) Find(libID string) (model.LibraryRecord, bool) {
	for _, item := range l.items {
		if item.LibID == libID {
			return item, true
		}
	}
	return model.LibraryRecord{}, false
}

// Add は図書館を末尾に追加する。
// 重複時はErrDuplicate、上限到達時はErrFullを返し、リストは変更しない。
// 重複判定は上限判定より優先する。
func (l *List) Add(rec model.LibraryRecord) error {
	if _, ok := l.Find(rec.LibID); ok {
		return ErrDuplicate
	}
	if len(l.items) >= l.capacity {
		return ErrFull
	}
	l.items = append(l.items, rec)
	return nil
}

// Remove は1始まりの番号で指定した図書館を削除して返す。
// 後続の要素は前に詰められるため、削除後の番号は変わる。
func (l *List) Remove(index int) (model.LibraryRecord, error) {
	if index < 1 || index > len(l.items) {
		return model.LibraryRecord{}, ErrIndexOutOfRange
	}
	removed := l.items[index-1]
	l.items = append(l.items[:index-1:index-1], l.items[index:]...)
	return removed, nil
}

// Clear はすべてのお気に入りを削除する。
func (l *List) Clear() {
	l.items = []model.LibraryRecord{}
}
