// Package model はドメインモデルを定義する。
package model

import "encoding/json"

// LibraryRecord はカーリル図書館APIが返す図書館情報のスナップショット。
// お気に入り登録後も内容は変更しない。
// LibKey はシステム内の館（分館・配架グループ）を識別するキーで、蔵書検索結果の照合に使う。
type LibraryRecord struct {
	LibID      string      `json:"libid"`
	SystemID   string      `json:"systemid"`
	SystemName string      `json:"systemname,omitempty"`
	LibKey     string      `json:"libkey"`
	Short      string      `json:"short"`
	Formal     string      `json:"formal"`
	Address    string      `json:"address"`
	URLPC      string      `json:"url_pc,omitempty"`
	Geocode    string      `json:"geocode,omitempty"`
	Category   string      `json:"category,omitempty"`
	Distance   json.Number `json:"distance,omitempty"`
}
