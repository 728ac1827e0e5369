package calil

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hitoshi/libfinder/internal/model"
)

// SearchLimit は位置情報による図書館検索の取得件数。
const SearchLimit = 8

// SearchLibraries は指定座標の近くにある図書館を距離順に取得する。
// 緯度経度は受信した文字列表現をそのまま使い、精度を落とさない。
func (c *Client) SearchLibraries(ctx context.Context, latitude, longitude string) ([]model.LibraryRecord, error) {
	if latitude == "" || longitude == "" {
		return nil, fmt.Errorf("緯度経度が指定されていません")
	}

	q := url.Values{}
	q.Set("appkey", c.config.AppKey)
	q.Set("geocode", longitude+","+latitude)
	q.Set("format", "json")
	q.Set("callback", "")
	q.Set("limit", strconv.Itoa(SearchLimit))

	var libraries []model.LibraryRecord
	if err := c.getJSON(ctx, "/library", q, &libraries); err != nil {
		return nil, err
	}
	if libraries == nil {
		libraries = []model.LibraryRecord{}
	}

	return libraries, nil
}
