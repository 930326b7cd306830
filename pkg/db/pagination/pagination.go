package pagination

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// DefaultLimit matches the page size option.ApplyPagination falls back to.
const DefaultLimit = 10

type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=10" validate:"gte=1,lte=250"` // Min 1, Max 250
}

type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// BuildCursorPageInfo trims an over-fetched result slice back to limit and
// reports whether more rows exist past the returned page. The next cursor is
// the encoded created_at of the last returned row, matching what
// option.ApplyPagination decodes.
func BuildCursorPageInfo[T any](data []*T, limit int, cursorAt func(*T) time.Time) ([]*T, PageInfo) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(data) == 0 {
		return data, PageInfo{}
	}

	hasMore := false
	if len(data) > limit {
		hasMore = true
		data = data[:limit]
	}

	next, err := EncodeCursor(Cursor{
		CreatedAt: cursorAt(data[len(data)-1]).Format(time.RFC3339Nano),
	})
	if err != nil {
		return data, PageInfo{HasMore: hasMore}
	}

	return data, PageInfo{
		HasMore:    hasMore,
		NextCursor: next,
	}
}
