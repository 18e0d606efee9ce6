package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidPageToken = errors.New("invalid_page_token")

// Pagination requests one page of an id-descending listing.
type Pagination struct {
	PageToken string
	PageSize  int
}

// Size clamps the requested page size to [1, MaxPageSize].
func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

// Cursor identifies the last row handed out. The id is kept as a string so
// snowflake ids survive JSON clients that parse numbers as doubles.
type Cursor struct {
	ID string `json:"id"`
}

// After returns the id the next page starts below.
func (c Cursor) After() (int64, error) {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// EncodeCursor produces an opaque, URL-safe page token.
func EncodeCursor(c Cursor) string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token made by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, ErrInvalidPageToken
	}
	if _, err := c.After(); err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// Trim cuts rows fetched with a limit of size+1 down to one page and
// reports whether another page follows.
func Trim[T any](rows []*T, size int, cursorOf func(*T) Cursor) ([]*T, PageInfo) {
	if len(rows) <= size {
		return rows, PageInfo{}
	}
	rows = rows[:size]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: EncodeCursor(cursorOf(rows[len(rows)-1])),
	}
}
