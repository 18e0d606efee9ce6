package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, 10, Pagination{PageSize: 10}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Size())
}

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(Cursor{ID: "1780000000000000001"})
	assert.NotContains(t, token, "=")

	c, err := DecodeCursor(token)
	require.NoError(t, err)
	after, err := c.After()
	require.NoError(t, err)
	assert.Equal(t, int64(1780000000000000001), after)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"abc", "!!!", EncodeCursor(Cursor{ID: "x"}), EncodeCursor(Cursor{})} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidPageToken, token)
	}
}

func TestTrim(t *testing.T) {
	type row struct{ id string }
	rows := []*row{{"5"}, {"4"}, {"3"}}
	cursorOf := func(r *row) Cursor { return Cursor{ID: r.id} }

	page, info := Trim(rows, 2, cursorOf)
	assert.Len(t, page, 2)
	assert.True(t, info.HasMore)
	c, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "4", c.ID)

	page, info = Trim(rows, 3, cursorOf)
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
