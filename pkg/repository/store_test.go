package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/docflow/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type note struct {
	ID    int64 `gorm:"primaryKey"`
	Owner string
	Body  string
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&note{}))
	return conn
}

func TestStoreInsertFindDelete(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	store := NewStore[note]()

	require.NoError(t, store.Insert(ctx, conn, &note{ID: 1, Owner: "a", Body: "first"}))
	require.NoError(t, store.InsertAll(ctx, conn, []note{
		{ID: 2, Owner: "a", Body: "second"},
		{ID: 3, Owner: "b", Body: "third"},
	}))
	require.NoError(t, store.InsertAll(ctx, conn, nil))

	rows, err := store.Find(ctx, conn, &note{Owner: "a"}, option.WithOrder("id DESC"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)

	got, ok, err := store.First(ctx, conn, &note{Owner: "b"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "third", got.Body)

	_, ok, err = store.First(ctx, conn, &note{Owner: "nobody"})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.DeleteWhere(ctx, conn, "owner = ?", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.DeleteWhere(ctx, conn, "owner = ?", "a")
	require.NoError(t, err)
	assert.Zero(t, n)
}
