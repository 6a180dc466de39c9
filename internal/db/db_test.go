package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-booking-backend/config"
	"laundry-booking-backend/internal/model"
)

func TestDialector(t *testing.T) {
	testCases := []struct {
		dsn  string
		want string
	}{
		{dsn: "postgres://u:p@localhost:5432/laundry", want: "postgres"},
		{dsn: "postgresql://localhost/laundry", want: "postgres"},
		{dsn: "host=localhost user=u dbname=laundry", want: "postgres"},
		{dsn: "laundry.db", want: "sqlite"},
		{dsn: "file::memory:?cache=shared", want: "sqlite"},
	}
	for _, tc := range testCases {
		t.Run(tc.dsn, func(t *testing.T) {
			assert.Equal(t, tc.want, Dialector(tc.dsn).Name())
		})
	}
}

func TestInit_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "laundry.db")
	db, err := Init(&config.DatabaseConfig{DSN: dsn, MaxOpenConns: 1})
	require.NoError(t, err)

	for _, table := range []any{&model.PushSubscription{}, &model.CollectionSnapshot{}, &model.QuarantinedSnapshot{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	require.NoError(t, db.Create(&model.PushSubscription{Endpoint: "https://push/1", UserID: "u1", P256DH: "p", Auth: "a"}).Error)
	var subs []model.PushSubscription
	require.NoError(t, db.Where("user_id = ?", "u1").Find(&subs).Error)
	assert.Len(t, subs, 1)
}
