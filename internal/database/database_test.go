package database

import (
	"testing"

	"github.com/inaciofernandocosta/engage-linked-in-now/internal/config"
	"github.com/inaciofernandocosta/engage-linked-in-now/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLite_Migrates(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&models.Post{}))
	assert.True(t, db.Migrator().HasTable(&models.StoredObject{}))
	assert.True(t, db.Migrator().HasColumn(&models.Post{}, "scheduled_for"))
	assert.True(t, db.Migrator().HasColumn(&models.Post{}, "images"))
}

func TestDialector(t *testing.T) {
	t.Parallel()

	pg := Dialector(&config.Config{DBDriver: "postgres", DBHost: "db", DBPort: "5432"})
	assert.Equal(t, "postgres", pg.Name())

	lite := Dialector(&config.Config{DBDriver: "sqlite", SQLitePath: ":memory:"})
	assert.Equal(t, "sqlite", lite.Name())
}

func TestConnect_SQLite(t *testing.T) {
	cfg := &config.Config{Env: "test", DBDriver: "sqlite", SQLitePath: t.TempDir() + "/engage.db"}

	db, err := Connect(cfg)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable("posts"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}
