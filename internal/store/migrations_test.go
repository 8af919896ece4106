package store

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsInNameOrder(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	names := make([]string, len(migrations))
	for i, m := range migrations {
		names[i] = m.name
		assert.NotEmpty(t, m.sql, m.name)
	}
	assert.True(t, sort.StringsAreSorted(names), "got %v", names)
	assert.Equal(t, "001_jobs.sql", names[0])
	assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS")
}
