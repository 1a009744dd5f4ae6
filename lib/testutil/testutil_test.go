package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupService(t *testing.T) {
	res := SetupService(t, ServiceParams{
		Name:     "testutil",
		DbSchema: "create table if not exists visits (plate text not null)",
	})
	_, err := res.DB.Exec("insert into visits (plate) values ('AB123CD')")
	require.NoError(t, err)

	var count int
	require.NoError(t, res.DB.QueryRow("select count(*) from visits").Scan(&count))
	require.Equal(t, 1, count)
}

func TestSetupServiceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	res := SetupService(t, ServiceParams{Name: "testutil", DbPath: path})
	require.NoError(t, res.DB.Ping())
	require.FileExists(t, path)
}
