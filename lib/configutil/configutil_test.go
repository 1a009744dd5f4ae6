package configutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Cache struct {
		DSN      string `json:"dsn"`
		TTLHours int    `json:"ttl_hours"`
	} `json:"cache"`
	Headless bool `json:"headless"`
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json5"), []byte(`{
		cache: { dsn: "file:prices.db", ttl_hours: 24 },
		headless: false,
	}`), 0666))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.json5"), []byte(`{
		// local override
		cache: { dsn: "postgres://localhost/prices" },
		headless: true,
	}`), 0666))

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "config.json5"))
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/prices", cfg.Cache.DSN)
	require.Equal(t, 24, cfg.Cache.TTLHours)
	require.True(t, cfg.Headless)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadRecursively(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0777))
	require.NoError(t, os.WriteFile(filepath.Join(root, "autoquote.json5"), []byte(`{ headless: true }`), 0666))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	defer os.Chdir(wd)

	cfg, err := ReadRecursively[testConfig]("autoquote.json5")
	require.NoError(t, err)
	require.True(t, cfg.Headless)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AQ_TEST_DSN", "libsql://prices.turso.io")
	t.Setenv("AQ_TEST_HEADLESS", "false")
	t.Setenv("AQ_TEST_PAUSE", "1500ms")
	t.Setenv("AQ_TEST_BROKEN", "sometimes")

	dsn := "file:prices.db"
	EnvString(&dsn, "AQ_TEST_DSN")
	require.Equal(t, "libsql://prices.turso.io", dsn)

	headless := true
	EnvBool(&headless, "AQ_TEST_HEADLESS")
	require.False(t, headless)

	broken := true
	EnvBool(&broken, "AQ_TEST_BROKEN")
	require.True(t, broken)

	pause := time.Second
	EnvDuration(&pause, "AQ_TEST_PAUSE")
	require.Equal(t, 1500*time.Millisecond, pause)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("AQ_TEST_DOTENV=loaded\n"), 0666))
	t.Setenv("AQ_TEST_DOTENV", "")
	os.Unsetenv("AQ_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(file, filepath.Join(dir, "missing.env")))
	require.Equal(t, "loaded", os.Getenv("AQ_TEST_DOTENV"))
}

func TestOverlay(t *testing.T) {
	base := testConfig{Headless: true}
	base.Cache.DSN = "file:prices.db"

	merged, err := Overlay(base, []byte(`{ cache: { ttl_hours: 6 } }`))
	require.NoError(t, err)
	require.Equal(t, "file:prices.db", merged.Cache.DSN)
	require.Equal(t, 6, merged.Cache.TTLHours)
	require.True(t, merged.Headless)

	_, err = Overlay(base, []byte(`{ cache: `))
	require.Error(t, err)
}
