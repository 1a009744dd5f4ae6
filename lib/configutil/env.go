package configutil

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads the given .env files (".env" when none are given) into the
// process environment, variables already set are left untouched. Missing
// files are skipped.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		slog.Debug("loaded environment file", "file", f)
	}
	return nil
}

// EnvString overrides *dst with the value of key when it is set.
func EnvString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// EnvBool overrides *dst with the value of key when it is set to something
// strconv.ParseBool understands.
func EnvBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed boolean environment variable", "key", key, "value", v)
		return
	}
	*dst = parsed
}

// EnvDuration overrides *dst with the value of key when it is set to
// something time.ParseDuration understands.
func EnvDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring malformed duration environment variable", "key", key, "value", v)
		return
	}
	*dst = parsed
}
