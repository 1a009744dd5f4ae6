package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"autoquote-backend/lib/telemetry"
	"autoquote-backend/pkg/migrations"
)

type ServiceParams struct {
	Name string
	// if unspecified, it will skip migrating the db
	DbSchema string
	// if unspecified, it will use `:memory:`
	DbPath string
}

type ServiceResult struct {
	DB *sql.DB
}

// SetupService sets up telemetry for the test and opens a sqlite database
// with the schema applied, both are released when the test ends.
func SetupService(t testing.TB, params ServiceParams) ServiceResult {
	t.Helper()
	cleanup := telemetry.SetupForTesting(fmt.Sprintf("test:%s", params.Name))
	t.Cleanup(cleanup)

	dbpath := ":memory:"
	if params.DbPath != "" {
		dbpath = params.DbPath
	}
	db, err := migrations.OpenDB(dbpath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if params.DbSchema != "" {
		err = migrations.Migrate(context.Background(), db, params.DbSchema)
		if err != nil {
			t.Fatal(err)
		}
	}
	return ServiceResult{DB: db}
}
