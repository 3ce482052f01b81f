package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dataspace/internal/infra/persistence/memory"
	"dataspace/internal/infra/persistence/postgres"
	"dataspace/internal/infra/persistence/s3"
	"dataspace/internal/infra/persistence/sqlite"
	"dataspace/pkg/domain"
)

// Storage driver selection via environment:
//   DATASPACE_STORAGE_DRIVER=memory|sqlite|postgres|s3 (default memory)
//   DATASPACE_SQLITE_PATH=<file> (sqlite only)
//   DATASPACE_POSTGRES_DSN=<dsn> (postgres only)
//   DATASPACE_S3_BUCKET etc. (s3 only, see the s3 package)

const (
	envStorageDriver = "DATASPACE_STORAGE_DRIVER"
	envSQLitePath    = "DATASPACE_SQLITE_PATH"
	envPostgresDSN   = "DATASPACE_POSTGRES_DSN"
)

// OpenDriver constructs the document driver selected by the environment.
func OpenDriver(ctx context.Context) (domain.Driver, error) {
	driverName := strings.ToLower(strings.TrimSpace(os.Getenv(envStorageDriver)))
	switch driverName {
	case "", "memory":
		return memory.NewDriver(), nil
	case "sqlite":
		return sqlite.NewDriver(os.Getenv(envSQLitePath))
	case "postgres":
		return postgres.NewDriver(os.Getenv(envPostgresDSN))
	case "s3":
		return s3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driverName)
	}
}
