package core

import (
	"fmt"
	"os"

	"modeldb/internal/storage"
	"modeldb/internal/storage/docstore"
	"modeldb/internal/storage/relstore"
)

// StorageDriver identifies a metadata storage backend.
type StorageDriver string

// Supported storage drivers.
const (
	StorageDocument StorageDriver = "document"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// OpenStore selects a storage backend using environment variables.
// Defaults to sqlite when unset.
//
//	MODELDB_STORAGE_DRIVER: document|sqlite|postgres (default sqlite)
//	MODELDB_SQLITE_PATH: path to sqlite file (default ./modeldb.db)
//	MODELDB_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStore(cfg storage.Config) (storage.Store, error) {
	driver := os.Getenv("MODELDB_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageDocument:
		return docstore.New(), nil
	case StorageSQLite:
		return relstore.NewSQLite(os.Getenv("MODELDB_SQLITE_PATH"), cfg)
	case StoragePostgres:
		dsn := os.Getenv("MODELDB_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("MODELDB_POSTGRES_DSN required for postgres driver")
		}
		return relstore.NewPostgres(dsn, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
