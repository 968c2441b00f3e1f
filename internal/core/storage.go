package core

import (
	"fmt"
	"os"
	"strings"

	"fieldtrial/internal/infra/persistence/memory"
	"fieldtrial/internal/infra/persistence/postgres"
	"fieldtrial/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// Environment variables consulted by OpenPersistentStore.
const (
	EnvStorageDriver = "FIELDTRIAL_STORAGE_DRIVER"
	EnvSQLitePath    = "FIELDTRIAL_SQLITE_PATH"
	EnvPostgresDSN   = "FIELDTRIAL_POSTGRES_DSN"
)

// OpenPersistentStore selects a backend using environment variables.
//
//	FIELDTRIAL_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	FIELDTRIAL_SQLITE_PATH: path to sqlite file (default ./fieldtrial.db)
//	FIELDTRIAL_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv(EnvStorageDriver)))
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		s, err := sqlite.NewStore(os.Getenv(EnvSQLitePath), engine)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		s, err := postgres.NewStore(os.Getenv(EnvPostgresDSN), engine)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// NewMemoryStore constructs an in-memory store backed by the provided rules engine.
func NewMemoryStore(engine *RulesEngine) *memory.Store {
	return memory.NewStore(engine)
}
