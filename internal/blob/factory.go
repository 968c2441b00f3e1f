package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted by Open. S3 settings live in s3.go.
const (
	EnvDriver = "FIELDTRIAL_BLOB_DRIVER"
	EnvFSRoot = "FIELDTRIAL_BLOB_FS_ROOT"
)

// Open selects a Store implementation using environment variables.
//
//	FIELDTRIAL_BLOB_DRIVER: fs|s3|memory (default fs)
//	FIELDTRIAL_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
func Open(ctx context.Context) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv(EnvDriver)))
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv(EnvFSRoot))
	case DriverS3:
		return OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
