package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a blob store using environment variables:
//
//	MODELDB_BLOB_DRIVER: memory|fs|s3 (default fs)
//	MODELDB_BLOB_FS_ROOT: directory root when driver=fs (default ./artifactdata)
//	(S3-specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("MODELDB_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("MODELDB_BLOB_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
