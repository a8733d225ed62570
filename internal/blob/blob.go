// Package blob selects and exposes blob storage backends behind the core
// abstraction.
package blob

import (
	"context"
	"fmt"
	"os"

	"trackcore/internal/blob/core"
	"trackcore/internal/infra/blob/fs"
	"trackcore/internal/infra/blob/memory"
	"trackcore/internal/infra/blob/s3"
)

// Aliases re-export the core abstraction so callers need a single import.
type (
	// Store is the blob storage interface.
	Store = core.Store
	// Driver identifies a backend implementation.
	Driver = core.Driver
	// Info describes a stored blob.
	Info = core.Info
	// PutOptions specifies optional parameters for Put.
	PutOptions = core.PutOptions
	// SignedURLOptions holds options for generating a pre-signed URL.
	SignedURLOptions = core.SignedURLOptions
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

// ErrUnsupported aliases the core sentinel.
var ErrUnsupported = core.ErrUnsupported

// Open selects a blob store implementation using environment variables.
//
//	TRACKCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	TRACKCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("TRACKCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("TRACKCORE_BLOB_FS_ROOT")
		return fs.New(root)
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
