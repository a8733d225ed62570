package blob

import (
	"context"
	"testing"
)

func TestOpenMemory(t *testing.T) {
	t.Setenv("TRACKCORE_BLOB_DRIVER", "memory")
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenFilesystemDefault(t *testing.T) {
	t.Setenv("TRACKCORE_BLOB_DRIVER", "")
	t.Setenv("TRACKCORE_BLOB_FS_ROOT", t.TempDir())
	store, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Setenv("TRACKCORE_BLOB_DRIVER", "gcs")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("TRACKCORE_BLOB_DRIVER", "s3")
	t.Setenv("TRACKCORE_BLOB_S3_BUCKET", "")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
