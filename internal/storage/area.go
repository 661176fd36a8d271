// Package storage holds the attachment side of the store: the pluggable
// storage area, the zlib codec, the bounded read-through cache, and the
// accessor that ties them together and produces FileInfo descriptors.
package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"dicomcore/pkg/domain"
)

// Driver identifies a storage area implementation.
type Driver string

const (
	DriverMemory     Driver = "memory"
	DriverFilesystem Driver = "filesystem"
	DriverS3         Driver = "s3"
)

// Area is the pluggable blob store holding attachment payloads. Content is
// addressed by a caller-generated uuid plus the attachment kind; the area
// never interprets the bytes.
//
// Implementations must be safe for concurrent use.
type Area interface {
	// Create writes a payload exactly once. Writing an existing uuid is an
	// error. A nil buffer with a positive declared size reports NullPointer.
	Create(ctx context.Context, uuid string, content []byte, kind domain.FileContentType) error

	// Read returns the whole payload. An unknown uuid reports InexistentFile.
	// The returned slice is owned by the caller.
	Read(ctx context.Context, uuid string, kind domain.FileContentType) ([]byte, error)

	// ReadRange returns the half-open byte range [start, end). It reports
	// BadRange when start exceeds end or end exceeds the payload size. An
	// empty range yields an empty buffer.
	ReadRange(ctx context.Context, uuid string, kind domain.FileContentType, start, end uint64) ([]byte, error)

	// HasReadRange advertises whether ReadRange avoids reading the whole
	// payload.
	HasReadRange() bool

	// Remove deletes a payload. Removing an unknown uuid is not an error.
	Remove(ctx context.Context, uuid string, kind domain.FileContentType) error
}

// Environment variables:
//
//	DICOMCORE_STORAGE_DRIVER=memory|filesystem|s3 (default memory)
//	DICOMCORE_STORAGE_ROOT=<dir> (filesystem driver; default ./dicomstorage)
//
// The s3 driver reads its own DICOMCORE_STORAGE_S3_* variables, documented in
// the s3 subpackage.

// OpenAreaFromEnv selects and constructs the storage area from process
// environment. The s3 driver is wired by the caller to avoid importing the
// AWS SDK here; openS3 may be nil when the binary does not ship it.
func OpenAreaFromEnv(ctx context.Context, openS3 func(context.Context) (Area, error)) (Area, Driver, error) {
	driver := strings.ToLower(strings.TrimSpace(os.Getenv("DICOMCORE_STORAGE_DRIVER")))
	switch driver {
	case "", string(DriverMemory):
		return NewMemoryArea(), DriverMemory, nil
	case string(DriverFilesystem):
		root := strings.TrimSpace(os.Getenv("DICOMCORE_STORAGE_ROOT"))
		if root == "" {
			root = "./dicomstorage"
		}
		area, err := NewFilesystemArea(root)
		if err != nil {
			return nil, DriverFilesystem, err
		}
		return area, DriverFilesystem, nil
	case string(DriverS3):
		if openS3 == nil {
			return nil, DriverS3, fmt.Errorf("s3 storage driver not linked in")
		}
		area, err := openS3(ctx)
		if err != nil {
			return nil, DriverS3, err
		}
		return area, DriverS3, nil
	default:
		return nil, Driver(driver), fmt.Errorf("unknown storage driver %q", driver)
	}
}
