package domain

import "fmt"

// FileContentType identifies the kind of an attachment. Values below
// FileContentTypeStartUser are reserved; user-defined kinds live in
// [FileContentTypeStartUser, FileContentTypeEndUser]. Only updates to
// user-defined kinds are surfaced in the change log.
type FileContentType int

const (
	FileContentTypeDicom       FileContentType = 1
	FileContentTypeDicomAsJSON FileContentType = 2

	FileContentTypeStartUser FileContentType = 1024
	FileContentTypeEndUser   FileContentType = 65535
)

// IsUserDefined reports whether the kind belongs to the user range.
func (c FileContentType) IsUserDefined() bool {
	return c >= FileContentTypeStartUser && c <= FileContentTypeEndUser
}

// CompressionType tells how an attachment is encoded inside the storage
// area. The values are persisted in the index.
type CompressionType int

const (
	// CompressionNone stores the payload verbatim.
	CompressionNone CompressionType = 1
	// CompressionZlibWithSize prefixes a zlib stream with the uncompressed
	// size as a little-endian uint64.
	CompressionZlibWithSize CompressionType = 2
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "None"
	case CompressionZlibWithSize:
		return "ZlibWithSize"
	default:
		return fmt.Sprintf("CompressionType(%d)", int(c))
	}
}

// FileInfo describes one attachment as stored in the storage area and
// registered in the index. UUID is the storage key. The MD5 fields are empty
// when checksums were disabled at write time.
type FileInfo struct {
	UUID             string
	ContentType      FileContentType
	UncompressedSize uint64
	UncompressedMD5  string
	CompressionType  CompressionType
	CompressedSize   uint64
	CompressedMD5    string
}

// NewFileInfo describes an uncompressed attachment, where the compressed and
// uncompressed views coincide.
func NewFileInfo(uuid string, contentType FileContentType, size uint64, md5 string) FileInfo {
	return FileInfo{
		UUID:             uuid,
		ContentType:      contentType,
		UncompressedSize: size,
		UncompressedMD5:  md5,
		CompressionType:  CompressionNone,
		CompressedSize:   size,
		CompressedMD5:    md5,
	}
}

// NewCompressedFileInfo describes an attachment stored under
// CompressionZlibWithSize.
func NewCompressedFileInfo(uuid string, contentType FileContentType,
	uncompressedSize uint64, uncompressedMD5 string,
	compressedSize uint64, compressedMD5 string) FileInfo {
	return FileInfo{
		UUID:             uuid,
		ContentType:      contentType,
		UncompressedSize: uncompressedSize,
		UncompressedMD5:  uncompressedMD5,
		CompressionType:  CompressionZlibWithSize,
		CompressedSize:   compressedSize,
		CompressedMD5:    compressedMD5,
	}
}

// StoreStatistics aggregates the global counters of one index database.
type StoreStatistics struct {
	TotalUncompressedSize uint64
	TotalCompressedSize   uint64
	CountPatients         uint64
	CountStudies          uint64
	CountSeries           uint64
	CountInstances        uint64
}

// ResourceStatistics aggregates the counters of one resource subtree. Counts
// below the resource's own level are zero when it has no such descendants.
type ResourceStatistics struct {
	Level            ResourceType
	UncompressedSize uint64
	CompressedSize   uint64
	CountStudies     uint64
	CountSeries      uint64
	CountInstances   uint64
	CountAttachments uint64
}
