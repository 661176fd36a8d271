package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dicomcore/pkg/domain"
)

// Accessor is the single entry point for attachment payloads. It generates
// storage uuids, applies the configured compression, computes checksums,
// keeps the read-through cache coherent and emits metrics. The index only
// ever sees the FileInfo descriptors it returns.
type Accessor struct {
	area    Area
	cache   *Cache
	metrics *Metrics
	log     zerolog.Logger
}

// NewAccessor wires an accessor. The cache may be nil to bypass caching and
// metrics may be nil to skip instrumentation.
func NewAccessor(area Area, cache *Cache, metrics *Metrics, log zerolog.Logger) *Accessor {
	return &Accessor{area: area, cache: cache, metrics: metrics, log: log}
}

func fullKey(uuid string, kind domain.FileContentType) string {
	return fmt.Sprintf("%s:%d:full", uuid, kind)
}

func prefixKey(uuid string, kind domain.FileContentType) string {
	return fmt.Sprintf("%s:%d:prefix", uuid, kind)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Write persists one payload and returns its descriptor. The payload enters
// the cache in uncompressed form only after the backend write succeeded, so
// a failed write leaves the cache untouched.
func (a *Accessor) Write(ctx context.Context, data []byte, kind domain.FileContentType,
	compression domain.CompressionType, storeMD5 bool) (domain.FileInfo, error) {
	id := uuid.NewString()

	var uncompressedMD5 string
	if storeMD5 {
		uncompressedMD5 = md5Hex(data)
	}

	var info domain.FileInfo
	var stored []byte
	switch compression {
	case domain.CompressionNone:
		stored = data
		info = domain.NewFileInfo(id, kind, uint64(len(data)), uncompressedMD5)

	case domain.CompressionZlibWithSize:
		compressed, err := compressZlibWithSize(data)
		if err != nil {
			return domain.FileInfo{}, err
		}
		var compressedMD5 string
		if storeMD5 {
			compressedMD5 = md5Hex(compressed)
		}
		stored = compressed
		info = domain.NewCompressedFileInfo(id, kind, uint64(len(data)), uncompressedMD5,
			uint64(len(compressed)), compressedMD5)

	default:
		return domain.FileInfo{}, domain.Errorf(domain.ErrParameterOutOfRange,
			"unsupported compression %s", compression)
	}

	start := time.Now()
	if err := a.area.Create(ctx, id, stored, kind); err != nil {
		return domain.FileInfo{}, err
	}
	a.metrics.observeCreate(start, len(stored))

	if a.cache != nil {
		a.cache.Add(fullKey(id, kind), data)
	}
	a.log.Debug().Str("uuid", id).Int("kind", int(kind)).
		Uint64("uncompressed", info.UncompressedSize).Uint64("compressed", info.CompressedSize).
		Msg("attachment written")
	return info, nil
}

// Read returns the uncompressed payload described by info. Reads are served
// from the cache when possible; concurrent misses on the same attachment
// share one backend read. The returned slice is the caller's to mutate,
// cache hits hand out a copy of the resident buffer.
func (a *Accessor) Read(ctx context.Context, info domain.FileInfo) ([]byte, error) {
	load := func() ([]byte, error) {
		a.metrics.observeCacheMiss()
		start := time.Now()
		raw, err := a.area.Read(ctx, info.UUID, info.ContentType)
		if err != nil {
			return nil, err
		}
		data, err := a.decode(info, raw)
		if err != nil {
			return nil, err
		}
		a.metrics.observeRead(start, len(data))
		return data, nil
	}

	if a.cache == nil {
		return load()
	}
	key := fullKey(info.UUID, info.ContentType)
	if data, ok := a.cache.Fetch(key); ok {
		a.metrics.observeCacheHit()
		return data, nil
	}
	return a.cache.GetOrLoad(key, load)
}

func (a *Accessor) decode(info domain.FileInfo, raw []byte) ([]byte, error) {
	switch info.CompressionType {
	case domain.CompressionNone:
		if uint64(len(raw)) != info.UncompressedSize {
			return nil, domain.Errorf(domain.ErrBadFileFormat,
				"attachment %s has %d bytes, descriptor says %d", info.UUID, len(raw), info.UncompressedSize)
		}
		return raw, nil
	case domain.CompressionZlibWithSize:
		data, err := uncompressZlibWithSize(raw)
		if err != nil {
			return nil, err
		}
		if uint64(len(data)) != info.UncompressedSize {
			return nil, domain.Errorf(domain.ErrBadFileFormat,
				"attachment %s decompresses to %d bytes, descriptor says %d", info.UUID, len(data), info.UncompressedSize)
		}
		return data, nil
	default:
		return nil, domain.Errorf(domain.ErrNotImplemented,
			"unsupported compression %s", info.CompressionType)
	}
}

// ReadRaw returns the payload as stored, without decompression or caching.
func (a *Accessor) ReadRaw(ctx context.Context, info domain.FileInfo) ([]byte, error) {
	start := time.Now()
	raw, err := a.area.Read(ctx, info.UUID, info.ContentType)
	if err != nil {
		return nil, err
	}
	a.metrics.observeRead(start, len(raw))
	return raw, nil
}

// ReadStartRange serves the first end bytes of an uncompressed attachment,
// the path used to fetch a DICOM header without its pixel data. A cached
// longer prefix satisfies any shorter request by truncation.
func (a *Accessor) ReadStartRange(ctx context.Context, uuid string, kind domain.FileContentType, end uint64) ([]byte, error) {
	key := prefixKey(uuid, kind)
	if a.cache != nil {
		if cached, ok := a.cache.Fetch(key); ok && uint64(len(cached)) >= end {
			a.metrics.observeCacheHit()
			return cached[:end], nil
		}
	}

	a.metrics.observeCacheMiss()
	start := time.Now()
	var data []byte
	var err error
	if a.area.HasReadRange() {
		data, err = a.area.ReadRange(ctx, uuid, kind, 0, end)
	} else {
		data, err = a.area.Read(ctx, uuid, kind)
		if err == nil {
			if end > uint64(len(data)) {
				return nil, domain.Errorf(domain.ErrBadRange,
					"range end %d beyond payload size %d", end, len(data))
			}
			data = data[:end]
		}
	}
	if err != nil {
		return nil, err
	}
	a.metrics.observeRead(start, len(data))

	if a.cache != nil {
		a.cache.Add(key, data)
	}
	return data, nil
}

// Remove drops the payload and every cache entry derived from it. The cache
// is invalidated first so a lost backend deletion can only leave an orphaned
// blob, never a stale cached read.
func (a *Accessor) Remove(ctx context.Context, uuid string, kind domain.FileContentType) error {
	if a.cache != nil {
		a.cache.Invalidate(uuid)
	}
	start := time.Now()
	if err := a.area.Remove(ctx, uuid, kind); err != nil {
		return err
	}
	a.metrics.observeRemove(start)
	a.log.Debug().Str("uuid", uuid).Int("kind", int(kind)).Msg("attachment removed")
	return nil
}

// Area exposes the underlying storage area, for startup integrity checks.
func (a *Accessor) Area() Area {
	return a.area
}
