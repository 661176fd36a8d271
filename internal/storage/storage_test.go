package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"dicomcore/pkg/domain"
)

func newTempArea(t *testing.T) *FilesystemArea {
	t.Helper()
	area, err := NewFilesystemArea(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystemArea: %v", err)
	}
	return area
}

func testAreaContract(t *testing.T, area Area) {
	t.Helper()
	ctx := context.Background()
	id := "0123456789abcdef0123456789abcdef01234567"
	payload := []byte("not actually a DICOM file")

	if err := area.Create(ctx, id, payload, domain.FileContentTypeDicom); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := area.Create(ctx, id, payload, domain.FileContentTypeDicom); err == nil {
		t.Fatal("second Create with the same uuid must fail")
	}

	got, err := area.Read(ctx, id, domain.FileContentTypeDicom)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Read returned %q", got)
	}

	slice, err := area.ReadRange(ctx, id, domain.FileContentTypeDicom, 4, 12)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if !bytes.Equal(slice, payload[4:12]) {
		t.Fatalf("ReadRange returned %q", slice)
	}

	empty, err := area.ReadRange(ctx, id, domain.FileContentTypeDicom, 5, 5)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty range: %q, %v", empty, err)
	}

	if _, err := area.ReadRange(ctx, id, domain.FileContentTypeDicom, 12, 4); !domain.IsErrorCode(err, domain.ErrBadRange) {
		t.Fatalf("reversed range: %v", err)
	}
	if _, err := area.ReadRange(ctx, id, domain.FileContentTypeDicom, 0, uint64(len(payload))+1); !domain.IsErrorCode(err, domain.ErrBadRange) {
		t.Fatalf("overlong range: %v", err)
	}

	if err := area.Remove(ctx, id, domain.FileContentTypeDicom); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := area.Remove(ctx, id, domain.FileContentTypeDicom); err != nil {
		t.Fatalf("Remove must be idempotent: %v", err)
	}
	if _, err := area.Read(ctx, id, domain.FileContentTypeDicom); !domain.IsErrorCode(err, domain.ErrInexistentFile) {
		t.Fatalf("Read after Remove: %v", err)
	}
}

func TestFilesystemAreaContract(t *testing.T) {
	testAreaContract(t, newTempArea(t))
}

func TestMemoryAreaContract(t *testing.T) {
	testAreaContract(t, NewMemoryArea())
}

func TestFilesystemAreaFanout(t *testing.T) {
	area := newTempArea(t)
	ctx := context.Background()
	id := "abcdef000000000000000000000000000000cafe"
	if err := area.Create(ctx, id, []byte("x"), domain.FileContentTypeDicom); err != nil {
		t.Fatalf("Create: %v", err)
	}
	expected := filepath.Join(area.root, "ab", "cd", id)
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("payload not at %s: %v", expected, err)
	}

	if err := area.Remove(ctx, id, domain.FileContentTypeDicom); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(area.root, "ab")); !os.IsNotExist(err) {
		t.Fatal("empty fanout directories should be pruned")
	}
}

func TestFilesystemAreaRejectsHostileUUID(t *testing.T) {
	area := newTempArea(t)
	ctx := context.Background()
	for _, bad := range []string{"", "ab", "../../etc/passwd", "ABCD1234"} {
		if err := area.Create(ctx, bad, []byte("x"), domain.FileContentTypeDicom); err == nil {
			t.Errorf("uuid %q must be rejected", bad)
		}
	}
}

func TestZlibWithSizeRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(""),
		[]byte("z"),
		bytes.Repeat([]byte("DICOM pixel rows compress well "), 1000),
	}
	for _, payload := range payloads {
		packed, err := compressZlibWithSize(payload)
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		unpacked, err := uncompressZlibWithSize(packed)
		if err != nil {
			t.Fatalf("uncompress: %v", err)
		}
		if !bytes.Equal(unpacked, payload) {
			t.Fatalf("round trip lost data for %d bytes", len(payload))
		}
	}
}

func TestZlibWithSizeDetectsCorruption(t *testing.T) {
	packed, err := compressZlibWithSize([]byte("some payload"))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	if _, err := uncompressZlibWithSize(packed[:4]); !domain.IsErrorCode(err, domain.ErrBadFileFormat) {
		t.Fatalf("truncated prefix: %v", err)
	}

	// Lie about the uncompressed size.
	tampered := append([]byte{}, packed...)
	tampered[0] ^= 0xff
	if _, err := uncompressZlibWithSize(tampered); !domain.IsErrorCode(err, domain.ErrBadFileFormat) {
		t.Fatalf("size mismatch: %v", err)
	}

	// Garbage stream.
	garbage := append(packed[:sizePrefixLength], []byte("not zlib at all")...)
	if _, err := uncompressZlibWithSize(garbage); !domain.IsErrorCode(err, domain.ErrBadFileFormat) {
		t.Fatalf("garbage stream: %v", err)
	}
}

func TestCacheEvictionByBytes(t *testing.T) {
	cache := NewCache(100)
	cache.Add("a", make([]byte, 60))
	cache.Add("b", make([]byte, 30))
	if cache.HeldBytes() != 90 {
		t.Fatalf("held = %d", cache.HeldBytes())
	}

	// Touch "a" so "b" becomes the eviction victim.
	if _, ok := cache.Fetch("a"); !ok {
		t.Fatal("a should be cached")
	}
	cache.Add("c", make([]byte, 30))
	if _, ok := cache.Fetch("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok := cache.Fetch("a"); !ok {
		t.Fatal("a should have survived")
	}
	if cache.HeldBytes() > 100 {
		t.Fatalf("held = %d exceeds the budget", cache.HeldBytes())
	}

	// Oversized entries are not retained at all.
	cache.Add("big", make([]byte, 200))
	if _, ok := cache.Fetch("big"); ok {
		t.Fatal("oversized entry must not be cached")
	}
}

func TestCacheReAddKeepsAccounting(t *testing.T) {
	cache := NewCache(1000)
	cache.Add("k", make([]byte, 100))
	cache.Add("k", make([]byte, 100))
	if cache.HeldBytes() != 100 {
		t.Fatalf("held after re-add = %d, want 100", cache.HeldBytes())
	}

	cache.Invalidate("k")
	if cache.HeldBytes() != 0 {
		t.Fatalf("held after invalidate = %d, want 0", cache.HeldBytes())
	}

	cache.Add("x", make([]byte, 10))
	if _, ok := cache.Fetch("x"); !ok {
		t.Fatal("cache must keep retaining entries after a re-add cycle")
	}
	if cache.HeldBytes() != 10 {
		t.Fatalf("held = %d, want 10", cache.HeldBytes())
	}

	// A grown prefix under the same key replaces the old accounting.
	cache.Add("p", make([]byte, 10))
	cache.Add("p", make([]byte, 40))
	if cache.HeldBytes() != 50 {
		t.Fatalf("held = %d, want 50", cache.HeldBytes())
	}
}

func TestCacheHandsOutCopies(t *testing.T) {
	cache := NewCache(1000)
	payload := []byte("payload")
	cache.Add("k", payload)

	// Mutating the slice given to Add must not reach the cache.
	payload[0] = 'X'
	first, ok := cache.Fetch("k")
	if !ok || string(first) != "payload" {
		t.Fatalf("fetched %q", first)
	}

	// Mutating a fetched slice must not corrupt later reads.
	first[0] = 'Y'
	second, ok := cache.Fetch("k")
	if !ok || string(second) != "payload" {
		t.Fatalf("fetched %q after caller mutation", second)
	}
}

func TestCacheDisabledAtZero(t *testing.T) {
	cache := NewCache(0)
	cache.Add("a", []byte("x"))
	if _, ok := cache.Fetch("a"); ok {
		t.Fatal("a zero budget disables the cache")
	}

	cache = NewCache(100)
	cache.Add("a", []byte("x"))
	cache.SetMaximumSize(0)
	if _, ok := cache.Fetch("a"); ok {
		t.Fatal("shrinking to zero purges the cache")
	}
}

func TestCacheInvalidatePrefix(t *testing.T) {
	cache := NewCache(1000)
	cache.Add("uuid-1:1:full", []byte("full"))
	cache.Add("uuid-1:1:prefix", []byte("pre"))
	cache.Add("uuid-2:1:full", []byte("other"))

	cache.Invalidate("uuid-1")
	if _, ok := cache.Fetch("uuid-1:1:full"); ok {
		t.Fatal("full entry should be gone")
	}
	if _, ok := cache.Fetch("uuid-1:1:prefix"); ok {
		t.Fatal("prefix entry should be gone")
	}
	if _, ok := cache.Fetch("uuid-2:1:full"); !ok {
		t.Fatal("unrelated entry should survive")
	}
}

func TestCacheSingleFlight(t *testing.T) {
	cache := NewCache(1000)
	var loads atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := cache.GetOrLoad("key", func() ([]byte, error) {
				loads.Add(1)
				<-release
				return []byte("loaded"), nil
			})
			if err != nil || string(data) != "loaded" {
				t.Errorf("GetOrLoad: %q, %v", data, err)
			}
		}()
	}
	// Give the goroutines a chance to pile onto the same key, then release.
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Fatalf("loader ran %d times, want 1", got)
	}
}

func newTestAccessor(t *testing.T, area Area, cacheBytes uint64) *Accessor {
	t.Helper()
	var cache *Cache
	if cacheBytes > 0 {
		cache = NewCache(cacheBytes)
	}
	return NewAccessor(area, cache, nil, zerolog.Nop())
}

func TestAccessorWriteUncompressed(t *testing.T) {
	area := NewMemoryArea()
	acc := newTestAccessor(t, area, 1<<20)
	ctx := context.Background()
	payload := []byte("uncompressed attachment")

	info, err := acc.Write(ctx, payload, domain.FileContentTypeDicom, domain.CompressionNone, true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if info.CompressionType != domain.CompressionNone {
		t.Fatalf("compression = %s", info.CompressionType)
	}
	if info.UncompressedSize != uint64(len(payload)) || info.CompressedSize != info.UncompressedSize {
		t.Fatalf("sizes = %d/%d", info.UncompressedSize, info.CompressedSize)
	}
	sum := md5.Sum(payload)
	if info.UncompressedMD5 != hex.EncodeToString(sum[:]) || info.CompressedMD5 != info.UncompressedMD5 {
		t.Fatal("MD5 mismatch")
	}

	got, err := acc.Read(ctx, info)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Read: %q, %v", got, err)
	}
}

func TestAccessorWriteCompressed(t *testing.T) {
	area := NewMemoryArea()
	acc := newTestAccessor(t, area, 1<<20)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("squeeze me "), 500)

	info, err := acc.Write(ctx, payload, domain.FileContentTypeDicom, domain.CompressionZlibWithSize, true)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if info.CompressedSize >= info.UncompressedSize {
		t.Fatalf("payload did not shrink: %d >= %d", info.CompressedSize, info.UncompressedSize)
	}
	if info.UncompressedMD5 == info.CompressedMD5 {
		t.Fatal("compressed checksum must differ")
	}

	// What sits in the backend is the compressed frame.
	raw, err := area.Read(ctx, info.UUID, info.ContentType)
	if err != nil {
		t.Fatalf("backend read: %v", err)
	}
	if uint64(len(raw)) != info.CompressedSize {
		t.Fatalf("backend holds %d bytes, descriptor says %d", len(raw), info.CompressedSize)
	}

	got, err := acc.Read(ctx, info)
	if err != nil || !bytes.Equal(got, payload) {
		t.Fatalf("Read: %d bytes, %v", len(got), err)
	}
}

func TestAccessorCacheTransparency(t *testing.T) {
	area := NewMemoryArea()
	cached := newTestAccessor(t, area, 1<<20)
	uncached := NewAccessor(area, nil, nil, zerolog.Nop())
	ctx := context.Background()
	payload := bytes.Repeat([]byte("pixels"), 2000)

	info, err := cached.Write(ctx, payload, domain.FileContentTypeDicom, domain.CompressionZlibWithSize, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	hit, err := cached.Read(ctx, info)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	miss, err := uncached.Read(ctx, info)
	if err != nil {
		t.Fatalf("uncached read: %v", err)
	}
	if !bytes.Equal(hit, miss) || !bytes.Equal(hit, payload) {
		t.Fatal("cache must be invisible to readers")
	}
}

func TestAccessorReadersOwnTheirBuffers(t *testing.T) {
	area := NewMemoryArea()
	acc := newTestAccessor(t, area, 1<<20)
	ctx := context.Background()
	payload := []byte("immutable payload")

	info, err := acc.Write(ctx, payload, domain.FileContentTypeDicom, domain.CompressionNone, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	first, err := acc.Read(ctx, info)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range first {
		first[i] = 0
	}

	second, err := acc.Read(ctx, info)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(second, payload) {
		t.Fatalf("second read = %q, a caller mutation leaked into the cache", second)
	}
}

func TestAccessorReadStartRange(t *testing.T) {
	area := NewMemoryArea()
	acc := newTestAccessor(t, area, 1<<20)
	ctx := context.Background()
	payload := []byte("0123456789abcdef")

	info, err := acc.Write(ctx, payload, domain.FileContentTypeDicom, domain.CompressionNone, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	long, err := acc.ReadStartRange(ctx, info.UUID, info.ContentType, 12)
	if err != nil || !bytes.Equal(long, payload[:12]) {
		t.Fatalf("prefix read: %q, %v", long, err)
	}

	// A shorter prefix is served by truncating the cached longer one.
	short, err := acc.ReadStartRange(ctx, info.UUID, info.ContentType, 4)
	if err != nil || !bytes.Equal(short, payload[:4]) {
		t.Fatalf("short prefix read: %q, %v", short, err)
	}
}

func TestAccessorRemoveInvalidatesCache(t *testing.T) {
	area := NewMemoryArea()
	acc := newTestAccessor(t, area, 1<<20)
	ctx := context.Background()

	info, err := acc.Write(ctx, []byte("doomed"), domain.FileContentTypeDicom, domain.CompressionNone, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := acc.Read(ctx, info); err != nil {
		t.Fatalf("Read: %v", err)
	}

	if err := acc.Remove(ctx, info.UUID, info.ContentType); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := acc.Read(ctx, info); !domain.IsErrorCode(err, domain.ErrInexistentFile) {
		t.Fatalf("read after remove: %v", err)
	}
}

func TestAccessorDetectsSizeMismatch(t *testing.T) {
	area := NewMemoryArea()
	acc := NewAccessor(area, nil, nil, zerolog.Nop())
	ctx := context.Background()

	info, err := acc.Write(ctx, []byte("truthful"), domain.FileContentTypeDicom, domain.CompressionNone, false)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	info.UncompressedSize++
	if _, err := acc.Read(ctx, info); !domain.IsErrorCode(err, domain.ErrBadFileFormat) {
		t.Fatalf("size mismatch: %v", err)
	}
}
