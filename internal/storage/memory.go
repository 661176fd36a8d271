package storage

import (
	"context"
	"sync"

	"dicomcore/pkg/domain"
)

type memoryKey struct {
	uuid string
	kind domain.FileContentType
}

// MemoryArea keeps payloads in process memory. It backs the test suite and
// small ephemeral deployments.
type MemoryArea struct {
	mu       sync.RWMutex
	payloads map[memoryKey][]byte
}

// NewMemoryArea returns an empty in-memory area.
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{payloads: make(map[memoryKey][]byte)}
}

func (a *MemoryArea) Create(ctx context.Context, uuid string, content []byte, kind domain.FileContentType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := memoryKey{uuid: uuid, kind: kind}
	if _, exists := a.payloads[key]; exists {
		return domain.Errorf(domain.ErrInternalError, "storage uuid %s already exists", uuid)
	}
	owned := make([]byte, len(content))
	copy(owned, content)
	a.payloads[key] = owned
	return nil
}

func (a *MemoryArea) Read(ctx context.Context, uuid string, kind domain.FileContentType) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	payload, ok := a.payloads[memoryKey{uuid: uuid, kind: kind}]
	if !ok {
		return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (a *MemoryArea) ReadRange(ctx context.Context, uuid string, kind domain.FileContentType, start, end uint64) ([]byte, error) {
	if start > end {
		return nil, domain.Errorf(domain.ErrBadRange, "range [%d, %d) is reversed", start, end)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	payload, ok := a.payloads[memoryKey{uuid: uuid, kind: kind}]
	if !ok {
		return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
	}
	if end > uint64(len(payload)) {
		return nil, domain.Errorf(domain.ErrBadRange, "range end %d beyond payload size %d", end, len(payload))
	}
	out := make([]byte, end-start)
	copy(out, payload[start:end])
	return out, nil
}

func (a *MemoryArea) HasReadRange() bool { return true }

func (a *MemoryArea) Remove(ctx context.Context, uuid string, kind domain.FileContentType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.payloads, memoryKey{uuid: uuid, kind: kind})
	return nil
}

// Size returns the number of stored payloads, for tests.
func (a *MemoryArea) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.payloads)
}

var _ Area = (*MemoryArea)(nil)
