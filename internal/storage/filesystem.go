package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dicomcore/pkg/domain"
)

// FilesystemArea stores each payload as one file under a two-level directory
// tree derived from the leading hex nibbles of the uuid, keeping directory
// fanout bounded: <root>/ab/cd/abcd....
type FilesystemArea struct {
	root string
}

// NewFilesystemArea returns a filesystem area rooted at path, creating it if
// needed.
func NewFilesystemArea(root string) (*FilesystemArea, error) {
	if root == "" {
		return nil, domain.NewError(domain.ErrParameterOutOfRange, "empty storage root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemArea{root: root}, nil
}

func (a *FilesystemArea) pathFor(uuid string) (string, error) {
	if len(uuid) < 4 {
		return "", domain.Errorf(domain.ErrParameterOutOfRange, "storage uuid too short: %q", uuid)
	}
	for i := 0; i < len(uuid); i++ {
		c := uuid[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c == '-') {
			return "", domain.Errorf(domain.ErrParameterOutOfRange, "malformed storage uuid: %q", uuid)
		}
	}
	return filepath.Join(a.root, uuid[0:2], uuid[2:4], uuid), nil
}

func (a *FilesystemArea) Create(ctx context.Context, uuid string, content []byte, kind domain.FileContentType) error {
	path, err := a.pathFor(uuid)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return domain.Errorf(domain.ErrInternalError, "storage uuid %s already exists", uuid)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Stage in a temp file and rename so readers never observe a partial
	// payload.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (a *FilesystemArea) Read(ctx context.Context, uuid string, kind domain.FileContentType) ([]byte, error) {
	path, err := a.pathFor(uuid)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
	}
	return data, err
}

func (a *FilesystemArea) ReadRange(ctx context.Context, uuid string, kind domain.FileContentType, start, end uint64) ([]byte, error) {
	if start > end {
		return nil, domain.Errorf(domain.ErrBadRange, "range [%d, %d) is reversed", start, end)
	}
	path, err := a.pathFor(uuid)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.Errorf(domain.ErrInexistentFile, "no payload for uuid %s", uuid)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if end > uint64(stat.Size()) {
		return nil, domain.Errorf(domain.ErrBadRange, "range end %d beyond payload size %d", end, stat.Size())
	}
	if start == end {
		return []byte{}, nil
	}
	out := make([]byte, end-start)
	if _, err := file.ReadAt(out, int64(start)); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *FilesystemArea) HasReadRange() bool { return true }

func (a *FilesystemArea) Remove(ctx context.Context, uuid string, kind domain.FileContentType) error {
	path, err := a.pathFor(uuid)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// Prune empty fanout directories, best effort.
	for dir := filepath.Dir(path); dir != a.root; dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

var _ Area = (*FilesystemArea)(nil)

// String identifies the area in logs.
func (a *FilesystemArea) String() string {
	return fmt.Sprintf("filesystem storage at %s", a.root)
}
