package storage

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"dicomcore/pkg/domain"
)

// The zlib-with-size framing prefixes the compressed stream with the
// uncompressed payload size as a little-endian uint64. The prefix lets the
// decompressor allocate once and detect truncated streams.

const sizePrefixLength = 8

func compressZlibWithSize(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(sizePrefixLength + len(data)/2)

	var prefix [sizePrefixLength]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(data)))
	buf.Write(prefix[:])

	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uncompressZlibWithSize(data []byte) ([]byte, error) {
	if len(data) < sizePrefixLength {
		return nil, domain.NewError(domain.ErrBadFileFormat, "compressed payload shorter than its size prefix")
	}
	expected := binary.LittleEndian.Uint64(data[:sizePrefixLength])

	r, err := zlib.NewReader(bytes.NewReader(data[sizePrefixLength:]))
	if err != nil {
		return nil, domain.WrapError(domain.ErrBadFileFormat, "corrupted zlib stream", err)
	}
	defer func() { _ = r.Close() }()

	out := make([]byte, 0, expected)
	buf := bytes.NewBuffer(out)
	n, err := io.Copy(buf, r)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBadFileFormat, "corrupted zlib stream", err)
	}
	if uint64(n) != expected {
		return nil, domain.Errorf(domain.ErrBadFileFormat,
			"uncompressed size %d does not match the declared %d", n, expected)
	}
	return buf.Bytes(), nil
}
