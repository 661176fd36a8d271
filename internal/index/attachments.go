package index

import (
	"database/sql"
	"sort"

	"dicomcore/pkg/domain"
)

// AddAttachment registers an attachment under a resource. At most one
// attachment per (resource, kind) may exist; a second insert is a protocol
// violation.
func (t *Transaction) AddAttachment(id int64, info domain.FileInfo, revision int64) error {
	if _, _, ok, err := t.LookupAttachment(id, info.ContentType); err != nil {
		return err
	} else if ok {
		return domain.Errorf(domain.ErrBadSequenceOfCalls,
			"resource %d already holds an attachment of kind %d", id, int(info.ContentType))
	}
	return t.exec(`INSERT INTO AttachedFiles(id, fileType, uuid, compressedSize, uncompressedSize,
		compressionType, uncompressedMD5, compressedMD5, revision)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, int(info.ContentType), info.UUID, info.CompressedSize, info.UncompressedSize,
		int(info.CompressionType), info.UncompressedMD5, info.CompressedMD5, revision)
}

// DeleteAttachment drops one attachment and signals its payload for removal.
// A missing attachment is not an error; the boolean reports whether one was
// removed.
func (t *Transaction) DeleteAttachment(id int64, kind domain.FileContentType) (bool, error) {
	info, _, ok, err := t.LookupAttachment(id, kind)
	if err != nil || !ok {
		return false, err
	}
	if err := t.exec(`DELETE FROM AttachedFiles WHERE id = ? AND fileType = ?`, id, int(kind)); err != nil {
		return false, err
	}
	if t.listener != nil {
		t.listener.SignalAttachmentDeleted(info)
	}
	return true, nil
}

// LookupAttachment returns the descriptor and revision of one attachment.
func (t *Transaction) LookupAttachment(id int64, kind domain.FileContentType) (domain.FileInfo, int64, bool, error) {
	row := t.queryRow(`SELECT uuid, compressedSize, uncompressedSize, compressionType,
		uncompressedMD5, compressedMD5, revision
		FROM AttachedFiles WHERE id = ? AND fileType = ?`, id, int(kind))
	var info domain.FileInfo
	var compression int
	var revision int64
	switch err := row.Scan(&info.UUID, &info.CompressedSize, &info.UncompressedSize,
		&compression, &info.UncompressedMD5, &info.CompressedMD5, &revision); err {
	case nil:
		info.ContentType = kind
		info.CompressionType = domain.CompressionType(compression)
		return info, revision, true, nil
	case sql.ErrNoRows:
		return domain.FileInfo{}, 0, false, nil
	default:
		return domain.FileInfo{}, 0, false, domain.WrapError(domain.ErrDatabase, "lookup attachment", err)
	}
}

// ListAttachments returns every attachment of a resource, ordered by kind.
func (t *Transaction) ListAttachments(id int64) ([]domain.FileInfo, error) {
	rows, err := t.query(`SELECT fileType, uuid, compressedSize, uncompressedSize, compressionType,
		uncompressedMD5, compressedMD5
		FROM AttachedFiles WHERE id = ? ORDER BY fileType`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.FileInfo
	for rows.Next() {
		var info domain.FileInfo
		var kind, compression int
		if err := rows.Scan(&kind, &info.UUID, &info.CompressedSize, &info.UncompressedSize,
			&compression, &info.UncompressedMD5, &info.CompressedMD5); err != nil {
			return nil, domain.WrapError(domain.ErrDatabase, "scan attachment", err)
		}
		info.ContentType = domain.FileContentType(kind)
		info.CompressionType = domain.CompressionType(compression)
		out = append(out, info)
	}
	return out, rows.Err()
}

// SetMetadata writes one metadata slot with an explicit revision.
func (t *Transaction) SetMetadata(id int64, kind domain.MetadataType, value string, revision int64) error {
	return t.exec(`INSERT INTO Metadata(id, type, value, revision) VALUES(?, ?, ?, ?)
		ON CONFLICT(id, type) DO UPDATE SET value = excluded.value, revision = excluded.revision`,
		id, int(kind), value, revision)
}

// DeleteMetadata drops one metadata slot; the boolean reports whether it
// existed.
func (t *Transaction) DeleteMetadata(id int64, kind domain.MetadataType) (bool, error) {
	_, _, ok, err := t.LookupMetadata(id, kind)
	if err != nil || !ok {
		return false, err
	}
	return true, t.exec(`DELETE FROM Metadata WHERE id = ? AND type = ?`, id, int(kind))
}

// LookupMetadata returns the value and revision of one metadata slot.
func (t *Transaction) LookupMetadata(id int64, kind domain.MetadataType) (string, int64, bool, error) {
	row := t.queryRow(`SELECT value, revision FROM Metadata WHERE id = ? AND type = ?`, id, int(kind))
	var value string
	var revision int64
	switch err := row.Scan(&value, &revision); err {
	case nil:
		return value, revision, true, nil
	case sql.ErrNoRows:
		return "", 0, false, nil
	default:
		return "", 0, false, domain.WrapError(domain.ErrDatabase, "lookup metadata", err)
	}
}

// GetAllMetadata returns every metadata slot of a resource.
func (t *Transaction) GetAllMetadata(id int64) (map[domain.MetadataType]string, error) {
	rows, err := t.query(`SELECT type, value FROM Metadata WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[domain.MetadataType]string)
	for rows.Next() {
		var kind int
		var value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, domain.WrapError(domain.ErrDatabase, "scan metadata", err)
		}
		out[domain.MetadataType(kind)] = value
	}
	return out, rows.Err()
}

// GetChildrenMetadata collects one metadata slot across the direct children
// of a resource, in stable order. Children without the slot are skipped.
func (t *Transaction) GetChildrenMetadata(id int64, kind domain.MetadataType) ([]string, error) {
	values, err := t.queryStrings(`SELECT m.value FROM Metadata AS m
		INNER JOIN Resources AS r ON r.internalId = m.id
		WHERE r.parentId = ? AND m.type = ?`, id, int(kind))
	if err != nil {
		return nil, err
	}
	sort.Strings(values)
	return values, nil
}
