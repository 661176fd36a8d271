package index

import (
	"dicomcore/internal/dicom"
	"dicomcore/pkg/domain"
)

// ConstraintKind is the comparison applied by an identifier lookup.
type ConstraintKind int

const (
	ConstraintEqual ConstraintKind = iota
	ConstraintSmallerOrEqual
	ConstraintGreaterOrEqual
	ConstraintWildcard
)

// SetMainDicomTag stores one main tag value of a resource.
func (t *Transaction) SetMainDicomTag(id int64, tag dicom.Tag, value string) error {
	return t.exec(`INSERT INTO MainDicomTags(id, tagGroup, tagElement, value) VALUES(?, ?, ?, ?)
		ON CONFLICT(id, tagGroup, tagElement) DO UPDATE SET value = excluded.value`,
		id, int(tag.Group), int(tag.Element), value)
}

// SetIdentifierTag stores one normalized identifier value of a resource. The
// caller normalizes; the index stores verbatim.
func (t *Transaction) SetIdentifierTag(id int64, tag dicom.Tag, value string) error {
	return t.exec(`INSERT INTO DicomIdentifiers(id, tagGroup, tagElement, value) VALUES(?, ?, ?, ?)
		ON CONFLICT(id, tagGroup, tagElement) DO UPDATE SET value = excluded.value`,
		id, int(tag.Group), int(tag.Element), value)
}

// ClearMainDicomTags drops every tag row of a resource, both main and
// identifier.
func (t *Transaction) ClearMainDicomTags(id int64) error {
	if err := t.exec(`DELETE FROM MainDicomTags WHERE id = ?`, id); err != nil {
		return err
	}
	return t.exec(`DELETE FROM DicomIdentifiers WHERE id = ?`, id)
}

// GetMainDicomTags reloads the stored main tags of a resource.
func (t *Transaction) GetMainDicomTags(id int64) (*dicom.Map, error) {
	rows, err := t.query(`SELECT tagGroup, tagElement, value FROM MainDicomTags WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := dicom.NewMap()
	for rows.Next() {
		var group, element int
		var value string
		if err := rows.Scan(&group, &element, &value); err != nil {
			return nil, domain.WrapError(domain.ErrDatabase, "scan main tag", err)
		}
		out.SetString(dicom.Tag{Group: uint16(group), Element: uint16(element)}, value)
	}
	return out, rows.Err()
}

const lookupIdentifierBase = `SELECT d.id FROM DicomIdentifiers AS d
	INNER JOIN Resources AS r ON r.internalId = d.id
	WHERE r.resourceType = ? AND d.tagGroup = ? AND d.tagElement = ?`

// LookupIdentifier resolves one identifier constraint into internal IDs at
// the given level. The value must already be normalized; comparisons are
// case-sensitive on the normalized form.
func (t *Transaction) LookupIdentifier(level domain.ResourceType, tag dicom.Tag,
	kind ConstraintKind, value string) ([]int64, error) {
	args := []any{int(level), int(tag.Group), int(tag.Element)}
	var clause string
	switch kind {
	case ConstraintEqual:
		clause = "d.value = ?"
		args = append(args, value)
	case ConstraintSmallerOrEqual:
		clause = "d.value <= ?"
		args = append(args, value)
	case ConstraintGreaterOrEqual:
		clause = "d.value >= ?"
		args = append(args, value)
	case ConstraintWildcard:
		var arg string
		clause, arg = t.wildcard("d.value", value)
		args = append(args, arg)
	default:
		return nil, domain.Errorf(domain.ErrParameterOutOfRange, "unknown constraint kind %d", int(kind))
	}
	return t.queryInts(lookupIdentifierBase+" AND "+clause, args...)
}

// LookupIdentifierRange resolves low <= value <= high in one query.
func (t *Transaction) LookupIdentifierRange(level domain.ResourceType, tag dicom.Tag,
	low, high string) ([]int64, error) {
	return t.queryInts(lookupIdentifierBase+" AND d.value >= ? AND d.value <= ?",
		int(level), int(tag.Group), int(tag.Element), low, high)
}

func (t *Transaction) wildcard(column, pattern string) (string, string) {
	return t.d.wildcardClause(column, pattern)
}
