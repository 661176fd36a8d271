package index

import (
	"database/sql"

	"dicomcore/pkg/domain"
)

// LogChange appends one entry to the change log. Kinds at or above the
// internal threshold never reach the log; callers dispatch those to listeners
// only.
func (t *Transaction) LogChange(internalID int64, change domain.ChangeType,
	level domain.ResourceType, publicID, date string) error {
	if !change.IsLogged() {
		return domain.Errorf(domain.ErrParameterOutOfRange,
			"change kind %s is not persisted", change)
	}
	return t.exec(`INSERT INTO Changes(changeType, internalId, resourceType, publicId, date)
		VALUES(?, ?, ?, ?, ?)`, int(change), internalID, int(level), publicID, date)
}

const changesSelect = `SELECT seq, changeType, resourceType, publicId, date FROM Changes`

// GetChanges reads up to limit entries with seq greater than since. The
// boolean reports whether the returned slice exhausts the log.
func (t *Transaction) GetChanges(since int64, limit int) ([]domain.Change, bool, error) {
	rows, err := t.query(changesSelect+` WHERE seq > ? ORDER BY seq LIMIT ?`, since, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Change
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, change)
	}
	if err := rows.Err(); err != nil {
		return nil, false, domain.WrapError(domain.ErrDatabase, "read changes", err)
	}
	done := len(out) <= limit
	if !done {
		out = out[:limit]
	}
	return out, done, nil
}

// GetLastChange returns the newest entry of the change log.
func (t *Transaction) GetLastChange() (domain.Change, bool, error) {
	rows, err := t.query(changesSelect + ` ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return domain.Change{}, false, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return domain.Change{}, false, rows.Err()
	}
	change, err := scanChange(rows)
	if err != nil {
		return domain.Change{}, false, err
	}
	return change, true, nil
}

func scanChange(rows *sql.Rows) (domain.Change, error) {
	var change domain.Change
	var kind, level int
	if err := rows.Scan(&change.Seq, &kind, &level, &change.PublicID, &change.Date); err != nil {
		return domain.Change{}, domain.WrapError(domain.ErrDatabase, "scan change", err)
	}
	change.Type = domain.ChangeType(kind)
	change.ResourceType = domain.ResourceType(level)
	return change, nil
}

// LogExportedResource appends one entry to the export log.
func (t *Transaction) LogExportedResource(exported domain.ExportedResource) error {
	return t.exec(`INSERT INTO ExportedResources(resourceType, publicId, remoteModality,
		patientId, studyInstanceUid, seriesInstanceUid, sopInstanceUid, date)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		int(exported.ResourceType), exported.PublicID, exported.Modality,
		exported.PatientID, exported.StudyInstanceUID, exported.SeriesInstanceUID,
		exported.SOPInstanceUID, exported.Date)
}

const exportedSelect = `SELECT seq, resourceType, publicId, remoteModality,
	patientId, studyInstanceUid, seriesInstanceUid, sopInstanceUid, date
	FROM ExportedResources`

// GetExportedResources reads up to limit export entries with seq greater
// than since.
func (t *Transaction) GetExportedResources(since int64, limit int) ([]domain.ExportedResource, bool, error) {
	rows, err := t.query(exportedSelect+` WHERE seq > ? ORDER BY seq LIMIT ?`, since, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ExportedResource
	for rows.Next() {
		exported, err := scanExported(rows)
		if err != nil {
			return nil, false, err
		}
		out = append(out, exported)
	}
	if err := rows.Err(); err != nil {
		return nil, false, domain.WrapError(domain.ErrDatabase, "read exported resources", err)
	}
	done := len(out) <= limit
	if !done {
		out = out[:limit]
	}
	return out, done, nil
}

// GetLastExportedResource returns the newest export entry.
func (t *Transaction) GetLastExportedResource() (domain.ExportedResource, bool, error) {
	rows, err := t.query(exportedSelect + ` ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return domain.ExportedResource{}, false, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return domain.ExportedResource{}, false, rows.Err()
	}
	exported, err := scanExported(rows)
	if err != nil {
		return domain.ExportedResource{}, false, err
	}
	return exported, true, nil
}

func scanExported(rows *sql.Rows) (domain.ExportedResource, error) {
	var out domain.ExportedResource
	var level int
	if err := rows.Scan(&out.Seq, &level, &out.PublicID, &out.Modality,
		&out.PatientID, &out.StudyInstanceUID, &out.SeriesInstanceUID,
		&out.SOPInstanceUID, &out.Date); err != nil {
		return domain.ExportedResource{}, domain.WrapError(domain.ErrDatabase, "scan exported resource", err)
	}
	out.ResourceType = domain.ResourceType(level)
	return out, nil
}
