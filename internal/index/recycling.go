package index

import (
	"database/sql"

	"dicomcore/pkg/domain"
)

// SelectPatientToRecycle returns the patient at the head of the recycling
// queue, the least recently touched unprotected patient.
func (t *Transaction) SelectPatientToRecycle() (int64, bool, error) {
	return t.recyclingHead(`SELECT patientId FROM PatientRecyclingOrder ORDER BY seq LIMIT 1`)
}

// SelectPatientToRecycleAvoid behaves like SelectPatientToRecycle but skips
// one patient, typically the one an ongoing ingest is about to extend.
func (t *Transaction) SelectPatientToRecycleAvoid(avoid int64) (int64, bool, error) {
	return t.recyclingHead(`SELECT patientId FROM PatientRecyclingOrder
		WHERE patientId != ? ORDER BY seq LIMIT 1`, avoid)
}

func (t *Transaction) recyclingHead(query string, args ...any) (int64, bool, error) {
	row := t.queryRow(query, args...)
	var id int64
	switch err := row.Scan(&id); err {
	case nil:
		return id, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, domain.WrapError(domain.ErrDatabase, "select patient to recycle", err)
	}
}

// IsProtectedPatient reports whether a patient sits outside the recycling
// queue.
func (t *Transaction) IsProtectedPatient(id int64) (bool, error) {
	row := t.queryRow(`SELECT COUNT(*) FROM PatientRecyclingOrder WHERE patientId = ?`, id)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, domain.WrapError(domain.ErrDatabase, "is protected patient", err)
	}
	return n == 0, nil
}

// SetProtectedPatient toggles protection. Protecting removes the patient
// from the queue; unprotecting reinserts it at the tail.
func (t *Transaction) SetProtectedPatient(id int64, protected bool) error {
	current, err := t.IsProtectedPatient(id)
	if err != nil || current == protected {
		return err
	}
	if protected {
		return t.exec(`DELETE FROM PatientRecyclingOrder WHERE patientId = ?`, id)
	}
	return t.exec(`INSERT INTO PatientRecyclingOrder(patientId) VALUES(?)`, id)
}

// TagMostRecentPatient moves an unprotected patient to the tail of the
// queue. Protected patients are left alone.
func (t *Transaction) TagMostRecentPatient(id int64) error {
	protected, err := t.IsProtectedPatient(id)
	if err != nil || protected {
		return err
	}
	if err := t.exec(`DELETE FROM PatientRecyclingOrder WHERE patientId = ?`, id); err != nil {
		return err
	}
	return t.exec(`INSERT INTO PatientRecyclingOrder(patientId) VALUES(?)`, id)
}

// GetTotalCompressedSize sums the stored bytes of every attachment.
func (t *Transaction) GetTotalCompressedSize() (uint64, error) {
	return t.sumQuery(`SELECT COALESCE(SUM(compressedSize), 0) FROM AttachedFiles`)
}

// GetTotalUncompressedSize sums the logical bytes of every attachment.
func (t *Transaction) GetTotalUncompressedSize() (uint64, error) {
	return t.sumQuery(`SELECT COALESCE(SUM(uncompressedSize), 0) FROM AttachedFiles`)
}

func (t *Transaction) sumQuery(query string) (uint64, error) {
	row := t.queryRow(query)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, domain.WrapError(domain.ErrDatabase, "sum attachments", err)
	}
	return uint64(total), nil
}

// GetResourceCount counts the resources at one level.
func (t *Transaction) GetResourceCount(level domain.ResourceType) (uint64, error) {
	row := t.queryRow(`SELECT COUNT(*) FROM Resources WHERE resourceType = ?`, int(level))
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, domain.WrapError(domain.ErrDatabase, "count resources", err)
	}
	return uint64(n), nil
}

// IsDiskSizeAbove reports whether the stored bytes exceed a threshold.
func (t *Transaction) IsDiskSizeAbove(threshold uint64) (bool, error) {
	total, err := t.GetTotalCompressedSize()
	if err != nil {
		return false, err
	}
	return total > threshold, nil
}

// GetStatistics aggregates the global counters in one call.
func (t *Transaction) GetStatistics() (domain.StoreStatistics, error) {
	var stats domain.StoreStatistics
	var err error
	if stats.TotalCompressedSize, err = t.GetTotalCompressedSize(); err != nil {
		return stats, err
	}
	if stats.TotalUncompressedSize, err = t.GetTotalUncompressedSize(); err != nil {
		return stats, err
	}
	counts := []struct {
		level  domain.ResourceType
		target *uint64
	}{
		{domain.ResourceTypePatient, &stats.CountPatients},
		{domain.ResourceTypeStudy, &stats.CountStudies},
		{domain.ResourceTypeSeries, &stats.CountSeries},
		{domain.ResourceTypeInstance, &stats.CountInstances},
	}
	for _, c := range counts {
		if *c.target, err = t.GetResourceCount(c.level); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
