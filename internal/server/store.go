package server

import (
	"context"
	"strconv"
	"strings"
	"time"

	"dicomcore/internal/dicom"
	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// Origin describes where an instance came from.
type Origin struct {
	// Source is a free-form channel name, e.g. "dicom" or "rest".
	Source       string
	RemoteAET    string
	CalledAET    string
	RemoteIP     string
	HTTPUsername string
}

// RawAttachment is one payload to persist alongside the instance.
type RawAttachment struct {
	Kind domain.FileContentType
	Data []byte
}

// InstanceToStore is the input of one ingest: the parsed tag summary, the
// original bytes and the reception context.
type InstanceToStore struct {
	Summary        *dicom.Map
	Content        []byte
	TransferSyntax string
	Origin         Origin

	// Metadata is applied before the automatic metadata, which wins on
	// conflicts.
	Metadata map[domain.MetadataType]string

	// ExtraAttachments are stored in addition to the DICOM payload.
	ExtraAttachments []RawAttachment
}

func (i *InstanceToStore) attachments() []RawAttachment {
	out := []RawAttachment{{Kind: domain.FileContentTypeDicom, Data: i.Content}}
	return append(out, i.ExtraAttachments...)
}

// StoreResult reports the outcome of one ingest together with the public IDs
// of the four levels the instance maps to.
type StoreResult struct {
	Status     domain.StoreStatus
	InstanceID string
	SeriesID   string
	StudyID    string
	PatientID  string
}

// Store runs the ingest state machine for one instance inside a single
// transaction. Duplicate instances report AlreadyStored unless overwriting
// is enabled; a full store reports StorageFull. Marking the ancestors as
// unstable happens after the commit.
func (s *ServerIndex) Store(ctx context.Context, instance InstanceToStore) (StoreResult, error) {
	start := time.Now()
	result, err := s.store(ctx, instance)
	s.metrics.observeStore(start, result.Status)
	return result, err
}

func (s *ServerIndex) store(ctx context.Context, instance InstanceToStore) (StoreResult, error) {
	hasher, err := dicom.NewInstanceHasher(instance.Summary)
	if err != nil {
		return StoreResult{Status: domain.StoreStatusFailure}, err
	}
	result := StoreResult{
		Status:     domain.StoreStatusSuccess,
		InstanceID: hasher.HashInstance(),
		SeriesID:   hasher.HashSeries(),
		StudyID:    hasher.HashStudy(),
		PatientID:  hasher.HashPatient(),
	}

	var needed uint64
	attachments := instance.attachments()
	for _, attachment := range attachments {
		needed += uint64(len(attachment.Data))
	}

	var written []domain.FileInfo
	err = s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		created, err := tx.CreateInstance(result.PatientID, result.StudyID,
			result.SeriesID, result.InstanceID)
		if err != nil {
			return err
		}
		if created.Existed {
			if !s.overwrite {
				patientID, _, found, err := tx.LookupResource(result.PatientID)
				if err != nil {
					return err
				}
				result.Status = domain.StoreStatusAlreadyStored
				if found {
					return tx.TagMostRecentPatient(patientID)
				}
				return nil
			}
			// Overwriting removes the old instance, which may cascade up
			// through childless ancestors, then reinserts from scratch.
			if err := tx.DeleteResource(created.InstanceID); err != nil {
				return err
			}
			if created, err = tx.CreateInstance(result.PatientID, result.StudyID,
				result.SeriesID, result.InstanceID); err != nil {
				return err
			}
		}

		seriesID, err := resolveInternal(tx, result.SeriesID)
		if err != nil {
			return err
		}
		studyID, err := resolveInternal(tx, result.StudyID)
		if err != nil {
			return err
		}
		patientID, err := resolveInternal(tx, result.PatientID)
		if err != nil {
			return err
		}

		if err := tc.logChange(tx, domain.ChangeTypeNewInstance,
			domain.ResourceTypeInstance, created.InstanceID, result.InstanceID); err != nil {
			return err
		}
		if created.IsNewSeries {
			if err := tc.logChange(tx, domain.ChangeTypeNewSeries,
				domain.ResourceTypeSeries, seriesID, result.SeriesID); err != nil {
				return err
			}
		}
		if created.IsNewStudy {
			if err := tc.logChange(tx, domain.ChangeTypeNewStudy,
				domain.ResourceTypeStudy, studyID, result.StudyID); err != nil {
				return err
			}
		}
		if created.IsNewPatient {
			if err := tc.logChange(tx, domain.ChangeTypeNewPatient,
				domain.ResourceTypePatient, patientID, result.PatientID); err != nil {
				return err
			}
		}

		// Make room before any byte reaches the storage area. The patient
		// receiving this instance is never the victim.
		if err := s.recycle(tx, needed, patientID); err != nil {
			return err
		}

		for _, attachment := range attachments {
			info, err := s.accessor.Write(ctx, attachment.Data, attachment.Kind,
				s.compression, s.storeMD5)
			if err != nil {
				return err
			}
			written = append(written, info)
			if err := tx.AddAttachment(created.InstanceID, info, 0); err != nil {
				return err
			}
		}

		if err := s.storeResourceTags(tx, instance.Summary, created,
			patientID, studyID, seriesID); err != nil {
			return err
		}
		if err := s.storeMetadata(tx, tc.now, instance, created,
			patientID, studyID, seriesID); err != nil {
			return err
		}

		status, err := computeSeriesStatus(tx, seriesID)
		if err != nil {
			return err
		}
		if status == domain.SeriesStatusComplete {
			if err := tc.logChange(tx, domain.ChangeTypeCompletedSeries,
				domain.ResourceTypeSeries, seriesID, result.SeriesID); err != nil {
				return err
			}
		}

		ancestors := []struct {
			isNew    bool
			level    domain.ResourceType
			internal int64
			publicID string
		}{
			{created.IsNewSeries, domain.ResourceTypeSeries, seriesID, result.SeriesID},
			{created.IsNewStudy, domain.ResourceTypeStudy, studyID, result.StudyID},
			{created.IsNewPatient, domain.ResourceTypePatient, patientID, result.PatientID},
		}
		for _, a := range ancestors {
			if a.isNew {
				continue
			}
			if err := tc.logChange(tx, domain.ChangeTypeNewChildInstance,
				a.level, a.internal, a.publicID); err != nil {
				return err
			}
		}

		return tx.TagMostRecentPatient(patientID)
	})
	if err != nil {
		// The transaction rolled back: take the already written blobs with it.
		for _, info := range written {
			if removeErr := s.accessor.Remove(ctx, info.UUID, info.ContentType); removeErr != nil {
				s.log.Warn().Err(removeErr).Str("uuid", info.UUID).
					Msg("could not undo attachment write")
			}
		}
		status := domain.StoreStatusFailure
		if domain.IsErrorCode(err, domain.ErrFullStorage) {
			status = domain.StoreStatusStorageFull
		}
		return StoreResult{Status: status}, err
	}

	if result.Status == domain.StoreStatusSuccess {
		s.monitor.markUnstable(domain.ResourceTypeSeries, result.SeriesID)
		s.monitor.markUnstable(domain.ResourceTypeStudy, result.StudyID)
		s.monitor.markUnstable(domain.ResourceTypePatient, result.PatientID)
	}
	return result, nil
}

func resolveInternal(tx *index.Transaction, publicID string) (int64, error) {
	id, _, found, err := tx.LookupResource(publicID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.Errorf(domain.ErrInternalError, "resource %s vanished mid-store", publicID)
	}
	return id, nil
}

// storeResourceTags writes the main and identifier tags of every level the
// ingest created. The study additionally carries a copy of the patient
// module so that patient criteria can be resolved at study level.
func (s *ServerIndex) storeResourceTags(tx *index.Transaction, summary *dicom.Map,
	created index.InstanceCreation, patientID, studyID, seriesID int64) error {
	if created.IsNewPatient {
		if err := writeTags(tx, patientID, domain.ResourceTypePatient,
			domain.ResourceTypePatient, summary); err != nil {
			return err
		}
	}
	if created.IsNewStudy {
		if err := writeTags(tx, studyID, domain.ResourceTypeStudy,
			domain.ResourceTypeStudy, summary); err != nil {
			return err
		}
		if err := writeTags(tx, studyID, domain.ResourceTypeStudy,
			domain.ResourceTypePatient, summary); err != nil {
			return err
		}
	}
	if created.IsNewSeries {
		if err := writeTags(tx, seriesID, domain.ResourceTypeSeries,
			domain.ResourceTypeSeries, summary); err != nil {
			return err
		}
	}
	return writeTags(tx, created.InstanceID, domain.ResourceTypeInstance,
		domain.ResourceTypeInstance, summary)
}

func writeTags(tx *index.Transaction, id int64, level, extractLevel domain.ResourceType,
	summary *dicom.Map) error {
	extract := summary.ExtractLevel(extractLevel)
	for _, tag := range extract.Tags() {
		value, ok := extract.GetString(tag)
		if !ok {
			continue
		}
		if err := tx.SetMainDicomTag(id, tag, strings.TrimSpace(value)); err != nil {
			return err
		}
		if dicom.IsIdentifierTag(tag, level) {
			if err := tx.SetIdentifierTag(id, tag, dicom.NormalizeIdentifier(value)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *ServerIndex) storeMetadata(tx *index.Transaction, now string,
	instance InstanceToStore, created index.InstanceCreation,
	patientID, studyID, seriesID int64) error {
	for kind, value := range instance.Metadata {
		if err := tx.SetMetadata(created.InstanceID, kind, value, 0); err != nil {
			return err
		}
	}

	auto := map[domain.MetadataType]string{
		domain.MetadataTypeReceptionDate:  now,
		domain.MetadataTypeRemoteAET:      instance.Origin.RemoteAET,
		domain.MetadataTypeCalledAET:      instance.Origin.CalledAET,
		domain.MetadataTypeRemoteIP:       instance.Origin.RemoteIP,
		domain.MetadataTypeHTTPUsername:   instance.Origin.HTTPUsername,
		domain.MetadataTypeOrigin:         instance.Origin.Source,
		domain.MetadataTypeTransferSyntax: instance.TransferSyntax,
	}
	if value, ok := instance.Summary.GetString(dicom.TagSOPClassUID); ok {
		auto[domain.MetadataTypeSOPClassUID] = strings.TrimSpace(value)
	}
	if value := indexInSeries(instance.Summary); value != "" {
		auto[domain.MetadataTypeIndexInSeries] = value
	}
	for kind, value := range auto {
		if value == "" {
			continue
		}
		if err := tx.SetMetadata(created.InstanceID, kind, value, 0); err != nil {
			return err
		}
	}

	for _, id := range []int64{seriesID, studyID, patientID} {
		if err := tx.SetMetadata(id, domain.MetadataTypeLastUpdate, now, 0); err != nil {
			return err
		}
	}

	if created.IsNewSeries {
		if expected, ok := expectedNumberOfInstances(instance.Summary); ok {
			if err := tx.SetMetadata(seriesID, domain.MetadataTypeExpectedNumberOfInstances,
				strconv.Itoa(expected), 0); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexInSeries(summary *dicom.Map) string {
	for _, tag := range []dicom.Tag{dicom.TagInstanceNumber, dicom.TagImageIndex} {
		if value, ok := summary.GetString(tag); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// expectedNumberOfInstances derives how many instances the series should
// eventually hold, trying the acquisition, slice and cardiac tag pairs in
// that order. A pair only counts when both of its tags are usable; a
// half-present pair falls through to the next one.
func expectedNumberOfInstances(summary *dicom.Map) (int, bool) {
	if n, ok := intTagProduct(summary, dicom.TagImagesInAcquisition, dicom.TagNumberOfTemporalPosition); ok {
		return n, true
	}
	if n, ok := intTagProduct(summary, dicom.TagNumberOfSlices, dicom.TagNumberOfTimeSlices); ok {
		return n, true
	}
	if n, ok := intTag(summary, dicom.TagCardiacNumberOfImages); ok && n > 0 {
		return n, true
	}
	return 0, false
}

func intTagProduct(summary *dicom.Map, first, second dicom.Tag) (int, bool) {
	a, ok := intTag(summary, first)
	if !ok {
		return 0, false
	}
	b, ok := intTag(summary, second)
	if !ok || a*b <= 0 {
		return 0, false
	}
	return a * b, true
}

func intTag(summary *dicom.Map, tag dicom.Tag) (int, bool) {
	value, ok := summary.GetString(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}

// computeSeriesStatus compares the IndexInSeries metadata of the children
// against the expected count. Any unparseable value degrades the answer to
// Unknown; out-of-range or duplicated slots make the series inconsistent.
func computeSeriesStatus(tx *index.Transaction, seriesID int64) (domain.SeriesStatus, error) {
	expectedValue, _, ok, err := tx.LookupMetadata(seriesID, domain.MetadataTypeExpectedNumberOfInstances)
	if err != nil {
		return domain.SeriesStatusUnknown, err
	}
	if !ok {
		return domain.SeriesStatusUnknown, nil
	}
	expected, err := strconv.Atoi(strings.TrimSpace(expectedValue))
	if err != nil || expected <= 0 {
		return domain.SeriesStatusUnknown, nil
	}

	values, err := tx.GetChildrenMetadata(seriesID, domain.MetadataTypeIndexInSeries)
	if err != nil {
		return domain.SeriesStatusUnknown, err
	}
	seen := make(map[int]bool, len(values))
	for _, value := range values {
		slot, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return domain.SeriesStatusUnknown, nil
		}
		if slot < 1 || slot > expected || seen[slot] {
			return domain.SeriesStatusInconsistent, nil
		}
		seen[slot] = true
	}
	if len(seen) == expected {
		return domain.SeriesStatusComplete, nil
	}
	return domain.SeriesStatusMissing, nil
}
