package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"dicomcore/internal/dicom"
	"dicomcore/pkg/domain"
)

type recordingListener struct {
	deleted     []string
	attachments []domain.FileInfo
	remaining   []string
}

func (l *recordingListener) SignalResourceDeleted(level domain.ResourceType, publicID string) {
	l.deleted = append(l.deleted, publicID)
}

func (l *recordingListener) SignalAttachmentDeleted(info domain.FileInfo) {
	l.attachments = append(l.attachments, info)
}

func (l *recordingListener) SignalRemainingAncestor(level domain.ResourceType, publicID string) {
	l.remaining = append(l.remaining, publicID)
}

func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func beginWrite(t *testing.T, db *Database, listener Listener) *Transaction {
	t.Helper()
	tx, err := db.Begin(context.Background(), false, listener)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return tx
}

func commit(t *testing.T, tx *Transaction) {
	t.Helper()
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

const (
	hashPatient  = "1111111111111111111111111111111111111111"
	hashStudy    = "2222222222222222222222222222222222222222"
	hashSeries   = "3333333333333333333333333333333333333333"
	hashInstance = "4444444444444444444444444444444444444444"
)

func createTestInstance(t *testing.T, tx *Transaction, instance string) InstanceCreation {
	t.Helper()
	created, err := tx.CreateInstance(hashPatient, hashStudy, hashSeries, instance)
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return created
}

func TestSchemaVersion(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	defer tx.Rollback()
	value, found, err := tx.LookupGlobalProperty(GlobalPropertyDatabaseSchemaVersion)
	if err != nil || !found {
		t.Fatalf("schema version lookup: found=%v err=%v", found, err)
	}
	if value != "6" {
		t.Fatalf("schema version = %q", value)
	}
}

func TestGlobalProperties(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	if err := tx.SetGlobalProperty(GlobalPropertyFlushSleep, "10"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tx.SetGlobalProperty(GlobalPropertyFlushSleep, "20"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	value, found, err := tx.LookupGlobalProperty(GlobalPropertyFlushSleep)
	if err != nil || !found || value != "20" {
		t.Fatalf("lookup = %q, %v, %v", value, found, err)
	}
	if _, found, _ := tx.LookupGlobalProperty(1000); found {
		t.Fatal("unexpected property")
	}

	first, err := tx.IncrementGlobalSequence(GlobalPropertyAnonymizationSequence)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	second, err := tx.IncrementGlobalSequence(GlobalPropertyAnonymizationSequence)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if second != first+1 {
		t.Fatalf("sequence %d then %d", first, second)
	}
}

func TestCreateInstanceHierarchy(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	if created.Existed {
		t.Fatal("fresh instance reported as existing")
	}
	if !created.IsNewPatient || !created.IsNewStudy || !created.IsNewSeries {
		t.Fatalf("ancestors not reported new: %+v", created)
	}

	// A sibling instance reuses every ancestor.
	sibling := createTestInstance(t, tx, "5555555555555555555555555555555555555555")
	if sibling.Existed || sibling.IsNewPatient || sibling.IsNewStudy || sibling.IsNewSeries {
		t.Fatalf("sibling creation: %+v", sibling)
	}

	// A replay of the first instance touches nothing.
	replay := createTestInstance(t, tx, hashInstance)
	if !replay.Existed {
		t.Fatal("replay not detected")
	}
	if replay.InstanceID != created.InstanceID {
		t.Fatalf("replay id %d != %d", replay.InstanceID, created.InstanceID)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	id, level, found, err := tx.LookupResource(hashSeries)
	if err != nil || !found || level != domain.ResourceTypeSeries {
		t.Fatalf("series lookup: %v %v %v", level, found, err)
	}
	children, err := tx.GetChildrenPublicID(id)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("series has %d children", len(children))
	}
	parent, ok, err := tx.LookupParent(created.InstanceID)
	if err != nil || !ok {
		t.Fatalf("parent: %v %v", ok, err)
	}
	if name, _ := tx.GetPublicID(parent); name != hashSeries {
		t.Fatalf("parent public id %q", name)
	}
	patientID, _, _, err := tx.LookupResource(hashPatient)
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	if _, ok, _ := tx.LookupParent(patientID); ok {
		t.Fatal("patient has a parent")
	}
}

func TestDeleteResourceCascades(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	info := domain.NewFileInfo("uuid-1", domain.FileContentTypeDicom, 100, "md5")
	if err := tx.AddAttachment(created.InstanceID, info, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	commit(t, tx)

	listener := &recordingListener{}
	tx = beginWrite(t, db, listener)
	seriesID, _, _, err := tx.LookupResource(hashSeries)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := tx.DeleteResource(seriesID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	commit(t, tx)

	// Deleting the only series removes the childless study and patient too.
	if len(listener.deleted) != 4 {
		t.Fatalf("deleted %v", listener.deleted)
	}
	if len(listener.remaining) != 0 {
		t.Fatalf("remaining %v", listener.remaining)
	}
	if len(listener.attachments) != 1 || listener.attachments[0].UUID != "uuid-1" {
		t.Fatalf("attachments %v", listener.attachments)
	}

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	if _, _, found, _ := tx.LookupResource(hashPatient); found {
		t.Fatal("patient survived cascade")
	}
}

func TestDeleteResourceSignalsRemainingAncestor(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	createTestInstance(t, tx, hashInstance)
	other := "5555555555555555555555555555555555555555"
	if _, err := tx.CreateInstance(hashPatient, hashStudy,
		"6666666666666666666666666666666666666666", other); err != nil {
		t.Fatalf("second series: %v", err)
	}
	commit(t, tx)

	listener := &recordingListener{}
	tx = beginWrite(t, db, listener)
	seriesID, _, _, err := tx.LookupResource(hashSeries)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := tx.DeleteResource(seriesID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	commit(t, tx)

	if len(listener.remaining) != 1 || listener.remaining[0] != hashStudy {
		t.Fatalf("remaining %v", listener.remaining)
	}
	if len(listener.deleted) != 2 {
		t.Fatalf("deleted %v", listener.deleted)
	}
}

func TestChangeLogSurvivesDeletion(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	date := "20260831T120000"
	if err := tx.LogChange(created.InstanceID, domain.ChangeTypeNewInstance,
		domain.ResourceTypeInstance, hashInstance, date); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := tx.LogChange(created.InstanceID, domain.ChangeTypeNewSeries,
		domain.ResourceTypeSeries, hashSeries, date); err != nil {
		t.Fatalf("log: %v", err)
	}
	commit(t, tx)

	listener := &recordingListener{}
	tx = beginWrite(t, db, listener)
	patientID, _, _, err := tx.LookupResource(hashPatient)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := tx.DeleteResource(patientID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	changes, done, err := tx.GetChanges(0, 10)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if !done || len(changes) != 2 {
		t.Fatalf("changes=%d done=%v", len(changes), done)
	}
	if changes[0].Seq >= changes[1].Seq {
		t.Fatalf("sequence order %d %d", changes[0].Seq, changes[1].Seq)
	}
	if changes[0].Type != domain.ChangeTypeNewInstance || changes[0].PublicID != hashInstance {
		t.Fatalf("first change %+v", changes[0])
	}

	last, found, err := tx.GetLastChange()
	if err != nil || !found {
		t.Fatalf("last change: %v %v", found, err)
	}
	if last.Type != domain.ChangeTypeNewSeries {
		t.Fatalf("last change %+v", last)
	}
}

func TestGetChangesPagination(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	for i := 0; i < 5; i++ {
		if err := tx.LogChange(created.InstanceID, domain.ChangeTypeNewInstance,
			domain.ResourceTypeInstance, hashInstance, "20260831"); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	page, done, err := tx.GetChanges(0, 3)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if done || len(page) != 3 {
		t.Fatalf("page=%d done=%v", len(page), done)
	}
	rest, done, err := tx.GetChanges(page[2].Seq, 3)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	if !done || len(rest) != 2 {
		t.Fatalf("rest=%d done=%v", len(rest), done)
	}
}

func TestLogChangeRejectsInternalKinds(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	defer tx.Rollback()
	err := tx.LogChange(1, domain.ChangeTypeDeleted, domain.ResourceTypePatient, "x", "date")
	if !domain.IsErrorCode(err, domain.ErrParameterOutOfRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestAttachmentsAndRevisions(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	info := domain.NewCompressedFileInfo("uuid-z", domain.FileContentTypeDicom,
		1000, "md5-u", 400, "md5-c")
	if err := tx.AddAttachment(created.InstanceID, info, 7); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := tx.AddAttachment(created.InstanceID, info, 8); !domain.IsErrorCode(err, domain.ErrBadSequenceOfCalls) {
		t.Fatalf("duplicate add: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	got, revision, found, err := tx.LookupAttachment(created.InstanceID, domain.FileContentTypeDicom)
	if err != nil || !found {
		t.Fatalf("lookup: %v %v", found, err)
	}
	if revision != 7 || got.UUID != "uuid-z" || got.CompressedSize != 400 ||
		got.CompressionType != domain.CompressionZlibWithSize {
		t.Fatalf("attachment %+v revision %d", got, revision)
	}
	all, err := tx.ListAttachments(created.InstanceID)
	if err != nil || len(all) != 1 {
		t.Fatalf("list: %v %v", all, err)
	}
	tx.Rollback()

	listener := &recordingListener{}
	tx = beginWrite(t, db, listener)
	deleted, err := tx.DeleteAttachment(created.InstanceID, domain.FileContentTypeDicom)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	deleted, err = tx.DeleteAttachment(created.InstanceID, domain.FileContentTypeDicom)
	if err != nil || deleted {
		t.Fatalf("second delete: %v %v", deleted, err)
	}
	commit(t, tx)
	if len(listener.attachments) != 1 {
		t.Fatalf("signals %v", listener.attachments)
	}
}

func TestMetadata(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	if err := tx.SetMetadata(created.InstanceID, domain.MetadataTypeRemoteAET, "PACS", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tx.SetMetadata(created.InstanceID, domain.MetadataTypeRemoteAET, "MODALITY", 1); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := tx.SetMetadata(created.InstanceID, domain.MetadataTypeIndexInSeries, "4", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	value, revision, found, err := tx.LookupMetadata(created.InstanceID, domain.MetadataTypeRemoteAET)
	if err != nil || !found || value != "MODALITY" || revision != 1 {
		t.Fatalf("lookup = %q rev=%d found=%v err=%v", value, revision, found, err)
	}
	all, err := tx.GetAllMetadata(created.InstanceID)
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %v, %v", all, err)
	}

	seriesID, _, _, err := tx.LookupResource(hashSeries)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	values, err := tx.GetChildrenMetadata(seriesID, domain.MetadataTypeIndexInSeries)
	if err != nil || len(values) != 1 || values[0] != "4" {
		t.Fatalf("children metadata %v, %v", values, err)
	}
	tx.Rollback()

	tx = beginWrite(t, db, nil)
	deleted, err := tx.DeleteMetadata(created.InstanceID, domain.MetadataTypeRemoteAET)
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	commit(t, tx)
}

func TestIdentifierLookups(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	patientID, _, _, err := tx.LookupResource(hashPatient)
	if err != nil {
		t.Fatalf("patient: %v", err)
	}
	if err := tx.SetIdentifierTag(patientID, dicom.TagPatientID, "PATIENT 7"); err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if err := tx.SetIdentifierTag(patientID, dicom.TagPatientName, "DOE JOHN"); err != nil {
		t.Fatalf("identifier: %v", err)
	}
	if err := tx.SetMainDicomTag(created.InstanceID, dicom.TagInstanceNumber, "12"); err != nil {
		t.Fatalf("main tag: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()

	ids, err := tx.LookupIdentifier(domain.ResourceTypePatient, dicom.TagPatientID,
		ConstraintEqual, "PATIENT 7")
	if err != nil || len(ids) != 1 || ids[0] != patientID {
		t.Fatalf("equal lookup %v, %v", ids, err)
	}
	ids, err = tx.LookupIdentifier(domain.ResourceTypePatient, dicom.TagPatientName,
		ConstraintWildcard, "DOE*")
	if err != nil || len(ids) != 1 {
		t.Fatalf("wildcard lookup %v, %v", ids, err)
	}
	ids, err = tx.LookupIdentifierRange(domain.ResourceTypePatient, dicom.TagPatientID,
		"PATIENT 0", "PATIENT 9")
	if err != nil || len(ids) != 1 {
		t.Fatalf("range lookup %v, %v", ids, err)
	}
	ids, err = tx.LookupIdentifier(domain.ResourceTypeStudy, dicom.TagPatientID,
		ConstraintEqual, "PATIENT 7")
	if err != nil || len(ids) != 0 {
		t.Fatalf("level filter leaked %v, %v", ids, err)
	}

	tags, err := tx.GetMainDicomTags(created.InstanceID)
	if err != nil {
		t.Fatalf("main tags: %v", err)
	}
	if v, ok := tags.GetString(dicom.TagInstanceNumber); !ok || v != "12" {
		t.Fatalf("instance number %q %v", v, ok)
	}
}

func TestRecyclingQueue(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	first, err := tx.CreateResource("patient-a", domain.ResourceTypePatient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := tx.CreateResource("patient-b", domain.ResourceTypePatient)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	head, found, err := tx.SelectPatientToRecycle()
	if err != nil || !found || head != first {
		t.Fatalf("head = %d, %v, %v", head, found, err)
	}
	head, found, err = tx.SelectPatientToRecycleAvoid(first)
	if err != nil || !found || head != second {
		t.Fatalf("avoid = %d, %v, %v", head, found, err)
	}

	// Touching the oldest patient moves it behind the other one.
	if err := tx.TagMostRecentPatient(first); err != nil {
		t.Fatalf("tag: %v", err)
	}
	head, _, err = tx.SelectPatientToRecycle()
	if err != nil || head != second {
		t.Fatalf("after tag head = %d, %v", head, err)
	}

	if err := tx.SetProtectedPatient(second, true); err != nil {
		t.Fatalf("protect: %v", err)
	}
	protected, err := tx.IsProtectedPatient(second)
	if err != nil || !protected {
		t.Fatalf("protected = %v, %v", protected, err)
	}
	head, _, err = tx.SelectPatientToRecycle()
	if err != nil || head != first {
		t.Fatalf("protected head = %d, %v", head, err)
	}

	// Unprotecting reinserts at the tail.
	if err := tx.SetProtectedPatient(second, false); err != nil {
		t.Fatalf("unprotect: %v", err)
	}
	head, _, err = tx.SelectPatientToRecycle()
	if err != nil || head != first {
		t.Fatalf("tail reinsert head = %d, %v", head, err)
	}

	// Protecting an already protected patient is a no-op.
	if err := tx.SetProtectedPatient(second, false); err != nil {
		t.Fatalf("redundant unprotect: %v", err)
	}
	commit(t, tx)

	listener := &recordingListener{}
	tx = beginWrite(t, db, listener)
	if err := tx.DeleteResource(first); err != nil {
		t.Fatalf("delete: %v", err)
	}
	head, found, err = tx.SelectPatientToRecycle()
	if err != nil || !found || head != second {
		t.Fatalf("after delete head = %d, %v, %v", head, found, err)
	}
	commit(t, tx)
}

func TestStatistics(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	created := createTestInstance(t, tx, hashInstance)
	dicomFile := domain.NewCompressedFileInfo("uuid-a", domain.FileContentTypeDicom,
		1000, "m1", 300, "m2")
	jsonFile := domain.NewFileInfo("uuid-b", domain.FileContentTypeDicomAsJSON, 50, "m3")
	if err := tx.AddAttachment(created.InstanceID, dicomFile, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := tx.AddAttachment(created.InstanceID, jsonFile, 0); err != nil {
		t.Fatalf("attach: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	stats, err := tx.GetStatistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.TotalUncompressedSize != 1050 || stats.TotalCompressedSize != 350 {
		t.Fatalf("sizes %+v", stats)
	}
	if stats.CountPatients != 1 || stats.CountStudies != 1 ||
		stats.CountSeries != 1 || stats.CountInstances != 1 {
		t.Fatalf("counts %+v", stats)
	}

	above, err := tx.IsDiskSizeAbove(349)
	if err != nil || !above {
		t.Fatalf("above 349 = %v, %v", above, err)
	}
	above, err = tx.IsDiskSizeAbove(350)
	if err != nil || above {
		t.Fatalf("above 350 = %v, %v", above, err)
	}
}

func TestExportedResources(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	exported := domain.ExportedResource{
		ResourceType:      domain.ResourceTypeInstance,
		PublicID:          hashInstance,
		Modality:          "PACS",
		Date:              "20260831T090000",
		PatientID:         "PATIENT 7",
		StudyInstanceUID:  "1.2.3",
		SeriesInstanceUID: "1.2.3.4",
		SOPInstanceUID:    "1.2.3.4.5",
	}
	if err := tx.LogExportedResource(exported); err != nil {
		t.Fatalf("log: %v", err)
	}
	commit(t, tx)

	tx = beginWrite(t, db, nil)
	defer tx.Rollback()
	all, done, err := tx.GetExportedResources(0, 10)
	if err != nil || !done || len(all) != 1 {
		t.Fatalf("exported = %v done=%v err=%v", all, done, err)
	}
	if all[0].SOPInstanceUID != "1.2.3.4.5" || all[0].Modality != "PACS" {
		t.Fatalf("exported %+v", all[0])
	}
	last, found, err := tx.GetLastExportedResource()
	if err != nil || !found || last.PublicID != hashInstance {
		t.Fatalf("last %+v %v %v", last, found, err)
	}
}

func TestUnknownResourceErrors(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	defer tx.Rollback()
	if _, err := tx.GetPublicID(999); !domain.IsErrorCode(err, domain.ErrUnknownResource) {
		t.Fatalf("public id err = %v", err)
	}
	if _, err := tx.GetResourceType(999); !domain.IsErrorCode(err, domain.ErrUnknownResource) {
		t.Fatalf("type err = %v", err)
	}
	if _, _, found, err := tx.LookupResource("missing"); err != nil || found {
		t.Fatalf("lookup = %v, %v", found, err)
	}
}

func TestDoubleCommit(t *testing.T) {
	db := openTestDatabase(t)

	tx := beginWrite(t, db, nil)
	commit(t, tx)
	if err := tx.Commit(); !domain.IsErrorCode(err, domain.ErrBadSequenceOfCalls) {
		t.Fatalf("double commit err = %v", err)
	}
	tx.Rollback()
}
