package index

import "fmt"

// schemaVersion is recorded in GlobalProperties at creation time. Opening a
// database written by a newer schema is refused.
const schemaVersion = 6

// Global property slots.
const (
	GlobalPropertyDatabaseSchemaVersion = 1
	GlobalPropertyDatabasePatchLevel    = 2
	GlobalPropertyFlushSleep            = 3
	GlobalPropertyAnonymizationSequence = 4
)

func schemaStatements(d dialect) []string {
	pk := d.autoincrementPK()
	return []string{
		`CREATE TABLE IF NOT EXISTS GlobalProperties(
			property INTEGER PRIMARY KEY,
			value TEXT
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS Resources(
			internalId %s,
			resourceType INTEGER NOT NULL,
			publicId TEXT NOT NULL,
			parentId BIGINT
		)`, pk),
		`CREATE UNIQUE INDEX IF NOT EXISTS PublicIndex ON Resources(publicId)`,
		`CREATE INDEX IF NOT EXISTS ResourceTypeIndex ON Resources(resourceType)`,
		`CREATE INDEX IF NOT EXISTS ChildrenIndex ON Resources(parentId)`,
		`CREATE TABLE IF NOT EXISTS MainDicomTags(
			id BIGINT NOT NULL,
			tagGroup INTEGER NOT NULL,
			tagElement INTEGER NOT NULL,
			value TEXT,
			PRIMARY KEY(id, tagGroup, tagElement)
		)`,
		`CREATE TABLE IF NOT EXISTS DicomIdentifiers(
			id BIGINT NOT NULL,
			tagGroup INTEGER NOT NULL,
			tagElement INTEGER NOT NULL,
			value TEXT,
			PRIMARY KEY(id, tagGroup, tagElement)
		)`,
		`CREATE INDEX IF NOT EXISTS DicomIdentifiersIndexValues ON DicomIdentifiers(tagGroup, tagElement, value)`,
		`CREATE TABLE IF NOT EXISTS Metadata(
			id BIGINT NOT NULL,
			type INTEGER NOT NULL,
			value TEXT,
			revision BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY(id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS AttachedFiles(
			id BIGINT NOT NULL,
			fileType INTEGER NOT NULL,
			uuid TEXT NOT NULL,
			compressedSize BIGINT NOT NULL,
			uncompressedSize BIGINT NOT NULL,
			compressionType INTEGER NOT NULL,
			uncompressedMD5 TEXT,
			compressedMD5 TEXT,
			revision BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY(id, fileType)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS Changes(
			seq %s,
			changeType INTEGER NOT NULL,
			internalId BIGINT NOT NULL,
			resourceType INTEGER NOT NULL,
			publicId TEXT NOT NULL,
			date TEXT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ExportedResources(
			seq %s,
			resourceType INTEGER NOT NULL,
			publicId TEXT NOT NULL,
			remoteModality TEXT NOT NULL,
			patientId TEXT,
			studyInstanceUid TEXT,
			seriesInstanceUid TEXT,
			sopInstanceUid TEXT,
			date TEXT NOT NULL
		)`, pk),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS PatientRecyclingOrder(
			seq %s,
			patientId BIGINT NOT NULL
		)`, pk),
		`CREATE UNIQUE INDEX IF NOT EXISTS PatientRecyclingIndex ON PatientRecyclingOrder(patientId)`,
	}
}
