package domain

import "fmt"

// ChangeType identifies one event in the monotone change log. The numeric
// values are part of the on-disk format and of the public change feed, so
// they must never be renumbered. Values at or above ChangeTypeInternalLast
// are dispatched to in-process listeners but never written to the log.
type ChangeType int

const (
	ChangeTypeCompletedSeries   ChangeType = 1
	ChangeTypeNewInstance       ChangeType = 2
	ChangeTypeNewPatient        ChangeType = 3
	ChangeTypeNewSeries         ChangeType = 4
	ChangeTypeNewStudy          ChangeType = 5
	ChangeTypeAnonymizedStudy   ChangeType = 6
	ChangeTypeAnonymizedSeries  ChangeType = 7
	ChangeTypeModifiedStudy     ChangeType = 8
	ChangeTypeModifiedSeries    ChangeType = 9
	ChangeTypeAnonymizedPatient ChangeType = 10
	ChangeTypeModifiedPatient   ChangeType = 11
	ChangeTypeStablePatient     ChangeType = 12
	ChangeTypeStableStudy       ChangeType = 13
	ChangeTypeStableSeries      ChangeType = 14
	ChangeTypeUpdatedAttachment ChangeType = 15
	ChangeTypeUpdatedMetadata   ChangeType = 16

	// ChangeTypeInternalLast is the upper bound (exclusive) of persisted
	// change kinds.
	ChangeTypeInternalLast ChangeType = 4095

	ChangeTypeDeleted          ChangeType = 4096
	ChangeTypeNewChildInstance ChangeType = 4097
)

// IsLogged reports whether this kind of change is persisted in the change
// log, as opposed to being visible to in-process listeners only.
func (c ChangeType) IsLogged() bool {
	return c < ChangeTypeInternalLast
}

func (c ChangeType) String() string {
	switch c {
	case ChangeTypeCompletedSeries:
		return "CompletedSeries"
	case ChangeTypeNewInstance:
		return "NewInstance"
	case ChangeTypeNewPatient:
		return "NewPatient"
	case ChangeTypeNewSeries:
		return "NewSeries"
	case ChangeTypeNewStudy:
		return "NewStudy"
	case ChangeTypeAnonymizedStudy:
		return "AnonymizedStudy"
	case ChangeTypeAnonymizedSeries:
		return "AnonymizedSeries"
	case ChangeTypeModifiedStudy:
		return "ModifiedStudy"
	case ChangeTypeModifiedSeries:
		return "ModifiedSeries"
	case ChangeTypeAnonymizedPatient:
		return "AnonymizedPatient"
	case ChangeTypeModifiedPatient:
		return "ModifiedPatient"
	case ChangeTypeStablePatient:
		return "StablePatient"
	case ChangeTypeStableStudy:
		return "StableStudy"
	case ChangeTypeStableSeries:
		return "StableSeries"
	case ChangeTypeUpdatedAttachment:
		return "UpdatedAttachment"
	case ChangeTypeUpdatedMetadata:
		return "UpdatedMetadata"
	case ChangeTypeDeleted:
		return "Deleted"
	case ChangeTypeNewChildInstance:
		return "NewChildInstance"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(c))
	}
}

// Change is one entry of the change log. Seq is strictly increasing and
// gap-free within one index database.
type Change struct {
	Seq          int64
	Type         ChangeType
	ResourceType ResourceType
	PublicID     string
	Date         string
}

// ExportedResource records that a resource was sent to a remote modality.
type ExportedResource struct {
	Seq               int64
	ResourceType      ResourceType
	PublicID          string
	Modality          string
	Date              string
	PatientID         string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
}

// MetadataType identifies one metadata slot attached to a resource. Values
// below MetadataTypeStartUser are reserved for the store itself; user-defined
// slots live in [MetadataTypeStartUser, MetadataTypeEndUser].
type MetadataType int

const (
	MetadataTypeIndexInSeries             MetadataType = 1
	MetadataTypeReceptionDate             MetadataType = 2
	MetadataTypeRemoteAET                 MetadataType = 3
	MetadataTypeExpectedNumberOfInstances MetadataType = 4
	MetadataTypeModifiedFrom              MetadataType = 5
	MetadataTypeAnonymizedFrom            MetadataType = 6
	MetadataTypeLastUpdate                MetadataType = 7
	MetadataTypeOrigin                    MetadataType = 8
	MetadataTypeTransferSyntax            MetadataType = 9
	MetadataTypeSOPClassUID               MetadataType = 10
	MetadataTypeRemoteIP                  MetadataType = 11
	MetadataTypeCalledAET                 MetadataType = 12
	MetadataTypeHTTPUsername              MetadataType = 13

	MetadataTypeStartUser MetadataType = 1024
	MetadataTypeEndUser   MetadataType = 65535
)

// IsUserDefined reports whether the slot belongs to the user range. Only
// updates to user-defined slots are surfaced in the change log.
func (m MetadataType) IsUserDefined() bool {
	return m >= MetadataTypeStartUser && m <= MetadataTypeEndUser
}
