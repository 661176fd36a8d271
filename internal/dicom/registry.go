package dicom

import (
	dcmtag "github.com/suyashkumar/dicom/pkg/tag"

	"dicomcore/pkg/domain"
)

// TagType tells how the index treats a tag.
type TagType int

const (
	// TagTypeGeneric tags are not indexed at all.
	TagTypeGeneric TagType = iota
	// TagTypeMain tags are stored verbatim per resource and matched in
	// memory during queries.
	TagTypeMain
	// TagTypeIdentifier tags are additionally stored in normalized form and
	// matched through index lookups.
	TagTypeIdentifier
)

// TagInfo is the classification of one known tag.
type TagInfo struct {
	Tag   Tag
	Level domain.ResourceType
	Type  TagType
}

// The identifier tags per level. Patient identifier tags are also written at
// the study level so patient criteria can be answered from study rows; the
// query planner relies on that duplication when it promotes patient-level
// constraints to studies.
var identifierTags = map[domain.ResourceType][]Tag{
	domain.ResourceTypePatient: {
		fromStd(dcmtag.PatientID),
		fromStd(dcmtag.PatientName),
		fromStd(dcmtag.PatientBirthDate),
	},
	domain.ResourceTypeStudy: {
		fromStd(dcmtag.StudyInstanceUID),
		fromStd(dcmtag.AccessionNumber),
		fromStd(dcmtag.StudyDescription),
		fromStd(dcmtag.StudyDate),
	},
	domain.ResourceTypeSeries: {
		fromStd(dcmtag.SeriesInstanceUID),
	},
	domain.ResourceTypeInstance: {
		fromStd(dcmtag.SOPInstanceUID),
	},
}

// The main tags per level, the attributes kept verbatim in the index so the
// resource tree can be browsed without touching the storage area.
var mainTags = map[domain.ResourceType][]Tag{
	domain.ResourceTypePatient: {
		fromStd(dcmtag.PatientName),
		fromStd(dcmtag.PatientBirthDate),
		fromStd(dcmtag.PatientSex),
		fromStd(dcmtag.OtherPatientIDs),
		fromStd(dcmtag.PatientID),
	},
	domain.ResourceTypeStudy: {
		fromStd(dcmtag.StudyDate),
		fromStd(dcmtag.StudyTime),
		fromStd(dcmtag.StudyID),
		fromStd(dcmtag.StudyDescription),
		fromStd(dcmtag.AccessionNumber),
		fromStd(dcmtag.StudyInstanceUID),
		fromStd(dcmtag.RequestedProcedureDescription),
		fromStd(dcmtag.InstitutionName),
		fromStd(dcmtag.RequestingPhysician),
		fromStd(dcmtag.ReferringPhysicianName),
	},
	domain.ResourceTypeSeries: {
		fromStd(dcmtag.SeriesDate),
		fromStd(dcmtag.SeriesTime),
		fromStd(dcmtag.Modality),
		fromStd(dcmtag.Manufacturer),
		fromStd(dcmtag.StationName),
		fromStd(dcmtag.SeriesDescription),
		fromStd(dcmtag.BodyPartExamined),
		fromStd(dcmtag.SequenceName),
		fromStd(dcmtag.ProtocolName),
		fromStd(dcmtag.SeriesNumber),
		fromStd(dcmtag.CardiacNumberOfImages),
		fromStd(dcmtag.ImagesInAcquisition),
		fromStd(dcmtag.NumberOfTemporalPositions),
		fromStd(dcmtag.NumberOfSlices),
		fromStd(dcmtag.NumberOfTimeSlices),
		fromStd(dcmtag.SeriesInstanceUID),
		fromStd(dcmtag.ImageOrientationPatient),
		fromStd(dcmtag.SeriesType),
		fromStd(dcmtag.OperatorsName),
		fromStd(dcmtag.PerformedProcedureStepDescription),
		fromStd(dcmtag.AcquisitionDeviceProcessingDescription),
		fromStd(dcmtag.ContrastBolusAgent),
	},
	domain.ResourceTypeInstance: {
		fromStd(dcmtag.InstanceCreationDate),
		fromStd(dcmtag.InstanceCreationTime),
		fromStd(dcmtag.AcquisitionNumber),
		fromStd(dcmtag.ImageIndex),
		fromStd(dcmtag.InstanceNumber),
		fromStd(dcmtag.NumberOfFrames),
		fromStd(dcmtag.TemporalPositionIdentifier),
		fromStd(dcmtag.SOPInstanceUID),
		fromStd(dcmtag.ImagePositionPatient),
		fromStd(dcmtag.ImageComments),
		fromStd(dcmtag.ImageOrientationPatient),
	},
}

var registry = buildRegistry()

// buildRegistry walks the levels from patient to instance and records the
// first classification of each tag. Identifier status wins over main status.
// A tag listed at two levels, such as ImageOrientationPatient, keeps its
// shallowest level; the query planner handles the patient-to-study promotion
// separately.
func buildRegistry() map[Tag]TagInfo {
	out := make(map[Tag]TagInfo)
	levels := []domain.ResourceType{
		domain.ResourceTypePatient,
		domain.ResourceTypeStudy,
		domain.ResourceTypeSeries,
		domain.ResourceTypeInstance,
	}
	for _, level := range levels {
		for _, t := range identifierTags[level] {
			if _, seen := out[t]; !seen {
				out[t] = TagInfo{Tag: t, Level: level, Type: TagTypeIdentifier}
			}
		}
	}
	for _, level := range levels {
		for _, t := range mainTags[level] {
			if _, seen := out[t]; !seen {
				out[t] = TagInfo{Tag: t, Level: level, Type: TagTypeMain}
			}
		}
	}
	return out
}

// LookupTag classifies a tag. Unknown tags report false and are treated as
// generic.
func LookupTag(t Tag) (TagInfo, bool) {
	info, ok := registry[t]
	return info, ok
}

// MainTags lists the main tags of one level, including those that double as
// identifiers.
func MainTags(level domain.ResourceType) []Tag {
	out := make([]Tag, len(mainTags[level]))
	copy(out, mainTags[level])
	return out
}

// IdentifierTags lists the tags stored in normalized form at one level. For
// studies this includes the patient identifier tags, matching the row
// duplication performed at store time.
func IdentifierTags(level domain.ResourceType) []Tag {
	out := make([]Tag, 0, len(identifierTags[level])+3)
	if level == domain.ResourceTypeStudy {
		out = append(out, identifierTags[domain.ResourceTypePatient]...)
	}
	out = append(out, identifierTags[level]...)
	return out
}

// IsIdentifierTag reports whether the tag is matched through index lookups
// when querying at the given level.
func IsIdentifierTag(t Tag, level domain.ResourceType) bool {
	for _, candidate := range IdentifierTags(level) {
		if candidate == t {
			return true
		}
	}
	return false
}
