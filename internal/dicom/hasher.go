package dicom

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"dicomcore/pkg/domain"
)

// InstanceHasher derives the public resource identifiers of the four levels
// containing one instance. Identifiers are SHA-1 digests over the pipe-joined
// DICOM identifiers, so the same instance always maps to the same position in
// the tree, whichever node of a cluster indexes it. Digests are computed once
// and cached.
type InstanceHasher struct {
	patientID   string
	studyUID    string
	seriesUID   string
	instanceUID string

	hashPatient  string
	hashStudy    string
	hashSeries   string
	hashInstance string
}

// NewInstanceHasher extracts the identifiers from an instance summary. A
// missing PatientID is tolerated and treated as empty, but the three UIDs are
// mandatory; their absence marks the instance as unusable.
func NewInstanceHasher(summary *Map) (*InstanceHasher, error) {
	patientID, _ := summary.GetString(TagPatientID)

	studyUID, okStudy := summary.GetString(TagStudyInstanceUID)
	seriesUID, okSeries := summary.GetString(TagSeriesInstanceUID)
	instanceUID, okInstance := summary.GetString(TagSOPInstanceUID)
	if !okStudy || !okSeries || !okInstance ||
		studyUID == "" || seriesUID == "" || instanceUID == "" {
		return nil, domain.NewError(domain.ErrBadFileFormat,
			"missing StudyInstanceUID, SeriesInstanceUID or SOPInstanceUID")
	}

	return &InstanceHasher{
		patientID:   patientID,
		studyUID:    studyUID,
		seriesUID:   seriesUID,
		instanceUID: instanceUID,
	}, nil
}

func hashOf(components ...string) string {
	sum := sha1.Sum([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

// HashPatient returns the patient-level identifier.
func (h *InstanceHasher) HashPatient() string {
	if h.hashPatient == "" {
		h.hashPatient = hashOf(h.patientID)
	}
	return h.hashPatient
}

// HashStudy returns the study-level identifier.
func (h *InstanceHasher) HashStudy() string {
	if h.hashStudy == "" {
		h.hashStudy = hashOf(h.patientID, h.studyUID)
	}
	return h.hashStudy
}

// HashSeries returns the series-level identifier.
func (h *InstanceHasher) HashSeries() string {
	if h.hashSeries == "" {
		h.hashSeries = hashOf(h.patientID, h.studyUID, h.seriesUID)
	}
	return h.hashSeries
}

// HashInstance returns the instance-level identifier.
func (h *InstanceHasher) HashInstance() string {
	if h.hashInstance == "" {
		h.hashInstance = hashOf(h.patientID, h.studyUID, h.seriesUID, h.instanceUID)
	}
	return h.hashInstance
}

// Hash returns the identifier for an arbitrary level.
func (h *InstanceHasher) Hash(level domain.ResourceType) string {
	switch level {
	case domain.ResourceTypePatient:
		return h.HashPatient()
	case domain.ResourceTypeStudy:
		return h.HashStudy()
	case domain.ResourceTypeSeries:
		return h.HashSeries()
	default:
		return h.HashInstance()
	}
}
