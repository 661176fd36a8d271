// Package dicom models the slice of the DICOM data dictionary the store
// cares about: tags, string values, flat tag maps, the main/identifier tag
// registry, identifier normalization and the deterministic resource hasher.
// Parsing of DICOM byte streams is out of scope; callers hand over flat tag
// maps extracted upstream.
package dicom

import (
	"fmt"

	dcmtag "github.com/suyashkumar/dicom/pkg/tag"

	"dicomcore/pkg/domain"
)

// Tag is a DICOM attribute tag, a (group, element) pair.
type Tag struct {
	Group   uint16
	Element uint16
}

// fromStd converts a data-dictionary constant into the local tag type.
func fromStd(t dcmtag.Tag) Tag {
	return Tag{Group: t.Group, Element: t.Element}
}

// String renders the tag in the conventional "gggg,eeee" form.
func (t Tag) String() string {
	return fmt.Sprintf("%04x,%04x", t.Group, t.Element)
}

// Compare orders tags by group, then element.
func (t Tag) Compare(other Tag) int {
	switch {
	case t.Group < other.Group:
		return -1
	case t.Group > other.Group:
		return 1
	case t.Element < other.Element:
		return -1
	case t.Element > other.Element:
		return 1
	default:
		return 0
	}
}

// IsPrivate reports whether the tag belongs to an odd, vendor-specific group.
func (t Tag) IsPrivate() bool {
	return t.Group%2 == 1
}

// ParseTag parses the "gggg,eeee" form, accepting upper or lower case hex.
func ParseTag(s string) (Tag, error) {
	var group, element uint16
	if _, err := fmt.Sscanf(s, "%04x,%04x", &group, &element); err != nil || len(s) != 9 {
		return Tag{}, domain.Errorf(domain.ErrParameterOutOfRange, "malformed DICOM tag %q", s)
	}
	return Tag{Group: group, Element: element}, nil
}

// Tags referenced directly by the store logic. The registry in registry.go
// holds the full per-level tables.
var (
	TagPatientID         = fromStd(dcmtag.PatientID)
	TagPatientName       = fromStd(dcmtag.PatientName)
	TagStudyInstanceUID  = fromStd(dcmtag.StudyInstanceUID)
	TagSeriesInstanceUID = fromStd(dcmtag.SeriesInstanceUID)
	TagSOPInstanceUID    = fromStd(dcmtag.SOPInstanceUID)
	TagSOPClassUID       = fromStd(dcmtag.SOPClassUID)
	TagAccessionNumber   = fromStd(dcmtag.AccessionNumber)
	TagStudyDate         = fromStd(dcmtag.StudyDate)
	TagModality          = fromStd(dcmtag.Modality)

	TagInstanceNumber = fromStd(dcmtag.InstanceNumber)
	TagImageIndex     = fromStd(dcmtag.ImageIndex)

	TagImagesInAcquisition      = fromStd(dcmtag.ImagesInAcquisition)
	TagNumberOfTemporalPosition = fromStd(dcmtag.NumberOfTemporalPositions)
	TagNumberOfSlices           = fromStd(dcmtag.NumberOfSlices)
	TagNumberOfTimeSlices       = fromStd(dcmtag.NumberOfTimeSlices)
	TagCardiacNumberOfImages    = fromStd(dcmtag.CardiacNumberOfImages)
)
