// Package domain defines the shared vocabulary of the DICOM store: resource
// levels, change and metadata kinds, attachment descriptors and the error
// taxonomy. It is imported by every layer and must not depend on any internal
// package.
package domain

import "fmt"

// ResourceType identifies one of the four levels of the DICOM resource tree.
// The numeric order follows the hierarchy: a patient contains studies, a study
// contains series, a series contains instances.
type ResourceType int

const (
	ResourceTypePatient ResourceType = iota
	ResourceTypeStudy
	ResourceTypeSeries
	ResourceTypeInstance
)

// String returns the canonical name of the level.
func (t ResourceType) String() string {
	switch t {
	case ResourceTypePatient:
		return "Patient"
	case ResourceTypeStudy:
		return "Study"
	case ResourceTypeSeries:
		return "Series"
	case ResourceTypeInstance:
		return "Instance"
	default:
		return fmt.Sprintf("ResourceType(%d)", int(t))
	}
}

// IsValid reports whether the value is one of the four defined levels.
func (t ResourceType) IsValid() bool {
	return t >= ResourceTypePatient && t <= ResourceTypeInstance
}

// Parent returns the enclosing level. Calling it on the patient level is a
// programming error.
func (t ResourceType) Parent() (ResourceType, error) {
	if t <= ResourceTypePatient || t > ResourceTypeInstance {
		return 0, NewError(ErrParameterOutOfRange, "resource level has no parent: "+t.String())
	}
	return t - 1, nil
}

// Child returns the contained level. Calling it on the instance level is a
// programming error.
func (t ResourceType) Child() (ResourceType, error) {
	if t < ResourceTypePatient || t >= ResourceTypeInstance {
		return 0, NewError(ErrParameterOutOfRange, "resource level has no child: "+t.String())
	}
	return t + 1, nil
}

// ParseResourceType maps a canonical level name back to its enum value. The
// comparison is case sensitive, matching the output of String.
func ParseResourceType(s string) (ResourceType, error) {
	switch s {
	case "Patient":
		return ResourceTypePatient, nil
	case "Study":
		return ResourceTypeStudy, nil
	case "Series":
		return ResourceTypeSeries, nil
	case "Instance":
		return ResourceTypeInstance, nil
	default:
		return 0, NewError(ErrParameterOutOfRange, "unknown resource level: "+s)
	}
}

// StoreStatus is the outcome of storing one instance.
type StoreStatus int

const (
	// StoreStatusSuccess means the instance was indexed for the first time,
	// or an existing copy was overwritten.
	StoreStatusSuccess StoreStatus = iota
	// StoreStatusAlreadyStored means the instance was already present and
	// overwriting is disabled. The index was left untouched.
	StoreStatusAlreadyStored
	// StoreStatusFailure covers malformed instances and internal errors.
	StoreStatusFailure
	// StoreStatusFilteredOut means an ingest filter rejected the instance
	// before it reached the index.
	StoreStatusFilteredOut
	// StoreStatusStorageFull means recycling could not reclaim enough space
	// below the configured quotas.
	StoreStatusStorageFull
)

func (s StoreStatus) String() string {
	switch s {
	case StoreStatusSuccess:
		return "Success"
	case StoreStatusAlreadyStored:
		return "AlreadyStored"
	case StoreStatusFailure:
		return "Failure"
	case StoreStatusFilteredOut:
		return "FilteredOut"
	case StoreStatusStorageFull:
		return "StorageFull"
	default:
		return fmt.Sprintf("StoreStatus(%d)", int(s))
	}
}

// SeriesStatus summarizes the completeness of a series against its expected
// number of instances.
type SeriesStatus int

const (
	// SeriesStatusComplete means every expected slot [1..N] is filled.
	SeriesStatusComplete SeriesStatus = iota
	// SeriesStatusMissing means some expected slots are still empty.
	SeriesStatusMissing
	// SeriesStatusInconsistent means a slot is duplicated or out of range.
	SeriesStatusInconsistent
	// SeriesStatusUnknown means the expected count or an instance index could
	// not be determined.
	SeriesStatusUnknown
)

func (s SeriesStatus) String() string {
	switch s {
	case SeriesStatusComplete:
		return "Complete"
	case SeriesStatusMissing:
		return "Missing"
	case SeriesStatusInconsistent:
		return "Inconsistent"
	case SeriesStatusUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("SeriesStatus(%d)", int(s))
	}
}
