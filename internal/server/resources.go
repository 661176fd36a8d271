package server

import (
	"context"

	"dicomcore/internal/dicom"
	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// RemainingAncestor names the closest surviving ancestor after a deletion.
type RemainingAncestor struct {
	Level    domain.ResourceType
	PublicID string
}

func lookupExisting(tx *index.Transaction, publicID string) (int64, domain.ResourceType, error) {
	id, level, found, err := tx.LookupResource(publicID)
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, domain.Errorf(domain.ErrUnknownResource, "no resource %s", publicID)
	}
	return id, level, nil
}

// LookupResource reports the level of a public ID, if it exists.
func (s *ServerIndex) LookupResource(ctx context.Context, publicID string) (domain.ResourceType, bool, error) {
	var level domain.ResourceType
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		_, level, found, err = tx.LookupResource(publicID)
		return err
	})
	return level, found, err
}

// GetAllPublicIDs lists every resource at one level, in creation order.
func (s *ServerIndex) GetAllPublicIDs(ctx context.Context, level domain.ResourceType) ([]string, error) {
	var out []string
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		out, err = tx.GetAllPublicIDs(level)
		return err
	})
	return out, err
}

// GetChildren lists the direct children of a resource.
func (s *ServerIndex) GetChildren(ctx context.Context, publicID string) ([]string, error) {
	var out []string
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		out, err = tx.GetChildrenPublicID(id)
		return err
	})
	return out, err
}

// GetChildInstances descends from any resource down to its instance leaves.
func (s *ServerIndex) GetChildInstances(ctx context.Context, publicID string) ([]string, error) {
	var out []string
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		ids := []int64{id}
		for level != domain.ResourceTypeInstance {
			var next []int64
			for _, current := range ids {
				children, err := tx.GetChildrenInternalID(current)
				if err != nil {
					return err
				}
				next = append(next, children...)
			}
			ids = next
			if level, err = level.Child(); err != nil {
				return err
			}
		}
		for _, instance := range ids {
			publicID, err := tx.GetPublicID(instance)
			if err != nil {
				return err
			}
			out = append(out, publicID)
		}
		return nil
	})
	return out, err
}

// LookupParent returns the public ID of the parent, if any.
func (s *ServerIndex) LookupParent(ctx context.Context, publicID string) (string, bool, error) {
	var parent string
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		parentID, ok, err := tx.LookupParent(id)
		if err != nil || !ok {
			return err
		}
		found = true
		parent, err = tx.GetPublicID(parentID)
		return err
	})
	return parent, found, err
}

// GetMainDicomTags reloads the indexed tags of a resource.
func (s *ServerIndex) GetMainDicomTags(ctx context.Context, publicID string) (*dicom.Map, domain.ResourceType, error) {
	var tags *dicom.Map
	var level domain.ResourceType
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, actual, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		level = actual
		tags, err = tx.GetMainDicomTags(id)
		return err
	})
	return tags, level, err
}

// GetSeriesStatus recomputes the completeness of a series.
func (s *ServerIndex) GetSeriesStatus(ctx context.Context, publicID string) (domain.SeriesStatus, error) {
	status := domain.SeriesStatusUnknown
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		if level != domain.ResourceTypeSeries {
			return domain.Errorf(domain.ErrParameterOutOfRange, "%s is not a series", publicID)
		}
		status, err = computeSeriesStatus(tx, id)
		return err
	})
	return status, err
}

// DeleteResource removes a resource and its whole subtree. The second return
// names the closest ancestor that survived, when one did. Attachment blobs
// are removed from storage after the commit.
func (s *ServerIndex) DeleteResource(ctx context.Context, publicID string) (RemainingAncestor, bool, error) {
	var remaining RemainingAncestor
	var hasRemaining bool
	err := s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		if err := tx.DeleteResource(id); err != nil {
			return err
		}
		hasRemaining = tc.hasRemaining
		remaining = RemainingAncestor{Level: tc.remainingLevel, PublicID: tc.remainingID}
		return nil
	})
	return remaining, hasRemaining, err
}

// GetStatistics aggregates the store-wide counters.
func (s *ServerIndex) GetStatistics(ctx context.Context) (domain.StoreStatistics, error) {
	var stats domain.StoreStatistics
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		stats, err = tx.GetStatistics()
		return err
	})
	return stats, err
}

// GetResourceStatistics aggregates the counters of one resource subtree:
// descendant counts per level and the total attachment sizes.
func (s *ServerIndex) GetResourceStatistics(ctx context.Context, publicID string) (domain.ResourceStatistics, error) {
	var stats domain.ResourceStatistics
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		stats.Level = level
		ids := []int64{id}
		for len(ids) > 0 {
			var next []int64
			for _, current := range ids {
				attachments, err := tx.ListAttachments(current)
				if err != nil {
					return err
				}
				for _, info := range attachments {
					stats.CountAttachments++
					stats.UncompressedSize += info.UncompressedSize
					stats.CompressedSize += info.CompressedSize
				}
				children, err := tx.GetChildrenInternalID(current)
				if err != nil {
					return err
				}
				next = append(next, children...)
			}
			if level, err = level.Child(); err != nil {
				break
			}
			switch level {
			case domain.ResourceTypeStudy:
				stats.CountStudies += uint64(len(next))
			case domain.ResourceTypeSeries:
				stats.CountSeries += uint64(len(next))
			case domain.ResourceTypeInstance:
				stats.CountInstances += uint64(len(next))
			}
			ids = next
		}
		return nil
	})
	return stats, err
}

// IsProtectedPatient reports whether a patient is shielded from recycling.
func (s *ServerIndex) IsProtectedPatient(ctx context.Context, publicID string) (bool, error) {
	var protected bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		if level != domain.ResourceTypePatient {
			return domain.Errorf(domain.ErrParameterOutOfRange, "%s is not a patient", publicID)
		}
		protected, err = tx.IsProtectedPatient(id)
		return err
	})
	return protected, err
}

// SetProtectedPatient shields a patient from recycling, or exposes it again
// at the tail of the queue.
func (s *ServerIndex) SetProtectedPatient(ctx context.Context, publicID string, protected bool) error {
	return s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		if level != domain.ResourceTypePatient {
			return domain.Errorf(domain.ErrParameterOutOfRange, "%s is not a patient", publicID)
		}
		return tx.SetProtectedPatient(id, protected)
	})
}

// GetChanges pages through the change log.
func (s *ServerIndex) GetChanges(ctx context.Context, since int64, limit int) ([]domain.Change, bool, error) {
	var changes []domain.Change
	var done bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		changes, done, err = tx.GetChanges(since, limit)
		return err
	})
	return changes, done, err
}

// GetLastChange returns the newest change log entry.
func (s *ServerIndex) GetLastChange(ctx context.Context) (domain.Change, bool, error) {
	var change domain.Change
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		change, found, err = tx.GetLastChange()
		return err
	})
	return change, found, err
}

// RecordExportedResource appends one entry to the exported resources log,
// stamping the date.
func (s *ServerIndex) RecordExportedResource(ctx context.Context, exported domain.ExportedResource) error {
	return s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		exported.Date = tc.now
		return tx.LogExportedResource(exported)
	})
}

// GetExportedResources pages through the exported resources log.
func (s *ServerIndex) GetExportedResources(ctx context.Context, since int64, limit int) ([]domain.ExportedResource, bool, error) {
	var exported []domain.ExportedResource
	var done bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		exported, done, err = tx.GetExportedResources(since, limit)
		return err
	})
	return exported, done, err
}

// GetLastExportedResource returns the newest export log entry.
func (s *ServerIndex) GetLastExportedResource(ctx context.Context) (domain.ExportedResource, bool, error) {
	var exported domain.ExportedResource
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		var err error
		exported, found, err = tx.GetLastExportedResource()
		return err
	})
	return exported, found, err
}
