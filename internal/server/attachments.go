package server

import (
	"context"

	"dicomcore/internal/index"
	"dicomcore/pkg/domain"
)

// Revision checking: every write against an existing slot bumps the stored
// revision by one. Callers pass the revision they last saw; passing
// UnconditionalRevision skips the check.
const UnconditionalRevision int64 = -1

func checkRevision(expected, current int64, exists bool) error {
	if expected == UnconditionalRevision {
		return nil
	}
	if !exists {
		return domain.Errorf(domain.ErrRevision, "expected revision %d on a missing slot", expected)
	}
	if expected != current {
		return domain.Errorf(domain.ErrRevision, "revision mismatch: have %d, expected %d",
			current, expected)
	}
	return nil
}

// SetMetadata writes one metadata slot. Changing a user-defined kind logs an
// UpdatedMetadata change on the resource.
func (s *ServerIndex) SetMetadata(ctx context.Context, publicID string,
	kind domain.MetadataType, value string, expectedRevision int64) (int64, error) {
	var revision int64
	err := s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		_, current, exists, err := tx.LookupMetadata(id, kind)
		if err != nil {
			return err
		}
		if exists {
			if err := checkRevision(expectedRevision, current, true); err != nil {
				return err
			}
			revision = current + 1
		} else if expectedRevision != UnconditionalRevision && expectedRevision != 0 {
			return checkRevision(expectedRevision, 0, false)
		}
		if err := tx.SetMetadata(id, kind, value, revision); err != nil {
			return err
		}
		if kind.IsUserDefined() {
			return tc.logChange(tx, domain.ChangeTypeUpdatedMetadata, level, id, publicID)
		}
		return nil
	})
	return revision, err
}

// LookupMetadata reads one metadata slot together with its revision.
func (s *ServerIndex) LookupMetadata(ctx context.Context, publicID string,
	kind domain.MetadataType) (string, int64, bool, error) {
	var value string
	var revision int64
	var found bool
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		value, revision, found, err = tx.LookupMetadata(id, kind)
		return err
	})
	return value, revision, found, err
}

// GetAllMetadata reads every metadata slot of a resource.
func (s *ServerIndex) GetAllMetadata(ctx context.Context, publicID string) (map[domain.MetadataType]string, error) {
	var out map[domain.MetadataType]string
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		out, err = tx.GetAllMetadata(id)
		return err
	})
	return out, err
}

// DeleteMetadata removes one metadata slot, honoring the expected revision.
func (s *ServerIndex) DeleteMetadata(ctx context.Context, publicID string,
	kind domain.MetadataType, expectedRevision int64) error {
	return s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		_, current, exists, err := tx.LookupMetadata(id, kind)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if err := checkRevision(expectedRevision, current, true); err != nil {
			return err
		}
		if _, err := tx.DeleteMetadata(id, kind); err != nil {
			return err
		}
		if kind.IsUserDefined() {
			return tc.logChange(tx, domain.ChangeTypeUpdatedMetadata, level, id, publicID)
		}
		return nil
	})
}

// AddAttachment stores one payload on an existing resource. When a payload
// of the same kind is already attached, the expected revision decides
// whether it is replaced; the superseded blob is removed from storage after
// the commit.
func (s *ServerIndex) AddAttachment(ctx context.Context, publicID string,
	kind domain.FileContentType, data []byte, expectedRevision int64) (domain.FileInfo, error) {
	info, err := s.accessor.Write(ctx, data, kind, s.compression, s.storeMD5)
	if err != nil {
		return domain.FileInfo{}, err
	}

	err = s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		_, current, exists, err := tx.LookupAttachment(id, kind)
		if err != nil {
			return err
		}
		revision := int64(0)
		if exists {
			if err := checkRevision(expectedRevision, current, true); err != nil {
				return err
			}
			if _, err := tx.DeleteAttachment(id, kind); err != nil {
				return err
			}
			revision = current + 1
		} else if expectedRevision != UnconditionalRevision && expectedRevision != 0 {
			return checkRevision(expectedRevision, 0, false)
		}
		if err := tx.AddAttachment(id, info, revision); err != nil {
			return err
		}
		if kind.IsUserDefined() {
			return tc.logChange(tx, domain.ChangeTypeUpdatedAttachment, level, id, publicID)
		}
		return nil
	})
	if err != nil {
		if removeErr := s.accessor.Remove(ctx, info.UUID, info.ContentType); removeErr != nil {
			s.log.Warn().Err(removeErr).Str("uuid", info.UUID).
				Msg("could not undo attachment write")
		}
		return domain.FileInfo{}, err
	}
	return info, nil
}

// ReadAttachment loads and decodes one attachment. Reading counts as
// activity for the owning patient, which moves to the tail of the recycling
// queue.
func (s *ServerIndex) ReadAttachment(ctx context.Context, publicID string,
	kind domain.FileContentType) ([]byte, domain.FileInfo, error) {
	var info domain.FileInfo
	err := s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		found := false
		if info, _, found, err = tx.LookupAttachment(id, kind); err != nil {
			return err
		}
		if !found {
			return domain.Errorf(domain.ErrInexistentFile,
				"resource %s has no attachment of kind %d", publicID, kind)
		}
		for level != domain.ResourceTypePatient {
			parent, ok, err := tx.LookupParent(id)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			id = parent
			if level, err = level.Parent(); err != nil {
				return err
			}
		}
		return tx.TagMostRecentPatient(id)
	})
	if err != nil {
		return nil, domain.FileInfo{}, err
	}
	data, err := s.accessor.Read(ctx, info)
	return data, info, err
}

// ListAttachments lists the descriptors attached to a resource.
func (s *ServerIndex) ListAttachments(ctx context.Context, publicID string) ([]domain.FileInfo, error) {
	var out []domain.FileInfo
	err := s.readTransaction(ctx, func(tx *index.Transaction) error {
		id, _, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		out, err = tx.ListAttachments(id)
		return err
	})
	return out, err
}

// DeleteAttachment removes one attachment; the blob leaves storage after
// the commit. A user-defined kind logs an UpdatedAttachment change.
func (s *ServerIndex) DeleteAttachment(ctx context.Context, publicID string,
	kind domain.FileContentType, expectedRevision int64) error {
	return s.writeTransaction(ctx, func(tx *index.Transaction, tc *txnContext) error {
		id, level, err := lookupExisting(tx, publicID)
		if err != nil {
			return err
		}
		_, current, exists, err := tx.LookupAttachment(id, kind)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		if err := checkRevision(expectedRevision, current, true); err != nil {
			return err
		}
		if _, err := tx.DeleteAttachment(id, kind); err != nil {
			return err
		}
		if kind.IsUserDefined() {
			return tc.logChange(tx, domain.ChangeTypeUpdatedAttachment, level, id, publicID)
		}
		return nil
	})
}
