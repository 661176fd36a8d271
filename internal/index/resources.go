package index

import (
	"database/sql"

	"dicomcore/pkg/domain"
)

// CreateResource inserts one resource row without a parent. Public IDs are
// unique across all levels.
func (t *Transaction) CreateResource(publicID string, level domain.ResourceType) (int64, error) {
	row := t.queryRow(`INSERT INTO Resources(resourceType, publicId, parentId)
		VALUES(?, ?, NULL) RETURNING internalId`, int(level), publicID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, domain.WrapError(domain.ErrDatabase, "create resource", err)
	}
	if level == domain.ResourceTypePatient {
		if err := t.exec(`INSERT INTO PatientRecyclingOrder(patientId) VALUES(?)`, id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// AttachChild links child under parent.
func (t *Transaction) AttachChild(parent, child int64) error {
	return t.exec(`UPDATE Resources SET parentId = ? WHERE internalId = ?`, parent, child)
}

// LookupResource resolves a public ID.
func (t *Transaction) LookupResource(publicID string) (int64, domain.ResourceType, bool, error) {
	row := t.queryRow(`SELECT internalId, resourceType FROM Resources WHERE publicId = ?`, publicID)
	var id int64
	var level int
	switch err := row.Scan(&id, &level); err {
	case nil:
		return id, domain.ResourceType(level), true, nil
	case sql.ErrNoRows:
		return 0, 0, false, nil
	default:
		return 0, 0, false, domain.WrapError(domain.ErrDatabase, "lookup resource", err)
	}
}

// LookupResourceAndParent resolves a public ID together with its parent's
// public ID in one round trip. The parent ID is empty for patients.
func (t *Transaction) LookupResourceAndParent(publicID string) (int64, domain.ResourceType, string, bool, error) {
	row := t.queryRow(`SELECT child.internalId, child.resourceType, parent.publicId
		FROM Resources AS child
		LEFT JOIN Resources AS parent ON parent.internalId = child.parentId
		WHERE child.publicId = ?`, publicID)
	var id int64
	var level int
	var parent sql.NullString
	switch err := row.Scan(&id, &level, &parent); err {
	case nil:
		return id, domain.ResourceType(level), parent.String, true, nil
	case sql.ErrNoRows:
		return 0, 0, "", false, nil
	default:
		return 0, 0, "", false, domain.WrapError(domain.ErrDatabase, "lookup resource and parent", err)
	}
}

// GetPublicID returns the public ID of an internal ID. Unknown IDs report
// UnknownResource.
func (t *Transaction) GetPublicID(id int64) (string, error) {
	row := t.queryRow(`SELECT publicId FROM Resources WHERE internalId = ?`, id)
	var publicID string
	switch err := row.Scan(&publicID); err {
	case nil:
		return publicID, nil
	case sql.ErrNoRows:
		return "", domain.Errorf(domain.ErrUnknownResource, "no resource with internal id %d", id)
	default:
		return "", domain.WrapError(domain.ErrDatabase, "get public id", err)
	}
}

// GetResourceType returns the level of an internal ID.
func (t *Transaction) GetResourceType(id int64) (domain.ResourceType, error) {
	row := t.queryRow(`SELECT resourceType FROM Resources WHERE internalId = ?`, id)
	var level int
	switch err := row.Scan(&level); err {
	case nil:
		return domain.ResourceType(level), nil
	case sql.ErrNoRows:
		return 0, domain.Errorf(domain.ErrUnknownResource, "no resource with internal id %d", id)
	default:
		return 0, domain.WrapError(domain.ErrDatabase, "get resource type", err)
	}
}

// LookupParent returns the parent internal ID, or false for a patient.
// Unknown IDs report UnknownResource.
func (t *Transaction) LookupParent(id int64) (int64, bool, error) {
	row := t.queryRow(`SELECT parentId FROM Resources WHERE internalId = ?`, id)
	var parent sql.NullInt64
	switch err := row.Scan(&parent); err {
	case nil:
		return parent.Int64, parent.Valid, nil
	case sql.ErrNoRows:
		return 0, false, domain.Errorf(domain.ErrUnknownResource, "no resource with internal id %d", id)
	default:
		return 0, false, domain.WrapError(domain.ErrDatabase, "lookup parent", err)
	}
}

// GetChildrenInternalID lists the direct children of a resource.
func (t *Transaction) GetChildrenInternalID(id int64) ([]int64, error) {
	return t.queryInts(`SELECT internalId FROM Resources WHERE parentId = ? ORDER BY internalId`, id)
}

// GetChildrenPublicID lists the public IDs of the direct children.
func (t *Transaction) GetChildrenPublicID(id int64) ([]string, error) {
	return t.queryStrings(`SELECT publicId FROM Resources WHERE parentId = ? ORDER BY internalId`, id)
}

// GetAllPublicIDs lists every resource at one level.
func (t *Transaction) GetAllPublicIDs(level domain.ResourceType) ([]string, error) {
	return t.queryStrings(`SELECT publicId FROM Resources WHERE resourceType = ? ORDER BY internalId`, int(level))
}

// GetAllInternalIDs lists every internal ID at one level.
func (t *Transaction) GetAllInternalIDs(level domain.ResourceType) ([]int64, error) {
	return t.queryInts(`SELECT internalId FROM Resources WHERE resourceType = ? ORDER BY internalId`, int(level))
}

// InstanceCreation is the outcome of CreateInstance.
type InstanceCreation struct {
	InstanceID   int64
	IsNewPatient bool
	IsNewStudy   bool
	IsNewSeries  bool
	Existed      bool
}

// CreateInstance up-serts the instance identified by the four hashes,
// creating whichever ancestors are missing. When the instance already exists
// nothing is modified.
func (t *Transaction) CreateInstance(hashPatient, hashStudy, hashSeries, hashInstance string) (InstanceCreation, error) {
	var out InstanceCreation

	if id, level, found, err := t.LookupResource(hashInstance); err != nil {
		return out, err
	} else if found {
		if level != domain.ResourceTypeInstance {
			return out, domain.Errorf(domain.ErrInternalError, "hash collision across levels for %s", hashInstance)
		}
		out.InstanceID = id
		out.Existed = true
		return out, nil
	}

	ensure := func(publicID string, level domain.ResourceType, parent int64, hasParent bool) (int64, bool, error) {
		if id, found, err := t.lookupAtLevel(publicID, level); err != nil {
			return 0, false, err
		} else if found {
			return id, false, nil
		}
		id, err := t.CreateResource(publicID, level)
		if err != nil {
			return 0, false, err
		}
		if hasParent {
			if err := t.AttachChild(parent, id); err != nil {
				return 0, false, err
			}
		}
		return id, true, nil
	}

	patient, isNew, err := ensure(hashPatient, domain.ResourceTypePatient, 0, false)
	if err != nil {
		return out, err
	}
	out.IsNewPatient = isNew

	study, isNew, err := ensure(hashStudy, domain.ResourceTypeStudy, patient, true)
	if err != nil {
		return out, err
	}
	out.IsNewStudy = isNew

	series, isNew, err := ensure(hashSeries, domain.ResourceTypeSeries, study, true)
	if err != nil {
		return out, err
	}
	out.IsNewSeries = isNew

	instance, err := t.CreateResource(hashInstance, domain.ResourceTypeInstance)
	if err != nil {
		return out, err
	}
	if err := t.AttachChild(series, instance); err != nil {
		return out, err
	}
	out.InstanceID = instance
	return out, nil
}

func (t *Transaction) lookupAtLevel(publicID string, level domain.ResourceType) (int64, bool, error) {
	id, foundLevel, found, err := t.LookupResource(publicID)
	if err != nil || !found {
		return 0, false, err
	}
	if foundLevel != level {
		return 0, false, domain.Errorf(domain.ErrInternalError,
			"resource %s is a %s, expected %s", publicID, foundLevel, level)
	}
	return id, true, nil
}

// DeleteResource removes a resource and every descendant, then prunes
// ancestors left without children. Every removed attachment and resource is
// signalled; the highest surviving ancestor, if any, is signalled once.
func (t *Transaction) DeleteResource(id int64) error {
	parent, hasParent, err := t.LookupParent(id)
	if err != nil {
		return err
	}

	if err := t.deleteSubtree(id); err != nil {
		return err
	}

	for hasParent {
		children, err := t.GetChildrenInternalID(parent)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			level, err := t.GetResourceType(parent)
			if err != nil {
				return err
			}
			publicID, err := t.GetPublicID(parent)
			if err != nil {
				return err
			}
			if t.listener != nil {
				t.listener.SignalRemainingAncestor(level, publicID)
			}
			return nil
		}

		next, nextHas, err := t.LookupParent(parent)
		if err != nil {
			return err
		}
		if err := t.deleteSubtree(parent); err != nil {
			return err
		}
		parent, hasParent = next, nextHas
	}
	return nil
}

// deleteSubtree removes one resource and its descendants depth-first,
// signalling attachments before their resource and children before their
// parent.
func (t *Transaction) deleteSubtree(id int64) error {
	children, err := t.GetChildrenInternalID(id)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.deleteSubtree(child); err != nil {
			return err
		}
	}

	level, err := t.GetResourceType(id)
	if err != nil {
		return err
	}
	publicID, err := t.GetPublicID(id)
	if err != nil {
		return err
	}

	attachments, err := t.ListAttachments(id)
	if err != nil {
		return err
	}
	for _, info := range attachments {
		if t.listener != nil {
			t.listener.SignalAttachmentDeleted(info)
		}
	}

	for _, table := range []string{"MainDicomTags", "DicomIdentifiers", "Metadata", "AttachedFiles"} {
		if err := t.exec(`DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
			return err
		}
	}
	if level == domain.ResourceTypePatient {
		if err := t.exec(`DELETE FROM PatientRecyclingOrder WHERE patientId = ?`, id); err != nil {
			return err
		}
	}
	// Change-log rows survive their resource so the feed stays gap-free.
	if err := t.exec(`DELETE FROM Resources WHERE internalId = ?`, id); err != nil {
		return err
	}

	if t.listener != nil {
		t.listener.SignalResourceDeleted(level, publicID)
	}
	return nil
}
