package index

import "dicomcore/pkg/domain"

// Listener receives the side-effect signals produced while a transaction
// runs. The caller decides how to buffer them; the index emits synchronously
// in the order the effects happen.
type Listener interface {
	// SignalResourceDeleted fires once per resource removed by a cascading
	// delete.
	SignalResourceDeleted(level domain.ResourceType, publicID string)

	// SignalAttachmentDeleted fires once per attachment whose payload must be
	// removed from the storage area after commit.
	SignalAttachmentDeleted(info domain.FileInfo)

	// SignalRemainingAncestor fires at most once per DeleteResource, naming
	// the highest surviving ancestor of the removed subtree.
	SignalRemainingAncestor(level domain.ResourceType, publicID string)
}
