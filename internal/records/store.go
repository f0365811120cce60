package records

import (
	"context"

	"vocalytics/internal/models"
)

// Store is the record table contract.
type Store interface {
	Save(ctx context.Context, rec *models.TranscriptRecord) error
	Get(ctx context.Context, id string) (*models.TranscriptRecord, error)
	// ListByOwner queries the owner index. A missing index is reported as
	// apperr.ErrIndexMissing.
	ListByOwner(ctx context.Context, owner string) ([]models.RecordSummary, error)
	// MediaKeyFromIndex looks the media key up through the media index. It
	// returns "" with no error when the index has no entry.
	MediaKeyFromIndex(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}
