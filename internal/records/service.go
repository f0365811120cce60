package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/models"
	"vocalytics/internal/storage"
	"vocalytics/internal/transcribe"
)

// CommentCleaner removes the comments attached to a transcript.
type CommentCleaner interface {
	DeleteForTranscript(ctx context.Context, transcriptID string) error
}

// Detail is everything the transcript page shows.
type Detail struct {
	Record    *models.TranscriptRecord
	MediaKey  string
	MediaURL  string
	MediaKind string // "audio" or "video"
	// Notice is a non-fatal problem to show next to the transcript, such as
	// apperr.ErrMediaUnavailable.
	Notice error
}

// Service is the record facade used by the HTTP layer and the orchestrator.
type Service struct {
	logger   *slog.Logger
	store    Store
	objects  storage.Store
	comments CommentCleaner
}

func NewService(logger *slog.Logger, store Store, objects storage.Store, comments CommentCleaner) *Service {
	return &Service{
		logger:   logger,
		store:    store,
		objects:  objects,
		comments: comments,
	}
}

// Save persists rec. Saving an existing ID overwrites it.
func (s *Service) Save(ctx context.Context, rec *models.TranscriptRecord) error {
	if rec.ID == "" {
		return apperr.Wrap(apperr.KindPersistence, "Error saving transcript.", errors.New("record has no id"))
	}
	if err := s.store.Save(ctx, rec); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "Error saving transcript.", err)
	}
	s.logger.Info("transcript saved", "transcript_id", rec.ID, "owner", rec.Owner)
	return nil
}

// List returns the signed-in user's records, newest first.
func (s *Service) List(ctx context.Context, sess auth.Session) ([]models.RecordSummary, error) {
	if !sess.Valid() {
		return nil, apperr.ErrNotSignedIn
	}
	out, err := s.store.ListByOwner(ctx, sess.Username)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.TranscriptRecord, error) {
	return s.store.Get(ctx, id)
}

// Detail loads a record owned by sess and resolves its media.
func (s *Service) Detail(ctx context.Context, sess auth.Session, id string) (*Detail, error) {
	rec, err := s.owned(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	d := &Detail{Record: rec}

	key, err := s.mediaKey(ctx, rec)
	switch {
	case err != nil:
		s.logger.Warn("media lookup failed", "transcript_id", id, "error", err)
		d.Notice = apperr.ErrMediaUnavailable
	case key == "":
		d.Notice = apperr.ErrMediaUnavailable
	default:
		d.MediaKey = key
		d.MediaURL = s.objects.URL(key)
		d.MediaKind = MediaKind(key)
	}

	if len(rec.Segments) == 0 {
		segs, err := s.loadSegments(ctx, id)
		if err != nil {
			s.logger.Warn("result document unavailable", "transcript_id", id, "error", err)
		} else {
			rec.Segments = segs
		}
	}
	return d, nil
}

// Delete removes the metadata of a record owned by sess, then its media.
// When the media cannot be located or removed after the metadata is gone
// the error wraps apperr.ErrOrphanedMedia and nothing is rolled back.
func (s *Service) Delete(ctx context.Context, sess auth.Session, id string) error {
	rec, err := s.owned(ctx, sess, id)
	if err != nil {
		return err
	}
	key, lookupErr := s.mediaKey(ctx, rec)

	if err := s.store.Delete(ctx, id); err != nil {
		return apperr.Wrap(apperr.KindPersistence, "Error deleting transcript.", err)
	}
	s.logger.Info("transcript deleted", "transcript_id", id)

	if s.comments != nil {
		if err := s.comments.DeleteForTranscript(ctx, id); err != nil {
			s.logger.Warn("comment cleanup failed", "transcript_id", id, "error", err)
		}
	}

	if lookupErr != nil {
		s.logger.Error("media orphaned", "transcript_id", id, "error", lookupErr)
		return fmt.Errorf("%w: %w", apperr.ErrOrphanedMedia, lookupErr)
	}
	if key == "" {
		return nil
	}
	if err := s.objects.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNoObject) {
		s.logger.Error("media orphaned", "transcript_id", id, "media_key", key, "error", err)
		return fmt.Errorf("%w: %w", apperr.ErrOrphanedMedia, err)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, sess auth.Session, id string) (*models.TranscriptRecord, error) {
	if !sess.Valid() {
		return nil, apperr.ErrNotSignedIn
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Owner == "" || rec.Owner != sess.Username {
		return nil, apperr.ErrForbidden
	}
	return rec, nil
}

func (s *Service) mediaKey(ctx context.Context, rec *models.TranscriptRecord) (string, error) {
	if rec.MediaKey != "" {
		return rec.MediaKey, nil
	}
	return s.store.MediaKeyFromIndex(ctx, rec.ID)
}

func (s *Service) loadSegments(ctx context.Context, id string) ([]models.Segment, error) {
	data, err := s.objects.Get(ctx, id+".json")
	if err != nil {
		return nil, err
	}
	res, err := transcribe.ParseResult(data)
	if err != nil {
		return nil, err
	}
	return res.Segments, nil
}

// MediaKind picks the player element for key.
func MediaKind(key string) string {
	if strings.HasSuffix(strings.ToLower(key), ".mp3") {
		return "audio"
	}
	return "video"
}
