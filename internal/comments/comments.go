package comments

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/models"
)

const maxBodyLen = 4000

var (
	ErrEmptyBody   = apperr.New(apperr.KindValidation, "Comment cannot be empty.")
	ErrBodyTooLong = apperr.New(apperr.KindValidation, "Comment is too long.")
	ErrBadAnchor   = apperr.New(apperr.KindValidation, "Comment position is invalid.")
	ErrDuplicate   = apperr.New(apperr.KindPersistence, "Comment already exists.")
)

// Store persists comments.
type Store interface {
	Create(ctx context.Context, c *models.Comment) error
	// List returns the comments of a transcript, oldest first.
	List(ctx context.Context, transcriptID string) ([]models.Comment, error)
	DeleteForTranscript(ctx context.Context, transcriptID string) error
}

// Transcripts resolves the transcript a comment is attached to.
type Transcripts interface {
	Get(ctx context.Context, id string) (*models.TranscriptRecord, error)
}

// Draft is a comment as submitted from the transcript page.
type Draft struct {
	SelectionID string
	Anchor      string
	AnchorTime  float64
	Body        string
}

type Service struct {
	logger      *slog.Logger
	store       Store
	transcripts Transcripts
	now         func() time.Time
}

func NewService(logger *slog.Logger, store Store, transcripts Transcripts) *Service {
	return &Service{
		logger:      logger,
		store:       store,
		transcripts: transcripts,
		now:         time.Now,
	}
}

// Add attaches a comment to a transcript owned by sess.
func (s *Service) Add(ctx context.Context, sess auth.Session, transcriptID string, d Draft) (*models.Comment, error) {
	if !sess.Valid() {
		return nil, apperr.ErrNotSignedIn
	}
	body := strings.TrimSpace(d.Body)
	switch {
	case body == "":
		return nil, ErrEmptyBody
	case len(body) > maxBodyLen:
		return nil, ErrBodyTooLong
	case math.IsNaN(d.AnchorTime) || math.IsInf(d.AnchorTime, 0) || d.AnchorTime < 0:
		return nil, ErrBadAnchor
	}
	if err := s.checkOwner(ctx, sess, transcriptID); err != nil {
		return nil, err
	}

	c := &models.Comment{
		ID:           uuid.NewString(),
		TranscriptID: transcriptID,
		SelectionID:  strings.TrimSpace(d.SelectionID),
		Owner:        sess.Username,
		Anchor:       strings.TrimSpace(d.Anchor),
		AnchorTime:   d.AnchorTime,
		Body:         body,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "Error saving comment.", err)
	}
	s.logger.Info("comment added", "transcript_id", transcriptID, "comment_id", c.ID)
	return c, nil
}

// List returns the comments of a transcript owned by sess, oldest first.
func (s *Service) List(ctx context.Context, sess auth.Session, transcriptID string) ([]models.Comment, error) {
	if !sess.Valid() {
		return nil, apperr.ErrNotSignedIn
	}
	if err := s.checkOwner(ctx, sess, transcriptID); err != nil {
		return nil, err
	}
	out, err := s.store.List(ctx, transcriptID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "Error loading comments.", err)
	}
	return out, nil
}

func (s *Service) DeleteForTranscript(ctx context.Context, transcriptID string) error {
	return s.store.DeleteForTranscript(ctx, transcriptID)
}

func (s *Service) checkOwner(ctx context.Context, sess auth.Session, transcriptID string) error {
	rec, err := s.transcripts.Get(ctx, transcriptID)
	if err != nil {
		return err
	}
	if rec.Owner == "" || rec.Owner != sess.Username {
		return apperr.ErrForbidden
	}
	return nil
}
