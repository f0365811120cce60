package ingest

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"vocalytics/internal/apperr"
	"vocalytics/internal/auth"
	"vocalytics/internal/awsutil"
	"vocalytics/internal/models"
	"vocalytics/internal/storage"
)

// File is a user-selected upload.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// Service validates uploads and writes them to the object store.
type Service struct {
	logger *slog.Logger
	store  storage.Store
}

func NewService(logger *slog.Logger, store storage.Store) *Service {
	return &Service{logger: logger, store: store}
}

// Upload stores f under its original file name. Uploads with the same name
// overwrite each other.
func (s *Service) Upload(ctx context.Context, sess auth.Session, f *File) (models.MediaRef, error) {
	if f != nil && f.Body != nil && !AllowedType(f.ContentType) {
		return models.MediaRef{}, apperr.ErrInvalidFileType
	}
	if f == nil || f.Body == nil {
		return models.MediaRef{}, apperr.ErrMissingFile
	}
	if !sess.Valid() {
		return models.MediaRef{}, apperr.ErrNotSignedIn
	}

	key := KeyFor(f.Name)
	if key == "" {
		return models.MediaRef{}, apperr.ErrMissingFile
	}
	contentType := normalizeType(f.ContentType)
	if err := s.store.Put(ctx, key, f.Body, f.Size, contentType); err != nil {
		s.logger.Error("media upload failed", "key", key, "owner", sess.Username, "error", err)
		if awsutil.IsNetworkError(err) {
			return models.MediaRef{}, apperr.Wrap(apperr.KindNetwork, "Network error. Please check your CORS configuration.", err)
		}
		return models.MediaRef{}, apperr.Wrap(apperr.KindUnknown, "Error uploading file.", err)
	}

	s.logger.Info("media uploaded", "key", key, "content_type", contentType, "size", f.Size, "owner", sess.Username)
	return models.MediaRef{
		Key:         key,
		ContentType: contentType,
		URL:         s.store.URL(key),
	}, nil
}

// AllowedType reports whether contentType is audio/mpeg or video/mp4.
func AllowedType(contentType string) bool {
	switch normalizeType(contentType) {
	case models.ContentTypeMP3, models.ContentTypeMP4:
		return true
	default:
		return false
	}
}

// KeyFor returns the object key for an uploaded file name: the base name,
// with no directory components.
func KeyFor(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	base := filepath.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func normalizeType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}
