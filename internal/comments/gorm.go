package comments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vocalytics/internal/models"
)

// Connect opens the Postgres database behind dsn and checks it answers.
func Connect(ctx context.Context, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// GormStore keeps comments in the comments table.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewGormStore(db *gorm.DB, logger *slog.Logger) *GormStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormStore{db: db, logger: logger}
}

// Migrate creates or updates the comments table.
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&commentModel{}); err != nil {
		return fmt.Errorf("migrate comments: %w", err)
	}
	return nil
}

func (s *GormStore) Create(ctx context.Context, c *models.Comment) error {
	row := commentModelFrom(c)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return s.logError("comments_create_failed", err,
			"comment_id", row.ID,
			"transcript_id", row.TranscriptID,
		)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, transcriptID string) ([]models.Comment, error) {
	var rows []commentModel
	err := s.db.WithContext(ctx).
		Where("transcript_id = ?", strings.TrimSpace(transcriptID)).
		Order("created_at ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, s.logError("comments_list_failed", err, "transcript_id", transcriptID)
	}
	out := make([]models.Comment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toComment())
	}
	return out, nil
}

func (s *GormStore) DeleteForTranscript(ctx context.Context, transcriptID string) error {
	err := s.db.WithContext(ctx).
		Where("transcript_id = ?", strings.TrimSpace(transcriptID)).
		Delete(&commentModel{}).
		Error
	if err != nil {
		return s.logError("comments_delete_failed", err, "transcript_id", transcriptID)
	}
	return nil
}

func (s *GormStore) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields,
		"event", event,
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	s.logger.Error("comment repository operation failed", fields...)
	return err
}

type commentModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	TranscriptID string    `gorm:"column:transcript_id;index;not null"`
	SelectionID  string    `gorm:"column:selection_id"`
	Owner        string    `gorm:"column:owner;not null"`
	Anchor       string    `gorm:"column:anchor"`
	AnchorTime   float64   `gorm:"column:anchor_time"`
	Body         string    `gorm:"column:body;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (commentModel) TableName() string {
	return "comments"
}

func commentModelFrom(c *models.Comment) commentModel {
	row := commentModel{
		ID:           strings.TrimSpace(c.ID),
		TranscriptID: strings.TrimSpace(c.TranscriptID),
		SelectionID:  c.SelectionID,
		Owner:        c.Owner,
		Anchor:       c.Anchor,
		AnchorTime:   c.AnchorTime,
		Body:         c.Body,
		CreatedAt:    c.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (m commentModel) toComment() models.Comment {
	return models.Comment{
		ID:           m.ID,
		TranscriptID: m.TranscriptID,
		SelectionID:  m.SelectionID,
		Owner:        m.Owner,
		Anchor:       m.Anchor,
		AnchorTime:   m.AnchorTime,
		Body:         m.Body,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
