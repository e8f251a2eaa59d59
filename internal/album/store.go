package album

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store handles album and photo persistence
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateAlbum(ctx context.Context, na NewAlbum) (*Album, error) {
	a := &Album{
		ID:        uuid.New().String(),
		UserID:    na.UserID,
		EventName: na.EventName,
		Name:      na.Name,
		SessionID: na.SessionID,
		CreatedAt: s.now(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO albums (id, user_id, event_name, name, session_id, created_at)
		VALUES (:id, :user_id, :event_name, :name, :session_id, :created_at)
	`, a)
	if err != nil {
		return nil, fmt.Errorf("failed to insert album: %w", err)
	}

	s.logger.Debug("Album created",
		slog.String("album_id", a.ID),
		slog.String("user_id", a.UserID),
		slog.String("name", a.Name),
	)
	return a, nil
}

func (s *Store) CreatePhoto(ctx context.Context, np NewPhoto) (*Photo, error) {
	p := &Photo{
		ID:         uuid.New().String(),
		AlbumID:    np.AlbumID,
		UserID:     np.UserID,
		FileName:   np.FileName,
		StorageKey: np.StorageKey,
		URL:        np.URL,
		Size:       np.Size,
		MIMEType:   np.MIMEType,
		Width:      np.Width,
		Height:     np.Height,
		CreatedAt:  s.now(),
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO photos (
			id, album_id, user_id, file_name, storage_key, url,
			size, mime_type, width, height, created_at
		) VALUES (
			:id, :album_id, :user_id, :file_name, :storage_key, :url,
			:size, :mime_type, :width, :height, :created_at
		)
	`, p)
	if err != nil {
		return nil, fmt.Errorf("failed to insert photo: %w", err)
	}
	return p, nil
}

func (s *Store) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	var a Album
	err := s.db.GetContext(ctx, &a, s.db.Rebind(`
		SELECT id, user_id, event_name, name, session_id, created_at
		FROM albums WHERE id = ?
	`), albumID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlbumNotFound
		}
		return nil, fmt.Errorf("failed to get album: %w", err)
	}
	return &a, nil
}

// ListPhotos returns the photos of an album in creation order.
func (s *Store) ListPhotos(ctx context.Context, albumID string) ([]Photo, error) {
	photos := []Photo{}
	err := s.db.SelectContext(ctx, &photos, s.db.Rebind(`
		SELECT id, album_id, user_id, file_name, storage_key, url,
		       size, mime_type, width, height, created_at
		FROM photos
		WHERE album_id = ?
		ORDER BY created_at ASC, storage_key ASC
	`), albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	return photos, nil
}

// DeleteAlbum removes the album and its photo rows.
func (s *Store) DeleteAlbum(ctx context.Context, albumID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM photos WHERE album_id = ?`), albumID); err != nil {
		return fmt.Errorf("failed to delete photos: %w", err)
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM albums WHERE id = ?`), albumID)
	if err != nil {
		return fmt.Errorf("failed to delete album: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlbumNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit album delete: %w", err)
	}

	s.logger.Info("Album deleted", slog.String("album_id", albumID))
	return nil
}
