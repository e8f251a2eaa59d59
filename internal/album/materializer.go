package album

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/photobook-be/internal/objectstore"
)

// Repository is the persistence the Materializer needs.
type Repository interface {
	CreateAlbum(ctx context.Context, na NewAlbum) (*Album, error)
	CreatePhoto(ctx context.Context, np NewPhoto) (*Photo, error)
}

// Spec describes one album to materialize.
type Spec struct {
	UserID    string
	EventName string
	AlbumName string
	SessionID string
	Files     []File
}

// File is a decoded file payload. Position fixes its place in the album and
// in the storage key.
type File struct {
	Position int
	Name     string
	MIMEType string
	Data     []byte
}

// Progress is reported after every file, whether or not it succeeded.
type Progress struct {
	Processed int
	Total     int
	File      string
	Failed    bool
}

// Result is the outcome of a materialization that created the album.
type Result struct {
	Album      *Album
	Photos     []*Photo
	FileErrors []FileError
}

// Materializer creates an album, uploads its files and records their photos.
// A failing file is recorded and skipped; only a failure to create the album
// itself, or cancellation, aborts the whole run.
type Materializer struct {
	repo    Repository
	storage objectstore.Storage
	logger  *slog.Logger
}

func NewMaterializer(repo Repository, storage objectstore.Storage, logger *slog.Logger) *Materializer {
	return &Materializer{repo: repo, storage: storage, logger: logger}
}

func (m *Materializer) Materialize(ctx context.Context, spec Spec, onProgress func(Progress)) (*Result, error) {
	a, err := m.repo.CreateAlbum(ctx, NewAlbum{
		UserID:    spec.UserID,
		EventName: spec.EventName,
		Name:      spec.AlbumName,
		SessionID: spec.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create album %q: %w", spec.AlbumName, err)
	}

	result := &Result{Album: a, Photos: []*Photo{}, FileErrors: []FileError{}}
	total := len(spec.Files)

	for i, f := range spec.Files {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("album %s interrupted after %d of %d files: %w", a.ID, i, total, err)
		}

		fe := m.storeFile(ctx, a, spec, f, result)
		if fe != nil {
			result.FileErrors = append(result.FileErrors, *fe)
			m.logger.Warn("File skipped",
				slog.String("album_id", a.ID),
				slog.String("file", f.Name),
				slog.String("code", fe.Code),
				slog.String("error", fe.Error),
			)
		}

		if onProgress != nil {
			onProgress(Progress{Processed: i + 1, Total: total, File: f.Name, Failed: fe != nil})
		}
	}

	m.logger.Info("Album materialized",
		slog.String("album_id", a.ID),
		slog.String("name", a.Name),
		slog.Int("photos", len(result.Photos)),
		slog.Int("file_errors", len(result.FileErrors)),
	)
	return result, nil
}

func (m *Materializer) storeFile(ctx context.Context, a *Album, spec Spec, f File, result *Result) *FileError {
	key := objectstore.PhotoKey(spec.UserID, spec.EventName, a.ID, f.Position, f.Name)

	url, err := m.storage.Upload(ctx, key, f.Data, f.MIMEType)
	if err != nil {
		return &FileError{File: f.Name, Code: CodeUploadFailure, Error: err.Error()}
	}

	width, height := probeDimensions(f.Data, f.MIMEType)

	photo, err := m.repo.CreatePhoto(ctx, NewPhoto{
		AlbumID:    a.ID,
		UserID:     spec.UserID,
		FileName:   f.Name,
		StorageKey: key,
		URL:        url,
		Size:       int64(len(f.Data)),
		MIMEType:   f.MIMEType,
		Width:      width,
		Height:     height,
	})
	if err != nil {
		// the object has no row pointing at it anymore
		if res := m.storage.Delete(context.WithoutCancel(ctx), key); len(res.Errors) > 0 {
			m.logger.Warn("Failed to remove orphaned object",
				slog.String("key", key),
				slog.String("error", res.Errors[0].Error),
			)
		}
		return &FileError{File: f.Name, Code: CodePhotoFailure, Error: err.Error()}
	}

	result.Photos = append(result.Photos, photo)
	return nil
}
