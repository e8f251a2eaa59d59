package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/api/domain"
	"github.com/cuongbtq/photobook-be/internal/api/dto"
	"github.com/cuongbtq/photobook-be/internal/objectstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AlbumHandler exposes the albums the pipeline produced
type AlbumHandler struct {
	logger  *slog.Logger
	albums  AlbumStore
	storage objectstore.Storage
}

func NewAlbumHandler(deps *Dependencies) *AlbumHandler {
	return &AlbumHandler{
		logger:  deps.Logger,
		albums:  deps.Albums,
		storage: deps.Storage,
	}
}

// GetAlbum handles GET /api/v1/albums/:album_id
func (h *AlbumHandler) GetAlbum(c *gin.Context) {
	a, ok := h.loadOwned(c)
	if !ok {
		return
	}

	photos, err := h.albums.ListPhotos(c.Request.Context(), a.ID)
	if err != nil {
		respondInternal(c, h.logger, "Failed to list photos", err)
		return
	}
	if photos == nil {
		photos = []album.Photo{}
	}

	c.JSON(http.StatusOK, dto.AlbumResponse{Album: a, Photos: photos})
}

// DeleteAlbum handles DELETE /api/v1/albums/:album_id
// Storage objects go first; rows are removed even when some objects could not
// be deleted, and those keys are reported back.
func (h *AlbumHandler) DeleteAlbum(c *gin.Context) {
	a, ok := h.loadOwned(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	photos, err := h.albums.ListPhotos(ctx, a.ID)
	if err != nil {
		respondInternal(c, h.logger, "Failed to list photos", err)
		return
	}

	keys := make([]string, 0, len(photos))
	for _, p := range photos {
		keys = append(keys, p.StorageKey)
	}

	res := objectstore.DeleteResult{}
	if len(keys) > 0 {
		res = h.storage.Delete(ctx, keys...)
	}
	if len(res.Errors) > 0 {
		h.logger.Warn("Some album objects could not be deleted",
			slog.String("album_id", a.ID),
			slog.Int("failed", len(res.Errors)),
		)
	}

	if err := h.albums.DeleteAlbum(ctx, a.ID); err != nil {
		if isNotFound(err) {
			respondError(c, domain.NewNotFoundError("album not found"))
			return
		}
		respondInternal(c, h.logger, "Failed to delete album", err)
		return
	}

	h.logger.Info("Album deleted",
		slog.String("album_id", a.ID),
		slog.String("user_id", a.UserID),
		slog.Int("objects", len(res.Deleted)),
	)

	out := dto.DeleteAlbumResponse{AlbumID: a.ID, Deleted: res.Deleted, Errors: res.Errors}
	if out.Deleted == nil {
		out.Deleted = []string{}
	}
	if out.Errors == nil {
		out.Errors = []objectstore.DeleteError{}
	}
	c.JSON(http.StatusOK, out)
}

// loadOwned fetches the album named in the path and checks that the caller
// owns it. It writes the error response itself.
func (h *AlbumHandler) loadOwned(c *gin.Context) (*album.Album, bool) {
	albumID := c.Param("album_id")

	if _, err := uuid.Parse(albumID); err != nil {
		respondError(c, domain.NewValidationError("album_id must be a valid UUID", nil))
		return nil, false
	}

	uid := userID(c)
	if uid == "" {
		respondError(c, domain.NewValidationError("X-User-ID header is required", nil))
		return nil, false
	}

	a, err := h.albums.GetAlbum(c.Request.Context(), albumID)
	if err != nil {
		if isNotFound(err) {
			respondError(c, domain.NewNotFoundError("album not found"))
			return nil, false
		}
		respondInternal(c, h.logger, "Failed to get album", err)
		return nil, false
	}

	if a.UserID != uid {
		respondError(c, domain.NewForbiddenError("album belongs to another user"))
		return nil, false
	}
	return a, true
}
