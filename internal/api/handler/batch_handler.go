package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/cuongbtq/photobook-be/internal/api/domain"
	"github.com/cuongbtq/photobook-be/internal/api/dto"
	"github.com/cuongbtq/photobook-be/internal/batch"
	"github.com/gin-gonic/gin"
)

// BatchHandler handles batch album submissions
type BatchHandler struct {
	logger       *slog.Logger
	orchestrator BatchSubmitter
}

func NewBatchHandler(deps *Dependencies) *BatchHandler {
	return &BatchHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
	}
}

// CreateBatch handles POST /api/v1/batches
// Files travel as base64 text inside the JSON body.
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	h.logger.Info("CreateBatch called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		respondError(c, bodyError(err))
		return
	}

	breq := req.ToBatchRequest()
	if uid := userID(c); uid != "" {
		breq.UserID = uid
	}

	h.submit(c, breq)
}

// CreateBatchMultipart handles POST /api/v1/batches/multipart
// The "albums" field is a JSON array whose files reference form parts by name.
func (h *BatchHandler) CreateBatchMultipart(c *gin.Context) {
	h.logger.Info("CreateBatchMultipart called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	form, err := c.MultipartForm()
	if err != nil {
		h.logger.Error("Invalid multipart form", slog.String("error", err.Error()))
		respondError(c, bodyError(err))
		return
	}

	breq, apiErr := h.decodeMultipart(c, form)
	if apiErr != nil {
		respondError(c, apiErr)
		return
	}

	h.submit(c, breq)
}

func (h *BatchHandler) decodeMultipart(c *gin.Context, form *multipart.Form) (batch.Request, *domain.APIError) {
	breq := batch.Request{
		UserID:    c.PostForm("user_id"),
		EventName: c.PostForm("event_name"),
		SessionID: c.PostForm("session_id"),
	}
	if uid := userID(c); uid != "" {
		breq.UserID = uid
	}

	if raw := c.PostForm("use_queue"); raw != "" {
		useQueue, err := strconv.ParseBool(raw)
		if err != nil {
			return breq, domain.NewValidationError("use_queue must be a boolean", []batch.FieldError{
				{Field: "use_queue", Message: err.Error()},
			})
		}
		breq.UseQueue = &useQueue
	}

	var albums []dto.MultipartAlbum
	if raw := c.PostForm("albums"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &albums); err != nil {
			return breq, domain.NewValidationError("albums must be a JSON array", []batch.FieldError{
				{Field: "albums", Message: err.Error()},
			})
		}
	}

	for i, a := range albums {
		in := batch.AlbumInput{Name: a.Name, Files: make([]batch.FileInput, 0, len(a.Files))}

		for j, field := range a.Files {
			parts := form.File[field]
			if len(parts) == 0 {
				return breq, domain.NewValidationError("missing file part", []batch.FieldError{
					{Field: fmt.Sprintf("albums[%d].files[%d]", i, j), Message: fmt.Sprintf("no file part named %q", field)},
				})
			}

			f, err := readPart(parts[0])
			if err != nil {
				h.logger.Error("Failed to read file part",
					slog.String("field", field),
					slog.String("error", err.Error()),
				)
				return breq, domain.NewValidationError("unreadable file part", []batch.FieldError{
					{Field: fmt.Sprintf("albums[%d].files[%d]", i, j), Message: err.Error()},
				})
			}
			in.Files = append(in.Files, f)
		}
		breq.Albums = append(breq.Albums, in)
	}

	return breq, nil
}

func (h *BatchHandler) submit(c *gin.Context, req batch.Request) {
	result, err := h.orchestrator.Submit(c.Request.Context(), req)
	if err != nil {
		var vErr *batch.ValidationError
		if errors.As(err, &vErr) {
			respondError(c, domain.NewValidationError("invalid batch request", vErr.Details))
			return
		}
		respondInternal(c, h.logger, "Failed to submit batch", err)
		return
	}

	status := http.StatusCreated
	if result.Mode == batch.ModeQueued {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

func readPart(fh *multipart.FileHeader) (batch.FileInput, error) {
	f, err := fh.Open()
	if err != nil {
		return batch.FileInput{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return batch.FileInput{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}

	return batch.FileInput{
		Name:     fh.Filename,
		Size:     fh.Size,
		MIMEType: mimeType,
		Content:  data,
	}, nil
}

// bodyError maps a body decoding failure to a client error.
func bodyError(err error) *domain.APIError {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		apiErr := domain.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), nil)
		apiErr.Status = http.StatusRequestEntityTooLarge
		return apiErr
	}
	return domain.NewValidationError("invalid request body", []batch.FieldError{{Field: "body", Message: err.Error()}})
}
