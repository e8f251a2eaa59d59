package batch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cuongbtq/photobook-be/internal/album"
)

// Request is a batch submission as accepted by the transport layer.
type Request struct {
	UserID    string
	EventName string
	SessionID string
	// UseQueue defaults to true when nil.
	UseQueue *bool
	Albums   []AlbumInput
}

type AlbumInput struct {
	Name  string
	Files []FileInput
}

// FileInput carries a file either as base64 text (JSON transport) or as raw
// bytes (multipart transport). Content wins when both are set.
type FileInput struct {
	Name     string
	Size     int64
	MIMEType string
	Base64   string
	Content  []byte
}

func (r Request) useQueue() bool {
	return r.UseQueue == nil || *r.UseQueue
}

func (r Request) hasFiles() bool {
	for _, a := range r.Albums {
		if len(a.Files) > 0 {
			return true
		}
	}
	return false
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned by Submit when the request is rejected as a
// whole. Nothing has been created or enqueued when it is returned.
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Details))
	for i, d := range e.Details {
		msgs[i] = d.Field + ": " + d.Message
	}
	return "invalid batch request: " + strings.Join(msgs, "; ")
}

func validate(r Request, maxAlbums int) error {
	var details []FieldError

	if strings.TrimSpace(r.UserID) == "" {
		details = append(details, FieldError{Field: "user_id", Message: "user id is required"})
	}
	if strings.TrimSpace(r.EventName) == "" {
		details = append(details, FieldError{Field: "event_name", Message: "event name is required"})
	}

	switch {
	case len(r.Albums) == 0:
		details = append(details, FieldError{Field: "albums", Message: "at least one album is required"})
	case maxAlbums > 0 && len(r.Albums) > maxAlbums:
		details = append(details, FieldError{
			Field:   "albums",
			Message: fmt.Sprintf("at most %d albums are allowed per batch", maxAlbums),
		})
	}

	for i, a := range r.Albums {
		if strings.TrimSpace(a.Name) == "" {
			details = append(details, FieldError{
				Field:   fmt.Sprintf("albums[%d].name", i),
				Message: "album name is required",
			})
		}
	}

	if len(details) > 0 {
		return &ValidationError{Details: details}
	}
	return nil
}

var errEmptyFile = errors.New("file is empty")

// decodeFiles turns the inputs of one album into binary files. Any bad file
// rejects the album.
func decodeFiles(files []FileInput, maxBytes int64) ([]album.File, error) {
	out := make([]album.File, 0, len(files))

	for i, f := range files {
		data, mimeType, err := decodeFile(f)
		if err != nil {
			return nil, fmt.Errorf("file %d (%s): %w", i, f.Name, err)
		}
		if maxBytes > 0 && int64(len(data)) > maxBytes {
			return nil, fmt.Errorf("file %d (%s): %d bytes exceeds the %d byte limit", i, f.Name, len(data), maxBytes)
		}

		name := f.Name
		if name == "" {
			name = fmt.Sprintf("file-%d", i+1)
		}

		out = append(out, album.File{
			Position: i,
			Name:     name,
			MIMEType: mimeType,
			Data:     data,
		})
	}
	return out, nil
}

func decodeFile(f FileInput) ([]byte, string, error) {
	mimeType := f.MIMEType
	data := f.Content

	if data == nil {
		encoded := strings.TrimSpace(f.Base64)

		// data:image/png;base64,....
		if rest, ok := strings.CutPrefix(encoded, "data:"); ok {
			header, payload, found := strings.Cut(rest, ",")
			if !found || !strings.HasSuffix(header, ";base64") {
				return nil, "", errors.New("unsupported data URL")
			}
			if mimeType == "" {
				mimeType = strings.TrimSuffix(header, ";base64")
			}
			encoded = payload
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(encoded)
		}
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 payload: %w", err)
		}
		data = decoded
	}

	if len(data) == 0 {
		return nil, "", errEmptyFile
	}

	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
