package dto

import (
	"github.com/cuongbtq/photobook-be/internal/batch"
)

type CreateBatchRequest struct {
	UserID    string         `json:"user_id"`
	EventName string         `json:"event_name"`
	SessionID string         `json:"session_id"`
	UseQueue  *bool          `json:"use_queue"`
	Albums    []AlbumRequest `json:"albums"`
}

type AlbumRequest struct {
	Name  string        `json:"name"`
	Files []FileRequest `json:"files"`
}

// FileRequest carries the file as base64 text, optionally as a data URL.
type FileRequest struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// MultipartAlbum is one entry of the "albums" form field. Files name the form
// parts holding the album's files, in order.
type MultipartAlbum struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

func (r CreateBatchRequest) ToBatchRequest() batch.Request {
	albums := make([]batch.AlbumInput, len(r.Albums))
	for i, a := range r.Albums {
		files := make([]batch.FileInput, len(a.Files))
		for j, f := range a.Files {
			files[j] = batch.FileInput{
				Name:     f.Name,
				Size:     f.Size,
				MIMEType: f.MIMEType,
				Base64:   f.Data,
			}
		}
		albums[i] = batch.AlbumInput{Name: a.Name, Files: files}
	}

	return batch.Request{
		UserID:    r.UserID,
		EventName: r.EventName,
		SessionID: r.SessionID,
		UseQueue:  r.UseQueue,
		Albums:    albums,
	}
}

type QueueStatusRequest struct {
	SessionID string `form:"session_id"`
}

type QueueStatusResponse struct {
	SessionID            string `json:"session_id,omitempty"`
	Waiting              int    `json:"waiting"`
	Active               int    `json:"active"`
	Completed            int    `json:"completed"`
	Failed               int    `json:"failed"`
	TotalJobs            int    `json:"total_jobs"`
	IsProcessingComplete bool   `json:"is_processing_complete"`
	Progress             int    `json:"progress"`
}
