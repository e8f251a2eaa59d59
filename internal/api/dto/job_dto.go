package dto

import (
	"time"

	"github.com/cuongbtq/photobook-be/internal/queue"
)

type ListJobsRequest struct {
	SessionID string `form:"session_id"`
	State     string `form:"state"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string            `json:"job_id"`
	UserID         string            `json:"user_id"`
	SessionID      string            `json:"session_id"`
	EventName      string            `json:"event_name"`
	AlbumName      string            `json:"album_name"`
	Priority       int               `json:"priority"`
	State          string            `json:"state"`
	Attempts       int               `json:"attempts"`
	MaxAttempts    int               `json:"max_attempts"`
	TotalFiles     int               `json:"total_files"`
	ProcessedFiles int               `json:"processed_files"`
	AlbumID        string            `json:"album_id,omitempty"`
	FileErrors     []queue.FileError `json:"file_errors"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      string            `json:"created_at"`
	UpdatedAt      string            `json:"updated_at"`
	FinishedAt     string            `json:"finished_at,omitempty"`
}

func NewJobDTO(job *queue.Job) JobDTO {
	out := JobDTO{
		JobID:          job.ID,
		UserID:         job.UserID,
		SessionID:      job.SessionID,
		EventName:      job.EventName,
		AlbumName:      job.AlbumName,
		Priority:       job.Priority,
		State:          string(job.State),
		Attempts:       job.Attempts,
		MaxAttempts:    job.MaxAttempts,
		TotalFiles:     job.TotalFiles,
		ProcessedFiles: job.ProcessedFiles,
		FileErrors:     job.FileErrors(),
		ErrorMessage:   job.ErrorMessage,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if out.FileErrors == nil {
		out.FileErrors = []queue.FileError{}
	}
	if job.AlbumID != nil {
		out.AlbumID = *job.AlbumID
	}
	if job.FinishedAt != nil {
		out.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return out
}
