// Package album persists albums and photos and turns an album definition with
// file payloads into stored objects and rows.
package album

import (
	"errors"
	"time"
)

// ErrAlbumNotFound is returned when an album id does not exist.
var ErrAlbumNotFound = errors.New("album not found")

// Per-file failure codes recorded in FileError.Code.
const (
	CodeUploadFailure = "UPLOAD_FAILURE"
	CodePhotoFailure  = "PHOTO_FAILURE"
)

type Album struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	EventName string    `db:"event_name" json:"event_name"`
	Name      string    `db:"name" json:"name"`
	SessionID string    `db:"session_id" json:"session_id,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Photo struct {
	ID         string    `db:"id" json:"id"`
	AlbumID    string    `db:"album_id" json:"album_id"`
	UserID     string    `db:"user_id" json:"user_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	StorageKey string    `db:"storage_key" json:"storage_key"`
	URL        string    `db:"url" json:"url"`
	Size       int64     `db:"size" json:"size"`
	MIMEType   string    `db:"mime_type" json:"mime_type"`
	Width      int       `db:"width" json:"width"`
	Height     int       `db:"height" json:"height"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

type NewAlbum struct {
	UserID    string
	EventName string
	Name      string
	SessionID string
}

type NewPhoto struct {
	AlbumID    string
	UserID     string
	FileName   string
	StorageKey string
	URL        string
	Size       int64
	MIMEType   string
	Width      int
	Height     int
}

// FileError records one file that did not become a photo.
type FileError struct {
	File  string `json:"file"`
	Code  string `json:"code"`
	Error string `json:"error"`
}
