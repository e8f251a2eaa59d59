package dto

import (
	"github.com/cuongbtq/photobook-be/internal/album"
	"github.com/cuongbtq/photobook-be/internal/objectstore"
)

type AlbumResponse struct {
	Album  *album.Album  `json:"album"`
	Photos []album.Photo `json:"photos"`
}

type DeleteAlbumResponse struct {
	AlbumID string                    `json:"album_id"`
	Deleted []string                  `json:"deleted"`
	Errors  []objectstore.DeleteError `json:"errors"`
}
