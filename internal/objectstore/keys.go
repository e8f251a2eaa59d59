package objectstore

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// PhotoKey is the deterministic storage key of a photo:
//
//	users/<user>/events/<event-slug>/albums/<album-id>/<position>-<file-slug>
func PhotoKey(userID, eventName, albumID string, position int, fileName string) string {
	return fmt.Sprintf("users/%s/events/%s/albums/%s/%d-%s",
		Slug(userID), Slug(eventName), Slug(albumID), position, FileSlug(fileName))
}

// AlbumPrefix is the key prefix shared by all photos of an album.
func AlbumPrefix(userID, eventName, albumID string) string {
	return fmt.Sprintf("users/%s/events/%s/albums/%s/", Slug(userID), Slug(eventName), Slug(albumID))
}

// Slug lowercases s and collapses every run of characters other than ASCII
// letters and digits into a single '-'.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	return out
}

// FileSlug slugs the base name of a file and keeps its extension.
func FileSlug(name string) string {
	ext := strings.ToLower(path.Ext(name))
	base := strings.TrimSuffix(name, path.Ext(name))

	cleanExt := Slug(strings.TrimPrefix(ext, "."))
	if ext == "" || cleanExt == "untitled" {
		return Slug(base)
	}
	return Slug(base) + "." + cleanExt
}
