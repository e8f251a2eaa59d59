package album

import (
	"bytes"
	"strings"

	"github.com/disintegration/imaging"
)

// probeDimensions returns the displayed width and height of an image, with
// EXIF orientation applied. Undecodable data yields zeros.
func probeDimensions(data []byte, mimeType string) (int, int) {
	if len(data) == 0 || (mimeType != "" && !strings.HasPrefix(mimeType, "image/")) {
		return 0, 0
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return 0, 0
	}

	b := img.Bounds()
	return b.Dx(), b.Dy()
}
