package intake

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/disintegration/imaging"

	"storybook/internal/domain"
)

const (
	DefaultMaxPhotoBytes = 10 << 20
	DefaultMaxPhotoSide  = 2048
	minPhotoSide         = 64
)

// Photo is the uploaded reference picture of the child.
type Photo struct {
	Filename string
	Data     []byte
}

// NormalizePhoto checks that data is a well-formed JPEG or PNG within the size
// ceiling, applies EXIF orientation, caps the longest side at maxSide and
// re-encodes it as JPEG.
func NormalizePhoto(data []byte, maxBytes int64, maxSide int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: photo is empty", domain.ErrInvalidPhoto)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: photo exceeds %d bytes", domain.ErrInvalidPhoto, maxBytes)
	}
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png":
	default:
		return nil, fmt.Errorf("%w: unsupported content type %s", domain.ErrInvalidPhoto, ct)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: photo could not be decoded", domain.ErrInvalidPhoto)
	}
	b := img.Bounds()
	if b.Dx() < minPhotoSide || b.Dy() < minPhotoSide {
		return nil, fmt.Errorf("%w: photo must be at least %dx%d pixels", domain.ErrInvalidPhoto, minPhotoSide, minPhotoSide)
	}
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return out.Bytes(), nil
}
