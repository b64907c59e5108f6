package utils

import (
	"bytes"
	"encoding/base64"
	"errors"

	"github.com/disintegration/imaging"
)

// MakeThumbnailFromDataURI decodes a data URI image and returns a JPEG
// thumbnail resized to the given width (height keeps aspect ratio).
func MakeThumbnailFromDataURI(dataURI string, width int) ([]byte, error) {
	_, payload, ok := splitDataURI(dataURI)
	if !ok {
		return nil, errors.New("not a data uri")
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, width, 0, imaging.Lanczos)
	var buffer bytes.Buffer
	if err := imaging.Encode(&buffer, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
