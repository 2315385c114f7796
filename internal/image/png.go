package image

import (
	"bytes"
	"fmt"
	stdimage "image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// Normalize returns data as PNG. PNG input is returned untouched once it decodes.
func Normalize(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, pngMagic) {
		if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("invalid png: %w", err)
		}
		return data, nil
	}

	img, format, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("undecodable image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("re-encoding %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}
