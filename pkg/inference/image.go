package inference

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/webp"
)

// Image is an encoded input image. Only the header is inspected here; pixel
// decoding is left to the backend.
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// DecodeImage reads the format and dimensions of an encoded image.
func DecodeImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidRequest)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding image header: %v", ErrInvalidRequest, err)
	}
	return &Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// DecodeBase64Image decodes a base64 payload, optionally wrapped in a data
// URI, and reads its header.
func DecodeBase64Image(s string) (*Image, error) {
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data URI", ErrInvalidRequest)
		}
		s = s[idx+1:]
	}
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some clients strip the padding.
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("%w: decoding base64 image: %v", ErrInvalidRequest, err)
		}
	}
	return DecodeImage(data)
}

// MIMEType returns the media type of the encoded image.
func (img *Image) MIMEType() string {
	if img.Format == "" {
		return "application/octet-stream"
	}
	return "image/" + img.Format
}

// DataURI returns the image as a base64 data URI.
func (img *Image) DataURI() string {
	return "data:" + img.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Base64 returns the standard base64 encoding of the image bytes.
func (img *Image) Base64() string {
	return base64.StdEncoding.EncodeToString(img.Data)
}
