// Package render produces the certificate image: the template is laid out
// once, rasterized by one of two backends and returned as a base64 data URI.
package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const dataURIPrefix = "data:image/png;base64,"

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Renderer instantiates the template and rasterizes it.
type Renderer struct {
	rasterizer Rasterizer
}

func NewRenderer(r Rasterizer) *Renderer {
	return &Renderer{rasterizer: r}
}

// PNG renders the certificate as PNG bytes.
func (r *Renderer) PNG(ctx context.Context, f Fields) ([]byte, error) {
	img, err := r.rasterizer.Rasterize(ctx, NewLayout(f))
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize certificate: %w", err)
	}
	return img, nil
}

// DataURI renders the certificate and encodes it as a PNG data URI.
func (r *Renderer) DataURI(ctx context.Context, f Fields) (string, error) {
	img, err := r.PNG(ctx, f)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(img), nil
}

func EncodeDataURI(png []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(png)
}

// DecodeDataURI returns the PNG bytes of a data URI produced by EncodeDataURI.
func DecodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, dataURIPrefix) {
		return nil, errors.New("not a png data uri")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, dataURIPrefix))
}

// IsDataURI reports whether image is stored inline rather than as a URL.
func IsDataURI(image string) bool {
	return strings.HasPrefix(image, dataURIPrefix)
}
