package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Rasterizer turns a layout into PNG bytes.
type Rasterizer interface {
	Rasterize(ctx context.Context, l Layout) ([]byte, error)
}

type faceKey struct {
	size float64
	bold bool
}

// CanvasRasterizer draws layouts in-process with the Go fonts.
type CanvasRasterizer struct {
	regular *opentype.Font
	bold    *opentype.Font

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

func NewCanvasRasterizer() (*CanvasRasterizer, error) {
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse regular font: %w", err)
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bold font: %w", err)
	}
	return &CanvasRasterizer{
		regular: regular,
		bold:    bold,
		faces:   make(map[faceKey]font.Face),
	}, nil
}

func (r *CanvasRasterizer) face(size float64, bold bool) (font.Face, error) {
	key := faceKey{size: size, bold: bold}
	if f, ok := r.faces[key]; ok {
		return f, nil
	}
	src := r.regular
	if bold {
		src = r.bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	r.faces[key] = f
	return f, nil
}

// Rasterize draws l and encodes it as PNG. Output is byte-identical for
// identical layouts.
func (r *CanvasRasterizer) Rasterize(ctx context.Context, l Layout) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, l.Width, l.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(l.Background), image.Point{}, draw.Src)

	for _, rect := range l.Rects {
		bounds := image.Rect(rect.X, rect.Y, rect.X+rect.W, rect.Y+rect.H)
		draw.Draw(img, bounds, image.NewUniform(rect.Color), image.Point{}, draw.Src)
	}

	// font.Face is not safe for concurrent use
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range l.Texts {
		face, err := r.face(t.Size, t.Bold)
		if err != nil {
			return nil, fmt.Errorf("failed to load font face: %w", err)
		}
		d := &font.Drawer{
			Dst:  img,
			Src:  image.NewUniform(t.Color),
			Face: face,
		}
		x := fixed.I(t.X)
		switch t.Align {
		case AlignCenter:
			x -= d.MeasureString(t.Value) / 2
		case AlignRight:
			x -= d.MeasureString(t.Value)
		}
		d.Dot = fixed.Point26_6{X: x, Y: fixed.I(t.Y)}
		d.DrawString(t.Value)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
