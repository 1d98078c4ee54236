package render

import (
	"fmt"
	"image/color"
	"time"
)

const (
	Width  = 760
	Height = 600
)

type Align int

const (
	AlignLeft Align = iota
	AlignCenter
	AlignRight
)

// Rect is a filled rectangle in canvas pixels.
type Rect struct {
	X, Y, W, H int
	Color      color.RGBA
}

// Text is a single line of text. Y is the baseline.
type Text struct {
	X, Y  int
	Value string
	Size  float64
	Bold  bool
	Color color.RGBA
	Align Align
}

// Layout is the fixed-position certificate document both rasterizers draw.
type Layout struct {
	Width, Height int
	Background    color.RGBA
	Rects         []Rect
	Texts         []Text
}

// Fields are the certificate values placed on the template.
type Fields struct {
	CertificateID   string
	StudentName     string
	Course          string
	Score           int
	IssuedAt        time.Time
	TransactionHash string
}

var (
	white     = color.RGBA{0xff, 0xff, 0xff, 0xff}
	purple    = color.RGBA{0x7b, 0x61, 0xff, 0xff}
	navy      = color.RGBA{0x2a, 0x1a, 0x67, 0xff}
	sky       = color.RGBA{0x38, 0xbd, 0xf8, 0xff}
	mint      = color.RGBA{0x3d, 0xdc, 0x97, 0xff}
	green     = color.RGBA{0x2a, 0xb7, 0x7a, 0xff}
	slate     = color.RGBA{0x47, 0x55, 0x69, 0xff}
	slateDark = color.RGBA{0x1e, 0x29, 0x3b, 0xff}
	muted     = color.RGBA{0x64, 0x74, 0x8b, 0xff}
	rule      = color.RGBA{0xcb, 0xd5, 0xe1, 0xff}
)

// NewLayout places the certificate fields on the completion template.
func NewLayout(f Fields) Layout {
	center := Width / 2
	l := Layout{
		Width:      Width,
		Height:     Height,
		Background: white,
		Rects: []Rect{
			// border
			{X: 0, Y: 0, W: Width, H: 2, Color: purple},
			{X: 0, Y: Height - 2, W: Width, H: 2, Color: purple},
			{X: 0, Y: 0, W: 2, H: Height, Color: purple},
			{X: Width - 2, Y: 0, W: 2, H: Height, Color: purple},
			// top and bottom bands
			{X: 40, Y: 32, W: Width - 80, H: 8, Color: sky},
			{X: 40, Y: Height - 40, W: Width - 80, H: 8, Color: mint},
			// name underline
			{X: center - 180, Y: 232, W: 360, H: 2, Color: purple},
			// date and id underlines
			{X: 56, Y: 470, W: 160, H: 1, Color: rule},
			{X: Width - 216, Y: 470, W: 160, H: 1, Color: rule},
		},
		Texts: []Text{
			{X: center, Y: 100, Value: "CERTIFICATE", Size: 38, Bold: true, Color: navy, Align: AlignCenter},
			{X: center, Y: 130, Value: "OF COMPLETION", Size: 20, Color: mint, Align: AlignCenter},
			{X: center, Y: 170, Value: "This certificate is presented to", Size: 16, Color: slate, Align: AlignCenter},
			{X: center, Y: 222, Value: f.StudentName, Size: 32, Bold: true, Color: purple, Align: AlignCenter},
			{X: center, Y: 275, Value: fmt.Sprintf("has successfully completed the %s course", f.Course), Size: 18, Color: slate, Align: AlignCenter},
			{X: center, Y: 302, Value: fmt.Sprintf("with a grade of %d%%.", f.Score), Size: 18, Bold: true, Color: green, Align: AlignCenter},
			{X: center, Y: 345, Value: "This certificate is issued by MentorCertAI to recognize", Size: 14, Color: muted, Align: AlignCenter},
			{X: center, Y: 365, Value: "outstanding achievement and commitment to learning.", Size: 14, Color: muted, Align: AlignCenter},
			{X: 56, Y: 440, Value: "Date Issued", Size: 14, Color: muted, Align: AlignLeft},
			{X: 56, Y: 462, Value: f.IssuedAt.UTC().Format("2006-01-02"), Size: 16, Color: slateDark, Align: AlignLeft},
			{X: Width - 56, Y: 440, Value: "Certificate ID", Size: 14, Color: muted, Align: AlignRight},
			{X: Width - 56, Y: 462, Value: f.CertificateID, Size: 16, Color: slateDark, Align: AlignRight},
		},
	}

	if f.TransactionHash != "" {
		l.Texts = append(l.Texts,
			Text{X: center, Y: 505, Value: "Transaction Hash", Size: 14, Color: muted, Align: AlignCenter},
			Text{X: center, Y: 525, Value: f.TransactionHash, Size: 11, Color: slate, Align: AlignCenter},
		)
	}

	return l
}
