// Package annotate stamps the timestamp label onto captured screenshots.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	// Registered so jpeg screenshots decode too.
	_ "image/jpeg"
	"image/png"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Annotator draws a label onto PNG images with a fixed Style.
type Annotator struct {
	style Style

	// font.Face implementations cache glyphs and are not safe for concurrent use.
	mu   sync.Mutex
	face font.Face
}

// New parses the embedded Go Regular font at the style's pixel size.
func New(style Style) (*Annotator, error) {
	if style.FontSize <= 0 {
		return nil, fmt.Errorf("font size must be > 0")
	}
	if !style.Anchor.valid() {
		return nil, fmt.Errorf("unknown anchor %q", style.Anchor)
	}
	if style.StrokeWidth < 0 || style.Margin < 0 {
		return nil, fmt.Errorf("stroke width and margin must be >= 0")
	}
	parsed, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    style.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("build font face: %w", err)
	}
	return &Annotator{style: style, face: face}, nil
}

// Annotate decodes src, draws label at the configured anchor and returns the
// PNG encoding. The output has the same dimensions as src; labels wider than
// the image are drawn as-is and clipped by the image bounds.
func (a *Annotator) Annotate(src []byte, label string) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode capture: %w", err)
	}
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)

	a.mu.Lock()
	a.drawLabel(canvas, label)
	a.mu.Unlock()

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// TextBounds reports the pixel rectangle the label (outline included) covers
// when drawn onto an image with the given bounds.
func (a *Annotator) TextBounds(bounds image.Rectangle, label string) image.Rectangle {
	a.mu.Lock()
	defer a.mu.Unlock()

	dot := a.origin(bounds, label)
	box, _ := font.BoundString(a.face, label)
	pad := a.style.StrokeWidth + 1
	return image.Rect(
		(dot.X+box.Min.X).Floor()-pad,
		(dot.Y+box.Min.Y).Floor()-pad,
		(dot.X+box.Max.X).Ceil()+pad,
		(dot.Y+box.Max.Y).Ceil()+pad,
	)
}

func (a *Annotator) drawLabel(dst draw.Image, label string) {
	dot := a.origin(dst.Bounds(), label)
	d := &font.Drawer{Dst: dst, Face: a.face}

	if w := a.style.StrokeWidth; w > 0 {
		d.Src = image.NewUniform(a.style.StrokeColor)
		for dx := -w; dx <= w; dx++ {
			for dy := -w; dy <= w; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				d.Dot = dot.Add(fixed.P(dx, dy))
				d.DrawString(label)
			}
		}
	}

	d.Src = image.NewUniform(a.style.Color)
	d.Dot = dot
	d.DrawString(label)
}

// origin is the baseline start of the label. Callers hold a.mu.
func (a *Annotator) origin(bounds image.Rectangle, label string) fixed.Point26_6 {
	metrics := a.face.Metrics()
	margin := fixed.I(a.style.Margin)

	var x fixed.Int26_6
	if a.style.Anchor.left() {
		x = fixed.I(bounds.Min.X) + margin
	} else {
		x = fixed.I(bounds.Max.X) - margin - font.MeasureString(a.face, label)
	}

	var y fixed.Int26_6
	if a.style.Anchor.top() {
		y = fixed.I(bounds.Min.Y) + margin + metrics.Ascent
	} else {
		y = fixed.I(bounds.Max.Y) - margin - metrics.Descent
	}
	return fixed.Point26_6{X: x, Y: y}
}
