package annotate

import (
	"encoding/hex"
	"fmt"
	"image/color"
	"strings"

	"golang.org/x/image/colornames"
)

// Anchor selects the image corner the label is aligned to.
type Anchor string

// Supported anchors.
const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
)

func (a Anchor) valid() bool {
	switch a {
	case AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight:
		return true
	default:
		return false
	}
}

func (a Anchor) top() bool  { return a == AnchorTopLeft || a == AnchorTopRight }
func (a Anchor) left() bool { return a == AnchorTopLeft || a == AnchorBottomLeft }

// Style is the fixed look of the overlay text. StrokeWidth 0 disables the outline.
type Style struct {
	FontSize    float64
	Color       color.RGBA
	StrokeColor color.RGBA
	StrokeWidth int
	Anchor      Anchor
	Margin      int
}

// DefaultStyle is 22px yellow text in the top-left corner with a 10px margin.
func DefaultStyle() Style {
	return Style{
		FontSize: 22,
		Color:    colornames.Yellow,
		Anchor:   AnchorTopLeft,
		Margin:   10,
	}
}

// ParseColor accepts SVG color names ("yellow") and #rgb, #rrggbb or #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return c, nil
	}
	if !strings.HasPrefix(s, "#") {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	digits := s[1:]
	if len(digits) == 3 {
		digits = string([]byte{digits[0], digits[0], digits[1], digits[1], digits[2], digits[2]})
	}
	if len(digits) == 6 {
		digits += "ff"
	}
	if len(digits) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	raw, err := hex.DecodeString(digits)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	// Premultiply so the value is a valid color.RGBA.
	a := uint16(raw[3])
	return color.RGBA{
		R: uint8(uint16(raw[0]) * a / 0xff),
		G: uint8(uint16(raw[1]) * a / 0xff),
		B: uint8(uint16(raw[2]) * a / 0xff),
		A: raw[3],
	}, nil
}
