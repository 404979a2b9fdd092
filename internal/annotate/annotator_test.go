package annotate

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/colornames"
)

const testLabel = "25/12/2023, 14:05"

func solidPNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestAnnotatePreservesDimensions(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultStyle())
	require.NoError(t, err)

	out, err := a.Annotate(solidPNG(t, 320, 200, colornames.Navy), testLabel)
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 320, 200), img.Bounds())
}

func TestAnnotateIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultStyle())
	require.NoError(t, err)
	src := solidPNG(t, 200, 120, colornames.Black)

	first, err := a.Annotate(src, testLabel)
	require.NoError(t, err)
	second, err := a.Annotate(src, testLabel)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(first, second))
}

func TestAnnotateOnlyTouchesLabelRegion(t *testing.T) {
	t.Parallel()

	for _, anchor := range []Anchor{AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight} {
		t.Run(string(anchor), func(t *testing.T) {
			t.Parallel()

			style := DefaultStyle()
			style.Anchor = anchor
			a, err := New(style)
			require.NoError(t, err)

			bg := colornames.Black
			src := solidPNG(t, 400, 160, bg)
			out, err := a.Annotate(src, testLabel)
			require.NoError(t, err)

			img := decodePNG(t, out)
			region := a.TextBounds(img.Bounds(), testLabel)
			require.False(t, region.Empty())

			var filled int
			for y := 0; y < 160; y++ {
				for x := 0; x < 400; x++ {
					px := rgbaAt(img, x, y)
					if !image.Pt(x, y).In(region) {
						require.Equal(t, bg, px, "pixel (%d,%d) outside label changed", x, y)
						continue
					}
					if px == colornames.Yellow {
						filled++
					}
				}
			}
			assert.Positive(t, filled, "expected fully covered glyph pixels in label color")
		})
	}
}

func TestTextBoundsFollowAnchor(t *testing.T) {
	t.Parallel()

	bounds := image.Rect(0, 0, 400, 160)
	center := image.Pt(200, 80)

	tests := []struct {
		anchor   Anchor
		wantTop  bool
		wantLeft bool
	}{
		{anchor: AnchorTopLeft, wantTop: true, wantLeft: true},
		{anchor: AnchorTopRight, wantTop: true, wantLeft: false},
		{anchor: AnchorBottomLeft, wantTop: false, wantLeft: true},
		{anchor: AnchorBottomRight, wantTop: false, wantLeft: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.anchor), func(t *testing.T) {
			t.Parallel()

			style := DefaultStyle()
			style.Anchor = tt.anchor
			a, err := New(style)
			require.NoError(t, err)

			r := a.TextBounds(bounds, testLabel)
			assert.Equal(t, tt.wantTop, r.Max.Y < center.Y, "vertical placement of %v", r)
			assert.Equal(t, tt.wantLeft, r.Max.X < center.X, "horizontal placement of %v", r)
			assert.True(t, r.Overlaps(bounds))
		})
	}
}

func TestTopLeftBaselineMatchesClassicPlacement(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultStyle())
	require.NoError(t, err)

	a.mu.Lock()
	dot := a.origin(image.Rect(0, 0, 800, 600), testLabel)
	a.mu.Unlock()

	assert.Equal(t, 10, dot.X.Round())
	assert.InDelta(t, 30, dot.Y.Round(), 2)
}

func TestAnnotateWithStroke(t *testing.T) {
	t.Parallel()

	style := DefaultStyle()
	style.StrokeColor = colornames.Red
	style.StrokeWidth = 2
	a, err := New(style)
	require.NoError(t, err)

	out, err := a.Annotate(solidPNG(t, 300, 100, colornames.White), testLabel)
	require.NoError(t, err)

	img := decodePNG(t, out)
	region := a.TextBounds(img.Bounds(), testLabel)
	var red int
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			if rgbaAt(img, x, y) == colornames.Red {
				red++
			}
		}
	}
	assert.Positive(t, red)
}

func TestAnnotateOverflowingLabel(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultStyle())
	require.NoError(t, err)

	out, err := a.Annotate(solidPNG(t, 24, 12, colornames.Gray), testLabel+" "+testLabel)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 24, 12), decodePNG(t, out).Bounds())
}

func TestAnnotateRejectsUndecodableInput(t *testing.T) {
	t.Parallel()

	a, err := New(DefaultStyle())
	require.NoError(t, err)

	_, err = a.Annotate([]byte("not an image"), testLabel)
	require.Error(t, err)
}

func TestNewValidatesStyle(t *testing.T) {
	t.Parallel()

	tests := map[string]func(*Style){
		"zero font size":  func(s *Style) { s.FontSize = 0 },
		"bad anchor":      func(s *Style) { s.Anchor = "center" },
		"negative margin": func(s *Style) { s.Margin = -1 },
		"negative stroke": func(s *Style) { s.StrokeWidth = -2 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			style := DefaultStyle()
			mutate(&style)
			_, err := New(style)
			require.Error(t, err)
		})
	}
}

func TestParseColor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    color.RGBA
		wantErr bool
	}{
		{in: "yellow", want: colornames.Yellow},
		{in: " Yellow ", want: colornames.Yellow},
		{in: "#ff0000", want: color.RGBA{R: 0xff, A: 0xff}},
		{in: "#0f0", want: color.RGBA{G: 0xff, A: 0xff}},
		{in: "#ffffff80", want: color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0x80}},
		{in: "#12345", wantErr: true},
		{in: "#zzzzzz", wantErr: true},
		{in: "chartreuse-ish", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseColor(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
