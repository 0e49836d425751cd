package screens

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	black uint8 = 0
	dark  uint8 = 15
	grey  uint8 = 120
	light uint8 = 200
	white uint8 = 255
)

type faceKey struct {
	size float64
	bold bool
}

var (
	fontsOnce sync.Once
	fontsErr  error
	regular   *opentype.Font
	bold      *opentype.Font
)

// newFace parses the Go fonts once and returns a new face at size points.
// Faces keep per-glyph scratch state and must not be shared between
// goroutines; the parsed fonts can be.
func newFace(size float64, isBold bool) (font.Face, error) {
	fontsOnce.Do(func() {
		if regular, fontsErr = opentype.Parse(goregular.TTF); fontsErr != nil {
			return
		}
		bold, fontsErr = opentype.Parse(gobold.TTF)
	})
	if fontsErr != nil {
		return nil, fmt.Errorf("failed to parse font: %w", fontsErr)
	}

	src := regular
	if isBold {
		src = bold
	}
	f, err := opentype.NewFace(src, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return f, nil
}

// canvas is a grayscale drawing surface owned by a single render. The first
// text error is kept and reported by done so producers can draw without
// checking every call.
type canvas struct {
	img   *image.Gray
	faces map[faceKey]font.Face
	err   error
}

func newCanvas(width, height int, background uint8) *canvas {
	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Gray{Y: background}), image.Point{}, draw.Src)
	return &canvas{img: img, faces: make(map[faceKey]font.Face)}
}

func (c *canvas) width() int { return c.img.Bounds().Dx() }

func (c *canvas) done() (image.Image, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.img, nil
}

func (c *canvas) face(size float64, isBold bool) font.Face {
	key := faceKey{size: size, bold: isBold}
	if f, ok := c.faces[key]; ok {
		return f
	}

	f, err := newFace(size, isBold)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		return nil
	}
	c.faces[key] = f
	return f
}

// text draws s with its baseline at y.
func (c *canvas) text(x, y int, s string, size float64, isBold bool, shade uint8) {
	f := c.face(size, isBold)
	if f == nil {
		return
	}
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(color.Gray{Y: shade}),
		Face: f,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func (c *canvas) measure(s string, size float64, isBold bool) int {
	f := c.face(size, isBold)
	if f == nil {
		return 0
	}
	return font.MeasureString(f, s).Round()
}

func (c *canvas) centered(y int, s string, size float64, isBold bool, shade uint8) {
	x := (c.width() - c.measure(s, size, isBold)) / 2
	c.text(x, y, s, size, isBold, shade)
}

// wrapped draws centered lines no wider than maxWidth and returns the
// baseline after the last line.
func (c *canvas) wrapped(y int, s string, size float64, isBold bool, shade uint8, maxWidth int) int {
	lineHeight := int(size * 1.35)
	var line string
	for _, word := range strings.Fields(s) {
		candidate := word
		if line != "" {
			candidate = line + " " + word
		}
		if line != "" && c.measure(candidate, size, isBold) > maxWidth {
			c.centered(y, line, size, isBold, shade)
			y += lineHeight
			line = word
			continue
		}
		line = candidate
	}
	if line != "" {
		c.centered(y, line, size, isBold, shade)
		y += lineHeight
	}
	return y
}

func (c *canvas) fill(r image.Rectangle, shade uint8) {
	draw.Draw(c.img, r, image.NewUniform(color.Gray{Y: shade}), image.Point{}, draw.Src)
}

func (c *canvas) hline(y, x0, x1 int, thickness int, shade uint8) {
	c.fill(image.Rect(x0, y, x1, y+thickness), shade)
}

func (c *canvas) frame(r image.Rectangle, thickness int, shade uint8) {
	c.fill(image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), shade)
	c.fill(image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), shade)
	c.fill(image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), shade)
	c.fill(image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), shade)
}
