package srv

import (
	"image"
	"image/color"

	"github.com/hajimehoshi/bitmapfont/v2"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

const (
	panelWidth  = 128
	panelHeight = 64
	// bitmapfont glyphs are 6 pixels wide
	glyphWidth = 6
	maxChars   = (panelWidth - 4) / glyphWidth
)

var col = color.RGBA{255, 255, 255, 255}
var uniformImage = image.NewUniform(col)

func AddLabel(img *image.RGBA, x, y int, label string) {

	point := fixed.Point26_6{X: fixed.Int26_6((x + 4) * 64), Y: fixed.Int26_6(y * 64)}

	d := &font.Drawer{
		Dst:  img,
		Src:  uniformImage,
		Face: bitmapfont.Face,
		Dot:  point,
	}
	d.DrawString(truncate(label, maxChars))
}

func AddCenteredLabel(img *image.RGBA, y int, label string) {
	label = truncate(label, maxChars)
	AddLabel(img, (panelWidth-len(label)*glyphWidth)/2, y, label)
}

// AddFrame draws a one pixel border around the panel.
func AddFrame(img draw.Image) {
	bounds := img.Bounds()
	draw.Draw(img, image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+1), uniformImage, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(bounds.Min.X, bounds.Max.Y-1, bounds.Max.X, bounds.Max.Y), uniformImage, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Min.X+1, bounds.Max.Y), uniformImage, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(bounds.Max.X-1, bounds.Min.Y, bounds.Max.X, bounds.Max.Y), uniformImage, image.Point{}, draw.Src)
}

func truncate(label string, max int) string {
	if len(label) <= max {
		return label
	}
	return label[:max]
}
