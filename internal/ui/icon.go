package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

var iconBytes = renderIcon()

// renderIcon draws the 22x22 template icon: three bars of a level meter.
func renderIcon() []byte {
	const size = 22
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	ink := color.NRGBA{A: 0xff}

	bars := []struct{ x, top int }{{4, 10}, {9, 4}, {14, 7}}
	for _, b := range bars {
		for x := b.x; x < b.x+4; x++ {
			for y := b.top; y < size-3; y++ {
				img.SetNRGBA(x, y, ink)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
