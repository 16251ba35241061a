//go:build !gocv
// +build !gocv

package utils

import (
	"bytes"
	"image"
	"image/color"
	"optifocus/internal/entity"
)

// decodeBGR decodes raw into BGR pixels. Alpha is dropped, not composited.
func decodeBGR(raw []byte) (*entity.Frame, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return imageToFrame(img), nil
}

func imageToFrame(img image.Image) *entity.Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	frame := entity.NewBlankFrame(w, h)
	out := frame.Data

	switch src := img.(type) {
	case *image.YCbCr:
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := src.YCbCrAt(x, y)
				r, g, b := color.YCbCrToRGB(c.Y, c.Cb, c.Cr)
				out[i], out[i+1], out[i+2] = b, g, r
				i += 3
			}
		}
	case *image.NRGBA:
		i := 0
		for y := 0; y < h; y++ {
			start := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := src.Pix[start : start+w*4]
			for x := 0; x < w; x++ {
				p := row[x*4 : x*4+4]
				out[i], out[i+1], out[i+2] = p[2], p[1], p[0]
				i += 3
			}
		}
	default:
		i := 0
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				out[i], out[i+1], out[i+2] = c.B, c.G, c.R
				i += 3
			}
		}
	}

	return frame
}
