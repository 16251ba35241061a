package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"optifocus/internal/entity"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DecodeBase64Image decodes strict standard base64. A data URL prefix such as
// "data:image/jpeg;base64," is accepted and stripped.
func (u *utils) DecodeBase64Image(b64 string) ([]byte, error) {
	if strings.HasPrefix(b64, "data:") {
		idx := strings.Index(b64, ";base64,")
		if idx < 0 {
			return nil, fmt.Errorf("%w: unsupported data url", ErrInvalidBase64)
		}
		b64 = b64[idx+len(";base64,"):]
	}

	if strings.ContainsAny(b64, "\r\n") {
		return nil, fmt.Errorf("%w: line breaks are not allowed", ErrInvalidBase64)
	}

	raw, err := base64.StdEncoding.Strict().DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidBase64)
	}

	return raw, nil
}

// MaxImagePixels bounds width*height before any pixel buffer is allocated.
// It matches Pillow's decompression bomb threshold.
const MaxImagePixels = 89_478_485

func (u *utils) DecodeFrame(raw []byte) (*entity.Frame, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	if pixels := int64(cfg.Width) * int64(cfg.Height); cfg.Width <= 0 || cfg.Height <= 0 || pixels > MaxImagePixels {
		return nil, fmt.Errorf("%w: image size %dx%d exceeds limit of %d pixels", ErrUnknownFormat, cfg.Width, cfg.Height, MaxImagePixels)
	}

	frame, err := decodeBGR(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}

	frame.Encoded = raw
	frame.Format = format
	return frame, nil
}

// ImageExtension maps a decoder format name to a file extension.
func ImageExtension(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "":
		return "bin"
	default:
		return format
	}
}

// EncodeFrame returns the bytes the client sent, or a JPEG rendering of the
// BGR pixels for frames built in memory.
func EncodeFrame(frame *entity.Frame) ([]byte, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}
	if len(frame.Encoded) > 0 {
		return frame.Encoded, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i+2 < len(frame.Data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = frame.Data[i+2]
		img.Pix[j+1] = frame.Data[i+1]
		img.Pix[j+2] = frame.Data[i]
		img.Pix[j+3] = 0xff
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
