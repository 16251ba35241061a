package spectacle

import (
	"context"
	"optifocus/internal/entity"
)

// IFrameDetector measures the spectacle frame worn in a photo. The returned
// map carries "detected" and, when detected, "A_mm", "B_mm" and "DBL_mm".
type IFrameDetector interface {
	ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error)
}

const (
	defaultAMM   = 48.0
	defaultBMM   = 30.0
	defaultDBLMM = 18.0
)

type staticDetector struct{}

// NewStaticDetector returns a detector with fixed frame dimensions and lens
// boxes derived from the image size.
func NewStaticDetector() IFrameDetector {
	return &staticDetector{}
}

func (d *staticDetector) ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// a uniform frame cannot contain a face
	if frame == nil || frame.IsBlank() {
		return entity.BackendResult{"detected": false}, nil
	}

	w, h := float64(frame.Width), float64(frame.Height)

	lensW := int(w * 0.18)
	lensH := int(h * 0.14)
	centerY := int(h * 0.45)
	leftX := int(w * 0.30)
	rightX := int(w * 0.52)

	return entity.BackendResult{
		"detected":  true,
		"A_mm":      defaultAMM,
		"B_mm":      defaultBMM,
		"DBL_mm":    defaultDBLMM,
		"left_box":  []int{leftX, centerY, lensW, lensH},
		"right_box": []int{rightX, centerY, lensW, lensH},
	}, nil
}
