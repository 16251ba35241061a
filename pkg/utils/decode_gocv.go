//go:build gocv
// +build gocv

package utils

import (
	"errors"
	"optifocus/internal/entity"

	"gocv.io/x/gocv"
)

// decodeBGR lets OpenCV decode raw; IMReadColor already yields BGR.
func decodeBGR(raw []byte) (*entity.Frame, error) {
	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("failed to decode image")
	}

	data := mat.ToBytes()
	return &entity.Frame{
		Data:   data,
		Width:  mat.Cols(),
		Height: mat.Rows(),
	}, nil
}
