package measurement

import (
	"net/http"
	"optifocus/pkg/response"
)

var (
	ErrImageRequired       = response.NewError(http.StatusBadRequest, "image_b64_required")
	ErrInvalidFileType     = response.NewError(http.StatusBadRequest, "uploaded file is not an image")
	ErrFileTooLarge        = response.NewError(http.StatusRequestEntityTooLarge, "file size exceeds limit")
	ErrMeasurementNotFound = response.NewError(http.StatusNotFound, "measurement not found")
	ErrHistoryDisabled     = response.NewError(http.StatusServiceUnavailable, "measurement history is not configured")
)
