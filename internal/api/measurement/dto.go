package measurement

import (
	"encoding/json"
	"time"
)

type ProcessRequest struct {
	ImageB64 string `json:"image_b64" validate:"required"`
}

// ProcessResponse is the contract returned to the front-end. Every key is
// always present; absent upstream values are emitted as null.
type ProcessResponse struct {
	Status      interface{}     `json:"status"`
	Image       ImageInfo       `json:"image"`
	PD          PDInfo          `json:"pd"`
	Eyes        EyesInfo        `json:"eyes"`
	Occlusion   OcclusionInfo   `json:"occlusion"`
	Pose        PoseInfo        `json:"pose"`
	Frame       FrameInfo       `json:"frame"`
	Diagnostics DiagnosticsInfo `json:"diagnostics"`
}

type ImageInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type PDInfo struct {
	TotalMM      *float64 `json:"total_mm"`
	LeftMM       *float64 `json:"left_mm"`
	RightMM      *float64 `json:"right_mm"`
	ScaleMMPerPx *float64 `json:"scale_mm_per_px"`
}

type EyesInfo struct {
	LeftCenterPx  interface{} `json:"left_center_px"`
	RightCenterPx interface{} `json:"right_center_px"`
	Valid         bool        `json:"valid"`
}

type OcclusionInfo struct {
	SunglassesDetected   interface{} `json:"sunglasses_detected"`
	SunglassesConfidence *float64    `json:"sunglasses_confidence"`
	LeftHandBlocking     interface{} `json:"left_hand_blocking"`
	RightHandBlocking    interface{} `json:"right_hand_blocking"`
}

type PoseInfo struct {
	HeadTiltDeg *float64 `json:"head_tilt_deg"`
}

type FrameInfo struct {
	Detected bool     `json:"detected"`
	AMM      *float64 `json:"A_mm"`
	BMM      *float64 `json:"B_mm"`
	DBLMM    *float64 `json:"DBL_mm"`
}

type DiagnosticsInfo struct {
	Warnings           interface{} `json:"warnings"`
	ConfidenceEstimate *float64    `json:"confidence_estimate"`
	ScaleDiagnostics   interface{} `json:"scale_diagnostics"`
}

type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ProcessOutcome is what the service hands back to transports.
type ProcessOutcome struct {
	Response      *ProcessResponse
	MeasurementID string
	Cached        bool
}

type MeasurementResponse struct {
	ID          string          `json:"id"`
	RequestID   string          `json:"request_id"`
	ImageSHA256 string          `json:"image_sha256"`
	ImageWidth  int             `json:"image_width"`
	ImageHeight int             `json:"image_height"`
	Status      string          `json:"status"`
	PDTotalMM   *float64        `json:"pd_total_mm"`
	ImageURL    string          `json:"image_url,omitempty"`
	Result      json.RawMessage `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
}

type MeasurementListResponse struct {
	Measurements []MeasurementResponse `json:"measurements"`
	Total        int                   `json:"total"`
	Page         int                   `json:"page"`
	Limit        int                   `json:"limit"`
}

type DetectionType string

const (
	PupilDetection     DetectionType = "PUPIL"
	SpectacleDetection DetectionType = "SPECTACLE"
)
