package measurementService

import (
	"encoding/json"
	"fmt"
	"math"
	"optifocus/internal/api/measurement"
	"optifocus/internal/entity"
	"reflect"
	"strconv"
	"strings"
)

const defaultStatus = "ERROR"

// assembleResponse shapes the two collaborator results into the response
// contract. Every key of the contract is set, absent values become null.
func assembleResponse(frame *entity.Frame, pd, fr entity.BackendResult) (*measurement.ProcessResponse, error) {
	var (
		resp measurement.ProcessResponse
		err  error
	)

	r1 := func(key string, src entity.BackendResult) *float64 {
		if err != nil {
			return nil
		}
		var v *float64
		v, err = roundOneDecimal(src.Get(key))
		if err != nil {
			err = fmt.Errorf("%s: %w", key, err)
		}
		return v
	}

	resp.Status = pd.GetOr("status", defaultStatus)

	if frame != nil {
		resp.Image = measurement.ImageInfo{Width: frame.Width, Height: frame.Height}
	}

	resp.PD = measurement.PDInfo{
		TotalMM:      r1("pd_mm", pd),
		LeftMM:       r1("pd_left_mm", pd),
		RightMM:      r1("pd_right_mm", pd),
		ScaleMMPerPx: r1("scale_mm_per_px", pd),
	}

	leftCenter := pd.Get("left_center")
	rightCenter := pd.Get("right_center")
	resp.Eyes = measurement.EyesInfo{
		LeftCenterPx:  leftCenter,
		RightCenterPx: rightCenter,
		Valid:         pd.Get("pd_mm") != nil || (leftCenter != nil && rightCenter != nil),
	}

	resp.Occlusion = measurement.OcclusionInfo{
		SunglassesDetected:   pd.Get("sunglasses_detected"),
		SunglassesConfidence: r1("sunglasses_confidence", pd),
		LeftHandBlocking:     pd.Get("left_hand_blocking"),
		RightHandBlocking:    pd.Get("right_hand_blocking"),
	}

	resp.Pose = measurement.PoseInfo{
		HeadTiltDeg: r1("head_tilt_deg", pd),
	}

	detected := truthy(fr.GetOr("detected", false))
	resp.Frame = measurement.FrameInfo{Detected: detected}
	if detected {
		resp.Frame.AMM = r1("A_mm", fr)
		resp.Frame.BMM = r1("B_mm", fr)
		resp.Frame.DBLMM = r1("DBL_mm", fr)
	}

	resp.Diagnostics = measurement.DiagnosticsInfo{
		Warnings:           pd.GetOr("warnings", []interface{}{}),
		ConfidenceEstimate: r1("confidence_estimate", pd),
		ScaleDiagnostics:   pd.GetOr("scale_diagnostics", map[string]interface{}{}),
	}

	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// roundOneDecimal converts v to a float rounded to one decimal place. The
// rounding is done on the exact binary value with ties to even, so 0.25
// becomes 0.2 and 0.35 becomes 0.3 (0.35 is stored as 0.34999...).
// nil stays nil. NaN and infinities have no JSON form and become nil.
func roundOneDecimal(v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}

	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, nil
	}

	rounded, err := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 1, 64), 64)
	if err != nil {
		return nil, err
	}
	return &rounded, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if isHexFloat(s) {
			return 0, fmt.Errorf("could not convert string to float: %q", n)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert string to float: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
}

// isHexFloat reports a 0x-prefixed literal, which ParseFloat accepts but
// decimal float parsing must not.
func isHexFloat(s string) bool {
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// truthy treats nil, false, zero numbers, empty strings and empty
// collections as false.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() != 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
