package spectacle

import (
	"context"
	"errors"
	"fmt"
	"optifocus/internal/entity"
	"optifocus/pkg/gemini"
	"optifocus/pkg/utils"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const framePrompt = `
You are measuring the spectacle frame worn by the person in this photo.
Return only a JSON object with these fields:
- "detected": true if the person wears spectacles with a visible frame, false otherwise
- "A_mm": horizontal width of one lens opening in millimetres
- "B_mm": vertical height of one lens opening in millimetres
- "DBL_mm": distance between the two lenses (bridge width) in millimetres

Use an average adult interpupillary distance of 62 mm as the scale reference.
When "detected" is false, set the three measurements to null.
`

type geminiFrame struct {
	Detected bool     `json:"detected"`
	AMM      *float64 `json:"A_mm"`
	BMM      *float64 `json:"B_mm"`
	DBLMM    *float64 `json:"DBL_mm"`
}

type geminiDetector struct {
	client gemini.IGemini
	log    *logrus.Logger
}

func NewGeminiDetector(client gemini.IGemini, log *logrus.Logger) IFrameDetector {
	return &geminiDetector{
		client: client,
		log:    log,
	}
}

func (d *geminiDetector) ProcessFrame(ctx context.Context, frame *entity.Frame) (entity.BackendResult, error) {
	if frame == nil || frame.IsBlank() {
		return entity.BackendResult{"detected": false}, nil
	}

	image, err := utils.EncodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	format := frame.Format
	if len(frame.Encoded) == 0 || format == "" {
		format = "jpeg"
	}

	reply, err := d.client.AnalyzeImage(ctx, image, format, framePrompt)
	if err != nil {
		return nil, fmt.Errorf("gemini frame detection: %w", err)
	}

	d.log.WithField("reply_length", len(reply)).Debug("Received frame detection reply from Gemini")

	return parseGeminiResponse(reply)
}

func parseGeminiResponse(response string) (entity.BackendResult, error) {
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")

	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		return nil, errors.New("cannot find valid JSON in response")
	}

	var parsed geminiFrame
	if err := json.Unmarshal([]byte(response[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return nil, err
	}

	if !parsed.Detected {
		return entity.BackendResult{"detected": false}, nil
	}

	if parsed.AMM == nil || parsed.BMM == nil || parsed.DBLMM == nil {
		return nil, errors.New("failed to extract frame measurements")
	}

	return entity.BackendResult{
		"detected": true,
		"A_mm":     *parsed.AMM,
		"B_mm":     *parsed.BMM,
		"DBL_mm":   *parsed.DBLMM,
	}, nil
}
