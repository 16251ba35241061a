package gemini

import (
	"context"
	"errors"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

var ErrNoResponse = errors.New("no response from Gemini API")

type IGemini interface {
	AnalyzeImage(ctx context.Context, image []byte, format string, prompt string) (string, error)
	Close() error
}

type geminiClient struct {
	modelName string
	client    *genai.Client
}

func NewGeminiClient(ctx context.Context) (IGemini, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	modelName := os.Getenv("GEMINI_MODEL_NAME")
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &geminiClient{
		modelName: modelName,
		client:    client,
	}, nil
}

// AnalyzeImage sends one image and a prompt and returns the concatenated text
// parts of the first candidate. format is the image subtype, e.g. "png".
func (g *geminiClient) AnalyzeImage(ctx context.Context, image []byte, format string, prompt string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("empty image")
	}

	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	if prompt == "" {
		prompt = "Analyze this image and provide details in JSON format."
	}
	if format == "" {
		format = "jpeg"
	}

	res, err := model.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(prompt))
	if err != nil {
		return "", err
	}

	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil || len(res.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoResponse
	}

	var text string
	for _, part := range res.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	if text == "" {
		return "", errors.New("unexpected response format from Gemini API")
	}

	return text, nil
}

func (g *geminiClient) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
