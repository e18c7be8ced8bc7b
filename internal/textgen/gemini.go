package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the model the hosted Gemini API is asked for.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures GeminiBackend.
type GeminiConfig struct {
	Model string
	// BaseURL overrides the public endpoint, mostly for tests.
	BaseURL string
	// Timeout bounds a single call. Zero means no extra limit.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// GeminiBackend calls the Gemini API with the API key the user supplied for
// the request. A client is created per call since the key is per user.
type GeminiBackend struct {
	cfg GeminiConfig
}

func NewGeminiBackend(cfg GeminiConfig) *GeminiBackend {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	return &GeminiBackend{cfg: cfg}
}

func (b *GeminiBackend) NeedsAPIKey() bool { return true }

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	if req.APIKey == "" {
		return "", ErrCredentialMissing
	}
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	cc := &genai.ClientConfig{
		APIKey:     req.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.cfg.HTTPClient,
	}
	if b.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: b.cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0.4)}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	resp, err := client.Models.GenerateContent(ctx, b.cfg.Model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", classifyGenAIError(ctx, err)
	}
	return geminiText(resp)
}

func classifyGenAIError(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus(apiErrPtr.Code, apiErrPtr.Message)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrMalformedResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrMalformedResponse
	}
	return sb.String(), nil
}
