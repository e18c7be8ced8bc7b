package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// DefaultVertexModel is used when VERTEX_MODEL is unset.
const DefaultVertexModel = "gemini-2.0-flash"

// VertexClient holds the generative model used for drafting plan text with
// the project's own credentials.
type VertexClient struct {
	DraftModel *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client and configures the drafting model.
// systemPrompt may be empty.
func NewVertexClient(ctx context.Context, projectID, region, model, systemPrompt string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if model == "" {
		model = DefaultVertexModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	draftModel := baseClient.GenerativeModel(model)
	if systemPrompt != "" {
		draftModel.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	draftModel.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: genai.Ptr[int32](1024),
	}

	return &VertexClient{
		DraftModel: draftModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
