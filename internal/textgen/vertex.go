package textgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	vgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// contentGenerator is the part of *vgenai.GenerativeModel VertexBackend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...vgenai.Part) (*vgenai.GenerateContentResponse, error)
}

// VertexBackend drafts through Vertex AI with the project's service
// credentials, so no user API key is needed. The system instruction is
// fixed on the model when it is created.
type VertexBackend struct {
	model contentGenerator
}

func NewVertexBackend(model *vgenai.GenerativeModel) *VertexBackend {
	return &VertexBackend{model: model}
}

func (b *VertexBackend) NeedsAPIKey() bool { return false }

func (b *VertexBackend) Complete(ctx context.Context, req Request) (string, error) {
	resp, err := b.model.GenerateContent(ctx, vgenai.Text(req.Prompt))
	if err != nil {
		var blocked *vgenai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return "", classifyGRPCError(ctx, err)
	}
	return vertexText(resp)
}

// grpcHTTPStatus gives the HTTP status a gRPC code surfaces as on the REST
// endpoint, so RemoteError reads the same for both backends.
var grpcHTTPStatus = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.NotFound:           http.StatusNotFound,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unimplemented:      http.StatusNotImplemented,
}

func classifyGRPCError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrCredentialInvalid, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrNetwork, st.Message())
	}
	code, ok := grpcHTTPStatus[st.Code()]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &RemoteError{StatusCode: code, Message: st.Message()}
}

func vertexText(resp *vgenai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrMalformedResponse
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(vgenai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrMalformedResponse
	}
	return sb.String(), nil
}
