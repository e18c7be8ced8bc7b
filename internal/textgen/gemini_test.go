package textgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "user-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func apiError(code int, msg, status string) string {
	b, _ := json.Marshal(map[string]any{"error": map[string]any{"code": code, "message": msg, "status": status}})
	return string(b)
}

func TestGemini_Success(t *testing.T) {
	srv, calls := geminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"\"SK Tim PPI\"\nAlasan: ..."}]}}]}`)
	g := New(NewGeminiBackend(GeminiConfig{BaseURL: srv.URL}), quietLogger())

	res, err := g.Item(context.Background(), "user-key", KindEvidenceTitle, sampleItem())
	require.NoError(t, err)

	assert.Equal(t, OutcomeText, res.Outcome)
	assert.Equal(t, "SK Tim PPI", res.Text)
	assert.EqualValues(t, 1, calls.Load())
}

func TestGemini_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, res Result, err error)
	}{
		{
			name:   "invalid key",
			status: http.StatusBadRequest,
			body:   apiError(400, "API key not valid. Please pass a valid API key.", "INVALID_ARGUMENT"),
			check: func(t *testing.T, _ Result, err error) {
				assert.ErrorIs(t, err, ErrCredentialInvalid)
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			body:   apiError(403, "Permission denied", "PERMISSION_DENIED"),
			check: func(t *testing.T, _ Result, err error) {
				assert.ErrorIs(t, err, ErrCredentialInvalid)
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   apiError(429, "Resource has been exhausted", "RESOURCE_EXHAUSTED"),
			check: func(t *testing.T, res Result, err error) {
				require.NoError(t, err)
				assert.Equal(t, OutcomeRateLimited, res.Outcome)
			},
		},
		{
			name:   "other bad request",
			status: http.StatusBadRequest,
			body:   apiError(400, "Request contains an invalid argument.", "INVALID_ARGUMENT"),
			check: func(t *testing.T, _ Result, err error) {
				var re *RemoteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, 400, re.StatusCode)
				assert.Equal(t, "Request contains an invalid argument.", re.Message)
				assert.False(t, IsCredentialError(err))
			},
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			body:   `{"candidates":[]}`,
			check: func(t *testing.T, _ Result, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := geminiServer(t, tc.status, tc.body)
			g := New(NewGeminiBackend(GeminiConfig{BaseURL: srv.URL}), quietLogger())

			res, err := g.Item(context.Background(), "user-key", KindEvidenceTitle, sampleItem())
			tc.check(t, res, err)
		})
	}
}

func TestGemini_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	g := New(NewGeminiBackend(GeminiConfig{BaseURL: url}), quietLogger())

	_, err := g.Item(context.Background(), "user-key", KindEvidenceTitle, sampleItem())

	assert.ErrorIs(t, err, ErrNetwork)
}

func TestGemini_MissingKeyMakesNoCall(t *testing.T) {
	srv, calls := geminiServer(t, http.StatusOK, `{}`)
	g := New(NewGeminiBackend(GeminiConfig{BaseURL: srv.URL}), quietLogger())

	_, err := g.Item(context.Background(), "", KindEvidenceTitle, sampleItem())

	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.Zero(t, calls.Load())
}
