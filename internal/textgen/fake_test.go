package textgen

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/accreditationplan/internal/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend answers from a script, one entry per call, repeating the last.
type fakeBackend struct {
	mu      sync.Mutex
	needKey bool
	script  []fakeAnswer
	calls   []Request
}

type fakeAnswer struct {
	text string
	err  error
}

func (f *fakeBackend) NeedsAPIKey() bool { return f.needKey }

func (f *fakeBackend) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.script) == 0 {
		return "ok", nil
	}
	a := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return a.text, a.err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sampleItem() *models.Item {
	return &models.Item{
		ID:              "1.1.1.1-0",
		Code:            "1.1.1.1",
		RemediationPlan: "Menyusun SK Tim PPI",
		Indicator:       "SK terbit",
		Target:          "100%",
	}
}
