package textgen

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOpts() BatchOptions {
	return BatchOptions{
		RequestsPerMinute: 600000,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
	}
}

func batchItems() []*models.Item {
	return []*models.Item{
		{ID: "a", Code: "1.1.1.1", Target: "t", EvidenceDescription: models.EvidencePlaceholder},
		{ID: "b", Code: "1.1.1.2", Target: "t", EvidenceDescription: "sudah ada"},
		{ID: "c", Code: "1.1.1.3", EvidenceDescription: models.EvidencePlaceholder},
		{ID: "d", Code: "1.1.1.4", Indicator: "i"},
	}
}

type collector struct {
	mu  sync.Mutex
	got map[string]string
}

func (c *collector) apply(id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.got == nil {
		c.got = map[string]string{}
	}
	c.got[id] = text
	return nil
}

func TestBatch_GeneratesOnlyMissing(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{text: "Judul"}}}
	g := New(fb, quietLogger())
	var c collector
	var progress []Progress

	opts := fastOpts()
	opts.Progress = func(p Progress) { progress = append(progress, p) }
	res, err := g.Batch(context.Background(), "k", KindEvidenceTitle, batchItems(), opts, c.apply)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"a": "Judul", "d": "Judul"}, c.got)
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 2, res.Skipped, "b already filled, c has no source data")
	assert.Equal(t, 2, fb.callCount())
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, 3, last.Total)
	assert.Equal(t, 3, last.Current)
}

func TestBatch_PausesOnRateLimitAndRetries(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{err: ErrRateLimited}, {err: ErrRateLimited}, {text: "Judul"}}}
	g := New(fb, quietLogger())
	var c collector

	res, err := g.Batch(context.Background(), "k", KindEvidenceTitle, batchItems()[:1], fastOpts(), c.apply)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, 2, res.RateLimitPauses)
	assert.Equal(t, 3, fb.callCount())
	assert.Equal(t, "Judul", c.got["a"])
}

func TestBatch_GivesUpAfterMaxRetries(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{err: ErrRateLimited}}}
	g := New(fb, quietLogger())
	opts := fastOpts()
	opts.MaxRateLimitRetries = 2

	res, err := g.Batch(context.Background(), "k", KindEvidenceTitle, batchItems()[:1], opts, (&collector{}).apply)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.RateLimitPauses)
	assert.Equal(t, 3, fb.callCount())
}

func TestBatch_CredentialErrorAborts(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{err: ErrCredentialInvalid}}}
	g := New(fb, quietLogger())
	items := []*models.Item{
		{ID: "a", Code: "1", Target: "t"},
		{ID: "b", Code: "2", Target: "t"},
		{ID: "c", Code: "3", Target: "t"},
	}

	_, err := g.Batch(context.Background(), "k", KindEvidenceTitle, items, fastOpts(), (&collector{}).apply)

	assert.ErrorIs(t, err, ErrCredentialInvalid)
	assert.Equal(t, 1, fb.callCount(), "serialized batch stops at the first credential error")
}

func TestBatch_OtherErrorsAreRecorded(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{err: &RemoteError{StatusCode: 500}}, {text: "Judul"}}}
	g := New(fb, quietLogger())
	items := []*models.Item{{ID: "a", Code: "1", Target: "t"}, {ID: "b", Code: "2", Target: "t"}}

	res, err := g.Batch(context.Background(), "k", KindEvidenceTitle, items, fastOpts(), (&collector{}).apply)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Generated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "HTTP 500")
}

func TestBatch_ApplyErrorAborts(t *testing.T) {
	g := New(&fakeBackend{}, quietLogger())
	stale := errors.New("stale")
	items := []*models.Item{{ID: "a", Code: "1", Target: "t"}, {ID: "b", Code: "2", Target: "t"}}

	_, err := g.Batch(context.Background(), "k", KindEvidenceTitle, items, fastOpts(), func(string, string) error { return stale })

	assert.ErrorIs(t, err, stale)
}

func TestBatch_Concurrent(t *testing.T) {
	g := New(&fakeBackend{}, quietLogger())
	var items []*models.Item
	for i := 0; i < 20; i++ {
		items = append(items, &models.Item{ID: string(rune('a' + i)), Target: "t"})
	}
	var c collector
	opts := fastOpts()
	opts.Concurrency = 4

	res, err := g.Batch(context.Background(), "k", KindRemediation, items, opts, c.apply)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Generated)
	assert.Len(t, c.got, 20)
}

func TestBatch_CancelledContext(t *testing.T) {
	g := New(&fakeBackend{}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Batch(ctx, "k", KindEvidenceTitle, []*models.Item{{ID: "a", Target: "t"}}, fastOpts(), (&collector{}).apply)

	assert.ErrorIs(t, err, context.Canceled)
}
