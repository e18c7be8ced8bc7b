package textgen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// BatchOptions tunes a batch run. Zero values take the defaults below.
type BatchOptions struct {
	// Concurrency bounds in-flight calls. 1 serializes the batch.
	Concurrency int
	// RequestsPerMinute paces calls across all workers.
	RequestsPerMinute int
	// MaxRateLimitRetries is how often one item may be retried after the
	// endpoint throttled it.
	MaxRateLimitRetries int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	// Overwrite regenerates items whose target field already has a value.
	Overwrite bool
	Progress  func(Progress)
}

const (
	defaultRequestsPerMinute   = 30
	defaultMaxRateLimitRetries = 5
	defaultInitialBackoff      = 2 * time.Second
	defaultMaxBackoff          = time.Minute
)

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = defaultRequestsPerMinute
	}
	if o.MaxRateLimitRetries <= 0 {
		o.MaxRateLimitRetries = defaultMaxRateLimitRetries
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = defaultInitialBackoff
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = defaultMaxBackoff
		if o.MaxBackoff < o.InitialBackoff {
			o.MaxBackoff = o.InitialBackoff
		}
	}
	return o
}

// Progress is reported after every finished item and on every pause.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// BatchResult counts what a batch did.
type BatchResult struct {
	Generated       int
	Skipped         int
	Failed          int
	RateLimitPauses int
	Errors          []string
}

// ApplyFunc stores generated text for an item. An error aborts the batch.
type ApplyFunc func(itemID, text string) error

// Batch drafts kind for every item whose target field is still empty (or
// every item with Overwrite). items should be copies the caller does not
// mutate concurrently; results go through apply.
//
// A throttled item is paused and retried; credential errors and apply
// errors stop the whole batch; any other failure is recorded and the batch
// moves on.
func (g *Generator) Batch(ctx context.Context, apiKey string, kind Kind, items []*models.Item, opts BatchOptions, apply ApplyFunc) (BatchResult, error) {
	target, ok := kind.Target()
	if !ok {
		return BatchResult{}, fmt.Errorf("kind %q does not apply to items", kind)
	}
	opts = opts.withDefaults()
	logCtx := g.log.With("kind", string(kind), "items", len(items))

	var (
		mu   sync.Mutex
		res  BatchResult
		done int
	)
	todo := make([]*models.Item, 0, len(items))
	for _, it := range items {
		if !opts.Overwrite && it.HasValue(target) {
			res.Skipped++
			continue
		}
		todo = append(todo, it)
	}
	total := len(todo)
	report := func(msg string) {
		if opts.Progress != nil {
			opts.Progress(Progress{Current: done, Total: total, Message: msg})
		}
	}
	logCtx.Info("Starting batch generation.", "pending", total, "alreadyFilled", res.Skipped)

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	for _, it := range todo {
		it := it
		eg.Go(func() error {
			text, outcome, err := g.itemWithBackoff(gctx, limiter, apiKey, kind, it, opts, func(wait time.Duration) {
				mu.Lock()
				res.RateLimitPauses++
				report(fmt.Sprintf("Batas permintaan tercapai, menunggu %s sebelum melanjutkan %s.", wait.Round(time.Second), it.Code))
				mu.Unlock()
			})

			mu.Lock()
			defer mu.Unlock()
			done++
			switch {
			case err != nil && (IsCredentialError(err) || gctx.Err() != nil):
				return err
			case err != nil:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.Code, err))
				report(fmt.Sprintf("Gagal membuat saran untuk %s.", it.Code))
				return nil
			case outcome == OutcomeInsufficientData:
				res.Skipped++
				report(fmt.Sprintf("Data %s tidak cukup, dilewati.", it.Code))
				return nil
			case outcome == OutcomeRateLimited:
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", it.Code, ErrRateLimited))
				report(fmt.Sprintf("%s dilewati karena batas permintaan.", it.Code))
				return nil
			}
			if err := apply(it.ID, text); err != nil {
				return fmt.Errorf("store text for %s: %w", it.ID, err)
			}
			res.Generated++
			report(fmt.Sprintf("Saran untuk %s selesai.", it.Code))
			return nil
		})
	}

	err := eg.Wait()
	logCtx.Info("Batch generation finished.",
		"generated", res.Generated,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"rateLimitPauses", res.RateLimitPauses,
		"error", err,
	)
	return res, err
}

// itemWithBackoff calls Item until it gets something other than a rate
// limit, doubling the pause each time.
func (g *Generator) itemWithBackoff(ctx context.Context, limiter *rate.Limiter, apiKey string, kind Kind, it *models.Item, opts BatchOptions, onPause func(time.Duration)) (string, Outcome, error) {
	backoff := opts.InitialBackoff
	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return "", 0, err
		}
		res, err := g.Item(ctx, apiKey, kind, it)
		if err != nil || res.Outcome != OutcomeRateLimited {
			return res.Text, res.Outcome, err
		}
		if attempt >= opts.MaxRateLimitRetries {
			return "", OutcomeRateLimited, nil
		}

		onPause(backoff)
		g.log.Warn("Rate limited, pausing before retry.",
			"item", it.ID,
			"attempt", attempt+1,
			"maxRetries", opts.MaxRateLimitRetries,
			"backoff", backoff.String(),
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > opts.MaxBackoff {
				backoff = opts.MaxBackoff
			}
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
}
