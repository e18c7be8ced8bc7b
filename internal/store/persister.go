package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/schedule"
)

// DefaultDebounce is the quiet period before a change is written.
const DefaultDebounce = 1500 * time.Millisecond

// Snapshot is the state to persist for one file.
type Snapshot struct {
	Key        models.DocKey
	Tree       *models.Tree
	Summary    string
	Generation uint64
}

// PersisterConfig wires a Persister. Store may be nil, which turns every
// Touch into a no-op.
type PersisterConfig struct {
	Store        DocumentStore
	Debounce     time.Duration
	WriteTimeout time.Duration
	Logger       *slog.Logger
	// OnError receives failed background writes. It must not block.
	OnError func(key models.DocKey, err error)
	Now     func() time.Time
}

// Persister coalesces bursts of changes into one Upsert after a quiet
// period. Writes are serialized, and a snapshot from a generation older
// than the latest Advance is dropped.
type Persister struct {
	cfg  PersisterConfig
	task schedule.Task

	mu      sync.Mutex
	pending *Snapshot
	minGen  uint64

	writeMu sync.Mutex
}

func NewPersister(cfg PersisterConfig) *Persister {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Persister{cfg: cfg}
}

// Touch records snap as the latest state and restarts the quiet period. It
// reports false, and schedules nothing, when there is no store, the key is
// incomplete, or there is neither a tree nor a summary to save.
func (p *Persister) Touch(snap Snapshot) bool {
	if p.cfg.Store == nil || !snap.Key.Complete() {
		return false
	}
	if snap.Tree.Empty() && snap.Summary == "" {
		return false
	}
	snap.Tree = snap.Tree.Clone()

	p.mu.Lock()
	if snap.Generation < p.minGen {
		p.mu.Unlock()
		return false
	}
	p.pending = &snap
	p.mu.Unlock()

	return p.task.Arm(p.cfg.Debounce, p.fire)
}

// Advance marks gen as the current generation. A pending snapshot from an
// older generation is dropped.
func (p *Persister) Advance(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen > p.minGen {
		p.minGen = gen
	}
	if p.pending != nil && p.pending.Generation < p.minGen {
		p.cfg.Logger.Info("Dropping pending write from an older generation.", "file", p.pending.Key.FileName, "generation", p.pending.Generation)
		p.pending = nil
		p.task.Cancel()
	}
}

// Pending reports whether a write is waiting for its quiet period.
func (p *Persister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

// Flush writes the pending snapshot now. It returns nil when nothing was
// pending.
func (p *Persister) Flush(ctx context.Context) error {
	p.task.Cancel()
	return p.write(ctx)
}

// Close stops the timer and flushes what is left.
func (p *Persister) Close(ctx context.Context) error {
	p.task.Stop()
	return p.write(ctx)
}

func (p *Persister) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()
	_ = p.write(ctx)
}

func (p *Persister) write(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	stale := snap != nil && snap.Generation < p.minGen
	p.mu.Unlock()
	if snap == nil {
		return nil
	}
	logCtx := p.cfg.Logger.With("user", snap.Key.UserID, "file", snap.Key.FileName, "generation", snap.Generation)
	if stale {
		logCtx.Info("Discarding write from an older generation.")
		return nil
	}

	doc := &models.PlanDocument{GroupedData: snap.Tree, AISummary: snap.Summary, Timestamp: p.cfg.Now()}
	if err := p.cfg.Store.Upsert(ctx, snap.Key, doc); err != nil {
		logCtx.Error("Failed to persist plan.", "error", err)
		if p.cfg.OnError != nil {
			p.cfg.OnError(snap.Key, err)
		}
		return err
	}
	logCtx.Info("Plan persisted.", "items", snap.Tree.ItemCount())
	return nil
}
