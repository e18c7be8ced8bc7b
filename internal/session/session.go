// Package session holds one user's working plan: the grouped tree of the
// file they are editing, its summary, and the generation token that guards
// it against completions from an earlier upload.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/archive"
	"github.com/Lllllllleong/accreditationplan/internal/export"
	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
	"github.com/google/uuid"
)

var (
	// ErrStale means a newer upload or open started while this operation
	// was running. Its result was discarded.
	ErrStale = errors.New("operation superseded by a newer file")
	// ErrNoPlan means no file has been loaded yet.
	ErrNoPlan = errors.New("no plan loaded")
	// ErrCannotProcess wraps every input-format failure of an upload.
	ErrCannotProcess = errors.New("file cannot be processed")
	// ErrNoFileName means an upload or open did not name a file.
	ErrNoFileName = errors.New("file name is required")
)

// Config holds per-session settings.
type Config struct {
	Namespace    string
	UserID       string
	Debounce     time.Duration
	WriteTimeout time.Duration
	Aliases      hierarchy.Aliases
	Batch        textgen.BatchOptions
}

// Deps are the collaborators a Session uses. Store, Archive and Generator
// may be nil; the matching features are then unavailable.
type Deps struct {
	Store     store.DocumentStore
	Generator *textgen.Generator
	Tokens    TokenStore
	Archive   archive.Archiver
	Logger    *slog.Logger
	Now       func() time.Time
}

// Session is safe for concurrent use.
type Session struct {
	id   string
	cfg  Config
	deps Deps
	log  *slog.Logger

	builder   *hierarchy.Builder
	persister *store.Persister
	notifier  *Notifier

	mu       sync.Mutex
	fileName string
	apiKey   string
	tree     *models.Tree
	summary  string
	gen      uint64
}

func New(cfg Config, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tokens == nil {
		deps.Tokens = NewMemoryTokens()
	}
	if deps.Archive == nil {
		deps.Archive = archive.Discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	id := uuid.NewString()
	log := deps.Logger.With("session", id, "user", cfg.UserID)
	s := &Session{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		log:      log,
		builder:  hierarchy.NewBuilder(cfg.Aliases, log),
		notifier: NewNotifier(log),
	}
	s.persister = store.NewPersister(store.PersisterConfig{
		Store:        deps.Store,
		Debounce:     cfg.Debounce,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       log,
		Now:          deps.Now,
		OnError: func(models.DocKey, error) {
			s.notifier.Warn(MsgPersistFailed)
		},
	})
	return s
}

func (s *Session) ID() string { return s.id }

// scope keys generation tokens; one user edits one file at a time.
func (s *Session) scope() string {
	return s.cfg.Namespace + "/" + s.cfg.UserID
}

func (s *Session) key(fileName string) models.DocKey {
	return models.DocKey{Namespace: s.cfg.Namespace, UserID: s.cfg.UserID, FileName: fileName}
}

// SetAPIKey replaces the credential used for text generation.
func (s *Session) SetAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKey = strings.TrimSpace(key)
}

// begin flushes the previous file's pending write and starts a new
// generation.
func (s *Session) begin(ctx context.Context) (uint64, error) {
	if err := s.persister.Flush(ctx); err != nil {
		s.log.Warn("Failed to flush previous file before switching.", "error", err)
	}
	gen, err := s.deps.Tokens.Next(ctx, s.scope())
	if err != nil {
		return 0, fmt.Errorf("failed to start new generation: %w", err)
	}
	s.mu.Lock()
	s.gen = gen
	s.mu.Unlock()
	s.persister.Advance(gen)
	return gen, nil
}

// current reports whether gen is still the newest generation, locally and
// in the shared token store.
func (s *Session) current(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	local := s.gen
	s.mu.Unlock()
	if local != gen {
		return false
	}
	shared, err := s.deps.Tokens.Current(ctx, s.scope())
	if err != nil {
		s.log.Warn("Failed to read shared generation; trusting local state.", "error", err)
		return true
	}
	return shared == gen
}

// installLocked replaces the working plan if gen is still current.
func (s *Session) installLocked(gen uint64, fileName string, tree *models.Tree, summary string) bool {
	if s.gen != gen {
		return false
	}
	s.fileName, s.tree, s.summary = fileName, tree, summary
	s.touchLocked()
	return true
}

func (s *Session) touchLocked() {
	s.persister.Touch(store.Snapshot{
		Key:        s.key(s.fileName),
		Tree:       s.tree,
		Summary:    s.summary,
		Generation: s.gen,
	})
}

// Upload parses data, groups it, merges it with what is stored for the same
// file name and makes it the working plan.
func (s *Session) Upload(ctx context.Context, fileName string, data []byte) (*models.UploadResponse, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, ErrNoFileName
	}
	logCtx := s.log.With("file", fileName, "bytes", len(data))

	gen, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	logCtx = logCtx.With("generation", gen)
	logCtx.Info("Processing upload.")

	s.archive(ctx, archive.KindUpload, fileName, data, "application/octet-stream")

	tree, report, err := s.builder.BuildSheet(data, fileName)
	if err != nil {
		logCtx.Warn("Upload cannot be processed.", "error", err)
		s.notifier.Error(err)
		s.mu.Lock()
		if s.gen == gen {
			s.fileName, s.tree, s.summary = "", nil, ""
		}
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrCannotProcess, err)
	}

	var stored *models.PlanDocument
	if s.deps.Store != nil {
		stored, err = s.deps.Store.Get(ctx, s.key(fileName))
		switch {
		case errors.Is(err, store.ErrNotFound):
			stored = nil
		case err != nil:
			logCtx.Warn("Failed to load stored plan, continuing without merge.", "error", err)
			s.notifier.Warn(MsgLoadStoredFailed)
			stored = nil
		}
	}

	var (
		storedTree *models.Tree
		summary    string
	)
	if stored != nil {
		storedTree, summary = stored.GroupedData, stored.AISummary
	}
	merged, stats := hierarchy.Merge(tree, storedTree)

	if !s.current(ctx, gen) {
		logCtx.Info("Discarding upload result from an older generation.")
		return nil, ErrStale
	}
	s.mu.Lock()
	ok := s.installLocked(gen, fileName, merged, summary)
	resp := s.responseLocked()
	s.mu.Unlock()
	if !ok {
		return nil, ErrStale
	}

	logCtx.Info("Upload processed.",
		"rows", report.Rows,
		"items", report.Accepted,
		"skipped", len(report.Skipped),
		"mergedItems", stats.Items,
		"mergedFields", stats.Fields,
	)
	if n := len(report.Skipped); n > 0 {
		s.notifier.Info(fmt.Sprintf("%d baris dilewati karena kode tidak valid.", n))
	}
	resp.Notices = s.notifier.Drain()
	return &models.UploadResponse{
		PlanResponse: resp,
		Rows:         report.Rows,
		Skipped:      len(report.Skipped),
		Merged:       stats.Items,
	}, nil
}

// Open makes a stored plan the working plan.
func (s *Session) Open(ctx context.Context, fileName string) (*models.PlanResponse, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, ErrNoFileName
	}
	if s.deps.Store == nil {
		return nil, store.ErrNotFound
	}
	gen, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := s.deps.Store.Get(ctx, s.key(fileName))
	if err != nil {
		s.notifier.Error(err)
		return nil, fmt.Errorf("failed to open %s: %w", fileName, err)
	}
	tree := doc.GroupedData
	if tree == nil {
		tree = models.NewTree()
	}
	if !s.current(ctx, gen) {
		return nil, ErrStale
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrStale
	}
	// Nothing changed yet, so nothing to write back.
	s.fileName, s.tree, s.summary = fileName, tree, doc.AISummary
	resp := s.responseLocked()
	resp.Notices = s.notifier.Drain()
	s.log.Info("Opened stored plan.", "file", fileName, "items", resp.ItemCount, "generation", gen)
	return &resp, nil
}

// UpdateItem applies a manual edit. Persistence is re-armed only when a
// value actually changed.
func (s *Session) UpdateItem(_ context.Context, itemID string, patch models.ItemPatch) (*models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree.Empty() {
		return nil, ErrNoPlan
	}
	changed, err := s.tree.UpdateItem(itemID, patch)
	if err != nil {
		return nil, err
	}
	if changed {
		s.touchLocked()
	}
	it, _ := s.tree.Item(itemID)
	return it.Clone(), nil
}

// GenerateItem drafts text of kind for one item and stores it in the item.
func (s *Session) GenerateItem(ctx context.Context, itemID string, kind textgen.Kind) (*models.GenerateResponse, error) {
	target, ok := kind.Target()
	if !ok {
		return nil, fmt.Errorf("kind %q does not apply to items", kind)
	}
	if s.deps.Generator == nil {
		return nil, textgen.ErrCredentialMissing
	}
	s.mu.Lock()
	if s.tree.Empty() {
		s.mu.Unlock()
		return nil, ErrNoPlan
	}
	live, found := s.tree.Item(itemID)
	var it *models.Item
	if found {
		it = live.Clone()
	}
	gen, apiKey := s.gen, s.apiKey
	s.mu.Unlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", models.ErrItemNotFound, itemID)
	}

	res, err := s.deps.Generator.Item(ctx, apiKey, kind, it)
	if err != nil {
		s.notifier.Error(err)
		return nil, err
	}
	resp := &models.GenerateResponse{ItemID: itemID}
	switch res.Outcome {
	case textgen.OutcomeRateLimited:
		resp.RateLimited, resp.Message = true, res.Text
		s.notifier.Warn(res.Text)
		return resp, nil
	case textgen.OutcomeInsufficientData:
		resp.Message = res.Text
		s.notifier.Info(res.Text)
		return resp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrStale
	}
	if _, err := s.tree.UpdateItem(itemID, models.PatchField(target, res.Text)); err != nil {
		return nil, err
	}
	s.touchLocked()
	resp.Text = res.Text
	return resp, nil
}

// GenerateAll drafts kind for every item that still lacks it. progress may
// be nil.
func (s *Session) GenerateAll(ctx context.Context, kind textgen.Kind, overwrite bool, progress func(textgen.Progress)) (*models.BatchResponse, error) {
	target, ok := kind.Target()
	if !ok {
		return nil, fmt.Errorf("kind %q does not apply to items", kind)
	}
	if s.deps.Generator == nil {
		return nil, textgen.ErrCredentialMissing
	}
	s.mu.Lock()
	if s.tree.Empty() {
		s.mu.Unlock()
		return nil, ErrNoPlan
	}
	var items []*models.Item
	s.tree.Walk(func(_ models.Path, it *models.Item) bool {
		items = append(items, it.Clone())
		return true
	})
	gen, apiKey := s.gen, s.apiKey
	s.mu.Unlock()

	opts := s.cfg.Batch
	opts.Overwrite = overwrite
	opts.Progress = progress
	apply := func(itemID, text string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return ErrStale
		}
		if _, err := s.tree.UpdateItem(itemID, models.PatchField(target, text)); err != nil {
			return err
		}
		s.touchLocked()
		return nil
	}

	res, err := s.deps.Generator.Batch(ctx, apiKey, kind, items, opts, apply)
	resp := &models.BatchResponse{
		Generated:       res.Generated,
		Skipped:         res.Skipped,
		Failed:          res.Failed,
		RateLimitPauses: res.RateLimitPauses,
		Errors:          res.Errors,
	}
	if err != nil {
		s.notifier.Error(err)
		return resp, err
	}
	if res.Failed > 0 {
		s.notifier.Warn(fmt.Sprintf("%d elemen gagal dibuatkan saran AI.", res.Failed))
	}
	return resp, nil
}

// GenerateSummary drafts the plan summary and stores it.
func (s *Session) GenerateSummary(ctx context.Context) (*models.GenerateResponse, error) {
	if s.deps.Generator == nil {
		return nil, textgen.ErrCredentialMissing
	}
	s.mu.Lock()
	if s.tree.Empty() {
		s.mu.Unlock()
		return nil, ErrNoPlan
	}
	tree, gen, apiKey := s.tree.Clone(), s.gen, s.apiKey
	s.mu.Unlock()

	res, err := s.deps.Generator.Summary(ctx, apiKey, tree)
	if err != nil {
		s.notifier.Error(err)
		return nil, err
	}
	resp := &models.GenerateResponse{}
	if res.Outcome != textgen.OutcomeText {
		resp.RateLimited = res.Outcome == textgen.OutcomeRateLimited
		resp.Message = res.Text
		return resp, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, ErrStale
	}
	s.summary = res.Text
	s.touchLocked()
	resp.Text = res.Text
	return resp, nil
}

// Snapshot returns a copy of the working plan.
func (s *Session) Snapshot() models.PlanResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseLocked()
}

func (s *Session) responseLocked() models.PlanResponse {
	resp := models.PlanResponse{
		FileName:  s.fileName,
		Tree:      s.tree.Clone(),
		AISummary: s.summary,
		ItemCount: s.tree.ItemCount(),
	}
	if s.tree != nil {
		resp.ChapterOrder = append([]string(nil), s.tree.Order...)
	}
	return resp
}

// Notices returns and clears the messages queued for the user.
func (s *Session) Notices() []models.Notice {
	return s.notifier.Drain()
}

// Export renders the working plan as a workbook and archives a copy.
func (s *Session) Export(ctx context.Context) ([]byte, string, error) {
	snap := s.Snapshot()
	if snap.Tree.Empty() {
		return nil, "", ErrNoPlan
	}
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, snap.Tree, snap.AISummary); err != nil {
		return nil, "", err
	}
	name := export.FileName(snap.FileName)
	s.archive(ctx, archive.KindExport, name, buf.Bytes(), export.ContentType)
	return buf.Bytes(), name, nil
}

// List returns the user's stored plans, newest first.
func (s *Session) List(ctx context.Context) ([]models.DocSummary, error) {
	if s.deps.Store == nil {
		return nil, nil
	}
	return s.deps.Store.List(ctx, s.cfg.Namespace, s.cfg.UserID)
}

// Flush writes any pending change now.
func (s *Session) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}

// Close stops the debounce timer and writes what is left.
func (s *Session) Close(ctx context.Context) error {
	return s.persister.Close(ctx)
}

func (s *Session) archive(ctx context.Context, kind, fileName string, data []byte, contentType string) {
	object := archive.ObjectName(kind, s.cfg.UserID, fileName, s.deps.Now())
	if _, err := s.deps.Archive.Save(ctx, object, data, contentType); err != nil {
		s.log.Warn("Failed to archive file.", "object", object, "error", err)
		s.notifier.Warn(MsgArchiveFailed)
	}
}
