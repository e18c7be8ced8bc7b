package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/accreditationplan/internal/archive"
	"github.com/Lllllllleong/accreditationplan/internal/config"
	"github.com/Lllllllleong/accreditationplan/internal/gcp"
	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/session"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
)

// Backends are the shared clients every session is built from.
type Backends struct {
	Store     store.DocumentStore
	Tokens    session.TokenStore
	Generator *textgen.Generator
	Archive   archive.Archiver
	Aliases   hierarchy.Aliases

	closers []func() error
}

// Close releases every client in reverse order of creation.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// OpenBackends creates the clients selected by cfg. On error, whatever was
// already opened is closed.
func OpenBackends(ctx context.Context, cfg config.Config) (b *Backends, err error) {
	b = &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
			b = nil
		}
	}()

	if cfg.AliasFile != "" {
		if b.Aliases, err = hierarchy.LoadAliases(cfg.AliasFile); err != nil {
			return nil, fmt.Errorf("failed to load column aliases: %w", err)
		}
	}
	if err = b.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err = b.openTokens(cfg); err != nil {
		return nil, err
	}
	if err = b.openGenerator(ctx, cfg); err != nil {
		return nil, err
	}
	if err = b.openArchive(ctx, cfg); err != nil {
		return nil, err
	}
	slog.Info("Backends initialized.",
		"store", cfg.StoreBackend,
		"ai", cfg.AIBackend,
		"archive", cfg.ArchiveBackend,
		"sharedTokens", cfg.RedisURL != "",
	)
	return b, nil
}

func (b *Backends) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.StoreBackend {
	case config.StoreFirestore:
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, client.Close)
		b.Store = store.NewFirestoreStore(client)
	case config.StorePostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, db.Close)
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate postgres store: %w", err)
		}
		b.Store = pg
	case config.StoreMemory:
		b.Store = store.NewMemoryStore()
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

func (b *Backends) openTokens(cfg config.Config) error {
	if cfg.RedisURL == "" {
		b.Tokens = session.NewMemoryTokens()
		return nil
	}
	tokens, err := session.NewRedisTokens(cfg.RedisURL)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, tokens.Close)
	b.Tokens = tokens
	return nil
}

func (b *Backends) openGenerator(ctx context.Context, cfg config.Config) error {
	var backend textgen.Backend
	switch cfg.AIBackend {
	case config.AIGemini:
		backend = textgen.NewGeminiBackend(textgen.GeminiConfig{
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.GeminiTimeout,
		})
	case config.AIVertex:
		vc, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexRegion, cfg.VertexModel, textgen.SystemPrompt)
		if err != nil {
			return fmt.Errorf("failed to create vertex client: %w", err)
		}
		b.closers = append(b.closers, vc.Close)
		backend = textgen.NewVertexBackend(vc.DraftModel)
	default:
		return fmt.Errorf("unknown AI backend %q", cfg.AIBackend)
	}
	b.Generator = textgen.New(backend, slog.Default())
	return nil
}

func (b *Backends) openArchive(ctx context.Context, cfg config.Config) error {
	switch cfg.ArchiveBackend {
	case "":
		b.Archive = archive.Discard{}
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.Archive = archive.NewGCSArchiver(client, cfg.ArchiveBucket)
	case config.ArchiveS3:
		a, err := archive.NewS3Archiver(archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.ArchiveBucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Secure:    cfg.S3Secure,
		})
		if err != nil {
			return err
		}
		b.Archive = a
	default:
		return fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
	return nil
}

// SessionFactory builds sessions for the API registry.
func (b *Backends) SessionFactory(cfg config.Config) func(userID string) *session.Session {
	return func(userID string) *session.Session {
		return session.New(session.Config{
			Namespace:    cfg.Namespace,
			UserID:       userID,
			Debounce:     cfg.Debounce,
			WriteTimeout: cfg.WriteTimeout,
			Aliases:      b.Aliases,
			Batch: textgen.BatchOptions{
				Concurrency:         cfg.BatchConcurrency,
				RequestsPerMinute:   cfg.BatchRPM,
				MaxRateLimitRetries: cfg.BatchMaxRetries,
				InitialBackoff:      cfg.BatchInitialBackoff,
				MaxBackoff:          cfg.BatchMaxBackoff,
			},
		}, session.Deps{
			Store:     b.Store,
			Generator: b.Generator,
			Tokens:    b.Tokens,
			Archive:   b.Archive,
			Logger:    slog.Default(),
		})
	}
}
