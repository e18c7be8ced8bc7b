package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/accreditationplan/internal/config"
	"github.com/Lllllllleong/accreditationplan/internal/gcp"
	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/store"
)

// ErrObjectTooLarge marks an upload over the configured size limit. Retrying
// the event cannot help.
var ErrObjectTooLarge = errors.New("object exceeds the upload size limit")

// GCSEvent is the payload of a storage object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
	Size   string `json:"size"`
}

// ImporterConfig holds the configuration of the upload importer.
type ImporterConfig struct {
	ProjectID      string
	Namespace      string
	UploadPrefix   string
	MaxUploadBytes int64
	// WorkflowID, when set, names a workflow started after every import.
	WorkflowID       string
	WorkflowLocation string
}

// ImporterFunction turns spreadsheets dropped into the upload bucket into
// stored plans, merged with what was stored for the same file.
type ImporterFunction struct {
	storageClient    *storage.Client
	executionsClient *executions.Client
	backends         *Backends
	builder          *hierarchy.Builder
	config           ImporterConfig
	startWorkflow    func(ctx context.Context, argument string) error
}

func loadImporterConfig() ImporterConfig {
	return ImporterConfig{
		ProjectID:        gcp.GetEnv("PROJECT_ID", gcp.GetEnv("GOOGLE_CLOUD_PROJECT", "")),
		Namespace:        gcp.GetEnv("APP_NAMESPACE", "default-app-id"),
		UploadPrefix:     gcp.GetEnv("UPLOAD_PREFIX", "uploads/"),
		MaxUploadBytes:   20 << 20,
		WorkflowID:       gcp.GetEnv("IMPORT_WORKFLOW_ID", ""),
		WorkflowLocation: gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}
}

// NewImporter creates an ImporterFunction from the environment.
func NewImporter(ctx context.Context) (*ImporterFunction, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	backends, err := OpenBackends(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backends: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		_ = backends.Close()
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	icfg := loadImporterConfig()
	icfg.MaxUploadBytes = cfg.MaxUploadBytes
	f := &ImporterFunction{
		storageClient: storageClient,
		backends:      backends,
		builder:       hierarchy.NewBuilder(backends.Aliases, slog.Default()),
		config:        icfg,
	}
	if icfg.WorkflowID != "" {
		executionsClient, err := executions.NewClient(ctx)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
		}
		f.executionsClient = executionsClient
		f.startWorkflow = f.createExecution
	}
	slog.Info("Importer initialized.", "prefix", icfg.UploadPrefix, "namespace", icfg.Namespace, "workflowId", icfg.WorkflowID)
	return f, nil
}

// Process imports one uploaded object. Objects outside the upload prefix
// or with an unsupported extension are ignored.
func (f *ImporterFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("bucket", e.Bucket, "object", e.Name)
	key, ok := uploadKey(f.config.Namespace, f.config.UploadPrefix, e.Name)
	if !ok {
		logCtx.Info("Ignoring object outside the upload layout.")
		return nil
	}
	if !sheet.IsSupported(key.FileName) {
		logCtx.Info("Ignoring object with unsupported extension.")
		return nil
	}

	data, err := f.readObject(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to read uploaded object.", "error", err)
		return err
	}
	res, err := ImportPlan(ctx, f.backends.Store, f.builder, key, data, time.Now())
	if err != nil {
		if permanent(err) {
			// Retrying cannot fix the file.
			logCtx.Warn("Uploaded file cannot be processed.", "error", err)
			return nil
		}
		logCtx.Error("Failed to import plan.", "error", err)
		return err
	}
	logCtx.Info("Plan imported.", "user", key.UserID, "file", key.FileName, "items", res.Items, "merged", res.Merged, "skipped", res.Skipped)

	if f.startWorkflow != nil {
		argument, err := workflowArgument(key, res)
		if err != nil {
			return fmt.Errorf("failed to marshal workflow payload: %w", err)
		}
		if err := f.startWorkflow(ctx, argument); err != nil {
			// The plan is stored; a retry would only import it again.
			logCtx.Error("Failed to trigger workflow execution.", "error", err)
		}
	}
	return nil
}

func workflowArgument(key models.DocKey, res ImportResult) (string, error) {
	payload := map[string]interface{}{
		"namespace": key.Namespace,
		"userId":    key.UserID,
		"fileName":  key.FileName,
		"items":     res.Items,
		"skipped":   res.Skipped,
	}
	b, err := json.Marshal(payload)
	return string(b), err
}

func (f *ImporterFunction) createExecution(ctx context.Context, argument string) error {
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", f.config.ProjectID, f.config.WorkflowLocation, f.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: argument,
		},
	}
	_, err := f.executionsClient.CreateExecution(ctx, req)
	return err
}

func (f *ImporterFunction) readObject(ctx context.Context, bucket, name string) ([]byte, error) {
	rc, err := f.storageClient.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, name, err)
	}
	defer rc.Close()
	data, err := readCapped(rc, f.config.MaxUploadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, name, err)
	}
	return data, nil
}

// readCapped reads r fully, failing with ErrObjectTooLarge past limit bytes.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrObjectTooLarge, limit)
	}
	return data, nil
}

func (f *ImporterFunction) Close() error {
	errs := []error{f.storageClient.Close(), f.backends.Close()}
	if f.executionsClient != nil {
		errs = append(errs, f.executionsClient.Close())
	}
	return errors.Join(errs...)
}

func permanent(err error) bool {
	for _, target := range []error{ErrObjectTooLarge, hierarchy.ErrNoCodeColumn, hierarchy.ErrNoUsableRows, sheet.ErrNoRows, sheet.ErrUnreadable, sheet.ErrUnsupportedFormat} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// uploadKey parses <prefix><user>/<file>.
func uploadKey(namespace, prefix, object string) (models.DocKey, bool) {
	rest, ok := strings.CutPrefix(object, prefix)
	if !ok {
		return models.DocKey{}, false
	}
	user, file, ok := strings.Cut(rest, "/")
	if !ok || user == "" || file == "" || strings.HasSuffix(file, "/") {
		return models.DocKey{}, false
	}
	return models.DocKey{Namespace: namespace, UserID: user, FileName: path.Base(file)}, true
}

// ImportResult reports what ImportPlan stored.
type ImportResult struct {
	Items   int
	Merged  int
	Skipped int
}

// ImportPlan builds the tree for data, merges it with the stored plan of
// the same key and writes the result at once.
func ImportPlan(ctx context.Context, st store.DocumentStore, builder *hierarchy.Builder, key models.DocKey, data []byte, now time.Time) (ImportResult, error) {
	tree, report, err := builder.BuildSheet(data, key.FileName)
	if err != nil {
		return ImportResult{}, err
	}
	var summary string
	var storedTree *models.Tree
	stored, err := st.Get(ctx, key)
	switch {
	case err == nil:
		storedTree, summary = stored.GroupedData, stored.AISummary
	case !errors.Is(err, store.ErrNotFound):
		return ImportResult{}, fmt.Errorf("failed to load stored plan: %w", err)
	}
	merged, stats := hierarchy.Merge(tree, storedTree)
	doc := &models.PlanDocument{GroupedData: merged, AISummary: summary, Timestamp: now}
	if err := st.Upsert(ctx, key, doc); err != nil {
		return ImportResult{}, fmt.Errorf("failed to store plan: %w", err)
	}
	return ImportResult{Items: merged.ItemCount(), Merged: stats.Items, Skipped: len(report.Skipped)}, nil
}
