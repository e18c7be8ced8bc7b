package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const auditCSV = "Kode,Temuan,Rencana Perbaikan,Indikator\n" +
	"1.1.1.1,Belum ada SK,,\n" +
	"1.1.1.2,,Susun SOP,SOP terbit\n"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedBackend returns text for every call unless err is set. When gate
// is non-nil each call waits for it.
type scriptedBackend struct {
	mu    sync.Mutex
	text  string
	err   error
	gate  chan struct{}
	calls int
}

func (b *scriptedBackend) NeedsAPIKey() bool { return true }

func (b *scriptedBackend) Complete(ctx context.Context, _ textgen.Request) (string, error) {
	b.mu.Lock()
	b.calls++
	gate := b.gate
	b.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.text, b.err
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordingArchive struct {
	mu      sync.Mutex
	objects []string
}

func (a *recordingArchive) Save(_ context.Context, object string, _ []byte, _ string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects = append(a.objects, object)
	return true, nil
}

type fixture struct {
	s       *Session
	mem     *store.MemoryStore
	backend *scriptedBackend
	tokens  *MemoryTokens
	archive *recordingArchive
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:     store.NewMemoryStore(),
		backend: &scriptedBackend{text: "SK Direktur tentang Tim PPI"},
		tokens:  NewMemoryTokens(),
		archive: &recordingArchive{},
	}
	f.s = f.newSession(f.mem)
	return f
}

func (f *fixture) newSession(st store.DocumentStore) *Session {
	s := New(Config{
		Namespace: "default-app-id",
		UserID:    "u1",
		Debounce:  20 * time.Millisecond,
		Batch: textgen.BatchOptions{
			RequestsPerMinute: 600000,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        5 * time.Millisecond,
		},
	}, Deps{
		Store:     st,
		Generator: textgen.New(f.backend, quietLogger()),
		Tokens:    f.tokens,
		Archive:   f.archive,
		Logger:    quietLogger(),
	})
	return s
}

func (f *fixture) close(t *testing.T) {
	t.Helper()
	require.NoError(t, f.s.Close(context.Background()))
}

var fileKey = models.DocKey{Namespace: "default-app-id", UserID: "u1", FileName: "audit.csv"}

func TestUpload_GroupsAndPersists(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	resp, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Rows)
	assert.Equal(t, 2, resp.ItemCount)
	assert.Zero(t, resp.Skipped)

	cr, ok := resp.Tree.Lookup("1", "1", "1")
	require.True(t, ok)
	require.Len(t, cr.Items, 2)
	assert.Equal(t, "1.1.1.1-0", cr.Items[0].ID)
	assert.Equal(t, "1.1.1.2-0", cr.Items[1].ID)

	require.Eventually(t, func() bool { return f.mem.Writes() == 1 }, time.Second, 5*time.Millisecond)
	doc, err := f.mem.Get(ctx, fileKey)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.GroupedData.ItemCount())

	require.Len(t, f.archive.objects, 1)
	assert.Contains(t, f.archive.objects[0], "archive/uploads/u1/")
}

func TestUpload_ReuploadKeepsStoredEdits(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	remediation := "Revisi SOP"
	_, err = f.s.UpdateItem(ctx, "1.1.1.1-0", models.ItemPatch{RemediationPlan: &remediation})
	require.NoError(t, err)

	resp, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Merged)

	it, ok := resp.Tree.Item("1.1.1.1-0")
	require.True(t, ok)
	assert.Equal(t, "Revisi SOP", it.RemediationPlan)
	it, _ = resp.Tree.Item("1.1.1.2-0")
	assert.Equal(t, "Susun SOP", it.RemediationPlan)
}

func TestUpload_NoCodeColumnCannotBeProcessed(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)

	_, err := f.s.Upload(context.Background(), "audit.csv", []byte("Nama,Nilai\nA,1\n"))
	require.ErrorIs(t, err, ErrCannotProcess)

	notices := f.s.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, MsgCannotProcess, notices[0].Message)
	assert.Equal(t, models.LevelError, notices[0].Level)
	assert.True(t, f.s.Snapshot().Tree.Empty(), "no partial tree is kept")
	assert.Zero(t, f.mem.Writes())
}

func TestUpload_Errors(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.s.Upload(ctx, "", []byte(auditCSV))
	assert.ErrorIs(t, err, ErrNoFileName)

	_, err = f.s.Upload(ctx, "audit.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrCannotProcess)
	notices := f.s.Notices()
	require.NotEmpty(t, notices)
	assert.Equal(t, MsgUnsupportedFormat, notices[len(notices)-1].Message)

	_, err = f.s.Upload(ctx, "audit.csv", []byte("Kode,Temuan\n1.1,a\n"))
	assert.ErrorIs(t, err, ErrCannotProcess)
}

// bumpingStore simulates another instance starting an upload while this
// one is loading stored data.
type bumpingStore struct {
	*store.MemoryStore
	onGet func()
}

func (b *bumpingStore) Get(ctx context.Context, key models.DocKey) (*models.PlanDocument, error) {
	if b.onGet != nil {
		b.onGet()
	}
	return b.MemoryStore.Get(ctx, key)
}

func TestUpload_NewerGenerationElsewhereDiscardsResult(t *testing.T) {
	f := newFixture(t)
	bs := &bumpingStore{MemoryStore: f.mem}
	bs.onGet = func() { _, _ = f.tokens.Next(context.Background(), "default-app-id/u1") }
	f.s = f.newSession(bs)
	defer f.close(t)

	_, err := f.s.Upload(context.Background(), "audit.csv", []byte(auditCSV))
	require.ErrorIs(t, err, ErrStale)
	assert.True(t, f.s.Snapshot().Tree.Empty())
}

func TestGenerateItem_ResultFromOlderUploadIsDiscarded(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()
	f.s.SetAPIKey("key")

	_, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)

	gate := make(chan struct{})
	f.backend.mu.Lock()
	f.backend.gate = gate
	f.backend.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		_, err := f.s.GenerateItem(ctx, "1.1.1.2-0", textgen.KindEvidenceTitle)
		errc <- err
	}()
	require.Eventually(t, func() bool { return f.backend.callCount() == 1 }, time.Second, time.Millisecond)

	_, err = f.s.Upload(ctx, "other.csv", []byte(auditCSV))
	require.NoError(t, err)
	close(gate)

	require.ErrorIs(t, <-errc, ErrStale)
	snap := f.s.Snapshot()
	assert.Equal(t, "other.csv", snap.FileName)
	it, _ := snap.Tree.Item("1.1.1.2-0")
	assert.Equal(t, models.EvidencePlaceholder, it.EvidenceDescription)
}

func TestGenerateItem(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	require.NoError(t, f.s.Flush(ctx))

	t.Run("missing key flags the credential field", func(t *testing.T) {
		_, err := f.s.GenerateItem(ctx, "1.1.1.2-0", textgen.KindEvidenceTitle)
		require.ErrorIs(t, err, textgen.ErrCredentialMissing)
		notices := f.s.Notices()
		require.Len(t, notices, 1)
		assert.Equal(t, FieldAPIKey, notices[0].Field)
		assert.Zero(t, f.backend.callCount())
	})

	f.s.SetAPIKey("key")

	t.Run("insufficient data", func(t *testing.T) {
		resp, err := f.s.GenerateItem(ctx, "1.1.1.1-0", textgen.KindEvidenceTitle)
		require.NoError(t, err)
		assert.Empty(t, resp.Text)
		assert.Equal(t, textgen.MsgInsufficientData, resp.Message)
	})

	t.Run("text lands in the item", func(t *testing.T) {
		resp, err := f.s.GenerateItem(ctx, "1.1.1.2-0", textgen.KindEvidenceTitle)
		require.NoError(t, err)
		assert.Equal(t, "SK Direktur tentang Tim PPI", resp.Text)

		it, _ := f.s.Snapshot().Tree.Item("1.1.1.2-0")
		assert.Equal(t, "SK Direktur tentang Tim PPI", it.EvidenceDescription)
		require.NoError(t, f.s.Flush(ctx))
		doc, err := f.mem.Get(ctx, fileKey)
		require.NoError(t, err)
		stored, _ := doc.GroupedData.Item("1.1.1.2-0")
		assert.Equal(t, "SK Direktur tentang Tim PPI", stored.EvidenceDescription)
	})

	t.Run("rate limit is not an error", func(t *testing.T) {
		f.backend.mu.Lock()
		f.backend.err = textgen.ErrRateLimited
		f.backend.mu.Unlock()
		defer func() {
			f.backend.mu.Lock()
			f.backend.err = nil
			f.backend.mu.Unlock()
		}()

		resp, err := f.s.GenerateItem(ctx, "1.1.1.2-0", textgen.KindRemediation)
		require.NoError(t, err)
		assert.True(t, resp.RateLimited)
	})

	t.Run("unknown item", func(t *testing.T) {
		_, err := f.s.GenerateItem(ctx, "9.9.9.9-0", textgen.KindEvidenceTitle)
		assert.ErrorIs(t, err, models.ErrItemNotFound)
	})
}

func TestGenerateAll_FillsMissing(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()
	f.s.SetAPIKey("key")

	_, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)

	var progress []textgen.Progress
	resp, err := f.s.GenerateAll(ctx, textgen.KindEvidenceTitle, false, func(p textgen.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Generated)
	assert.Equal(t, 1, resp.Skipped, "1.1.1.1 has nothing to build a prompt from")
	assert.Len(t, progress, 2)

	it, _ := f.s.Snapshot().Tree.Item("1.1.1.2-0")
	assert.Equal(t, "SK Direktur tentang Tim PPI", it.EvidenceDescription)
}

func TestGenerateAll_InvalidKeyAborts(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()
	f.s.SetAPIKey("bad")
	f.backend.err = textgen.ErrCredentialInvalid

	_, err := f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	f.s.Notices()

	_, err = f.s.GenerateAll(ctx, textgen.KindRemediation, false, nil)
	require.ErrorIs(t, err, textgen.ErrCredentialInvalid)
	notices := f.s.Notices()
	require.NotEmpty(t, notices)
	assert.Equal(t, FieldAPIKey, notices[0].Field)
}

func TestGenerateSummary(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()
	f.s.SetAPIKey("key")
	f.backend.text = "  Prioritas utama BAB 1 adalah SK Tim PPI.  "

	_, err := f.s.GenerateSummary(ctx)
	require.ErrorIs(t, err, ErrNoPlan)

	_, err = f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	resp, err := f.s.GenerateSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Prioritas utama BAB 1 adalah SK Tim PPI.", resp.Text)
	assert.Equal(t, resp.Text, f.s.Snapshot().AISummary)
}

func TestUpdateItem_OnlyChangesArmPersistence(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.s.UpdateItem(ctx, "1.1.1.1-0", models.ItemPatch{})
	require.ErrorIs(t, err, ErrNoPlan)

	_, err = f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	require.NoError(t, f.s.Flush(ctx))

	same := "Susun SOP"
	_, err = f.s.UpdateItem(ctx, "1.1.1.2-0", models.ItemPatch{RemediationPlan: &same})
	require.NoError(t, err)
	assert.False(t, f.s.persister.Pending())

	changed := "Susun SOP baru"
	it, err := f.s.UpdateItem(ctx, "1.1.1.2-0", models.ItemPatch{RemediationPlan: &changed})
	require.NoError(t, err)
	assert.Equal(t, changed, it.RemediationPlan)
	assert.True(t, f.s.persister.Pending())

	_, err = f.s.UpdateItem(ctx, "nope", models.ItemPatch{RemediationPlan: &changed})
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}

func TestOpen(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, err := f.s.Open(ctx, "audit.csv")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	require.NoError(t, f.s.Flush(ctx))

	other := f.newSession(f.mem)
	defer other.Close(ctx)
	resp, err := other.Open(ctx, "audit.csv")
	require.NoError(t, err)
	assert.Equal(t, "audit.csv", resp.FileName)
	assert.Equal(t, 2, resp.ItemCount)

	list, err := other.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "audit.csv", list[0].FileName)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	defer f.close(t)
	ctx := context.Background()

	_, _, err := f.s.Export(ctx)
	require.ErrorIs(t, err, ErrNoPlan)

	_, err = f.s.Upload(ctx, "audit.csv", []byte(auditCSV))
	require.NoError(t, err)
	data, name, err := f.s.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "audit-rencana-perbaikan.xlsx", name)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(wb.GetSheetList()[0])
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	require.Len(t, f.archive.objects, 2)
	assert.Contains(t, f.archive.objects[1], "archive/exports/u1/")
}

func TestNoticeFor(t *testing.T) {
	n := NoticeFor(&textgen.RemoteError{StatusCode: 500, Message: "internal"})
	assert.Equal(t, "Layanan AI mengembalikan kesalahan (HTTP 500): internal", n.Message)
	assert.Empty(t, n.Field)

	n = NoticeFor(textgen.ErrCredentialInvalid)
	assert.Equal(t, FieldAPIKey, n.Field)

	assert.Equal(t, models.LevelInfo, NoticeFor(ErrStale).Level)

	wrapped := func(err error) error { return fmt.Errorf("%w: %w", ErrCannotProcess, err) }
	assert.Equal(t, MsgUnreadable, NoticeFor(wrapped(sheet.ErrUnreadable)).Message)
	assert.Equal(t, MsgNoRows, NoticeFor(wrapped(sheet.ErrNoRows)).Message)
	assert.Equal(t, MsgUnsupportedFormat, NoticeFor(wrapped(sheet.ErrUnsupportedFormat)).Message)
	assert.Equal(t, MsgCannotProcess, NoticeFor(wrapped(hierarchy.ErrNoCodeColumn)).Message)
	assert.Equal(t, MsgCannotProcess, NoticeFor(ErrCannotProcess).Message)
}
