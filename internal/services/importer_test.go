package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadKey(t *testing.T) {
	cases := map[string]struct {
		object string
		want   models.DocKey
		ok     bool
	}{
		"user and file":   {object: "uploads/u1/audit.xlsx", want: models.DocKey{Namespace: "ns", UserID: "u1", FileName: "audit.xlsx"}, ok: true},
		"nested file":     {object: "uploads/u1/2025/audit.csv", want: models.DocKey{Namespace: "ns", UserID: "u1", FileName: "audit.csv"}, ok: true},
		"other prefix":    {object: "exports/u1/audit.xlsx"},
		"no file":         {object: "uploads/u1/"},
		"no user":         {object: "uploads//audit.xlsx"},
		"prefix only":     {object: "uploads/"},
		"directory entry": {object: "uploads/u1/dir/"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, ok := uploadKey("ns", "uploads/", tc.object)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestImportPlan_MergesWithStored(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	builder := hierarchy.NewBuilder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := models.DocKey{Namespace: "ns", UserID: "u1", FileName: "audit.csv"}
	csv := []byte("Kode,Rencana Perbaikan\n1.1.1.1,\n1.1.1.2,\n1.2\n")

	res, err := ImportPlan(ctx, mem, builder, key, csv, time.Unix(100, 0))
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Items: 2, Merged: 0, Skipped: 1}, res)

	doc, err := mem.Get(ctx, key)
	require.NoError(t, err)
	_, err = doc.GroupedData.UpdateItem("1.1.1.1-0", models.PatchField(models.FieldRemediation, "Revisi SOP"))
	require.NoError(t, err)
	doc.AISummary = "ringkasan"
	require.NoError(t, mem.Upsert(ctx, key, doc))

	res, err = ImportPlan(ctx, mem, builder, key, csv, time.Unix(200, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Merged)

	doc, err = mem.Get(ctx, key)
	require.NoError(t, err)
	it, _ := doc.GroupedData.Item("1.1.1.1-0")
	assert.Equal(t, "Revisi SOP", it.RemediationPlan)
	assert.Equal(t, "ringkasan", doc.AISummary)
	assert.Equal(t, time.Unix(200, 0), doc.Timestamp)
}

func TestImportPlan_CannotProcess(t *testing.T) {
	mem := store.NewMemoryStore()
	builder := hierarchy.NewBuilder(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	key := models.DocKey{Namespace: "ns", UserID: "u1", FileName: "audit.csv"}

	_, err := ImportPlan(context.Background(), mem, builder, key, []byte("Nama\nA\n"), time.Now())
	assert.ErrorIs(t, err, hierarchy.ErrNoCodeColumn)
	assert.Zero(t, mem.Writes())
}

func TestReadCapped(t *testing.T) {
	data, err := readCapped(strings.NewReader("12345"), 5)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))

	_, err = readCapped(strings.NewReader("123456"), 5)
	require.ErrorIs(t, err, ErrObjectTooLarge)
	assert.True(t, permanent(fmt.Errorf("failed to read gs://b/uploads/u1/big.xlsx: %w", err)))
}

func TestPermanent(t *testing.T) {
	for _, err := range []error{ErrObjectTooLarge, hierarchy.ErrNoCodeColumn, hierarchy.ErrNoUsableRows, sheet.ErrNoRows, sheet.ErrUnreadable, sheet.ErrUnsupportedFormat} {
		assert.True(t, permanent(fmt.Errorf("import: %w", err)), err.Error())
	}
	assert.False(t, permanent(errors.New("connection reset by peer")))
	assert.False(t, permanent(context.DeadlineExceeded))
}

func TestWorkflowArgument(t *testing.T) {
	key := models.DocKey{Namespace: "ns", UserID: "u1", FileName: "audit.xlsx"}
	arg, err := workflowArgument(key, ImportResult{Items: 12, Merged: 3, Skipped: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"namespace":"ns","userId":"u1","fileName":"audit.xlsx","items":12,"skipped":1}`, arg)
}
