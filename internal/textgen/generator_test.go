package textgen

import (
	"context"
	"strings"
	"testing"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_InsufficientDataSkipsRemoteCall(t *testing.T) {
	fb := &fakeBackend{needKey: true}
	g := New(fb, quietLogger())

	res, err := g.Item(context.Background(), "", KindEvidenceTitle, &models.Item{ID: "1.1.1.1-0", Finding: "only a finding"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeInsufficientData, res.Outcome)
	assert.Equal(t, MsgInsufficientData, res.Text)
	assert.Zero(t, fb.callCount())
}

func TestItem_RemediationUsesFinding(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{text: "Menyusun SPO baru"}}}
	g := New(fb, quietLogger())

	res, err := g.Item(context.Background(), "", KindRemediation, &models.Item{ID: "x", Code: "1.1.1.1", Finding: "SPO belum ada"})
	require.NoError(t, err)

	assert.Equal(t, "Menyusun SPO baru", res.Text)
	require.Equal(t, 1, fb.callCount())
	assert.Contains(t, fb.calls[0].Prompt, "Temuan: SPO belum ada")
	assert.Equal(t, SystemPrompt, fb.calls[0].System)
}

func TestItem_MissingCredential(t *testing.T) {
	fb := &fakeBackend{needKey: true}
	g := New(fb, quietLogger())

	_, err := g.Item(context.Background(), "  ", KindEvidenceTitle, &models.Item{Target: "100%"})

	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.True(t, IsCredentialError(err))
	assert.Zero(t, fb.callCount())
}

func TestItem_RateLimitIsAnOutcome(t *testing.T) {
	fb := &fakeBackend{script: []fakeAnswer{{err: ErrRateLimited}}}
	g := New(fb, quietLogger())

	res, err := g.Item(context.Background(), "k", KindEvidenceTitle, &models.Item{Target: "100%"})

	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, 1, fb.callCount())
}

func TestItem_ErrorsPassThrough(t *testing.T) {
	remote := &RemoteError{StatusCode: 500, Message: "boom"}
	fb := &fakeBackend{script: []fakeAnswer{{err: remote}, {text: "\n  \n"}}}
	g := New(fb, quietLogger())
	it := &models.Item{Target: "100%"}

	_, err := g.Item(context.Background(), "k", KindEvidenceTitle, it)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 500, re.StatusCode)

	_, err = g.Item(context.Background(), "k", KindEvidenceTitle, it)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestItem_RejectsSummaryKind(t *testing.T) {
	g := New(&fakeBackend{}, quietLogger())
	_, err := g.Item(context.Background(), "k", KindSummary, &models.Item{Target: "x"})
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "\"SK Direktur tentang PPI\"\nPenjelasan", want: "SK Direktur tentang PPI"},
		{in: "\n\n  'Pedoman Pelayanan'  ", want: "Pedoman Pelayanan"},
		{in: "“Panduan Triase”", want: "Panduan Triase"},
		{in: "\"\"Kebijakan\"\"", want: "Kebijakan"},
		{in: "Kebijakan \"mutu\"", want: "Kebijakan \"mutu\""},
		{in: "\"", want: "\""},
		{in: "", want: ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, firstLine(tc.in), "input %q", tc.in)
	}
}

func TestSummary(t *testing.T) {
	tree := models.NewTree()
	tree.AddItem("1", "1", "1", &models.Item{ID: "a", Code: "1.1.1.1", Finding: "Belum ada SK"})
	tree.AddItem("2", "1", "1", &models.Item{ID: "b", Code: "2.1.1.1"})
	fb := &fakeBackend{script: []fakeAnswer{{text: "  Paragraf satu.\n\nParagraf dua.  "}}}
	g := New(fb, quietLogger())

	res, err := g.Summary(context.Background(), "k", tree)
	require.NoError(t, err)

	assert.Equal(t, "Paragraf satu.\n\nParagraf dua.", res.Text)
	assert.Contains(t, fb.calls[0].Prompt, "[BAB 1] 1.1.1.1")
	assert.False(t, strings.Contains(fb.calls[0].Prompt, "2.1.1.1"))

	res, err = g.Summary(context.Background(), "k", models.NewTree())
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientData, res.Outcome)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, KindEvidenceTitle, k)

	k, err = ParseKind(" Remediation ")
	require.NoError(t, err)
	assert.Equal(t, KindRemediation, k)

	_, err = ParseKind("poem")
	assert.Error(t, err)
}
