// Package textgen drafts plan text with a generative model: evidence
// document titles and remediation plans for single items, and a summary for
// the whole plan.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/accreditationplan/internal/models"
)

// Kind selects what to draft.
type Kind string

const (
	KindEvidenceTitle Kind = "evidence_title"
	KindRemediation   Kind = "remediation"
	KindSummary       Kind = "summary"
)

// ParseKind accepts the JSON names of the kinds; empty means evidence title.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindEvidenceTitle:
		return KindEvidenceTitle, nil
	case KindRemediation:
		return KindRemediation, nil
	case KindSummary:
		return KindSummary, nil
	}
	return "", fmt.Errorf("unknown generation kind %q", s)
}

// Target is the item field a kind writes into.
func (k Kind) Target() (models.Field, bool) {
	switch k {
	case KindEvidenceTitle:
		return models.FieldEvidence, true
	case KindRemediation:
		return models.FieldRemediation, true
	}
	return 0, false
}

// sources are the item fields a prompt is built from. At least one must
// hold a value or the model is not called.
func (k Kind) sources(it *models.Item) []string {
	switch k {
	case KindRemediation:
		return []string{it.Finding, it.RemediationPlan, it.Indicator, it.Target}
	default:
		return []string{it.RemediationPlan, it.Indicator, it.Target}
	}
}

// Outcome classifies a successful Generate call.
type Outcome int

const (
	OutcomeText Outcome = iota
	// OutcomeInsufficientData: the item had nothing to build a prompt from.
	OutcomeInsufficientData
	// OutcomeRateLimited: the endpoint asked us to slow down. Not an error;
	// callers pause and retry.
	OutcomeRateLimited
)

// Messages returned in Result.Text for non-text outcomes.
const (
	MsgInsufficientData = "Data tidak cukup untuk dibuatkan saran AI. Lengkapi rencana perbaikan, indikator, atau sasaran terlebih dahulu."
	MsgRateLimited      = "Batas permintaan AI tercapai. Coba lagi beberapa saat lagi."
)

type Result struct {
	Outcome Outcome
	Text    string
}

// Request is one prompt for a Backend.
type Request struct {
	APIKey string
	System string
	Prompt string
}

// Backend performs exactly one remote completion. Implementations map
// remote failures onto ErrCredentialInvalid, ErrRateLimited, ErrNetwork,
// ErrMalformedResponse or *RemoteError.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	// NeedsAPIKey reports whether Request.APIKey must be set.
	NeedsAPIKey() bool
}

// Generator builds prompts and interprets backend answers.
type Generator struct {
	backend Backend
	log     *slog.Logger
}

func New(backend Backend, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	return &Generator{backend: backend, log: log}
}

// Item drafts text of the given kind for one item. It makes at most one
// remote call and never retries.
func (g *Generator) Item(ctx context.Context, apiKey string, kind Kind, it *models.Item) (Result, error) {
	if _, ok := kind.Target(); !ok {
		return Result{}, fmt.Errorf("kind %q does not apply to items", kind)
	}
	if !anyValue(kind.sources(it)) {
		return Result{Outcome: OutcomeInsufficientData, Text: MsgInsufficientData}, nil
	}
	req := Request{APIKey: apiKey, System: SystemPrompt, Prompt: itemPrompt(kind, it)}
	text, res, err := g.complete(ctx, req, slog.String("item", it.ID), slog.String("kind", string(kind)))
	if err != nil || res.Outcome != OutcomeText {
		return res, err
	}
	line := firstLine(text)
	if line == "" {
		return Result{}, ErrMalformedResponse
	}
	return Result{Outcome: OutcomeText, Text: line}, nil
}

// Summary drafts a short narrative over the whole plan.
func (g *Generator) Summary(ctx context.Context, apiKey string, tree *models.Tree) (Result, error) {
	prompt, ok := summaryPrompt(tree)
	if !ok {
		return Result{Outcome: OutcomeInsufficientData, Text: MsgInsufficientData}, nil
	}
	req := Request{APIKey: apiKey, System: SystemPrompt, Prompt: prompt}
	text, res, err := g.complete(ctx, req, slog.String("kind", string(KindSummary)))
	if err != nil || res.Outcome != OutcomeText {
		return res, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrMalformedResponse
	}
	return Result{Outcome: OutcomeText, Text: text}, nil
}

func (g *Generator) complete(ctx context.Context, req Request, attrs ...any) (string, Result, error) {
	logCtx := g.log.With(attrs...)
	if g.backend.NeedsAPIKey() && strings.TrimSpace(req.APIKey) == "" {
		return "", Result{}, ErrCredentialMissing
	}
	text, err := g.backend.Complete(ctx, req)
	switch {
	case err == nil:
		return text, Result{Outcome: OutcomeText}, nil
	case errors.Is(err, ErrRateLimited):
		logCtx.Warn("Model endpoint rate limited the request.")
		return "", Result{Outcome: OutcomeRateLimited, Text: MsgRateLimited}, nil
	default:
		logCtx.Error("Model call failed.", "error", err)
		return "", Result{}, err
	}
}

// SystemPrompt steers every drafting call.
const SystemPrompt = "Anda adalah asisten mutu rumah sakit yang membantu menyusun rencana perbaikan akreditasi. Jawab dalam Bahasa Indonesia yang ringkas dan formal."

func itemPrompt(kind Kind, it *models.Item) string {
	var b strings.Builder
	switch kind {
	case KindRemediation:
		b.WriteString("Susun satu kalimat rencana perbaikan yang konkret untuk elemen penilaian akreditasi berikut.\n")
	default:
		b.WriteString("Buat satu judul dokumen bukti yang paling tepat untuk elemen penilaian akreditasi berikut.\n")
	}
	fmt.Fprintf(&b, "Kode: %s\n", it.Code)
	field := func(label, v string) {
		if strings.TrimSpace(v) != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, strings.TrimSpace(v))
		}
	}
	if kind == KindRemediation {
		field("Temuan", it.Finding)
	}
	field("Rencana perbaikan", it.RemediationPlan)
	field("Indikator", it.Indicator)
	field("Sasaran", it.Target)
	b.WriteString("Jawab hanya dengan satu baris teks tanpa penomoran, tanpa tanda kutip, dan tanpa penjelasan tambahan.")
	return b.String()
}

// maxSummaryItems bounds the prompt for very large plans.
const maxSummaryItems = 200

func summaryPrompt(tree *models.Tree) (string, bool) {
	var b strings.Builder
	b.WriteString("Berikut daftar elemen penilaian beserta temuan dan rencana perbaikannya. ")
	b.WriteString("Tuliskan ringkasan eksekutif rencana perbaikan akreditasi dalam 3 sampai 5 paragraf singkat, ")
	b.WriteString("kelompokkan berdasarkan BAB dan sebutkan prioritas utama.\n\n")
	n := 0
	tree.Walk(func(p models.Path, it *models.Item) bool {
		if !anyValue([]string{it.Finding, it.RemediationPlan}) {
			return true
		}
		fmt.Fprintf(&b, "- [BAB %s] %s: temuan=%q; rencana=%q\n", p.Chapter, it.Code, strings.TrimSpace(it.Finding), strings.TrimSpace(it.RemediationPlan))
		n++
		return n < maxSummaryItems
	})
	return b.String(), n > 0
}

func anyValue(vals []string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// firstLine returns the first non-empty line of s, trimmed and without
// wrapping quote characters.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return stripQuotes(line)
	}
	return ""
}

var quotePairs = [][2]string{{`"`, `"`}, {"'", "'"}, {"“", "”"}, {"«", "»"}, {"`", "`"}}

func stripQuotes(s string) string {
	for {
		trimmed := false
		for _, q := range quotePairs {
			if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
				s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
				trimmed = true
			}
		}
		if !trimmed {
			return s
		}
	}
}
