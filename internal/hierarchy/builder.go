package hierarchy

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/sheet"
)

// ErrNoUsableRows means no row carried a code with at least four segments.
var ErrNoUsableRows = errors.New("no row has a usable code")

// MinCodeSegments is chapter, standard, criterion plus at least one item segment.
const MinCodeSegments = 4

// Skip reasons recorded in a BuildReport.
const (
	SkipNoCode       = "empty code"
	SkipShortCode    = "code has fewer than 4 segments"
	SkipEmptySegment = "code has an empty grouping segment"
)

// SkippedRow explains why a row did not become an item.
type SkippedRow struct {
	Row    int
	Code   string
	Reason string
}

// BuildReport summarizes one Build call.
type BuildReport struct {
	Rows     int
	Accepted int
	Skipped  []SkippedRow
	Columns  ColumnMap
}

// Builder turns normalized records into a Tree.
type Builder struct {
	aliases Aliases
	log     *slog.Logger
}

func NewBuilder(aliases Aliases, log *slog.Logger) *Builder {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Builder{aliases: aliases, log: log}
}

// Build groups records by code. headers are the normalized header keys of
// the sheet. Rows without a usable code are skipped and logged; if none
// survive, Build returns ErrNoUsableRows together with the report.
func (b *Builder) Build(headers []string, records []Record) (*models.Tree, *BuildReport, error) {
	report := &BuildReport{Rows: len(records)}

	cols, err := Resolve(headers, b.aliases)
	report.Columns = cols
	if err != nil {
		b.log.Warn("No code column matched the sheet headers.", "headers", headers)
		return models.NewTree(), report, err
	}
	codeKey := cols[ColCode]

	tree := models.NewTree()
	seen := make(map[string]int)
	for _, rec := range records {
		code := strings.TrimSpace(rec.Values[codeKey])
		if code == "" {
			report.skip(b.log, rec.Row, code, SkipNoCode)
			continue
		}
		parts := strings.Split(code, ".")
		if len(parts) < MinCodeSegments {
			report.skip(b.log, rec.Row, code, SkipShortCode)
			continue
		}
		chapter, standard, criterion := parts[0], parts[1], parts[2]
		if chapter == "" || standard == "" || criterion == "" {
			report.skip(b.log, rec.Row, code, SkipEmptySegment)
			continue
		}

		n := seen[code]
		seen[code] = n + 1
		it := newItem(fmt.Sprintf("%s-%d", code, n), code, strings.Join(parts[3:], "."), rec, cols)
		tree.AddItem(chapter, standard, criterion, it)
		report.Accepted++
	}

	if report.Accepted == 0 {
		return tree, report, ErrNoUsableRows
	}
	b.log.Info("Sheet grouped.", "rows", report.Rows, "accepted", report.Accepted, "skipped", len(report.Skipped), "chapters", len(tree.Order))
	return tree, report, nil
}

func (r *BuildReport) skip(log *slog.Logger, row int, code, reason string) {
	r.Skipped = append(r.Skipped, SkippedRow{Row: row, Code: code, Reason: reason})
	log.Debug("Row skipped.", "row", row, "code", code, "reason", reason)
}

func newItem(id, code, suffix string, rec Record, cols ColumnMap) *models.Item {
	get := func(c Column) string {
		if h, ok := cols[c]; ok {
			return rec.Values[h]
		}
		return ""
	}
	it := &models.Item{
		ID:                  id,
		Code:                code,
		Suffix:              suffix,
		Row:                 rec.Row,
		Finding:             get(ColFinding),
		RemediationPlan:     get(ColRemediation),
		Indicator:           get(ColIndicator),
		Target:              get(ColTarget),
		Deadline:            get(ColDeadline),
		ResponsibleParty:    get(ColResponsible),
		EvidenceDescription: get(ColEvidence),
	}
	if it.EvidenceDescription == "" {
		it.EvidenceDescription = models.EvidencePlaceholder
	}
	for k, v := range rec.Values {
		if cols.Mapped(k) {
			continue
		}
		if it.Extra == nil {
			it.Extra = make(map[string]string)
		}
		it.Extra[k] = v
	}
	return it
}

// BuildSheet reads an uploaded spreadsheet and builds its tree.
func (b *Builder) BuildSheet(data []byte, fileName string) (*models.Tree, *BuildReport, error) {
	table, err := sheet.Read(data, fileName)
	if err != nil {
		return nil, nil, err
	}
	return b.Build(NormalizeHeaders(table.Headers), NormalizeTable(table))
}
