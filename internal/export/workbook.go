// Package export writes a plan back out as a spreadsheet.
package export

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName   = "Rencana Perbaikan"
	summaryName = "Ringkasan"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Headers are the column titles of the exported sheet, in order.
var Headers = []string{
	"BAB", "Standar", "Kriteria", "Kode", "Temuan", "Rencana Perbaikan",
	"Indikator", "Sasaran", "Waktu", "Penanggung Jawab", "Dokumen Bukti",
}

func row(p models.Path, it *models.Item) []any {
	return []any{
		p.Chapter, p.Standard, p.Criterion, it.Code, it.Finding, it.RemediationPlan,
		it.Indicator, it.Target, it.Deadline, it.ResponsibleParty, it.EvidenceDescription,
	}
}

// FileName is the download name for an export of sourceFile.
func FileName(sourceFile string) string {
	base := strings.TrimSuffix(filepath.Base(sourceFile), filepath.Ext(sourceFile))
	if base == "" || base == "." {
		base = "rencana"
	}
	return base + "-rencana-perbaikan.xlsx"
}

// WriteWorkbook writes one row per item in tree order, plus a summary sheet
// when summary is not empty.
func WriteWorkbook(w io.Writer, tree *models.Tree, summary string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	header := make([]any, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	var werr error
	r := 2
	tree.Walk(func(p models.Path, it *models.Item) bool {
		cells := row(p, it)
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err == nil {
			err = f.SetSheetRow(sheetName, cell, &cells)
		}
		if err != nil {
			werr = fmt.Errorf("failed to write row for %s: %w", it.ID, err)
			return false
		}
		r++
		return true
	})
	if werr != nil {
		return werr
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if strings.TrimSpace(summary) != "" {
		if _, err := f.NewSheet(summaryName); err != nil {
			return fmt.Errorf("failed to add summary sheet: %w", err)
		}
		if err := f.SetCellValue(summaryName, "A1", summary); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
