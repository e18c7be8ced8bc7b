package hierarchy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoCodeColumn means no header matched any code alias.
var ErrNoCodeColumn = errors.New("no code column found")

// Column is a logical field of an audit row.
type Column int

const (
	ColCode Column = iota
	ColFinding
	ColRemediation
	ColIndicator
	ColTarget
	ColDeadline
	ColResponsible
	ColEvidence
)

// resolveOrder is also the priority order when two fields compete for a header.
var resolveOrder = []Column{ColCode, ColRemediation, ColIndicator, ColTarget, ColDeadline, ColResponsible, ColEvidence, ColFinding}

var columnNames = map[Column]string{
	ColCode:        "code",
	ColFinding:     "finding",
	ColRemediation: "remediation",
	ColIndicator:   "indicator",
	ColTarget:      "target",
	ColDeadline:    "deadline",
	ColResponsible: "responsible",
	ColEvidence:    "evidence",
}

func (c Column) String() string {
	if n, ok := columnNames[c]; ok {
		return n
	}
	return fmt.Sprintf("column(%d)", int(c))
}

// Aliases lists accepted normalized header spellings per column, most
// specific first.
type Aliases map[Column][]string

// DefaultAliases matches the hospital accreditation survey templates.
func DefaultAliases() Aliases {
	return Aliases{
		ColCode:        {"kode", "kodeep", "code", "kodeelemenpenilaian"},
		ColFinding:     {"temuan", "temuansurvei", "rekomendasisurvei", "rekomendasi", "finding"},
		ColRemediation: {"rencana_perbaikan", "rencanaperbaikan", "perbaikan", "remediationplan", "remediation"},
		ColIndicator:   {"indikator", "indikatorkeberhasilan", "indicator"},
		ColTarget:      {"sasaran", "target"},
		ColDeadline:    {"waktu", "tenggatwaktu", "jadwal", "deadline"},
		ColResponsible: {"penanggung_jawab", "penanggungjawab", "pic", "responsible"},
		ColEvidence:    {"dokumen_bukti", "dokumenbukti", "uraiandokumenbukti", "bukti", "evidence"},
	}
}

// LoadAliases reads a YAML file of the form
//
//	code: [kode, code]
//	remediation: [rencana_perbaikan]
//
// and overlays it on DefaultAliases. Unknown field names are an error.
func LoadAliases(path string) (Aliases, error) {
	aliases := DefaultAliases()
	if path == "" {
		return aliases, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	byName := make(map[string]Column, len(columnNames))
	for c, n := range columnNames {
		byName[n] = c
	}
	for name, list := range raw {
		c, ok := byName[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("alias file %s: unknown field %q", path, name)
		}
		normalized := make([]string, 0, len(list))
		for _, a := range list {
			if a = NormalizeKey(a); a != "" {
				normalized = append(normalized, a)
			}
		}
		aliases[c] = normalized
	}
	return aliases, nil
}

// ColumnMap records which normalized header serves each column. Columns
// without a match are absent.
type ColumnMap map[Column]string

// Resolve matches normalized headers against aliases once per upload.
// Exact matches are tried for every column before substring matches, and a
// header is assigned to at most one column.
func Resolve(headers []string, aliases Aliases) (ColumnMap, error) {
	cm := ColumnMap{}
	used := make(map[string]bool, len(headers))

	match := func(pred func(h, alias string) bool) {
		for _, col := range resolveOrder {
			if _, done := cm[col]; done {
				continue
			}
		aliasLoop:
			for _, alias := range aliases[col] {
				for _, h := range headers {
					if h == "" || used[h] || !pred(h, alias) {
						continue
					}
					cm[col] = h
					used[h] = true
					break aliasLoop
				}
			}
		}
	}
	match(func(h, alias string) bool { return h == alias })
	match(strings.Contains)

	if _, ok := cm[ColCode]; !ok {
		return cm, ErrNoCodeColumn
	}
	return cm, nil
}

// Mapped reports whether header h serves some column.
func (cm ColumnMap) Mapped(h string) bool {
	for _, v := range cm {
		if v == h {
			return true
		}
	}
	return false
}
