// Package hierarchy groups normalized sheet rows into the
// chapter → standard → criterion → item tree and reconciles a freshly
// built tree with the stored one.
package hierarchy

import (
	"strings"
	"unicode"

	"github.com/Lllllllleong/accreditationplan/internal/sheet"
	"golang.org/x/text/unicode/norm"
)

// Record is a sheet row whose keys went through NormalizeKey.
type Record struct {
	Row    int
	Values map[string]string
}

// NormalizeKey folds a header to its compatibility form, lower-cases it
// and drops every whitespace rune, so "Rencana  Perbaikan" and
// "rencanaperbaikan" compare equal.
func NormalizeKey(key string) string {
	key = norm.NFKC.String(key)
	key = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, key)
	return strings.ToLower(key)
}

// NormalizeHeaders maps raw headers to normalized keys, preserving order.
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = NormalizeKey(h)
	}
	return out
}

// NormalizeRecord rewrites one row under normalized keys. headers fixes the
// iteration order; when two headers collapse to the same key the first
// non-empty value wins.
func NormalizeRecord(headers []string, rec sheet.Record) Record {
	values := make(map[string]string, len(headers))
	for _, h := range headers {
		k := NormalizeKey(h)
		v := strings.TrimSpace(rec.Values[h])
		if prev, ok := values[k]; ok && prev != "" {
			continue
		}
		values[k] = v
	}
	return Record{Row: rec.Row, Values: values}
}

// NormalizeTable normalizes every record of t.
func NormalizeTable(t *sheet.Table) []Record {
	recs := t.Records()
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = NormalizeRecord(t.Headers, r)
	}
	return out
}
