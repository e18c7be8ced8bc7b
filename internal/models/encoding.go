package models

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"
)

// Stored layout, shared with the browser client:
//
//	groupedData: {"<bab>": {title, standards: {"<std>": {title, criterias: {"<krit>": {title, items: [...]}}}}}}
//
// The root of groupedData is the chapter map itself. Its key order is kept
// in the sibling document field chapterOrder; nested order lists live next
// to the maps they order. Documents without them fall back to numeric key
// order.

// MarshalJSON encodes the tree as the chapter map.
func (t *Tree) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	chapters := t.Chapters
	if chapters == nil {
		chapters = map[string]*Chapter{}
	}
	return json.Marshal(chapters)
}

// UnmarshalJSON decodes a chapter map.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var chapters map[string]*Chapter
	if err := json.Unmarshal(data, &chapters); err != nil {
		return err
	}
	*t = *TreeFromChapters(chapters, nil)
	return nil
}

// TreeFromChapters builds a tree from a decoded chapter map. Keys and
// titles are filled in from the map keys where missing, and order lists
// are repaired so they name exactly the keys present.
func TreeFromChapters(chapters map[string]*Chapter, order []string) *Tree {
	t := NewTree()
	for chKey, ch := range chapters {
		if ch == nil {
			continue
		}
		ch.Key = chKey
		if ch.Title == "" {
			ch.Title = "BAB " + chKey
		}
		for stKey, st := range ch.Standards {
			if st == nil {
				delete(ch.Standards, stKey)
				continue
			}
			st.Key = stKey
			if st.Title == "" {
				st.Title = "Standar " + stKey
			}
			for crKey, cr := range st.Criteria {
				if cr == nil {
					delete(st.Criteria, crKey)
					continue
				}
				cr.Key = crKey
				if cr.Title == "" {
					cr.Title = "Kriteria " + crKey
				}
				items := cr.Items[:0]
				for _, it := range cr.Items {
					if it != nil {
						items = append(items, it)
					}
				}
				cr.Items = items
			}
			if st.Criteria == nil {
				st.Criteria = map[string]*Criterion{}
			}
			st.Order = repairOrder(st.Order, keysOf(st.Criteria))
		}
		if ch.Standards == nil {
			ch.Standards = map[string]*Standard{}
		}
		ch.Order = repairOrder(ch.Order, keysOf(ch.Standards))
		t.Chapters[chKey] = ch
	}
	t.Order = repairOrder(order, keysOf(t.Chapters))
	return t
}

func keysOf[V any](m map[string]V) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// repairOrder keeps the known keys of order once each, then appends the
// keys it missed in numeric order.
func repairOrder(order []string, present map[string]bool) []string {
	out := make([]string, 0, len(present))
	seen := make(map[string]bool, len(present))
	for _, k := range order {
		if present[k] && !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	var rest []string
	for k := range present {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return segmentLess(rest[i], rest[j]) })
	return append(out, rest...)
}

// segmentLess orders code segments numerically when both are numbers.
func segmentLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// UnmarshalJSON accepts items written by the browser client, whose cells
// may be numbers and whose unknown columns sit next to the known ones.
// Unknown keys land in Extra.
func (it *Item) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = Item{}
	for k, v := range raw {
		switch k {
		case "row":
			var row float64
			if json.Unmarshal(v, &row) == nil {
				it.Row = int(row)
			}
		case "extra":
			var extra map[string]any
			if err := json.Unmarshal(v, &extra); err != nil {
				return err
			}
			for ek, ev := range extra {
				it.setExtra(ek, cellString(ev))
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			if p := it.stringField(k); p != nil {
				*p = cellString(val)
			} else {
				it.setExtra(k, cellString(val))
			}
		}
	}
	return nil
}

func (it *Item) stringField(key string) *string {
	switch key {
	case "id":
		return &it.ID
	case "kode":
		return &it.Code
	case "ep":
		return &it.Suffix
	case "temuan":
		return &it.Finding
	case "rencana_perbaikan":
		return &it.RemediationPlan
	case "indikator":
		return &it.Indicator
	case "sasaran":
		return &it.Target
	case "waktu":
		return &it.Deadline
	case "penanggung_jawab":
		return &it.ResponsibleParty
	case "dokumen_bukti":
		return &it.EvidenceDescription
	}
	return nil
}

func (it *Item) setExtra(k, v string) {
	if it.Extra == nil {
		it.Extra = make(map[string]string)
	}
	it.Extra[k] = v
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

type planDocumentJSON struct {
	GroupedData  *Tree     `json:"groupedData"`
	ChapterOrder []string  `json:"chapterOrder,omitempty"`
	AISummary    string    `json:"aiSummary"`
	Timestamp    time.Time `json:"timestamp"`
}

func (d PlanDocument) MarshalJSON() ([]byte, error) {
	out := planDocumentJSON{GroupedData: d.GroupedData, AISummary: d.AISummary, Timestamp: d.Timestamp}
	if d.GroupedData != nil {
		out.ChapterOrder = d.GroupedData.Order
	}
	return json.Marshal(out)
}

func (d *PlanDocument) UnmarshalJSON(data []byte) error {
	var in planDocumentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.GroupedData != nil {
		in.GroupedData.Order = repairOrder(in.ChapterOrder, keysOf(in.GroupedData.Chapters))
	}
	*d = PlanDocument{GroupedData: in.GroupedData, AISummary: in.AISummary, Timestamp: in.Timestamp}
	return nil
}
