package models

import (
	"fmt"
	"strings"
)

// EvidencePlaceholder is the evidence description of an item nobody has
// described yet. It counts as empty when plans are merged.
const EvidencePlaceholder = "Belum ada uraian dokumen bukti"

// Item is one audit row of the uploaded sheet.
type Item struct {
	ID   string `firestore:"id" json:"id"`
	Code string `firestore:"kode" json:"kode"`
	// Suffix holds the code segments after the criterion, e.g. "1" or "1.a".
	Suffix string `firestore:"ep" json:"ep"`
	Row    int    `firestore:"row" json:"row"`

	Finding             string `firestore:"temuan" json:"temuan"`
	RemediationPlan     string `firestore:"rencana_perbaikan" json:"rencana_perbaikan"`
	Indicator           string `firestore:"indikator" json:"indikator"`
	Target              string `firestore:"sasaran" json:"sasaran"`
	Deadline            string `firestore:"waktu" json:"waktu"`
	ResponsibleParty    string `firestore:"penanggung_jawab" json:"penanggung_jawab"`
	EvidenceDescription string `firestore:"dokumen_bukti" json:"dokumen_bukti"`

	Extra map[string]string `firestore:"extra,omitempty" json:"extra,omitempty"`
}

// Criterion owns the items whose code shares the first three segments.
type Criterion struct {
	Key   string  `firestore:"key" json:"key"`
	Title string  `firestore:"title" json:"title"`
	Items []*Item `firestore:"items" json:"items"`
}

type Standard struct {
	Key      string                `firestore:"key" json:"key"`
	Title    string                `firestore:"title" json:"title"`
	Criteria map[string]*Criterion `firestore:"criterias" json:"criterias"`
	Order    []string              `firestore:"order" json:"order"`
}

type Chapter struct {
	Key       string               `firestore:"key" json:"key"`
	Title     string               `firestore:"title" json:"title"`
	Standards map[string]*Standard `firestore:"standards" json:"standards"`
	Order     []string             `firestore:"order" json:"order"`
}

// Tree is the grouped form of one uploaded file. Maps are keyed by code
// segment; Order slices keep first-seen row order. It encodes as the bare
// chapter map.
type Tree struct {
	Chapters map[string]*Chapter
	Order    []string

	index map[string]Path
}

// Path locates an item inside a Tree.
type Path struct {
	Chapter   string
	Standard  string
	Criterion string
	Pos       int
}

func NewTree() *Tree {
	return &Tree{Chapters: map[string]*Chapter{}}
}

// Empty reports whether the tree holds no chapters at all.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Order) == 0
}

// Criterion creates the chapter/standard/criterion path on first use and
// returns the criterion node.
func (t *Tree) Criterion(chapter, standard, criterion string) *Criterion {
	if t.Chapters == nil {
		t.Chapters = map[string]*Chapter{}
	}
	ch, ok := t.Chapters[chapter]
	if !ok {
		ch = &Chapter{Key: chapter, Title: "BAB " + chapter, Standards: map[string]*Standard{}}
		t.Chapters[chapter] = ch
		t.Order = append(t.Order, chapter)
	}
	st, ok := ch.Standards[standard]
	if !ok {
		st = &Standard{Key: standard, Title: "Standar " + standard, Criteria: map[string]*Criterion{}}
		ch.Standards[standard] = st
		ch.Order = append(ch.Order, standard)
	}
	cr, ok := st.Criteria[criterion]
	if !ok {
		cr = &Criterion{Key: criterion, Title: "Kriteria " + criterion}
		st.Criteria[criterion] = cr
		st.Order = append(st.Order, criterion)
	}
	return cr
}

// Lookup returns the criterion at the given path without creating it.
func (t *Tree) Lookup(chapter, standard, criterion string) (*Criterion, bool) {
	if t == nil {
		return nil, false
	}
	ch, ok := t.Chapters[chapter]
	if !ok {
		return nil, false
	}
	st, ok := ch.Standards[standard]
	if !ok {
		return nil, false
	}
	cr, ok := st.Criteria[criterion]
	return cr, ok
}

// AddItem appends an item under its criterion.
func (t *Tree) AddItem(chapter, standard, criterion string, it *Item) {
	cr := t.Criterion(chapter, standard, criterion)
	cr.Items = append(cr.Items, it)
	t.index = nil
}

// Walk visits every item in tree order. Returning false stops the walk.
func (t *Tree) Walk(fn func(p Path, it *Item) bool) {
	if t == nil {
		return
	}
	for _, chKey := range t.Order {
		ch := t.Chapters[chKey]
		if ch == nil {
			continue
		}
		for _, stKey := range ch.Order {
			st := ch.Standards[stKey]
			if st == nil {
				continue
			}
			for _, crKey := range st.Order {
				cr := st.Criteria[crKey]
				if cr == nil {
					continue
				}
				for i, it := range cr.Items {
					if !fn(Path{Chapter: chKey, Standard: stKey, Criterion: crKey, Pos: i}, it) {
						return
					}
				}
			}
		}
	}
}

func (t *Tree) ItemCount() int {
	n := 0
	t.Walk(func(Path, *Item) bool {
		n++
		return true
	})
	return n
}

// Item finds an item by ID through the flat index.
func (t *Tree) Item(id string) (*Item, bool) {
	p, ok := t.Index()[id]
	if !ok {
		return nil, false
	}
	cr, _ := t.Lookup(p.Chapter, p.Standard, p.Criterion)
	return cr.Items[p.Pos], true
}

// Index returns the flat itemID → path table, rebuilding it after
// structural changes.
func (t *Tree) Index() map[string]Path {
	if t == nil {
		return nil
	}
	if t.index != nil {
		return t.index
	}
	idx := make(map[string]Path)
	t.Walk(func(p Path, it *Item) bool {
		idx[it.ID] = p
		return true
	})
	t.index = idx
	return idx
}

// UpdateItem applies patch to the item with the given ID and reports
// whether any field actually changed.
func (t *Tree) UpdateItem(id string, patch ItemPatch) (bool, error) {
	it, ok := t.Item(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return patch.Apply(it), nil
}

// Clone returns a deep copy safe to hand to a background writer.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return nil
	}
	out := &Tree{Chapters: make(map[string]*Chapter, len(t.Chapters)), Order: append([]string(nil), t.Order...)}
	for k, ch := range t.Chapters {
		nc := &Chapter{Key: ch.Key, Title: ch.Title, Standards: make(map[string]*Standard, len(ch.Standards)), Order: append([]string(nil), ch.Order...)}
		for sk, st := range ch.Standards {
			ns := &Standard{Key: st.Key, Title: st.Title, Criteria: make(map[string]*Criterion, len(st.Criteria)), Order: append([]string(nil), st.Order...)}
			for ck, cr := range st.Criteria {
				ncr := &Criterion{Key: cr.Key, Title: cr.Title, Items: make([]*Item, len(cr.Items))}
				for i, it := range cr.Items {
					ncr.Items[i] = it.Clone()
				}
				ns.Criteria[ck] = ncr
			}
			nc.Standards[sk] = ns
		}
		out.Chapters[k] = nc
	}
	return out
}

func (it *Item) Clone() *Item {
	c := *it
	if it.Extra != nil {
		c.Extra = make(map[string]string, len(it.Extra))
		for k, v := range it.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Field names an editable item field.
type Field int

const (
	FieldRemediation Field = iota
	FieldIndicator
	FieldTarget
	FieldResponsible
	FieldEvidence
	FieldDeadline
)

// MergedFields are carried forward from storage when a file is re-uploaded.
var MergedFields = []Field{FieldRemediation, FieldIndicator, FieldTarget, FieldResponsible, FieldEvidence}

func (f Field) String() string {
	switch f {
	case FieldRemediation:
		return "rencana_perbaikan"
	case FieldIndicator:
		return "indikator"
	case FieldTarget:
		return "sasaran"
	case FieldResponsible:
		return "penanggung_jawab"
	case FieldEvidence:
		return "dokumen_bukti"
	case FieldDeadline:
		return "waktu"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

func (it *Item) Get(f Field) string {
	switch f {
	case FieldRemediation:
		return it.RemediationPlan
	case FieldIndicator:
		return it.Indicator
	case FieldTarget:
		return it.Target
	case FieldResponsible:
		return it.ResponsibleParty
	case FieldEvidence:
		return it.EvidenceDescription
	case FieldDeadline:
		return it.Deadline
	}
	return ""
}

func (it *Item) Set(f Field, v string) {
	switch f {
	case FieldRemediation:
		it.RemediationPlan = v
	case FieldIndicator:
		it.Indicator = v
	case FieldTarget:
		it.Target = v
	case FieldResponsible:
		it.ResponsibleParty = v
	case FieldEvidence:
		it.EvidenceDescription = v
	case FieldDeadline:
		it.Deadline = v
	}
}

// HasValue reports whether f holds user content. The evidence placeholder
// does not count.
func (it *Item) HasValue(f Field) bool {
	v := strings.TrimSpace(it.Get(f))
	if f == FieldEvidence && v == EvidencePlaceholder {
		return false
	}
	return v != ""
}

// ItemPatch is a partial edit; nil fields are left alone.
type ItemPatch struct {
	RemediationPlan     *string `json:"rencana_perbaikan,omitempty"`
	Indicator           *string `json:"indikator,omitempty"`
	Target              *string `json:"sasaran,omitempty"`
	Deadline            *string `json:"waktu,omitempty"`
	ResponsibleParty    *string `json:"penanggung_jawab,omitempty"`
	EvidenceDescription *string `json:"dokumen_bukti,omitempty"`
}

// PatchField builds a single-field patch.
func PatchField(f Field, v string) ItemPatch {
	var p ItemPatch
	switch f {
	case FieldRemediation:
		p.RemediationPlan = &v
	case FieldIndicator:
		p.Indicator = &v
	case FieldTarget:
		p.Target = &v
	case FieldResponsible:
		p.ResponsibleParty = &v
	case FieldEvidence:
		p.EvidenceDescription = &v
	case FieldDeadline:
		p.Deadline = &v
	}
	return p
}

// Apply writes the patch into it and reports whether anything changed.
func (p ItemPatch) Apply(it *Item) bool {
	changed := false
	set := func(f Field, v *string) {
		if v == nil || it.Get(f) == *v {
			return
		}
		it.Set(f, *v)
		changed = true
	}
	set(FieldRemediation, p.RemediationPlan)
	set(FieldIndicator, p.Indicator)
	set(FieldTarget, p.Target)
	set(FieldDeadline, p.Deadline)
	set(FieldResponsible, p.ResponsibleParty)
	set(FieldEvidence, p.EvidenceDescription)
	return changed
}
