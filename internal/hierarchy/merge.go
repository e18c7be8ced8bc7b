package hierarchy

import "github.com/Lllllllleong/accreditationplan/internal/models"

// MergeStats counts what Merge carried forward.
type MergeStats struct {
	Items  int // fresh items that had a stored counterpart
	Fields int // field values copied from storage
}

// Merge reconciles a freshly built tree with the stored one for the same
// file. The upload decides structure: only fresh items survive. Storage
// decides edits: each fresh item is paired with the stored item of the same
// ID under the same chapter/standard/criterion, or failing that with the
// first unpaired stored item of the same code there (documents written by
// the browser client number items by sheet row). Every field in
// models.MergedFields that is non-empty in storage replaces the fresh value.
// fresh is not modified.
func Merge(fresh, stored *models.Tree) (*models.Tree, MergeStats) {
	var stats MergeStats
	out := fresh.Clone()
	if out == nil {
		out = models.NewTree()
	}
	if stored.Empty() {
		return out, stats
	}

	for _, chKey := range out.Order {
		ch := out.Chapters[chKey]
		for _, stKey := range ch.Order {
			st := ch.Standards[stKey]
			for _, crKey := range st.Order {
				storedCr, ok := stored.Lookup(chKey, stKey, crKey)
				if !ok {
					continue
				}
				for _, pair := range pairItems(st.Criteria[crKey].Items, storedCr.Items) {
					it, old := pair[0], pair[1]
					stats.Items++
					for _, f := range models.MergedFields {
						if old.HasValue(f) && old.Get(f) != it.Get(f) {
							it.Set(f, old.Get(f))
							stats.Fields++
						}
					}
				}
			}
		}
	}
	return out, stats
}

// pairItems matches fresh items to stored ones, by ID first and then by
// code in order. A stored item is used at most once.
func pairItems(fresh, stored []*models.Item) [][2]*models.Item {
	used := make([]bool, len(stored))
	byID := make(map[string]int, len(stored))
	for i, it := range stored {
		if _, dup := byID[it.ID]; !dup {
			byID[it.ID] = i
		}
	}

	matched := make([]*models.Item, len(fresh))
	for i, it := range fresh {
		if j, ok := byID[it.ID]; ok && !used[j] {
			used[j] = true
			matched[i] = stored[j]
		}
	}
	for i, it := range fresh {
		if matched[i] != nil || it.Code == "" {
			continue
		}
		for j, old := range stored {
			if !used[j] && old.Code == it.Code {
				used[j] = true
				matched[i] = old
				break
			}
		}
	}

	var pairs [][2]*models.Item
	for i, it := range fresh {
		if matched[i] != nil {
			pairs = append(pairs, [2]*models.Item{it, matched[i]})
		}
	}
	return pairs
}
