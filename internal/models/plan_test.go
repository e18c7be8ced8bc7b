package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Tree {
	t := NewTree()
	t.AddItem("1", "1", "1", &Item{ID: "1.1.1.1-0", Code: "1.1.1.1", EvidenceDescription: EvidencePlaceholder})
	t.AddItem("1", "1", "1", &Item{ID: "1.1.1.2-0", Code: "1.1.1.2"})
	t.AddItem("2", "1", "3", &Item{ID: "2.1.3.1-0", Code: "2.1.3.1", Extra: map[string]string{"catatan": "x"}})
	return t
}

func TestTree_IndexAndWalkOrder(t *testing.T) {
	tree := sampleTree()

	var ids []string
	tree.Walk(func(_ Path, it *Item) bool {
		ids = append(ids, it.ID)
		return true
	})
	assert.Equal(t, []string{"1.1.1.1-0", "1.1.1.2-0", "2.1.3.1-0"}, ids)
	assert.Equal(t, Path{Chapter: "2", Standard: "1", Criterion: "3", Pos: 0}, tree.Index()["2.1.3.1-0"])
	assert.Equal(t, 3, tree.ItemCount())

	tree.AddItem("2", "1", "3", &Item{ID: "2.1.3.2-0"})
	_, ok := tree.Item("2.1.3.2-0")
	assert.True(t, ok, "index is rebuilt after AddItem")
}

func TestTree_UpdateItem(t *testing.T) {
	tree := sampleTree()

	changed, err := tree.UpdateItem("1.1.1.2-0", PatchField(FieldTarget, "100%"))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = tree.UpdateItem("1.1.1.2-0", PatchField(FieldTarget, "100%"))
	require.NoError(t, err)
	assert.False(t, changed, "same value is not a change")

	_, err = tree.UpdateItem("9.9.9.9-0", PatchField(FieldTarget, "x"))
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestTree_CloneIsIndependent(t *testing.T) {
	tree := sampleTree()
	c := tree.Clone()

	_, err := c.UpdateItem("1.1.1.1-0", PatchField(FieldRemediation, "edited"))
	require.NoError(t, err)
	c.Chapters["2"].Standards["1"].Criteria["3"].Items[0].Extra["catatan"] = "y"
	c.AddItem("3", "1", "1", &Item{ID: "3.1.1.1-0"})

	orig, _ := tree.Item("1.1.1.1-0")
	assert.Empty(t, orig.RemediationPlan)
	assert.Equal(t, "x", tree.Chapters["2"].Standards["1"].Criteria["3"].Items[0].Extra["catatan"])
	assert.Equal(t, []string{"1", "2"}, tree.Order)
	assert.Nil(t, (*Tree)(nil).Clone())
}

func TestItem_HasValue(t *testing.T) {
	it := &Item{EvidenceDescription: EvidencePlaceholder, Indicator: "  "}
	assert.False(t, it.HasValue(FieldEvidence))
	assert.False(t, it.HasValue(FieldIndicator))

	it.EvidenceDescription = "SK Direktur"
	assert.True(t, it.HasValue(FieldEvidence))
}

func TestTree_Empty(t *testing.T) {
	var nilTree *Tree
	assert.True(t, nilTree.Empty())
	assert.True(t, NewTree().Empty())
	assert.False(t, sampleTree().Empty())
}
