package shopstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func category(id int64, parent *int64, order int) *Category {
	return &Category{ID: id, Slug: "c", Name: "c", ParentID: parent, DisplayOrder: order}
}

// apparel(1) -> tops(2) -> tees(4)
//
//	-> bottoms(3)
//
// home(5)
func sampleTree() *CategoryTree {
	return NewCategoryTree([]*Category{
		category(4, ToPtr(int64(2)), 0),
		category(1, nil, 0),
		category(3, ToPtr(int64(1)), 1),
		category(2, ToPtr(int64(1)), 0),
		category(5, nil, 1),
	})
}

func TestNewCategoryTree(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, []int64{1, 5}, tree.Roots)
	assert.Equal(t, []int64{2, 3}, tree.Nodes[1].Children)
	assert.Equal(t, []int64{4}, tree.Nodes[2].Children)
	assert.Empty(t, tree.Nodes[4].Children)
	assert.NoError(t, tree.Validate())
}

func TestCategoryTree_ChildOrdering(t *testing.T) {
	tree := NewCategoryTree([]*Category{
		category(1, nil, 0),
		category(9, ToPtr(int64(1)), 0),
		category(7, ToPtr(int64(1)), 2),
		category(8, ToPtr(int64(1)), 0),
	})

	assert.Equal(t, []int64{8, 9, 7}, tree.Nodes[1].Children, "display order first, then id")
}

func TestCategoryTree_Descendants(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, []int64{2, 4, 3}, tree.Descendants(1))
	assert.Empty(t, tree.Descendants(4))
	assert.Empty(t, tree.Descendants(99))
}

func TestCategoryTree_Ancestors(t *testing.T) {
	tree := sampleTree()

	path, err := tree.Ancestors(4)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, path)

	path, err = tree.Ancestors(1)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = tree.Ancestors(99)
	assert.Error(t, err)
}

func TestCategoryTree_CanMove(t *testing.T) {
	tree := sampleTree()

	assert.NoError(t, tree.CanMove(4, nil))
	assert.NoError(t, tree.CanMove(4, ToPtr(int64(5))))
	assert.NoError(t, tree.CanMove(5, ToPtr(int64(4))))
	assert.Error(t, tree.CanMove(1, ToPtr(int64(1))), "own parent")
	assert.Error(t, tree.CanMove(1, ToPtr(int64(4))), "under a descendant")
	assert.Error(t, tree.CanMove(1, ToPtr(int64(99))), "missing parent")
}

func TestCategoryTree_ValidateDetectsProblems(t *testing.T) {
	missing := NewCategoryTree([]*Category{category(1, ToPtr(int64(42)), 0)})
	assert.ErrorContains(t, missing.Validate(), "missing parent")

	cyclic := NewCategoryTree([]*Category{
		category(1, ToPtr(int64(2)), 0),
		category(2, ToPtr(int64(1)), 0),
	})
	assert.ErrorContains(t, cyclic.Validate(), "cycles")

	_, err := cyclic.Ancestors(1)
	assert.ErrorContains(t, err, "cycles")
}
