package shopstore

import (
	"fmt"
	"sort"
)

// CategoryTree is an in-memory view of the category hierarchy
type CategoryTree struct {
	Nodes    map[int64]*CategoryNode
	Roots    []int64
	children map[int64][]int64
}

// CategoryNode is a category plus its child ids
type CategoryNode struct {
	Category *Category
	Children []int64
}

// NewCategoryTree builds a tree from a flat list of categories.
// Children are ordered by display order, then id.
func NewCategoryTree(categories []*Category) *CategoryTree {
	t := &CategoryTree{
		Nodes:    make(map[int64]*CategoryNode, len(categories)),
		children: make(map[int64][]int64),
	}

	for _, c := range categories {
		t.Nodes[c.ID] = &CategoryNode{Category: c}
	}

	for _, c := range categories {
		if c.ParentID == nil {
			t.Roots = append(t.Roots, c.ID)
			continue
		}
		t.children[*c.ParentID] = append(t.children[*c.ParentID], c.ID)
	}

	t.sortIDs(t.Roots)
	for parentID, ids := range t.children {
		t.sortIDs(ids)
		if node, ok := t.Nodes[parentID]; ok {
			node.Children = ids
		}
	}

	return t
}

func (t *CategoryTree) sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := t.Nodes[ids[i]].Category, t.Nodes[ids[j]].Category
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})
}

// Validate checks that every parent exists and the hierarchy has no cycles
func (t *CategoryTree) Validate() error {
	for id, node := range t.Nodes {
		if p := node.Category.ParentID; p != nil {
			if _, ok := t.Nodes[*p]; !ok {
				return fmt.Errorf("category %d references missing parent %d", id, *p)
			}
		}
	}

	// Check for cycles (simple DFS-based cycle detection)
	visited := make(map[int64]bool)
	recStack := make(map[int64]bool)

	for id := range t.Nodes {
		if !visited[id] {
			if t.hasCycle(id, visited, recStack) {
				return fmt.Errorf("category tree contains cycles")
			}
		}
	}

	return nil
}

// hasCycle performs DFS to detect cycles
func (t *CategoryTree) hasCycle(id int64, visited, recStack map[int64]bool) bool {
	visited[id] = true
	recStack[id] = true

	for _, childID := range t.children[id] {
		if !visited[childID] {
			if t.hasCycle(childID, visited, recStack) {
				return true
			}
		} else if recStack[childID] {
			return true
		}
	}

	recStack[id] = false
	return false
}

// Descendants returns every category below id, depth first
func (t *CategoryTree) Descendants(id int64) []int64 {
	var out []int64
	seen := map[int64]bool{id: true}

	var walk func(int64)
	walk = func(current int64) {
		for _, childID := range t.children[current] {
			if seen[childID] {
				continue
			}
			seen[childID] = true
			out = append(out, childID)
			walk(childID)
		}
	}
	walk(id)

	return out
}

// Ancestors returns the path from the root down to the parent of id
func (t *CategoryTree) Ancestors(id int64) ([]int64, error) {
	node, ok := t.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("category %d not found in tree", id)
	}

	var path []int64
	seen := map[int64]bool{id: true}
	for p := node.Category.ParentID; p != nil; {
		if seen[*p] {
			return nil, fmt.Errorf("category tree contains cycles")
		}
		seen[*p] = true
		path = append([]int64{*p}, path...)

		parent, ok := t.Nodes[*p]
		if !ok {
			return nil, fmt.Errorf("category %d references missing parent %d", id, *p)
		}
		p = parent.Category.ParentID
	}

	return path, nil
}

// CanMove reports whether id may be placed under parentID without creating
// a cycle. A nil parent always succeeds.
func (t *CategoryTree) CanMove(id int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return fmt.Errorf("category %d cannot be its own parent", id)
	}
	if _, ok := t.Nodes[*parentID]; !ok {
		return fmt.Errorf("parent category %d not found", *parentID)
	}
	for _, d := range t.Descendants(id) {
		if d == *parentID {
			return fmt.Errorf("category %d cannot move under its descendant %d", id, *parentID)
		}
	}
	return nil
}
