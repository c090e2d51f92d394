package ratchettree

import (
	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/treemath"
)

// Diff is a staging object layered over a base Tree: pending leaf and
// parent replacements shadow the base tree's contents until Merge
// installs them. The base tree is immutable for the lifetime of any
// outstanding diff.
type Diff struct {
	base       *Tree
	generation uint64
	nLeaves    uint32
	leafEdits  map[uint32]*credential.LeafNode
	parentEdits map[uint32]*ParentNode
}

// Diff opens a new staging diff over t.
func (t *Tree) Diff() *Diff {
	return &Diff{
		base:        t,
		generation:  t.generation,
		nLeaves:     t.nLeaves,
		leafEdits:   make(map[uint32]*credential.LeafNode),
		parentEdits: make(map[uint32]*ParentNode),
	}
}

func (d *Diff) NLeaves() uint32 { return d.nLeaves }

func (d *Diff) Leaf(i treemath.LeafIndex) *credential.LeafNode {
	if ln, ok := d.leafEdits[uint32(i)]; ok {
		return ln
	}
	if uint32(i) >= d.base.nLeaves {
		return nil
	}
	return d.base.leaves[i]
}

func (d *Diff) Parent(i treemath.ParentIndex) *ParentNode {
	if pn, ok := d.parentEdits[uint32(i)]; ok {
		return pn
	}
	if uint32(i) >= uint32(len(d.base.parents)) {
		return nil
	}
	return d.base.parents[i]
}

// ReplaceLeaf stages a leaf replacement (or blanking, when ln is nil).
func (d *Diff) ReplaceLeaf(i treemath.LeafIndex, ln *credential.LeafNode) {
	d.leafEdits[uint32(i)] = ln
}

// ReplaceParent stages a parent replacement (or blanking, when pn is nil).
func (d *Diff) ReplaceParent(i treemath.ParentIndex, pn *ParentNode) {
	d.parentEdits[uint32(i)] = pn
}

// Grow doubles the diff's staged leaf capacity.
func (d *Diff) Grow() {
	d.nLeaves *= 2
}

// Shrink halves the diff's staged leaf capacity iff every leaf in the
// upper half (reading through pending edits) is blank.
func (d *Diff) Shrink() error {
	half := d.nLeaves / 2
	if half == 0 {
		return ErrNotShrinkable
	}
	for i := half; i < d.nLeaves; i++ {
		if d.Leaf(treemath.LeafIndex(i)) != nil {
			return ErrNotShrinkable
		}
	}
	d.nLeaves = half
	return nil
}

// BlankPath stages a blanking of every parent on leaf's direct path.
func (d *Diff) BlankPath(leaf treemath.LeafIndex) error {
	path, err := treemath.DirectPath(leaf.ToNodeIndex(), d.nLeaves)
	if err != nil {
		return err
	}
	for _, n := range path {
		if pi, perr := n.AsParentIndex(); perr == nil {
			d.ReplaceParent(pi, nil)
		}
	}
	return nil
}

// SetDirectPath stages a replacement of every parent node on leaf's
// direct path, in ascending (leaf-to-root) order, with pathNodes.
func (d *Diff) SetDirectPath(leaf treemath.LeafIndex, pathNodes []*ParentNode) error {
	path, err := treemath.DirectPath(leaf.ToNodeIndex(), d.nLeaves)
	if err != nil {
		return err
	}
	if len(path) != len(pathNodes) {
		return ErrPathLengthMismatch
	}
	for k, n := range path {
		pi, perr := n.AsParentIndex()
		if perr != nil {
			return perr
		}
		d.ReplaceParent(pi, pathNodes[k])
	}
	return nil
}

// Staged is an immutable, frozen snapshot of a diff's pending edits,
// ready to be merged into a tree.
type Staged struct {
	generation  uint64
	nLeaves     uint32
	leafEdits   map[uint32]*credential.LeafNode
	parentEdits map[uint32]*ParentNode
}

// Stage freezes d. The diff itself should not be used again after this
// call; only the returned Staged bundle is merge-able.
func (d *Diff) Stage() *Staged {
	return &Staged{
		generation:  d.generation,
		nLeaves:     d.nLeaves,
		leafEdits:   d.leafEdits,
		parentEdits: d.parentEdits,
	}
}

// Merge atomically installs a staged bundle into t, invalidating every
// other outstanding diff against t's previous generation. Fails with
// ErrStaleDiff if s was staged against a generation of t that has since
// been superseded by another merge.
func (t *Tree) Merge(s *Staged) error {
	if s.generation != t.generation {
		return ErrStaleDiff
	}

	if s.nLeaves > uint32(len(t.leaves)) {
		grown := make([]*credential.LeafNode, s.nLeaves)
		copy(grown, t.leaves)
		t.leaves = grown
		grownParents := make([]*ParentNode, s.nLeaves-1)
		copy(grownParents, t.parents)
		t.parents = grownParents
	} else if s.nLeaves < uint32(len(t.leaves)) {
		t.leaves = t.leaves[:s.nLeaves]
		if s.nLeaves == 0 {
			t.parents = nil
		} else {
			t.parents = t.parents[:s.nLeaves-1]
		}
	}
	t.nLeaves = s.nLeaves

	for i, ln := range s.leafEdits {
		if i < uint32(len(t.leaves)) {
			t.leaves[i] = ln
		}
	}
	for i, pn := range s.parentEdits {
		if i < uint32(len(t.parents)) {
			t.parents[i] = pn
		}
	}
	t.generation++
	return nil
}
