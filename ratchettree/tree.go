// Package ratchettree implements the left-balanced binary tree that backs
// TreeKEM: an array of optional leaf and parent nodes indexed by the
// treemath package, plus a staged-diff layer for atomic structural edits
// (C4 in the specification this implements).
//
// Nodes reference each other only by index, never by pointer, so a diff
// is nothing more than two index-to-node mappings layered over a base
// tree — there is no ownership cycle to manage.
package ratchettree

import (
	"errors"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/treemath"
)

// Errors surfaced by this package.
var (
	ErrNotShrinkable      = errors.New("ratchettree: upper half of tree is not entirely blank")
	ErrStaleDiff          = errors.New("ratchettree: diff was created against an outdated tree generation")
	ErrPathLengthMismatch = errors.New("ratchettree: path node count does not match direct path length")
)

// ParentNode is the content of a non-blank interior tree position.
type ParentNode struct {
	EncryptionKey  []byte
	ParentHash     []byte
	UnmergedLeaves []uint32
}

func (p *ParentNode) clone() *ParentNode {
	if p == nil {
		return nil
	}
	cp := &ParentNode{
		EncryptionKey: append([]byte(nil), p.EncryptionKey...),
		ParentHash:    append([]byte(nil), p.ParentHash...),
	}
	cp.UnmergedLeaves = append([]uint32(nil), p.UnmergedLeaves...)
	return cp
}

// View is the read surface shared by Tree and Diff, so that resolution
// and hashing logic can operate uniformly over either a committed tree
// or an in-flight staged edit.
type View interface {
	NLeaves() uint32
	Leaf(i treemath.LeafIndex) *credential.LeafNode
	Parent(i treemath.ParentIndex) *ParentNode
}

// Tree is the committed, mutable-between-merges backing store.
type Tree struct {
	nLeaves    uint32
	leaves     []*credential.LeafNode
	parents    []*ParentNode
	generation uint64
}

// New returns a tree of nLeaves entirely blank positions. nLeaves must be
// a power of two and at least 1.
func New(nLeaves uint32) *Tree {
	parentSlots := uint32(0)
	if nLeaves > 0 {
		parentSlots = nLeaves - 1
	}
	return &Tree{
		nLeaves: nLeaves,
		leaves:  make([]*credential.LeafNode, nLeaves),
		parents: make([]*ParentNode, parentSlots),
	}
}

func (t *Tree) NLeaves() uint32 { return t.nLeaves }

func (t *Tree) Leaf(i treemath.LeafIndex) *credential.LeafNode {
	if uint32(i) >= t.nLeaves {
		return nil
	}
	return t.leaves[i]
}

func (t *Tree) Parent(i treemath.ParentIndex) *ParentNode {
	if uint32(i) >= uint32(len(t.parents)) {
		return nil
	}
	return t.parents[i]
}

// BlankPath blanks every parent node on leaf's direct path (§4.4).
func (t *Tree) BlankPath(leaf treemath.LeafIndex) error {
	path, err := treemath.DirectPath(leaf.ToNodeIndex(), t.nLeaves)
	if err != nil {
		return err
	}
	for _, n := range path {
		if pi, perr := n.AsParentIndex(); perr == nil {
			t.parents[pi] = nil
		}
	}
	return nil
}

// Grow doubles leaf capacity, preserving existing contents and filling
// the new half with blanks. It is the only way to exceed current
// capacity.
func (t *Tree) Grow() {
	newN := t.nLeaves * 2
	newLeaves := make([]*credential.LeafNode, newN)
	copy(newLeaves, t.leaves)
	newParents := make([]*ParentNode, newN-1)
	copy(newParents, t.parents)
	t.leaves = newLeaves
	t.parents = newParents
	t.nLeaves = newN
}

// Shrink halves leaf capacity iff every leaf in the upper half is blank.
func (t *Tree) Shrink() error {
	half := t.nLeaves / 2
	if half == 0 {
		return ErrNotShrinkable
	}
	for i := half; i < t.nLeaves; i++ {
		if t.leaves[i] != nil {
			return ErrNotShrinkable
		}
	}
	t.leaves = t.leaves[:half]
	t.parents = t.parents[:half-1]
	t.nLeaves = half
	return nil
}
