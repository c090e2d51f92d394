package ratchettree

import (
	"bytes"

	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// node type discriminators for TreeHash, mirroring the leaf/parent split
// the teacher's sparse-Merkle-tree hash functions (internal/transparency
// merkle.go's HashLeaf/HashInternal) make for a fixed-depth tree.
const (
	nodeTypeLeaf   = 0
	nodeTypeParent = 1
)

func encodeParentNode(e *wire.Encoder, pn *ParentNode) error {
	if pn == nil {
		e.WriteUint8(0)
		return nil
	}
	e.WriteUint8(1)
	if err := e.WriteVarBytes(wire.Len16, pn.EncryptionKey); err != nil {
		return err
	}
	if err := e.WriteVarBytes(wire.Len8, pn.ParentHash); err != nil {
		return err
	}
	return wire.EncodeVector(e, wire.Len32, pn.UnmergedLeaves, func(e *wire.Encoder, leaf uint32) error {
		e.WriteUint32(leaf)
		return nil
	})
}

// TreeHash computes the recursive tree hash of the subtree rooted at x,
// per §5.2: a leaf hashes its (presence flag, contents, leaf index); a
// parent hashes its (presence flag, contents, left subtree hash, right
// subtree hash).
func TreeHash(v View, nLeaves uint32, cs suite.CipherSuite, x treemath.NodeIndex) ([]byte, error) {
	if x.IsLeaf() {
		li, err := x.AsLeafIndex()
		if err != nil {
			return nil, err
		}
		e := wire.NewEncoder()
		e.WriteUint8(nodeTypeLeaf)
		ln := v.Leaf(li)
		if ln == nil {
			e.WriteUint8(0)
		} else {
			e.WriteUint8(1)
			if err := ln.MarshalWire(e); err != nil {
				return nil, err
			}
		}
		e.WriteUint32(uint32(li))
		return cs.Hash(e.Bytes()), nil
	}

	pi, err := x.AsParentIndex()
	if err != nil {
		return nil, err
	}
	left, err := treemath.Left(x)
	if err != nil {
		return nil, err
	}
	right, err := treemath.Right(x, nLeaves)
	if err != nil {
		return nil, err
	}
	lh, err := TreeHash(v, nLeaves, cs, left)
	if err != nil {
		return nil, err
	}
	rh, err := TreeHash(v, nLeaves, cs, right)
	if err != nil {
		return nil, err
	}

	e := wire.NewEncoder()
	e.WriteUint8(nodeTypeParent)
	if err := encodeParentNode(e, v.Parent(pi)); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, lh); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, rh); err != nil {
		return nil, err
	}
	return cs.Hash(e.Bytes()), nil
}

// parentHashValue computes Hash(encryption_key || parent_hash ||
// unmerged_leaves) for p, the value the node directly below p in a
// commit's path carries as its own ParentHash field (§5.1).
func parentHashValue(cs suite.CipherSuite, p *ParentNode) ([]byte, error) {
	e := wire.NewEncoder()
	if err := e.WriteVarBytes(wire.Len16, p.EncryptionKey); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, p.ParentHash); err != nil {
		return nil, err
	}
	if err := wire.EncodeVector(e, wire.Len32, p.UnmergedLeaves, func(e *wire.Encoder, leaf uint32) error {
		e.WriteUint32(leaf)
		return nil
	}); err != nil {
		return nil, err
	}
	return cs.Hash(e.Bytes()), nil
}

// ParentHashValueOf computes p's own parent-hash value directly, the same
// quantity the node directly below p on a path carries in its ParentHash
// field. A path's leaf is directly below pathNodesBottomUp[0], so the
// leaf's ParentHash is ParentHashValueOf(pathNodesBottomUp[0]), never
// pathNodesBottomUp[0].ParentHash itself — that field instead holds the
// value computed from pathNodesBottomUp[1].
func ParentHashValueOf(cs suite.CipherSuite, p *ParentNode) ([]byte, error) {
	return parentHashValue(cs, p)
}

// ComputeParentHashChain assigns the ParentHash field of every node in
// pathNodesBottomUp (ordered from the node nearest the updated leaf to
// the node nearest the root), chaining each node's hash toward the one
// above it. The topmost node's ParentHash is the empty byte string, the
// recursion base case for a node whose "parent" is the root.
func ComputeParentHashChain(cs suite.CipherSuite, pathNodesBottomUp []*ParentNode) error {
	n := len(pathNodesBottomUp)
	if n == 0 {
		return nil
	}
	pathNodesBottomUp[n-1].ParentHash = nil
	for k := n - 2; k >= 0; k-- {
		ph, err := parentHashValue(cs, pathNodesBottomUp[k+1])
		if err != nil {
			return err
		}
		pathNodesBottomUp[k].ParentHash = ph
	}
	return nil
}

// VerifyParentHash reports whether child's ParentHash field matches the
// value computed from above, the node directly nearer the root on the
// same path.
func VerifyParentHash(cs suite.CipherSuite, child, above *ParentNode) (bool, error) {
	want, err := parentHashValue(cs, above)
	if err != nil {
		return false, err
	}
	return bytes.Equal(child.ParentHash, want), nil
}
