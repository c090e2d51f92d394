package ratchettree

import "github.com/kindlyrobotics/nochat-mls/treemath"

// Resolution computes the resolution of node x within a tree of nLeaves
// leaves, per §4.7: a non-blank node resolves to itself; a blank node
// resolves to the concatenation of its children's resolutions; a
// non-blank parent additionally contributes one entry per unmerged leaf,
// since those leaves joined below it since its last refresh and are not
// covered by its own encryption key.
func Resolution(v View, nLeaves uint32, x treemath.NodeIndex) ([]treemath.NodeIndex, error) {
	if x.IsLeaf() {
		li, err := x.AsLeafIndex()
		if err != nil {
			return nil, err
		}
		if v.Leaf(li) != nil {
			return []treemath.NodeIndex{x}, nil
		}
		return nil, nil
	}

	pi, err := x.AsParentIndex()
	if err != nil {
		return nil, err
	}
	if pn := v.Parent(pi); pn != nil {
		res := []treemath.NodeIndex{x}
		for _, leafIdx := range pn.UnmergedLeaves {
			res = append(res, treemath.LeafIndex(leafIdx).ToNodeIndex())
		}
		return res, nil
	}

	left, err := treemath.Left(x)
	if err != nil {
		return nil, err
	}
	right, err := treemath.Right(x, nLeaves)
	if err != nil {
		return nil, err
	}
	lRes, err := Resolution(v, nLeaves, left)
	if err != nil {
		return nil, err
	}
	rRes, err := Resolution(v, nLeaves, right)
	if err != nil {
		return nil, err
	}
	return append(lRes, rRes...), nil
}

// FilteredDirectPath returns leaf's direct path with any node whose
// *copath* resolution (at the matching position) is empty removed: a
// node contributes no ciphertext when nobody sits in the copath subtree
// to encrypt its path secret to. The sender's own leaf is always present
// on every direct-path node's resolution, so filtering on a node's own
// resolution would never remove anything — the copath is what actually
// determines ciphertext count, matching "its length equals the number of
// ciphertexts produced" in the component design.
func FilteredDirectPath(v View, nLeaves uint32, leaf treemath.LeafIndex) ([]treemath.NodeIndex, error) {
	filtered, _, err := FilteredDirectPathAndCopath(v, nLeaves, leaf)
	return filtered, err
}

// FilteredDirectPathAndCopath is FilteredDirectPath plus the copath entry
// that survives alongside each kept direct-path node, in the same order —
// exactly the per-level (node, resolution-to-encrypt-to) pairing TreeKEM's
// path encryption needs.
func FilteredDirectPathAndCopath(v View, nLeaves uint32, leaf treemath.LeafIndex) (path, copath []treemath.NodeIndex, err error) {
	fullPath, err := treemath.DirectPath(leaf.ToNodeIndex(), nLeaves)
	if err != nil {
		return nil, nil, err
	}
	fullCopath, err := treemath.Copath(leaf.ToNodeIndex(), nLeaves)
	if err != nil {
		return nil, nil, err
	}
	for i, n := range fullPath {
		res, err := Resolution(v, nLeaves, fullCopath[i])
		if err != nil {
			return nil, nil, err
		}
		if len(res) > 0 {
			path = append(path, n)
			copath = append(copath, fullCopath[i])
		}
	}
	return path, copath, nil
}
