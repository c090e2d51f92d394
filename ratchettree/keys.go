package ratchettree

import (
	"errors"

	"github.com/kindlyrobotics/nochat-mls/treemath"
)

// ErrBlankNode is returned by PublicKeyAt when x has no content to read a
// key from.
var ErrBlankNode = errors.New("ratchettree: node is blank")

// PublicKeyAt returns the HPKE encryption public key carried at node x,
// whether x is a leaf or a parent.
func PublicKeyAt(v View, x treemath.NodeIndex) ([]byte, error) {
	if x.IsLeaf() {
		li, err := x.AsLeafIndex()
		if err != nil {
			return nil, err
		}
		ln := v.Leaf(li)
		if ln == nil {
			return nil, ErrBlankNode
		}
		return ln.EncryptionKey, nil
	}
	pi, err := x.AsParentIndex()
	if err != nil {
		return nil, err
	}
	pn := v.Parent(pi)
	if pn == nil {
		return nil, ErrBlankNode
	}
	return pn.EncryptionKey, nil
}
