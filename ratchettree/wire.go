package ratchettree

import (
	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

func marshalOptionalLeaf(e *wire.Encoder, ln *credential.LeafNode) error {
	if ln == nil {
		e.WriteUint8(0)
		return nil
	}
	e.WriteUint8(1)
	return ln.MarshalWire(e)
}

func unmarshalOptionalLeaf(d *wire.Decoder) (*credential.LeafNode, error) {
	present, err := d.ReadUint8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	var ln credential.LeafNode
	if err := ln.UnmarshalWire(d); err != nil {
		return nil, err
	}
	return &ln, nil
}

func unmarshalOptionalParent(d *wire.Decoder) (*ParentNode, error) {
	present, err := d.ReadUint8()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	encKey, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return nil, err
	}
	parentHash, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return nil, err
	}
	unmerged, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) (uint32, error) { return d.ReadUint32() })
	if err != nil {
		return nil, err
	}
	return &ParentNode{EncryptionKey: encKey, ParentHash: parentHash, UnmergedLeaves: unmerged}, nil
}

// MarshalWire encodes the full tree: leaf count followed by every leaf
// slot then every parent slot, each tagged present/blank, for inclusion in
// the group façade's persisted state.
func (t *Tree) MarshalWire(e *wire.Encoder) error {
	e.WriteUint32(t.nLeaves)
	for _, ln := range t.leaves {
		if err := marshalOptionalLeaf(e, ln); err != nil {
			return err
		}
	}
	for _, pn := range t.parents {
		if err := encodeParentNode(e, pn); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalTree decodes a tree encoded by Tree.MarshalWire.
func UnmarshalTree(d *wire.Decoder) (*Tree, error) {
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	t := New(n)
	for i := uint32(0); i < n; i++ {
		ln, err := unmarshalOptionalLeaf(d)
		if err != nil {
			return nil, err
		}
		t.leaves[i] = ln
	}
	parentSlots := uint32(0)
	if n > 0 {
		parentSlots = n - 1
	}
	for i := uint32(0); i < parentSlots; i++ {
		pn, err := unmarshalOptionalParent(d)
		if err != nil {
			return nil, err
		}
		t.parents[i] = pn
	}
	return t, nil
}
