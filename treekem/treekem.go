// Package treekem implements the TreeKEM path-update ratchet (C7): the
// path-secret chain, per-node key-pair derivation, path encryption to
// copath resolutions via HPKE, and path application on the receiving
// side. This is the hardest subsystem in the specification this package
// implements — forward secrecy and post-compromise security for the
// group's key material both flow from it.
package treekem

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Errors matching the TreeKEM failure taxonomy in the specification's
// §4.7.
var (
	ErrBlankSenderLeaf           = errors.New("treekem: sender's own leaf is blank")
	ErrNoPathOverlap             = errors.New("treekem: no overlap between sender's filtered path and receiver's direct path")
	ErrCiphertextCountMismatch   = errors.New("treekem: ciphertext count does not match copath resolution size")
	ErrHpkeOpenFailure           = errors.New("treekem: hpke open failed")
	ErrHpkeSealFailure           = errors.New("treekem: hpke seal failed")
	ErrTreeKEMDerivationMismatch = errors.New("treekem: derived public key does not match transmitted update path")
	ErrInvalidParentHash         = errors.New("treekem: parent hash chain does not verify")
)

// UpdatePathNode is one entry of an UpdatePath: the new encryption key
// and parent hash for a single node on the filtered direct path, plus
// one HPKE-sealed copy of the next path secret per member of that node's
// copath resolution.
type UpdatePathNode struct {
	EncryptionKey        []byte
	ParentHash           []byte
	EncryptedPathSecrets []suite.HPKESealed
}

// UpdatePath is the payload a commit carries: the committer's freshly
// signed leaf (source Commit) plus one UpdatePathNode per entry of its
// filtered direct path, ascending from the leaf toward the root.
type UpdatePath struct {
	LeafNode credential.LeafNode
	Nodes    []UpdatePathNode
}

// Generated bundles everything GeneratePath produces beyond the wire
// payload: the new parent nodes to splice into the tree (same order as
// UpdatePath.Nodes) and the commit_secret to feed into the key schedule.
type Generated struct {
	Path         *UpdatePath
	ParentNodes  []*ratchettree.ParentNode
	CommitSecret []byte
}

// GeneratePath implements §4.7's sender-side update-path construction.
// leafTemplate supplies the encryption/signature keys, credential,
// capabilities and extensions for the committer's refreshed leaf; its
// Source, ParentHash and Signature fields are overwritten here.
func GeneratePath(cs suite.CipherSuite, v ratchettree.View, nLeaves uint32, sender treemath.LeafIndex, groupID []byte, groupContext []byte, sigPriv []byte, leafTemplate credential.LeafNode) (*Generated, error) {
	if v.Leaf(sender) == nil {
		return nil, ErrBlankSenderLeaf
	}

	path, copath, err := ratchettree.FilteredDirectPathAndCopath(v, nLeaves, sender)
	if err != nil {
		return nil, err
	}
	L := len(path)

	nh := cs.Nh()
	commitSecret := make([]byte, nh)

	parentNodes := make([]*ratchettree.ParentNode, L)
	nodes := make([]UpdatePathNode, L)

	if L > 0 {
		pathSecrets := make([][]byte, L+1)
		pathSecrets[0], err = randomBytes(nh)
		if err != nil {
			return nil, err
		}

		for k := 0; k < L; k++ {
			nodeSecret, err := cs.ExpandWithLabel(pathSecrets[k], "node", nil, nh)
			if err != nil {
				return nil, err
			}
			kp, err := cs.HPKEDeriveKeyPair(nodeSecret)
			if err != nil {
				return nil, err
			}
			parentNodes[k] = &ratchettree.ParentNode{EncryptionKey: kp.Public}

			pathSecrets[k+1], err = cs.ExpandWithLabel(pathSecrets[k], "path", nil, nh)
			if err != nil {
				return nil, err
			}
		}

		if err := ratchettree.ComputeParentHashChain(cs, parentNodes); err != nil {
			return nil, err
		}

		for k := 0; k < L; k++ {
			resolution, err := ratchettree.Resolution(v, nLeaves, copath[k])
			if err != nil {
				return nil, err
			}
			sealed := make([]suite.HPKESealed, len(resolution))
			for i, member := range resolution {
				pub, err := ratchettree.PublicKeyAt(v, member)
				if err != nil {
					return nil, err
				}
				sealed[i], err = cs.HPKESeal(pub, groupContext, nil, pathSecrets[k+1])
				if err != nil {
					return nil, fmt.Errorf("%w: %v", ErrHpkeSealFailure, err)
				}
			}
			nodes[k] = UpdatePathNode{
				EncryptionKey:        parentNodes[k].EncryptionKey,
				ParentHash:           parentNodes[k].ParentHash,
				EncryptedPathSecrets: sealed,
			}
		}

		commitSecret, err = cs.ExpandWithLabel(pathSecrets[L], "path", nil, nh)
		if err != nil {
			return nil, err
		}
	}

	leafTemplate.Source = credential.SourceCommit
	if L > 0 {
		leafTemplate.ParentHash, err = ratchettree.ParentHashValueOf(cs, parentNodes[0])
		if err != nil {
			return nil, err
		}
	} else {
		leafTemplate.ParentHash = nil
	}
	if err := leafTemplate.Sign(cs, sigPriv, groupID, uint32(sender)); err != nil {
		return nil, err
	}

	return &Generated{
		Path:         &UpdatePath{LeafNode: leafTemplate, Nodes: nodes},
		ParentNodes:  parentNodes,
		CommitSecret: commitSecret,
	}, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Applied bundles ApplyPath's results: the parent nodes to splice into
// the receiver's tree (same order/positions as the sender's filtered
// path) and the commit_secret, which must equal the sender's.
type Applied struct {
	ParentNodes  []*ratchettree.ParentNode
	CommitSecret []byte
}

// ApplyPath implements §4.7's receiver-side path application. receiver
// is the node (the receiving member's own leaf, or an ancestor parent
// whose private key the member separately holds from an earlier commit)
// whose private key receiverPriv can open one of up's ciphertexts.
func ApplyPath(cs suite.CipherSuite, v ratchettree.View, nLeaves uint32, sender treemath.LeafIndex, up *UpdatePath, groupContext []byte, receiver treemath.NodeIndex, receiverPriv []byte) (*Applied, error) {
	path, copath, err := ratchettree.FilteredDirectPathAndCopath(v, nLeaves, sender)
	if err != nil {
		return nil, err
	}
	if len(up.Nodes) != len(path) {
		return nil, fmt.Errorf("%w: got %d update-path nodes, want %d", ErrCiphertextCountMismatch, len(up.Nodes), len(path))
	}
	L := len(path)
	if L == 0 {
		return &Applied{CommitSecret: make([]byte, cs.Nh())}, nil
	}

	receiverDirectPath, err := treemath.DirectPath(receiver, nLeaves)
	if err != nil {
		return nil, err
	}
	onReceiverPath := func(n treemath.NodeIndex) bool {
		if n == receiver {
			return true
		}
		for _, r := range receiverDirectPath {
			if r == n {
				return true
			}
		}
		return false
	}

	overlap := -1
	for i, n := range path {
		if onReceiverPath(n) {
			overlap = i
			break
		}
	}
	if overlap == -1 {
		return nil, ErrNoPathOverlap
	}

	resolution, err := ratchettree.Resolution(v, nLeaves, copath[overlap])
	if err != nil {
		return nil, err
	}
	pos := -1
	for i, member := range resolution {
		if member == receiver {
			pos = i
			break
		}
	}
	if pos == -1 {
		return nil, ErrNoPathOverlap
	}
	sealedList := up.Nodes[overlap].EncryptedPathSecrets
	if pos >= len(sealedList) {
		return nil, fmt.Errorf("%w: resolution position %d, have %d ciphertexts", ErrCiphertextCountMismatch, pos, len(sealedList))
	}

	secret, err := cs.HPKEOpen(receiverPriv, sealedList[pos], groupContext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHpkeOpenFailure, err)
	}

	nh := cs.Nh()
	for m := overlap + 1; m < L; m++ {
		nodeSecret, err := cs.ExpandWithLabel(secret, "node", nil, nh)
		if err != nil {
			return nil, err
		}
		kp, err := cs.HPKEDeriveKeyPair(nodeSecret)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(kp.Public, up.Nodes[m].EncryptionKey) {
			return nil, ErrTreeKEMDerivationMismatch
		}
		secret, err = cs.ExpandWithLabel(secret, "path", nil, nh)
		if err != nil {
			return nil, err
		}
	}

	commitSecret, err := cs.ExpandWithLabel(secret, "path", nil, nh)
	if err != nil {
		return nil, err
	}

	parentNodes := make([]*ratchettree.ParentNode, L)
	for k := 0; k < L; k++ {
		parentNodes[k] = &ratchettree.ParentNode{
			EncryptionKey: up.Nodes[k].EncryptionKey,
			ParentHash:    up.Nodes[k].ParentHash,
		}
	}
	if err := verifyParentHashChain(cs, parentNodes); err != nil {
		return nil, err
	}

	return &Applied{ParentNodes: parentNodes, CommitSecret: commitSecret}, nil
}

func verifyParentHashChain(cs suite.CipherSuite, nodes []*ratchettree.ParentNode) error {
	n := len(nodes)
	if n == 0 {
		return nil
	}
	if len(nodes[n-1].ParentHash) != 0 {
		return ErrInvalidParentHash
	}
	for k := 0; k < n-1; k++ {
		ok, err := ratchettree.VerifyParentHash(cs, nodes[k], nodes[k+1])
		if err != nil {
			return err
		}
		if !ok {
			return ErrInvalidParentHash
		}
	}
	return nil
}

// MarshalWire encodes an UpdatePath.
func (up *UpdatePath) MarshalWire(e *wire.Encoder) error {
	if err := up.LeafNode.MarshalWire(e); err != nil {
		return err
	}
	return wire.EncodeVector(e, wire.Len32, up.Nodes, func(e *wire.Encoder, n UpdatePathNode) error {
		if err := e.WriteVarBytes(wire.Len16, n.EncryptionKey); err != nil {
			return err
		}
		if err := e.WriteVarBytes(wire.Len8, n.ParentHash); err != nil {
			return err
		}
		return wire.EncodeVector(e, wire.Len16, n.EncryptedPathSecrets, func(e *wire.Encoder, s suite.HPKESealed) error {
			if err := e.WriteVarBytes(wire.Len16, s.Enc); err != nil {
				return err
			}
			return e.WriteVarBytes(wire.Len32, s.Ciphertext)
		})
	})
}

// UnmarshalWire decodes an UpdatePath.
func (up *UpdatePath) UnmarshalWire(d *wire.Decoder) error {
	var leaf credential.LeafNode
	if err := leaf.UnmarshalWire(d); err != nil {
		return err
	}
	nodes, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) (UpdatePathNode, error) {
		encKey, err := d.ReadVarBytes(wire.Len16)
		if err != nil {
			return UpdatePathNode{}, err
		}
		parentHash, err := d.ReadVarBytes(wire.Len8)
		if err != nil {
			return UpdatePathNode{}, err
		}
		sealed, err := wire.DecodeVector(d, wire.Len16, func(d *wire.Decoder) (suite.HPKESealed, error) {
			enc, err := d.ReadVarBytes(wire.Len16)
			if err != nil {
				return suite.HPKESealed{}, err
			}
			ct, err := d.ReadVarBytes(wire.Len32)
			if err != nil {
				return suite.HPKESealed{}, err
			}
			return suite.HPKESealed{Enc: enc, Ciphertext: ct}, nil
		})
		if err != nil {
			return UpdatePathNode{}, err
		}
		return UpdatePathNode{EncryptionKey: encKey, ParentHash: parentHash, EncryptedPathSecrets: sealed}, nil
	})
	if err != nil {
		return err
	}
	up.LeafNode = leaf
	up.Nodes = nodes
	return nil
}
