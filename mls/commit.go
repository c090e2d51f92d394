package mls

import (
	"bytes"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/keypackage"
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/treekem"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Commit is the message a committer broadcasts after AddMember,
// RemoveMember or Update: the membership changes it applies plus the
// TreeKEM update path that refreshes every affected ancestor and the
// committer's own leaf.
//
// Path is always present, never nil, on a Commit this package produces —
// an "always-path" policy, simpler than RFC 9420's conditional
// path-required rule and harmless here since every commit in this
// implementation also refreshes the committer's own leaf.
type Commit struct {
	Sender          treemath.LeafIndex
	Epoch           uint64
	Adds            []keypackage.KeyPackage
	Removes         []treemath.LeafIndex
	Path            *treekem.UpdatePath
	ConfirmationTag []byte
}

func writeCommitBody(e *wire.Encoder, c *Commit) error {
	e.WriteUint32(uint32(c.Sender))
	e.WriteUint64(c.Epoch)
	if err := wire.EncodeVector(e, wire.Len32, c.Adds, func(e *wire.Encoder, kp keypackage.KeyPackage) error {
		return kp.MarshalWire(e)
	}); err != nil {
		return err
	}
	if err := wire.EncodeVector(e, wire.Len32, c.Removes, func(e *wire.Encoder, li treemath.LeafIndex) error {
		e.WriteUint32(uint32(li))
		return nil
	}); err != nil {
		return err
	}
	if c.Path == nil {
		e.WriteUint8(0)
		return nil
	}
	e.WriteUint8(1)
	return c.Path.MarshalWire(e)
}

// encodeCommitBody encodes everything about a commit except its
// confirmation tag — the commitContent folded into the confirmed
// transcript hash, per §4.9's "tag is computed over, not included in,
// the hashed content" ordering.
func encodeCommitBody(c *Commit) ([]byte, error) {
	e := wire.NewEncoder()
	if err := writeCommitBody(e, c); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// MarshalWire encodes a Commit, tag included.
func (c *Commit) MarshalWire(e *wire.Encoder) error {
	if err := writeCommitBody(e, c); err != nil {
		return err
	}
	return e.WriteVarBytes(wire.Len8, c.ConfirmationTag)
}

// UnmarshalWire decodes a Commit, tag included.
func (c *Commit) UnmarshalWire(d *wire.Decoder) error {
	sender, err := d.ReadUint32()
	if err != nil {
		return err
	}
	epoch, err := d.ReadUint64()
	if err != nil {
		return err
	}
	adds, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) (keypackage.KeyPackage, error) {
		var kp keypackage.KeyPackage
		err := kp.UnmarshalWire(d)
		return kp, err
	})
	if err != nil {
		return err
	}
	removes, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) (treemath.LeafIndex, error) {
		v, err := d.ReadUint32()
		return treemath.LeafIndex(v), err
	})
	if err != nil {
		return err
	}
	hasPath, err := d.ReadUint8()
	if err != nil {
		return err
	}
	var path *treekem.UpdatePath
	if hasPath != 0 {
		path = &treekem.UpdatePath{}
		if err := path.UnmarshalWire(d); err != nil {
			return err
		}
	}
	tag, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return err
	}

	c.Sender = treemath.LeafIndex(sender)
	c.Epoch = epoch
	c.Adds = adds
	c.Removes = removes
	c.Path = path
	c.ConfirmationTag = tag
	return nil
}

// freshLeafTemplate builds the committer's refreshed leaf: a new
// encryption and signature key pair over the member's existing
// credential, capabilities and extensions. Every commit this package
// produces churns the committer's own leaf, not just the interior nodes
// on its path — a simplification relative to RFC 9420, where an
// update-path-carrying commit need not replace the sender's own leaf
// keys beyond what GeneratePath already requires.
func freshLeafTemplate(g *Group) (template credential.LeafNode, encPriv, sigPriv []byte, err error) {
	current := g.tree.Leaf(g.ownLeafIndex)
	if current == nil {
		return credential.LeafNode{}, nil, nil, ErrUnknownLeaf
	}
	encKP, err := g.cs.HPKEGenerateKeyPair()
	if err != nil {
		return credential.LeafNode{}, nil, nil, err
	}
	sigPub, sigPriv, err := g.cs.GenerateSignatureKeyPair()
	if err != nil {
		return credential.LeafNode{}, nil, nil, err
	}
	template = credential.LeafNode{
		EncryptionKey: encKP.Public,
		SignatureKey:  sigPub,
		Credential:    current.Credential,
		Capabilities:  current.Capabilities,
		Extensions:    current.Extensions,
	}
	return template, encKP.Private, sigPriv, nil
}

// installFilteredPath writes parentNodes into d at the node positions
// TreeKEM actually produced them for — the filtered direct path of
// sender, which (unlike the full direct path Diff.SetDirectPath expects)
// skips any ancestor whose matching copath resolution was empty. d must
// be in the same state GeneratePath/ApplyPath saw when they computed
// parentNodes, or the filtering would disagree.
func installFilteredPath(d *ratchettree.Diff, nLeaves uint32, sender treemath.LeafIndex, parentNodes []*ratchettree.ParentNode) error {
	filteredPath, _, err := ratchettree.FilteredDirectPathAndCopath(d, nLeaves, sender)
	if err != nil {
		return err
	}
	if len(filteredPath) != len(parentNodes) {
		return ratchettree.ErrPathLengthMismatch
	}
	for k, n := range filteredPath {
		pi, err := n.AsParentIndex()
		if err != nil {
			return err
		}
		d.ReplaceParent(pi, parentNodes[k])
	}
	return nil
}

func leafEncryptionKeyInUse(v ratchettree.View, nLeaves uint32, encKey []byte) bool {
	for i := uint32(0); i < nLeaves; i++ {
		if ln := v.Leaf(treemath.LeafIndex(i)); ln != nil && bytes.Equal(ln.EncryptionKey, encKey) {
			return true
		}
	}
	return false
}

// commitSelf stages adds and removes, refreshes the committer's own leaf
// and TreeKEM path over the result, derives the new epoch, and — only
// once every derivation has succeeded — merges the diff and installs the
// new epoch into g. addIndices reports the leaf each entry of adds landed
// on, in the same order. pskSecret is the optional resumption/external PSK
// input (nil for the all-zero default every plain commit uses).
func (g *Group) commitSelf(adds []keypackage.KeyPackage, removes []treemath.LeafIndex, pskSecret []byte) (*Commit, []treemath.LeafIndex, error) {
	d := g.tree.Diff()

	for _, li := range removes {
		if g.tree.Leaf(li) == nil {
			return nil, nil, ErrUnknownLeaf
		}
		d.ReplaceLeaf(li, nil)
		if err := d.BlankPath(li); err != nil {
			return nil, nil, err
		}
	}

	addIndices := make([]treemath.LeafIndex, len(adds))
	for i, kp := range adds {
		if err := kp.Verify(g.cs); err != nil {
			return nil, nil, err
		}
		if err := credential.VerifyCapabilities(kp.LeafNode.Capabilities, g.cs.ID(), kp.ProtocolVersion); err != nil {
			return nil, nil, ErrInvalidCapability
		}
		if leafEncryptionKeyInUse(d, d.NLeaves(), kp.LeafNode.EncryptionKey) {
			return nil, nil, ErrReusedKeyPackage
		}
		idx, ok := firstBlankLeaf(d)
		if !ok {
			d.Grow()
			idx, ok = firstBlankLeaf(d)
			if !ok {
				return nil, nil, ErrNoRoomForMember
			}
		}
		d.ReplaceLeaf(idx, &kp.LeafNode)
		addIndices[i] = idx
	}

	ctxBefore, err := groupContextBytes(g.cs, g.groupID, g.epoch, g.tree, g.tree.NLeaves())
	if err != nil {
		return nil, nil, err
	}

	template, encPriv, sigPriv, err := freshLeafTemplate(g)
	if err != nil {
		return nil, nil, err
	}

	gen, err := treekem.GeneratePath(g.cs, d, d.NLeaves(), g.ownLeafIndex, g.groupID, ctxBefore, sigPriv, template)
	if err != nil {
		return nil, nil, err
	}

	if err := installFilteredPath(d, d.NLeaves(), g.ownLeafIndex, gen.ParentNodes); err != nil {
		return nil, nil, err
	}
	d.ReplaceLeaf(g.ownLeafIndex, &gen.Path.LeafNode)

	commit := &Commit{
		Sender:  g.ownLeafIndex,
		Epoch:   g.epoch,
		Adds:    adds,
		Removes: removes,
		Path:    gen.Path,
	}
	commitContent, err := encodeCommitBody(commit)
	if err != nil {
		return nil, nil, err
	}

	newEpoch := g.epoch + 1
	epochCtx, err := groupContextBytes(g.cs, g.groupID, newEpoch, d, d.NLeaves())
	if err != nil {
		return nil, nil, err
	}

	derived, err := deriveEpoch(g.cs, g.initSecret, gen.CommitSecret, pskSecret, commitContent, g.interimTranscriptHash, epochCtx, newEpoch)
	if err != nil {
		return nil, nil, err
	}

	if err := g.tree.Merge(d.Stage()); err != nil {
		return nil, nil, err
	}
	g.applyDerivedEpoch(derived)
	g.ownEncPriv = encPriv
	g.ownSigPriv = sigPriv

	commit.ConfirmationTag = derived.confirmationTag
	return commit, addIndices, nil
}

// AddMember adds memberKP's owner to g: a Commit for the existing
// membership to process, and a Welcome only its new member can open.
func AddMember(g *Group, memberKP *keypackage.KeyPackage) (*Welcome, *Commit, error) {
	return AddMemberWithPSK(g, memberKP, nil)
}

// AddMemberWithPSK is AddMember with an explicit resumption/external PSK
// input folded into the new epoch's key schedule — see the resumption PSK
// slot's documentation on deriveEpoch.
func AddMemberWithPSK(g *Group, memberKP *keypackage.KeyPackage, pskSecret []byte) (*Welcome, *Commit, error) {
	commit, addIndices, err := g.commitSelf([]keypackage.KeyPackage{*memberKP}, nil, pskSecret)
	if err != nil {
		return nil, nil, err
	}
	welcome, err := buildWelcome(g, addIndices[0], memberKP.InitKey)
	if err != nil {
		return nil, nil, err
	}
	return welcome, commit, nil
}

// RemoveMember removes the member at leafIndex from g, producing a
// Commit for the remaining membership to process.
func RemoveMember(g *Group, leafIndex treemath.LeafIndex) (*Commit, error) {
	return RemoveMemberWithPSK(g, leafIndex, nil)
}

// RemoveMemberWithPSK is RemoveMember with an explicit resumption/external
// PSK input; see AddMemberWithPSK.
func RemoveMemberWithPSK(g *Group, leafIndex treemath.LeafIndex, pskSecret []byte) (*Commit, error) {
	commit, _, err := g.commitSelf(nil, []treemath.LeafIndex{leafIndex}, pskSecret)
	return commit, err
}

// Update refreshes the caller's own leaf and TreeKEM path without
// changing group membership, producing a Commit for the rest of the
// group to process.
func Update(g *Group) (*Commit, error) {
	return UpdateWithPSK(g, nil)
}

// UpdateWithPSK is Update with an explicit resumption/external PSK input;
// see AddMemberWithPSK.
func UpdateWithPSK(g *Group, pskSecret []byte) (*Commit, error) {
	commit, _, err := g.commitSelf(nil, nil, pskSecret)
	return commit, err
}

// ProcessCommit applies a Commit authored by a different member: it
// mirrors the membership changes, decrypts the TreeKEM path at the
// caller's own position, verifies the confirmation tag, and only then
// installs the new epoch.
func ProcessCommit(g *Group, commit *Commit) error {
	return ProcessCommitWithPSK(g, commit, nil)
}

// ProcessCommitWithPSK is ProcessCommit with an explicit resumption/external
// PSK input; the value must match whatever the committer supplied to
// AddMemberWithPSK/RemoveMemberWithPSK/UpdateWithPSK or the confirmation
// tag check below fails.
func ProcessCommitWithPSK(g *Group, commit *Commit, pskSecret []byte) error {
	if commit.Sender == g.ownLeafIndex {
		return ErrSelfCommit
	}
	if commit.Epoch != g.epoch {
		return ErrEpochMismatch
	}

	d := g.tree.Diff()

	for _, li := range commit.Removes {
		if g.tree.Leaf(li) == nil {
			return ErrUnknownLeaf
		}
		d.ReplaceLeaf(li, nil)
		if err := d.BlankPath(li); err != nil {
			return err
		}
	}
	for _, kp := range commit.Adds {
		if err := kp.Verify(g.cs); err != nil {
			return err
		}
		if err := credential.VerifyCapabilities(kp.LeafNode.Capabilities, g.cs.ID(), kp.ProtocolVersion); err != nil {
			return ErrInvalidCapability
		}
		idx, ok := firstBlankLeaf(d)
		if !ok {
			d.Grow()
			idx, ok = firstBlankLeaf(d)
			if !ok {
				return ErrNoRoomForMember
			}
		}
		d.ReplaceLeaf(idx, &kp.LeafNode)
	}

	ctxBefore, err := groupContextBytes(g.cs, g.groupID, g.epoch, g.tree, g.tree.NLeaves())
	if err != nil {
		return err
	}

	ownNode := g.ownLeafIndex.ToNodeIndex()
	applied, err := treekem.ApplyPath(g.cs, d, d.NLeaves(), commit.Sender, commit.Path, ctxBefore, ownNode, g.ownEncPriv)
	if err != nil {
		return err
	}

	if err := installFilteredPath(d, d.NLeaves(), commit.Sender, applied.ParentNodes); err != nil {
		return err
	}
	d.ReplaceLeaf(commit.Sender, &commit.Path.LeafNode)

	commitContent, err := encodeCommitBody(commit)
	if err != nil {
		return err
	}

	newEpoch := commit.Epoch + 1
	epochCtx, err := groupContextBytes(g.cs, g.groupID, newEpoch, d, d.NLeaves())
	if err != nil {
		return err
	}

	derived, err := deriveEpoch(g.cs, g.initSecret, applied.CommitSecret, pskSecret, commitContent, g.interimTranscriptHash, epochCtx, newEpoch)
	if err != nil {
		return err
	}
	if !bytes.Equal(derived.confirmationTag, commit.ConfirmationTag) {
		return ErrConfirmationTag
	}

	if err := g.tree.Merge(d.Stage()); err != nil {
		return err
	}
	g.applyDerivedEpoch(derived)
	return nil
}
