package mls

import (
	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/keypackage"
	"github.com/kindlyrobotics/nochat-mls/keyschedule"
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Group is a live, in-memory handle on one MLS group: its tree, its
// current-epoch secrets, and the caller's own position and private keys
// within it. A Group is not safe for concurrent use by multiple
// goroutines — the core is single-threaded per the concurrency model this
// package implements; shard at the Group level instead.
type Group struct {
	cs      suite.CipherSuite
	groupID []byte
	epoch   uint64
	tree    *ratchettree.Tree

	confirmedTranscriptHash []byte
	interimTranscriptHash   []byte

	// initSecret is the persisted-state init_secret: the init_secret this
	// epoch's key schedule derived (Epoch.InitSecret), which the *next*
	// commit extracts against as its salt.
	initSecret []byte

	ownLeafIndex treemath.LeafIndex
	ownEncPriv   []byte
	ownSigPriv   []byte

	// epochSecrets is transient: it holds the full derived secret graph
	// for the current epoch (exporter_secret, encryption_secret, and so
	// on), none of which are in the persisted-state list in the external
	// interfaces section. A Group reloaded via Unmarshal has epochSecrets
	// == nil until the next commit it processes re-derives them; only
	// init_secret survives a reload, exactly as that list specifies.
	epochSecrets *keyschedule.Epoch
}

// CreateGroup builds a fresh single-member group: the founder's own
// bundle becomes leaf 0 of a one-leaf tree, and an implicit epoch-0 key
// schedule is derived (commit_secret is the all-zero string, per
// GeneratePath's single-leaf edge case) so the founder can ExportSecret
// immediately without waiting for a first real commit.
func CreateGroup(cs suite.CipherSuite, creatorBundle keypackage.Bundle, groupID []byte) (*Group, error) {
	if creatorBundle.Public.LeafNode.Source != credential.SourceKeyPackage {
		return nil, credential.ErrInvalidSource
	}

	tree := ratchettree.New(1)
	d := tree.Diff()
	leaf := creatorBundle.Public.LeafNode
	d.ReplaceLeaf(0, &leaf)
	if err := tree.Merge(d.Stage()); err != nil {
		return nil, err
	}

	g := &Group{
		cs:           cs,
		groupID:      append([]byte(nil), groupID...),
		tree:         tree,
		ownLeafIndex: 0,
		ownEncPriv:   creatorBundle.EncryptionPrivate,
		ownSigPriv:   creatorBundle.SignaturePrivate,
	}

	priorInitSecret, err := randomBytes(cs.Nh())
	if err != nil {
		return nil, err
	}
	epochCtx, err := groupContextBytes(cs, g.groupID, 0, tree, tree.NLeaves())
	if err != nil {
		return nil, err
	}
	derived, err := deriveEpoch(cs, priorInitSecret, nil, nil, nil, nil, epochCtx, 0)
	if err != nil {
		return nil, err
	}
	g.applyDerivedEpoch(derived)
	return g, nil
}

// derivedEpoch is the pure result of computing one epoch transition:
// nothing about it is installed into a Group until applyDerivedEpoch
// runs, so a caller can verify a commit's confirmation tag against
// derivedEpoch.confirmationTag before ever mutating persisted state.
type derivedEpoch struct {
	epoch                   uint64
	confirmedTranscriptHash []byte
	interimTranscriptHash   []byte
	initSecret              []byte
	secrets                 *keyschedule.Epoch
	confirmationTag         []byte
}

// deriveEpoch computes the key schedule and transcript hash chain for the
// epoch transition described by commitSecret (nil treated as the all-zero
// commit_secret), pskSecret (nil treated as the all-zero resumption/external
// PSK input, the value every commit uses unless a caller opts in) and
// commitContent, rooted in priorInitSecret and priorInterimTranscriptHash.
// epochContext is the group context bound into the key schedule's own
// ExpandWithLabel("epoch", ...) call — see groupContextBytes.
func deriveEpoch(cs suite.CipherSuite, priorInitSecret, commitSecret, pskSecret, commitContent, priorInterimTranscriptHash, epochContext []byte, newEpoch uint64) (*derivedEpoch, error) {
	if commitSecret == nil {
		commitSecret = make([]byte, cs.Nh())
	}
	secrets, err := keyschedule.Advance(cs, priorInitSecret, commitSecret, pskSecret, epochContext)
	if err != nil {
		return nil, err
	}
	confirmed, interim, tag := advanceTranscriptHashes(cs, priorInterimTranscriptHash, commitContent, secrets.ConfirmationKey)
	return &derivedEpoch{
		epoch:                   newEpoch,
		confirmedTranscriptHash: confirmed,
		interimTranscriptHash:   interim,
		initSecret:              secrets.InitSecret,
		secrets:                 secrets,
		confirmationTag:         tag,
	}, nil
}

// applyDerivedEpoch installs a previously computed epoch transition. The
// caller is responsible for merging any accompanying tree diff first (or
// not at all, if the transition is being discarded).
func (g *Group) applyDerivedEpoch(d *derivedEpoch) {
	g.epoch = d.epoch
	g.confirmedTranscriptHash = d.confirmedTranscriptHash
	g.interimTranscriptHash = d.interimTranscriptHash
	g.initSecret = d.initSecret
	g.epochSecrets = d.secrets
}

// CurrentEpoch returns the group's current epoch number.
func (g *Group) CurrentEpoch() uint64 { return g.epoch }

// OwnLeafIndex returns the caller's own position in the tree.
func (g *Group) OwnLeafIndex() treemath.LeafIndex { return g.ownLeafIndex }

// CurrentMembers returns the leaf node of every non-blank leaf, in leaf
// order.
func (g *Group) CurrentMembers() []*credential.LeafNode {
	var out []*credential.LeafNode
	for i := uint32(0); i < g.tree.NLeaves(); i++ {
		if ln := g.tree.Leaf(treemath.LeafIndex(i)); ln != nil {
			out = append(out, ln)
		}
	}
	return out
}

// ExportSecret derives an application-visible secret from the current
// epoch's exporter_secret (§4.3's exporter construction); the sole
// caller-visible consumer of that secret.
func (g *Group) ExportSecret(label string, context []byte, length int) ([]byte, error) {
	if g.epochSecrets == nil {
		return nil, ErrEpochClosed
	}
	return g.epochSecrets.Export(g.cs, label, context, length)
}

// Marshal encodes the persisted-state layout exactly: (suite, group_id,
// epoch, tree, confirmed_transcript_hash, interim_transcript_hash,
// init_secret, own_leaf_index, own_private_keys).
func (g *Group) Marshal() ([]byte, error) {
	e := wire.NewEncoder()
	e.WriteUint16(uint16(g.cs.ID()))
	if err := e.WriteVarBytes(wire.Len16, g.groupID); err != nil {
		return nil, err
	}
	e.WriteUint64(g.epoch)
	if err := g.tree.MarshalWire(e); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, g.confirmedTranscriptHash); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, g.interimTranscriptHash); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, g.initSecret); err != nil {
		return nil, err
	}
	e.WriteUint32(uint32(g.ownLeafIndex))
	if err := e.WriteVarBytes(wire.Len16, g.ownEncPriv); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len16, g.ownSigPriv); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// Unmarshal decodes a persisted group state. The returned Group has
// epochSecrets == nil (see the field comment) until it next processes a
// commit.
func Unmarshal(buf []byte) (*Group, error) {
	d := wire.NewDecoder(buf)
	csID, err := d.ReadUint16()
	if err != nil {
		return nil, err
	}
	cs, err := suite.Get(suite.ID(csID))
	if err != nil {
		return nil, err
	}
	groupID, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return nil, err
	}
	epoch, err := d.ReadUint64()
	if err != nil {
		return nil, err
	}
	tree, err := ratchettree.UnmarshalTree(d)
	if err != nil {
		return nil, err
	}
	confirmed, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return nil, err
	}
	interim, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return nil, err
	}
	initSecret, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return nil, err
	}
	ownLeafIndex, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	ownEncPriv, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return nil, err
	}
	ownSigPriv, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return nil, err
	}
	if !d.Done() {
		return nil, wire.ErrMalformed
	}

	return &Group{
		cs:                      cs,
		groupID:                 groupID,
		epoch:                   epoch,
		tree:                    tree,
		confirmedTranscriptHash: confirmed,
		interimTranscriptHash:   interim,
		initSecret:              initSecret,
		ownLeafIndex:            treemath.LeafIndex(ownLeafIndex),
		ownEncPriv:              ownEncPriv,
		ownSigPriv:              ownSigPriv,
	}, nil
}

// firstBlankLeaf scans v (a Tree or a Diff, both implement View) for the
// lowest-numbered blank leaf slot.
func firstBlankLeaf(v ratchettree.View) (treemath.LeafIndex, bool) {
	for i := uint32(0); i < v.NLeaves(); i++ {
		if v.Leaf(treemath.LeafIndex(i)) == nil {
			return treemath.LeafIndex(i), true
		}
	}
	return 0, false
}
