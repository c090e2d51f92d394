package mls

import (
	"bytes"

	"github.com/kindlyrobotics/nochat-mls/keypackage"
	"github.com/kindlyrobotics/nochat-mls/keyschedule"
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// welcomeInfo is the fixed HPKE info string bound into a Welcome's seal.
// A real group context would be the more natural binding, but the joiner
// cannot compute one before decrypting the welcome that would carry the
// tree it needs to compute it from — a fixed label sidesteps that
// circularity at the cost of not binding the welcome to the group's
// identity before decryption.
const welcomeInfo = "MLS 1.0 Welcome"

// Welcome is the message a committer sends to exactly the member it just
// added: everything that member needs to reconstruct the post-commit
// group, sealed to the init key from that member's own KeyPackage.
type Welcome struct {
	CipherSuite suite.ID
	Sealed      suite.HPKESealed
}

// MarshalWire encodes a Welcome.
func (w *Welcome) MarshalWire(e *wire.Encoder) error {
	e.WriteUint16(uint16(w.CipherSuite))
	if err := e.WriteVarBytes(wire.Len16, w.Sealed.Enc); err != nil {
		return err
	}
	return e.WriteVarBytes(wire.Len32, w.Sealed.Ciphertext)
}

// UnmarshalWire decodes a Welcome.
func (w *Welcome) UnmarshalWire(d *wire.Decoder) error {
	csID, err := d.ReadUint16()
	if err != nil {
		return err
	}
	enc, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	ct, err := d.ReadVarBytes(wire.Len32)
	if err != nil {
		return err
	}
	w.CipherSuite = suite.ID(csID)
	w.Sealed = suite.HPKESealed{Enc: enc, Ciphertext: ct}
	return nil
}

// welcomePayload is the plaintext a Welcome seals: everything the new
// member needs that it cannot otherwise derive — the group's identity and
// current tree, the transcript hash chain, and the joiner_secret the key
// schedule is rooted in for this epoch.
type welcomePayload struct {
	GroupID                 []byte
	Epoch                   uint64
	NewLeafIndex            uint32
	Tree                    []byte
	ConfirmedTranscriptHash []byte
	InterimTranscriptHash   []byte
	JoinerSecret            []byte
}

func (p *welcomePayload) marshal() ([]byte, error) {
	e := wire.NewEncoder()
	if err := e.WriteVarBytes(wire.Len16, p.GroupID); err != nil {
		return nil, err
	}
	e.WriteUint64(p.Epoch)
	e.WriteUint32(p.NewLeafIndex)
	if err := e.WriteVarBytes(wire.Len32, p.Tree); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, p.ConfirmedTranscriptHash); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, p.InterimTranscriptHash); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len8, p.JoinerSecret); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

func (p *welcomePayload) unmarshal(buf []byte) error {
	d := wire.NewDecoder(buf)
	groupID, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	epoch, err := d.ReadUint64()
	if err != nil {
		return err
	}
	newLeafIndex, err := d.ReadUint32()
	if err != nil {
		return err
	}
	tree, err := d.ReadVarBytes(wire.Len32)
	if err != nil {
		return err
	}
	confirmed, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return err
	}
	interim, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return err
	}
	joinerSecret, err := d.ReadVarBytes(wire.Len8)
	if err != nil {
		return err
	}
	if !d.Done() {
		return wire.ErrMalformed
	}

	p.GroupID = groupID
	p.Epoch = epoch
	p.NewLeafIndex = newLeafIndex
	p.Tree = tree
	p.ConfirmedTranscriptHash = confirmed
	p.InterimTranscriptHash = interim
	p.JoinerSecret = joinerSecret
	return nil
}

// buildWelcome assembles and seals the welcome for the member that just
// landed on newLeafIndex, reading g's state as of immediately after
// commitSelf installed the new epoch.
func buildWelcome(g *Group, newLeafIndex treemath.LeafIndex, initKey []byte) (*Welcome, error) {
	treeEnc := wire.NewEncoder()
	if err := g.tree.MarshalWire(treeEnc); err != nil {
		return nil, err
	}

	payload := welcomePayload{
		GroupID:                 g.groupID,
		Epoch:                   g.epoch,
		NewLeafIndex:            uint32(newLeafIndex),
		Tree:                    treeEnc.Bytes(),
		ConfirmedTranscriptHash: g.confirmedTranscriptHash,
		InterimTranscriptHash:   g.interimTranscriptHash,
		JoinerSecret:            g.epochSecrets.JoinerSecret,
	}
	plaintext, err := payload.marshal()
	if err != nil {
		return nil, err
	}

	sealed, err := g.cs.HPKESeal(initKey, []byte(welcomeInfo), nil, plaintext)
	if err != nil {
		return nil, err
	}
	return &Welcome{CipherSuite: g.cs.ID(), Sealed: sealed}, nil
}

// ProcessWelcome opens a Welcome sealed to bundle's init key and
// reconstructs the Group it describes, deriving the current epoch's
// secret graph from the joiner_secret it carries.
func ProcessWelcome(cs suite.CipherSuite, bundle keypackage.Bundle, welcome *Welcome) (*Group, error) {
	if welcome.CipherSuite != cs.ID() {
		return nil, ErrSuiteMismatch
	}

	plaintext, err := cs.HPKEOpen(bundle.InitPrivateKey, welcome.Sealed, []byte(welcomeInfo), nil)
	if err != nil {
		return nil, err
	}
	var payload welcomePayload
	if err := payload.unmarshal(plaintext); err != nil {
		return nil, err
	}

	tree, err := ratchettree.UnmarshalTree(wire.NewDecoder(payload.Tree))
	if err != nil {
		return nil, err
	}

	ownLeafIndex := treemath.LeafIndex(payload.NewLeafIndex)
	ownLeaf := tree.Leaf(ownLeafIndex)
	if ownLeaf == nil || !bytes.Equal(ownLeaf.EncryptionKey, bundle.Public.LeafNode.EncryptionKey) {
		return nil, ErrWelcomeLeafMismatch
	}

	epochCtx, err := groupContextBytes(cs, payload.GroupID, payload.Epoch, tree, tree.NLeaves())
	if err != nil {
		return nil, err
	}
	secrets, err := keyschedule.FromJoinerSecret(cs, payload.JoinerSecret, nil, epochCtx)
	if err != nil {
		return nil, err
	}

	return &Group{
		cs:                      cs,
		groupID:                 payload.GroupID,
		epoch:                   payload.Epoch,
		tree:                    tree,
		confirmedTranscriptHash: payload.ConfirmedTranscriptHash,
		interimTranscriptHash:   payload.InterimTranscriptHash,
		initSecret:              secrets.InitSecret,
		ownLeafIndex:            ownLeafIndex,
		ownEncPriv:              bundle.EncryptionPrivate,
		ownSigPriv:              bundle.SignaturePrivate,
		epochSecrets:            secrets,
	}, nil
}
