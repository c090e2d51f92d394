// Package keypackage implements the MLS KeyPackage (C6): the init-key
// bundle a prospective member publishes so that an existing member can
// add them to a group, plus the private-side bundle the producer keeps.
package keypackage

import (
	"errors"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Errors surfaced by this package.
var (
	ErrInvalidSignature  = errors.New("keypackage: signature invalid")
	ErrInitKeyCollision  = errors.New("keypackage: init_key equals leaf_node.encryption_key")
	ErrWrongLeafSource   = errors.New("keypackage: leaf node must have source KeyPackage")
)

// KeyPackage is the public, publishable half: what a joiner hands out so
// others can add them to a group.
type KeyPackage struct {
	ProtocolVersion uint16
	CipherSuite     suite.ID
	InitKey         []byte
	LeafNode        credential.LeafNode
	Extensions      []credential.Extension
	Signature       []byte
}

// Bundle additionally carries the three private keys the producer must
// retain: the init private key, the leaf's encryption private key, and
// the signature private key.
type Bundle struct {
	Public            KeyPackage
	InitPrivateKey    []byte
	EncryptionPrivate []byte
	SignaturePrivate  []byte
}

func (kp *KeyPackage) tbs() ([]byte, error) {
	e := wire.NewEncoder()
	e.WriteUint16(kp.ProtocolVersion)
	e.WriteUint16(uint16(kp.CipherSuite))
	if err := e.WriteVarBytes(wire.Len16, kp.InitKey); err != nil {
		return nil, err
	}
	if err := kp.LeafNode.MarshalWire(e); err != nil {
		return nil, err
	}
	if err := wire.EncodeVector(e, wire.Len32, kp.Extensions, func(e *wire.Encoder, ex credential.Extension) error {
		e.WriteUint16(ex.Type)
		return e.WriteVarBytes(wire.Len32, ex.Data)
	}); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// New assembles and signs a fresh KeyPackage, per §4.6:
//  1. caller has already generated a signature key pair, an HPKE init key
//     pair, and an HPKE encryption key pair;
//  2. the leaf node (source KeyPackage) is built and signed under label
//     "LeafNodeTBS" (the caller does this before calling New, since
//     LeafNode signing needs no group context);
//  3. the outer TBS is assembled and signed under label "KeyPackageTBS".
func New(cs suite.CipherSuite, protocolVersion uint16, initPub, initPriv []byte, leaf credential.LeafNode, encPriv, sigPriv []byte, extensions []credential.Extension) (Bundle, error) {
	if leaf.Source != credential.SourceKeyPackage {
		return Bundle{}, ErrWrongLeafSource
	}
	if string(initPub) == string(leaf.EncryptionKey) {
		return Bundle{}, ErrInitKeyCollision
	}

	kp := KeyPackage{
		ProtocolVersion: protocolVersion,
		CipherSuite:     cs.ID(),
		InitKey:         initPub,
		LeafNode:        leaf,
		Extensions:      extensions,
	}
	tbs, err := kp.tbs()
	if err != nil {
		return Bundle{}, err
	}
	sig, err := cs.SignWithLabel(sigPriv, "KeyPackageTBS", tbs)
	if err != nil {
		return Bundle{}, err
	}
	kp.Signature = sig

	return Bundle{
		Public:            kp,
		InitPrivateKey:    initPriv,
		EncryptionPrivate: encPriv,
		SignaturePrivate:  sigPriv,
	}, nil
}

// Verify checks both signatures required before a key package may be
// used to add its owner to a group: the outer KeyPackageTBS signature,
// and (transitively, via LeafNode.Verify) the inner LeafNodeTBS
// signature. groupID/leafIndex are irrelevant for a KeyPackage-sourced
// leaf node and are not required here.
func (kp *KeyPackage) Verify(cs suite.CipherSuite) error {
	if kp.LeafNode.Source != credential.SourceKeyPackage {
		return ErrWrongLeafSource
	}
	if err := kp.LeafNode.Verify(cs, nil, 0); err != nil {
		return err
	}
	tbs, err := kp.tbs()
	if err != nil {
		return err
	}
	if !cs.VerifyWithLabel(kp.LeafNode.SignatureKey, "KeyPackageTBS", tbs, kp.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// MarshalWire encodes the public KeyPackage.
func (kp *KeyPackage) MarshalWire(e *wire.Encoder) error {
	e.WriteUint16(kp.ProtocolVersion)
	e.WriteUint16(uint16(kp.CipherSuite))
	if err := e.WriteVarBytes(wire.Len16, kp.InitKey); err != nil {
		return err
	}
	if err := kp.LeafNode.MarshalWire(e); err != nil {
		return err
	}
	if err := wire.EncodeVector(e, wire.Len32, kp.Extensions, func(e *wire.Encoder, ex credential.Extension) error {
		e.WriteUint16(ex.Type)
		return e.WriteVarBytes(wire.Len32, ex.Data)
	}); err != nil {
		return err
	}
	return e.WriteVarBytes(wire.Len16, kp.Signature)
}

// UnmarshalWire decodes a public KeyPackage.
func (kp *KeyPackage) UnmarshalWire(d *wire.Decoder) error {
	pv, err := d.ReadUint16()
	if err != nil {
		return err
	}
	cs, err := d.ReadUint16()
	if err != nil {
		return err
	}
	initKey, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	var leaf credential.LeafNode
	if err := leaf.UnmarshalWire(d); err != nil {
		return err
	}
	exts, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) (credential.Extension, error) {
		t, err := d.ReadUint16()
		if err != nil {
			return credential.Extension{}, err
		}
		data, err := d.ReadVarBytes(wire.Len32)
		if err != nil {
			return credential.Extension{}, err
		}
		return credential.Extension{Type: t, Data: data}, nil
	})
	if err != nil {
		return err
	}
	sig, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}

	kp.ProtocolVersion = pv
	kp.CipherSuite = suite.ID(cs)
	kp.InitKey = initKey
	kp.LeafNode = leaf
	kp.Extensions = exts
	kp.Signature = sig
	return nil
}
