package credential

import (
	"errors"
	"fmt"

	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Errors surfaced by LeafNode construction and verification.
var (
	ErrInvalidSource      = errors.New("credential: invalid leaf node source")
	ErrInvalidSignature   = errors.New("credential: leaf node signature invalid")
	ErrUnsupportedVersion = errors.New("credential: leaf node does not declare the protocol version in use")
	ErrUnsupportedSuite   = errors.New("credential: leaf node does not declare the cipher suite in use")
)

// SourceType discriminates how a LeafNode came to be in the tree.
type SourceType uint8

const (
	SourceKeyPackage SourceType = 1
	SourceUpdate     SourceType = 2
	SourceCommit     SourceType = 3
)

// Lifetime bounds the validity window of a KeyPackage-sourced leaf node,
// as Unix timestamps.
type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

func (l Lifetime) marshal(e *wire.Encoder) {
	e.WriteUint64(l.NotBefore)
	e.WriteUint64(l.NotAfter)
}

func unmarshalLifetime(d *wire.Decoder) (Lifetime, error) {
	nb, err := d.ReadUint64()
	if err != nil {
		return Lifetime{}, err
	}
	na, err := d.ReadUint64()
	if err != nil {
		return Lifetime{}, err
	}
	return Lifetime{NotBefore: nb, NotAfter: na}, nil
}

// Capabilities declares what protocol features a leaf node's owner
// supports. A key package's capabilities MUST include its own protocol
// version and cipher suite.
type Capabilities struct {
	Versions        []uint16
	CipherSuites    []suite.ID
	ExtensionTypes  []uint16
	ProposalTypes   []uint16
	CredentialTypes []Type
}

func (c Capabilities) marshal(e *wire.Encoder) error {
	if err := wire.EncodeVector(e, wire.Len8, c.Versions, func(e *wire.Encoder, v uint16) error {
		e.WriteUint16(v)
		return nil
	}); err != nil {
		return err
	}
	if err := wire.EncodeVector(e, wire.Len8, c.CipherSuites, func(e *wire.Encoder, v suite.ID) error {
		e.WriteUint16(uint16(v))
		return nil
	}); err != nil {
		return err
	}
	if err := wire.EncodeVector(e, wire.Len8, c.ExtensionTypes, func(e *wire.Encoder, v uint16) error {
		e.WriteUint16(v)
		return nil
	}); err != nil {
		return err
	}
	if err := wire.EncodeVector(e, wire.Len8, c.ProposalTypes, func(e *wire.Encoder, v uint16) error {
		e.WriteUint16(v)
		return nil
	}); err != nil {
		return err
	}
	return wire.EncodeVector(e, wire.Len8, c.CredentialTypes, func(e *wire.Encoder, v Type) error {
		e.WriteUint16(uint16(v))
		return nil
	})
}

func unmarshalCapabilities(d *wire.Decoder) (Capabilities, error) {
	var c Capabilities
	var err error
	c.Versions, err = wire.DecodeVector(d, wire.Len8, func(d *wire.Decoder) (uint16, error) { return d.ReadUint16() })
	if err != nil {
		return Capabilities{}, err
	}
	c.CipherSuites, err = wire.DecodeVector(d, wire.Len8, func(d *wire.Decoder) (suite.ID, error) {
		v, err := d.ReadUint16()
		return suite.ID(v), err
	})
	if err != nil {
		return Capabilities{}, err
	}
	c.ExtensionTypes, err = wire.DecodeVector(d, wire.Len8, func(d *wire.Decoder) (uint16, error) { return d.ReadUint16() })
	if err != nil {
		return Capabilities{}, err
	}
	c.ProposalTypes, err = wire.DecodeVector(d, wire.Len8, func(d *wire.Decoder) (uint16, error) { return d.ReadUint16() })
	if err != nil {
		return Capabilities{}, err
	}
	c.CredentialTypes, err = wire.DecodeVector(d, wire.Len8, func(d *wire.Decoder) (Type, error) {
		v, err := d.ReadUint16()
		return Type(v), err
	})
	return c, err
}

// VerifyCapabilities checks that caps declares both version and suiteID, the
// minimum RFC 9420 requires of any key package's own capabilities. It does
// not check ExtensionTypes, ProposalTypes or CredentialTypes against a
// group's policy — this module has no group-level extension/proposal
// registry for those to be checked against.
func VerifyCapabilities(caps Capabilities, suiteID suite.ID, version uint16) error {
	hasVersion := false
	for _, v := range caps.Versions {
		if v == version {
			hasVersion = true
			break
		}
	}
	if !hasVersion {
		return ErrUnsupportedVersion
	}
	hasSuite := false
	for _, s := range caps.CipherSuites {
		if s == suiteID {
			hasSuite = true
			break
		}
	}
	if !hasSuite {
		return ErrUnsupportedSuite
	}
	return nil
}

// Extension is a passthrough (type, data) pair for leaf-node extensions
// this implementation does not interpret — see the supplemented
// leaf-node extension passthrough feature.
type Extension struct {
	Type uint16
	Data []byte
}

func (ex Extension) marshal(e *wire.Encoder) error {
	e.WriteUint16(ex.Type)
	return e.WriteVarBytes(wire.Len32, ex.Data)
}

func unmarshalExtension(d *wire.Decoder) (Extension, error) {
	t, err := d.ReadUint16()
	if err != nil {
		return Extension{}, err
	}
	data, err := d.ReadVarBytes(wire.Len32)
	if err != nil {
		return Extension{}, err
	}
	return Extension{Type: t, Data: data}, nil
}

// LeafNode is the per-member structure carried at a tree leaf: its HPKE
// encryption key, its signature key, its credential, its declared
// capabilities, the reason it entered the tree, and a signature over the
// TBS projection appropriate to that reason.
type LeafNode struct {
	EncryptionKey []byte
	SignatureKey  []byte
	Credential    Credential
	Capabilities  Capabilities
	Source        SourceType
	Lifetime      Lifetime    // valid iff Source == SourceKeyPackage
	ParentHash    []byte      // valid iff Source == SourceCommit
	Extensions    []Extension
	Signature     []byte
}

// tbs encodes the to-be-signed projection of the leaf node. For
// SourceKeyPackage, group context is excluded; for SourceUpdate and
// SourceCommit, (group_id, leaf_index) is appended instead of a lifetime.
func (ln *LeafNode) tbs(groupID []byte, leafIndex uint32) ([]byte, error) {
	e := wire.NewEncoder()
	if err := e.WriteVarBytes(wire.Len16, ln.EncryptionKey); err != nil {
		return nil, err
	}
	if err := e.WriteVarBytes(wire.Len16, ln.SignatureKey); err != nil {
		return nil, err
	}
	if err := ln.Credential.MarshalWire(e); err != nil {
		return nil, err
	}
	if err := ln.Capabilities.marshal(e); err != nil {
		return nil, err
	}
	e.WriteUint8(uint8(ln.Source))
	switch ln.Source {
	case SourceKeyPackage:
		ln.Lifetime.marshal(e)
	case SourceUpdate:
		// no extra field
	case SourceCommit:
		if err := e.WriteVarBytes(wire.Len8, ln.ParentHash); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidSource, ln.Source)
	}
	if err := wire.EncodeVector(e, wire.Len32, ln.Extensions, func(e *wire.Encoder, ex Extension) error {
		return ex.marshal(e)
	}); err != nil {
		return nil, err
	}
	if ln.Source == SourceUpdate || ln.Source == SourceCommit {
		if err := e.WriteVarBytes(wire.Len16, groupID); err != nil {
			return nil, err
		}
		e.WriteUint32(leafIndex)
	}
	return e.Bytes(), nil
}

// Sign computes the TBS projection for groupID/leafIndex and signs it
// under label "LeafNodeTBS", storing the result in ln.Signature.
// groupID and leafIndex are ignored (and may be zero) when
// ln.Source == SourceKeyPackage.
func (ln *LeafNode) Sign(cs suite.CipherSuite, sigPriv, groupID []byte, leafIndex uint32) error {
	tbs, err := ln.tbs(groupID, leafIndex)
	if err != nil {
		return err
	}
	sig, err := cs.SignWithLabel(sigPriv, "LeafNodeTBS", tbs)
	if err != nil {
		return err
	}
	ln.Signature = sig
	return nil
}

// Verify recomputes the TBS projection and checks ln.Signature against
// the leaf's own signature key. A leaf whose credential is not a Basic
// credential is rejected with ErrUnsupportedCredential.
func (ln *LeafNode) Verify(cs suite.CipherSuite, groupID []byte, leafIndex uint32) error {
	if ln.Credential.Type != TypeBasic {
		return fmt.Errorf("%w: %d", ErrUnsupportedCredential, ln.Credential.Type)
	}
	tbs, err := ln.tbs(groupID, leafIndex)
	if err != nil {
		return err
	}
	if !cs.VerifyWithLabel(ln.SignatureKey, "LeafNodeTBS", tbs, ln.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// MarshalWire encodes the full leaf node, signature included.
func (ln *LeafNode) MarshalWire(e *wire.Encoder) error {
	if err := e.WriteVarBytes(wire.Len16, ln.EncryptionKey); err != nil {
		return err
	}
	if err := e.WriteVarBytes(wire.Len16, ln.SignatureKey); err != nil {
		return err
	}
	if err := ln.Credential.MarshalWire(e); err != nil {
		return err
	}
	if err := ln.Capabilities.marshal(e); err != nil {
		return err
	}
	e.WriteUint8(uint8(ln.Source))
	switch ln.Source {
	case SourceKeyPackage:
		ln.Lifetime.marshal(e)
	case SourceUpdate:
	case SourceCommit:
		if err := e.WriteVarBytes(wire.Len8, ln.ParentHash); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidSource, ln.Source)
	}
	if err := wire.EncodeVector(e, wire.Len32, ln.Extensions, func(e *wire.Encoder, ex Extension) error {
		return ex.marshal(e)
	}); err != nil {
		return err
	}
	return e.WriteVarBytes(wire.Len16, ln.Signature)
}

// UnmarshalWire decodes a full leaf node, signature included.
func (ln *LeafNode) UnmarshalWire(d *wire.Decoder) error {
	encKey, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	sigKey, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	var cred Credential
	if err := cred.UnmarshalWire(d); err != nil {
		return err
	}
	caps, err := unmarshalCapabilities(d)
	if err != nil {
		return err
	}
	srcRaw, err := d.ReadUint8()
	if err != nil {
		return err
	}
	src := SourceType(srcRaw)

	ln.EncryptionKey = encKey
	ln.SignatureKey = sigKey
	ln.Credential = cred
	ln.Capabilities = caps
	ln.Source = src

	switch src {
	case SourceKeyPackage:
		lt, err := unmarshalLifetime(d)
		if err != nil {
			return err
		}
		ln.Lifetime = lt
	case SourceUpdate:
	case SourceCommit:
		ph, err := d.ReadVarBytes(wire.Len8)
		if err != nil {
			return err
		}
		ln.ParentHash = ph
	default:
		return fmt.Errorf("%w: %d", ErrInvalidSource, src)
	}

	exts, err := wire.DecodeVector(d, wire.Len32, unmarshalExtension)
	if err != nil {
		return err
	}
	ln.Extensions = exts

	sig, err := d.ReadVarBytes(wire.Len16)
	if err != nil {
		return err
	}
	ln.Signature = sig
	return nil
}
