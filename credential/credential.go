// Package credential implements MLS identity credentials and the leaf
// node structure that carries one, per the specification's C5 component.
//
// Credentials are modeled as a tagged variant, not an inheritance
// hierarchy: the wire discriminator is handled explicitly by MarshalWire
// and UnmarshalWire rather than by a type switch over an interface.
package credential

import (
	"errors"
	"fmt"

	"github.com/kindlyrobotics/nochat-mls/wire"
)

// Errors surfaced by this package.
var (
	ErrUnsupportedCredential = errors.New("credential: unsupported credential type")
	ErrMissingIdentity       = errors.New("credential: basic credential has no identity")
)

// Type is the wire discriminator for a Credential variant.
type Type uint16

const (
	TypeBasic Type = 1
	// TypeX509 is reserved for a future certificate-chain credential.
	// Encoding/decoding a chain is supported so the type round-trips on
	// the wire; constructing or verifying one is not — basic identity
	// credentials are the only variant this backend issues or accepts,
	// per the specification's Non-goals.
	TypeX509 Type = 2
)

// Credential is a tagged union over the supported credential variants.
type Credential struct {
	Type     Type
	Identity []byte   // set when Type == TypeBasic
	X509Chain [][]byte // set when Type == TypeX509; decode-only
}

// NewBasic builds a Basic credential around an opaque identity string.
func NewBasic(identity []byte) (Credential, error) {
	if len(identity) == 0 {
		return Credential{}, ErrMissingIdentity
	}
	id := make([]byte, len(identity))
	copy(id, identity)
	return Credential{Type: TypeBasic, Identity: id}, nil
}

// MarshalWire encodes the credential as its discriminator followed by the
// variant payload.
func (c Credential) MarshalWire(e *wire.Encoder) error {
	e.WriteUint16(uint16(c.Type))
	switch c.Type {
	case TypeBasic:
		return e.WriteVarBytes(wire.Len16, c.Identity)
	case TypeX509:
		return wire.EncodeVector(e, wire.Len32, c.X509Chain, func(e *wire.Encoder, cert []byte) error {
			return e.WriteVarBytes(wire.Len32, cert)
		})
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedCredential, c.Type)
	}
}

// UnmarshalWire decodes a credential of either variant. X509 chains
// decode successfully but produce a credential LeafNode.Verify rejects;
// see TypeX509.
func (c *Credential) UnmarshalWire(d *wire.Decoder) error {
	t, err := d.ReadUint16()
	if err != nil {
		return err
	}
	c.Type = Type(t)
	switch c.Type {
	case TypeBasic:
		identity, err := d.ReadVarBytes(wire.Len16)
		if err != nil {
			return err
		}
		c.Identity = identity
		return nil
	case TypeX509:
		chain, err := wire.DecodeVector(d, wire.Len32, func(d *wire.Decoder) ([]byte, error) {
			return d.ReadVarBytes(wire.Len32)
		})
		if err != nil {
			return err
		}
		c.X509Chain = chain
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedCredential, c.Type)
	}
}
