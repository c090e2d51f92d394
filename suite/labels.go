package suite

import (
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/kindlyrobotics/nochat-mls/wire"
)

// labelPrefix is prepended, literally, to every label before it enters a
// labeled derivation or a labeled signature.
const labelPrefix = "MLS 1.0 "

// kdfLabelEncoding builds the Encode(length, "MLS 1.0 " + label, context)
// structure that ExpandWithLabel's HKDF-Expand info argument is: a u16
// length, a u8-length-prefixed label, and a u32-length-prefixed context.
func kdfLabelEncoding(length int, label string, context []byte) ([]byte, error) {
	e := wire.NewEncoder()
	if length < 0 || length > 0xFFFF {
		return nil, fmt.Errorf("%w: length %d out of range for u16", ErrDerivationFailure, length)
	}
	e.WriteUint16(uint16(length))
	if err := e.WriteVarBytes(wire.Len8, []byte(labelPrefix+label)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	if err := e.WriteVarBytes(wire.Len32, context); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return e.Bytes(), nil
}

// ExpandWithLabel implements §4.3's labeled HKDF-Expand:
//
//	ExpandWithLabel(secret, label, context, length) =
//	    HKDF-Expand(secret, Encode(length, "MLS 1.0 "+label, context), length)
func (cs CipherSuite) ExpandWithLabel(secret []byte, label string, context []byte, length int) ([]byte, error) {
	info, err := kdfLabelEncoding(length, label, context)
	if err != nil {
		return nil, err
	}
	r := hkdf.Expand(cs.p.newHash, secret, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return out, nil
}

// DeriveSecret implements §4.3: DeriveSecret(secret, label) =
// ExpandWithLabel(secret, label, "", Nh).
func (cs CipherSuite) DeriveSecret(secret []byte, label string) ([]byte, error) {
	return cs.ExpandWithLabel(secret, label, nil, cs.Nh())
}

// Extract implements HKDF-Extract(salt, ikm) using the suite's hash.
func (cs CipherSuite) Extract(salt, ikm []byte) []byte {
	return hkdf.Extract(cs.p.newHash, ikm, salt)
}

// ExporterSecret implements §4.3's exporter construction literally from
// the RFC 9420 text:
//
//	ExporterSecret(exporter_secret, label, context, length) =
//	    ExpandWithLabel(DeriveSecret(exporter_secret, label), "exporter", Hash(context), length)
//
// The specification flags this as an open question: a divergent reference
// implementation treats the exporter's label as a raw byte string rather
// than re-entering DeriveSecret's "MLS 1.0 " labeling. This function takes
// the RFC text at face value and does not silently pick the other
// interpretation; see DESIGN.md for the recorded decision.
func (cs CipherSuite) ExporterSecret(exporterSecret []byte, label string, context []byte, length int) ([]byte, error) {
	derived, err := cs.DeriveSecret(exporterSecret, label)
	if err != nil {
		return nil, err
	}
	return cs.ExpandWithLabel(derived, "exporter", cs.Hash(context), length)
}

// labelSignEncoding builds the SignContent structure:
// a u8-length-prefixed "MLS 1.0 "+label followed by a u32-length-prefixed
// content, as used by both SignWithLabel and VerifyWithLabel.
func labelSignEncoding(label string, content []byte) ([]byte, error) {
	e := wire.NewEncoder()
	if err := e.WriteVarBytes(wire.Len8, []byte(labelPrefix+label)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	if err := e.WriteVarBytes(wire.Len32, content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return e.Bytes(), nil
}

// SignWithLabel signs Encode(u8-prefixed label, u32-prefixed content) with
// sk under this suite's signature algorithm.
func (cs CipherSuite) SignWithLabel(sk []byte, label string, content []byte) ([]byte, error) {
	tbs, err := labelSignEncoding(label, content)
	if err != nil {
		return nil, err
	}
	return cs.Sign(sk, tbs)
}

// VerifyWithLabel verifies a signature produced by SignWithLabel.
func (cs CipherSuite) VerifyWithLabel(pk []byte, label string, content, sig []byte) bool {
	tbs, err := labelSignEncoding(label, content)
	if err != nil {
		return false
	}
	return cs.Verify(pk, tbs, sig)
}
