// Package suite is the cipher-suite façade: it binds an MLS cipher-suite
// identifier to a hash function, an HKDF-based key derivation scheme, a
// signature algorithm, and an HPKE (RFC 9180) KEM/KDF/AEAD triple, and
// exposes the labeled derivations — ExpandWithLabel, DeriveSecret,
// SignWithLabel, VerifyWithLabel, and the exporter construction — that
// every other core package builds on.
//
// Dispatch is a closed switch over an enumerated ID, never open-ended
// virtual dispatch, per the design notes in the specification this
// package implements: a cipher suite is data, not a plugin.
package suite

import (
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"

	"github.com/cloudflare/circl/hpke"
)

// Errors surfaced by this package, per the error taxonomy in the
// specification's §7 ("Input-validation" and "Crypto" kinds).
var (
	ErrUnsupportedSuite = errors.New("suite: unsupported cipher suite")
	ErrInvalidKeySize   = errors.New("suite: invalid key size")
	ErrSignatureFailure = errors.New("suite: signature verification failed")
	ErrDerivationFailure = errors.New("suite: key derivation failed")
)

// ID is an MLS cipher-suite identifier, as it appears on the wire.
type ID uint16

// The eight enumerated MLS cipher suites. The first seven match the IANA
// MLS Cipher Suites registry entries 0x0001-0x0007; the eighth is a
// reserved slot this backend deliberately leaves unsupported so that
// IsSupported has a real negative case to report.
const (
	MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519        ID = 1
	MLS_128_DHKEMP256_AES128GCM_SHA256_P256             ID = 2
	MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519 ID = 3
	MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448            ID = 4
	MLS_256_DHKEMP521_AES256GCM_SHA512_P521             ID = 5
	MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448     ID = 6
	MLS_256_DHKEMP384_AES256GCM_SHA384_P384             ID = 7
	mlsReservedUnsupported                              ID = 8
)

// SignatureAlgorithm enumerates the signature schemes a cipher suite may
// select.
type SignatureAlgorithm int

const (
	SigEd25519 SignatureAlgorithm = iota
	SigEd448
	SigECDSAP256
	SigECDSAP384
	SigECDSAP521
)

// params is the closed, per-suite parameter set. Nothing outside this
// file ever constructs one.
type params struct {
	newHash   func() hash.Hash
	nh        int // hash/HKDF output length in bytes
	sig       SignatureAlgorithm
	kem       hpke.KEM
	kdf       hpke.KDF
	aead      hpke.AEAD
	keySize   int
	nonceSize int
	supported bool
}

var registry = map[ID]params{
	MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519: {
		newHash: sha256.New, nh: 32, sig: SigEd25519,
		kem: hpke.KEM_X25519_HKDF_SHA256, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_AES128GCM,
		keySize: 16, nonceSize: 12, supported: true,
	},
	MLS_128_DHKEMP256_AES128GCM_SHA256_P256: {
		newHash: sha256.New, nh: 32, sig: SigECDSAP256,
		kem: hpke.KEM_P256_HKDF_SHA256, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_AES128GCM,
		keySize: 16, nonceSize: 12, supported: true,
	},
	MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519: {
		newHash: sha256.New, nh: 32, sig: SigEd25519,
		kem: hpke.KEM_X25519_HKDF_SHA256, kdf: hpke.KDF_HKDF_SHA256, aead: hpke.AEAD_ChaCha20Poly1305,
		keySize: 32, nonceSize: 12, supported: true,
	},
	MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448: {
		newHash: sha512.New, nh: 64, sig: SigEd448,
		kem: hpke.KEM_X448_HKDF_SHA512, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_AES256GCM,
		keySize: 32, nonceSize: 12, supported: true,
	},
	MLS_256_DHKEMP521_AES256GCM_SHA512_P521: {
		newHash: sha512.New, nh: 64, sig: SigECDSAP521,
		kem: hpke.KEM_P521_HKDF_SHA512, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_AES256GCM,
		keySize: 32, nonceSize: 12, supported: true,
	},
	MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448: {
		newHash: sha512.New, nh: 64, sig: SigEd448,
		kem: hpke.KEM_X448_HKDF_SHA512, kdf: hpke.KDF_HKDF_SHA512, aead: hpke.AEAD_ChaCha20Poly1305,
		keySize: 32, nonceSize: 12, supported: true,
	},
	MLS_256_DHKEMP384_AES256GCM_SHA384_P384: {
		newHash: sha512.New384, nh: 48, sig: SigECDSAP384,
		kem: hpke.KEM_P384_HKDF_SHA384, kdf: hpke.KDF_HKDF_SHA384, aead: hpke.AEAD_AES256GCM,
		keySize: 32, nonceSize: 12, supported: true,
	},
	mlsReservedUnsupported: {supported: false},
}

// CipherSuite is a bound, ready-to-use cipher suite. The zero value is
// not valid; construct one with Get.
type CipherSuite struct {
	id ID
	p  params
}

// Get resolves a cipher-suite identifier, failing with ErrUnsupportedSuite
// if the ID is unknown or names a suite this backend does not implement.
func Get(id ID) (CipherSuite, error) {
	p, ok := registry[id]
	if !ok || !p.supported {
		return CipherSuite{}, fmt.Errorf("%w: %d", ErrUnsupportedSuite, id)
	}
	return CipherSuite{id: id, p: p}, nil
}

// IsSupported reports whether id names a suite this backend can execute,
// without allocating a CipherSuite.
func IsSupported(id ID) bool {
	p, ok := registry[id]
	return ok && p.supported
}

// AllSuiteIDs returns every enumerated suite identifier, supported or not,
// in ascending order — used by tests and capability negotiation.
func AllSuiteIDs() []ID {
	return []ID{
		MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519,
		MLS_128_DHKEMP256_AES128GCM_SHA256_P256,
		MLS_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519,
		MLS_256_DHKEMX448_AES256GCM_SHA512_Ed448,
		MLS_256_DHKEMP521_AES256GCM_SHA512_P521,
		MLS_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448,
		MLS_256_DHKEMP384_AES256GCM_SHA384_P384,
		mlsReservedUnsupported,
	}
}

// ID returns the suite's wire identifier.
func (cs CipherSuite) ID() ID { return cs.id }

// Nh returns the suite's hash/HKDF output length in bytes.
func (cs CipherSuite) Nh() int { return cs.p.nh }

// NewHash returns a fresh hash.Hash instance for this suite's hash
// function.
func (cs CipherSuite) NewHash() hash.Hash { return cs.p.newHash() }

// Hash hashes data with the suite's hash function.
func (cs CipherSuite) Hash(data []byte) []byte {
	h := cs.NewHash()
	h.Write(data)
	return h.Sum(nil)
}

// SignatureAlgorithm returns the suite's signature scheme.
func (cs CipherSuite) SignatureAlgorithm() SignatureAlgorithm { return cs.p.sig }

// AEADKeySize and AEADNonceSize describe the suite's HPKE AEAD, for
// callers that need to size buffers without going through HPKE itself.
func (cs CipherSuite) AEADKeySize() int   { return cs.p.keySize }
func (cs CipherSuite) AEADNonceSize() int { return cs.p.nonceSize }

// hpkeSuite builds the circl HPKE suite this cipher suite is bound to.
func (cs CipherSuite) hpkeSuite() hpke.Suite {
	return hpke.NewSuite(cs.p.kem, cs.p.kdf, cs.p.aead)
}
