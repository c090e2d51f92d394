package suite

import (
	"crypto/rand"
	"fmt"
)

// HPKEKeyPair is a suite-bound HPKE encryption key pair, carried as raw
// bytes on the wire (inside a KeyPackage's init_key, or a leaf node's
// encryption_key).
type HPKEKeyPair struct {
	Public  []byte
	Private []byte
}

// HPKEGenerateKeyPair generates a fresh random HPKE key pair for this
// suite's KEM.
func (cs CipherSuite) HPKEGenerateKeyPair() (HPKEKeyPair, error) {
	scheme := cs.p.kem.Scheme()
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: hpke keygen: %v", ErrDerivationFailure, err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: marshal hpke public key: %v", ErrDerivationFailure, err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: marshal hpke private key: %v", ErrDerivationFailure, err)
	}
	return HPKEKeyPair{Public: pubBytes, Private: privBytes}, nil
}

// HPKEDeriveKeyPair deterministically derives an HPKE key pair from seed
// (a path secret or other suite-length byte string), per TreeKEM's
// path-secret-to-node-keypair mapping (§4.7's DeriveKeyPair in the
// specification this binds).
func (cs CipherSuite) HPKEDeriveKeyPair(seed []byte) (HPKEKeyPair, error) {
	scheme := cs.p.kem.Scheme()
	pub, priv, err := scheme.DeriveKeyPair(seed)
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: hpke derive keypair: %v", ErrDerivationFailure, err)
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: marshal hpke public key: %v", ErrDerivationFailure, err)
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return HPKEKeyPair{}, fmt.Errorf("%w: marshal hpke private key: %v", ErrDerivationFailure, err)
	}
	return HPKEKeyPair{Public: pubBytes, Private: privBytes}, nil
}

// HPKESealed is the output of a single-shot HPKE seal: the encapsulated
// KEM share plus the ciphertext, exactly what an UpdatePathNode carries
// per encrypted path secret.
type HPKESealed struct {
	Enc        []byte
	Ciphertext []byte
}

// HPKESeal encrypts pt to the holder of pkR under this suite's HPKE
// configuration, single-shot (base mode, one Seal per encryption
// context), binding info and aad exactly as RFC 9180 §5 describes.
func (cs CipherSuite) HPKESeal(pkR, info, aad, pt []byte) (HPKESealed, error) {
	scheme := cs.p.kem.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(pkR)
	if err != nil {
		return HPKESealed{}, fmt.Errorf("%w: unmarshal hpke public key: %v", ErrDerivationFailure, err)
	}
	sender, err := cs.hpkeSuite().NewSender(pub, info)
	if err != nil {
		return HPKESealed{}, fmt.Errorf("%w: hpke new sender: %v", ErrDerivationFailure, err)
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return HPKESealed{}, fmt.Errorf("%w: hpke sender setup: %v", ErrDerivationFailure, err)
	}
	ct, err := sealer.Seal(pt, aad)
	if err != nil {
		return HPKESealed{}, fmt.Errorf("%w: hpke seal: %v", ErrDerivationFailure, err)
	}
	return HPKESealed{Enc: enc, Ciphertext: ct}, nil
}

// HPKEOpen decrypts a payload produced by HPKESeal using the recipient's
// private key skR.
func (cs CipherSuite) HPKEOpen(skR []byte, sealed HPKESealed, info, aad []byte) ([]byte, error) {
	scheme := cs.p.kem.Scheme()
	priv, err := scheme.UnmarshalBinaryPrivateKey(skR)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal hpke private key: %v", ErrDerivationFailure, err)
	}
	receiver, err := cs.hpkeSuite().NewReceiver(priv, info)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke new receiver: %v", ErrDerivationFailure, err)
	}
	opener, err := receiver.Setup(sealed.Enc)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke receiver setup: %v", ErrDerivationFailure, err)
	}
	pt, err := opener.Open(sealed.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke open: %v", ErrDerivationFailure, err)
	}
	return pt, nil
}
