package suite

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/cloudflare/circl/sign/ed448"
)

// GenerateSignatureKeyPair generates a fresh signature key pair for this
// suite's signature algorithm. Keys are returned as raw bytes — MLS never
// puts a signature key on the wire in PEM or PKIX form, unlike the
// certificate-transparency signer this dispatch is adapted from.
func (cs CipherSuite) GenerateSignatureKeyPair() (pub, priv []byte, err error) {
	switch cs.p.sig {
	case SigEd25519:
		pk, sk, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ed25519 keygen: %v", ErrSignatureFailure, err)
		}
		return []byte(pk), []byte(sk), nil

	case SigEd448:
		pk, sk, err := ed448.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ed448 keygen: %v", ErrSignatureFailure, err)
		}
		return []byte(pk), []byte(sk), nil

	case SigECDSAP256, SigECDSAP384, SigECDSAP521:
		curve := cs.ecdsaCurve()
		sk, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: ecdsa keygen: %v", ErrSignatureFailure, err)
		}
		pub = elliptic.Marshal(curve, sk.X, sk.Y)
		priv = sk.D.Bytes()
		return pub, priv, nil

	default:
		return nil, nil, fmt.Errorf("%w: signature algorithm %d", ErrUnsupportedSuite, cs.p.sig)
	}
}

func (cs CipherSuite) ecdsaCurve() elliptic.Curve {
	switch cs.p.sig {
	case SigECDSAP256:
		return elliptic.P256()
	case SigECDSAP384:
		return elliptic.P384()
	case SigECDSAP521:
		return elliptic.P521()
	default:
		return nil
	}
}

// Sign signs message with the raw private key sk under this suite's
// signature algorithm. ECDSA suites hash message with the suite hash
// before signing, per §4.3's SignWithLabel construction; Sign itself is
// the unlabeled primitive SignWithLabel and VerifyWithLabel build on.
func (cs CipherSuite) Sign(sk, message []byte) ([]byte, error) {
	switch cs.p.sig {
	case SigEd25519:
		if len(sk) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: ed25519 private key", ErrInvalidKeySize)
		}
		return ed25519.Sign(ed25519.PrivateKey(sk), message), nil

	case SigEd448:
		if len(sk) != ed448.PrivateKeySize {
			return nil, fmt.Errorf("%w: ed448 private key", ErrInvalidKeySize)
		}
		return ed448.Sign(ed448.PrivateKey(sk), message, ""), nil

	case SigECDSAP256, SigECDSAP384, SigECDSAP521:
		curve := cs.ecdsaCurve()
		priv := cs.ecdsaPrivateKey(curve, sk)
		digest := cs.Hash(message)
		return ecdsa.SignASN1(rand.Reader, priv, digest)

	default:
		return nil, fmt.Errorf("%w: signature algorithm %d", ErrUnsupportedSuite, cs.p.sig)
	}
}

// Verify verifies a signature produced by Sign against the raw public key
// pk.
func (cs CipherSuite) Verify(pk, message, sig []byte) bool {
	switch cs.p.sig {
	case SigEd25519:
		if len(pk) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pk), message, sig)

	case SigEd448:
		if len(pk) != ed448.PublicKeySize {
			return false
		}
		return ed448.Verify(ed448.PublicKey(pk), message, sig, "")

	case SigECDSAP256, SigECDSAP384, SigECDSAP521:
		curve := cs.ecdsaCurve()
		pub, err := cs.ecdsaPublicKey(curve, pk)
		if err != nil {
			return false
		}
		digest := cs.Hash(message)
		return ecdsa.VerifyASN1(pub, digest, sig)

	default:
		return false
	}
}

func (cs CipherSuite) ecdsaPrivateKey(curve elliptic.Curve, sk []byte) *ecdsa.PrivateKey {
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = new(big.Int).SetBytes(sk)
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(sk)
	return priv
}

func (cs CipherSuite) ecdsaPublicKey(curve elliptic.Curve, pk []byte) (*ecdsa.PublicKey, error) {
	x, y := elliptic.Unmarshal(curve, pk)
	if x == nil {
		return nil, fmt.Errorf("%w: malformed ECDSA public key", ErrInvalidKeySize)
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
