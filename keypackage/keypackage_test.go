package keypackage

import (
	"testing"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

func buildBundle(t *testing.T) (Bundle, suite.CipherSuite) {
	t.Helper()
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}
	sigPub, sigPriv, err := cs.GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignatureKeyPair: %v", err)
	}
	initKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		t.Fatalf("HPKEGenerateKeyPair (init): %v", err)
	}
	encKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		t.Fatalf("HPKEGenerateKeyPair (enc): %v", err)
	}
	cred, err := credential.NewBasic([]byte("alice"))
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	leaf := credential.LeafNode{
		EncryptionKey: encKP.Public,
		SignatureKey:  sigPub,
		Credential:    cred,
		Capabilities: credential.Capabilities{
			Versions:        []uint16{1},
			CipherSuites:    []suite.ID{cs.ID()},
			CredentialTypes: []credential.Type{credential.TypeBasic},
		},
		Source:   credential.SourceKeyPackage,
		Lifetime: credential.Lifetime{NotBefore: 0, NotAfter: 1 << 40},
	}
	if err := leaf.Sign(cs, sigPriv, nil, 0); err != nil {
		t.Fatalf("leaf.Sign: %v", err)
	}

	bundle, err := New(cs, 1, initKP.Public, initKP.Private, leaf, encKP.Private, sigPriv, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return bundle, cs
}

func TestKeyPackageSignVerify(t *testing.T) {
	bundle, cs := buildBundle(t)
	if err := bundle.Public.Verify(cs); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestKeyPackageRejectsInitKeyCollision(t *testing.T) {
	cs, _ := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	sigPub, sigPriv, _ := cs.GenerateSignatureKeyPair()
	sharedKP, _ := cs.HPKEGenerateKeyPair()
	cred, _ := credential.NewBasic([]byte("eve"))
	leaf := credential.LeafNode{
		EncryptionKey: sharedKP.Public,
		SignatureKey:  sigPub,
		Credential:    cred,
		Source:        credential.SourceKeyPackage,
	}
	leaf.Sign(cs, sigPriv, nil, 0)

	if _, err := New(cs, 1, sharedKP.Public, sharedKP.Private, leaf, sharedKP.Private, sigPriv, nil); err == nil {
		t.Fatalf("expected ErrInitKeyCollision when init_key == leaf_node.encryption_key")
	}
}

func TestKeyPackageWireRoundTrip(t *testing.T) {
	bundle, cs := buildBundle(t)
	encoded, err := wire.Marshal(&bundle.Public)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got KeyPackage
	if err := wire.Unmarshal(encoded, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if err := got.Verify(cs); err != nil {
		t.Fatalf("Verify round-tripped key package: %v", err)
	}
}
