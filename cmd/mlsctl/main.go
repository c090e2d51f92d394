// Command mlsctl is a manual smoke test of the group façade: it creates a
// two-member group over an in-memory store, runs an add, persists and
// reloads the creator's state, runs an update, and prints the exported
// "nostr" secret both members agree on. It then seals a demo application
// message with that secret via package aead and has the other member
// open it, exercising the boundary between the MLS core and a caller's
// own choice of AEAD. It is not a long-running service.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/uuid"
	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/internal/aead"
	"github.com/kindlyrobotics/nochat-mls/internal/store"
	"github.com/kindlyrobotics/nochat-mls/keypackage"
	"github.com/kindlyrobotics/nochat-mls/mls"
	"github.com/kindlyrobotics/nochat-mls/suite"
)

func main() {
	groupIDFlag := flag.String("group", "", "group id for the demo group (default: a freshly generated uuid)")
	aliceName := flag.String("alice", "alice", "identity string for the group creator")
	bobName := flag.String("bob", "bob", "identity string for the member added to the group")
	flag.Parse()

	groupID := *groupIDFlag
	if groupID == "" {
		groupID = uuid.New().String()
	}

	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		log.Fatalf("suite.Get: %v", err)
	}

	aliceBundle, err := newBundle(cs, *aliceName)
	if err != nil {
		log.Fatalf("alice key package: %v", err)
	}
	bobBundle, err := newBundle(cs, *bobName)
	if err != nil {
		log.Fatalf("bob key package: %v", err)
	}

	alice, err := mls.CreateGroup(cs, aliceBundle, []byte(groupID))
	if err != nil {
		log.Fatalf("CreateGroup: %v", err)
	}
	log.Printf("created group %q at epoch %d with 1 member", groupID, alice.CurrentEpoch())

	welcome, commit, err := mls.AddMember(alice, &bobBundle.Public)
	if err != nil {
		log.Fatalf("AddMember: %v", err)
	}
	_ = commit
	log.Printf("added %q, group now at epoch %d with %d members", *bobName, alice.CurrentEpoch(), len(alice.CurrentMembers()))

	bob, err := mls.ProcessWelcome(cs, bobBundle, welcome)
	if err != nil {
		log.Fatalf("bob ProcessWelcome: %v", err)
	}

	ctx := context.Background()
	memStore := store.NewMemoryStore()
	encoded, err := alice.Marshal()
	if err != nil {
		log.Fatalf("alice.Marshal: %v", err)
	}
	if err := memStore.SaveState(ctx, []byte(groupID), encoded); err != nil {
		log.Fatalf("SaveState: %v", err)
	}

	reloaded, err := memStore.LoadState(ctx, []byte(groupID))
	if err != nil {
		log.Fatalf("LoadState: %v", err)
	}
	alice, err = mls.Unmarshal(reloaded)
	if err != nil {
		log.Fatalf("mls.Unmarshal: %v", err)
	}
	log.Printf("reloaded alice's state from the store at epoch %d", alice.CurrentEpoch())

	updateCommit, err := mls.Update(alice)
	if err != nil {
		log.Fatalf("Update: %v", err)
	}
	if err := mls.ProcessCommit(bob, updateCommit); err != nil {
		log.Fatalf("bob ProcessCommit(update): %v", err)
	}
	log.Printf("alice refreshed her own leaf, group now at epoch %d", alice.CurrentEpoch())

	aliceSecret, err := alice.ExportSecret("nostr", nil, 32)
	if err != nil {
		log.Fatalf("alice ExportSecret: %v", err)
	}
	bobSecret, err := bob.ExportSecret("nostr", nil, 32)
	if err != nil {
		log.Fatalf("bob ExportSecret: %v", err)
	}
	log.Printf("alice exported secret: %x", aliceSecret)
	log.Printf("bob   exported secret: %x", bobSecret)

	appKey, err := aead.DeriveKey(aliceSecret, nil, []byte("mlsctl demo message"), aead.KeySize)
	if err != nil {
		log.Fatalf("aead.DeriveKey: %v", err)
	}
	sealed, err := aead.Encrypt(aead.AlgorithmXChaCha20, appKey, []byte("hello from alice"), []byte(groupID))
	if err != nil {
		log.Fatalf("aead.Encrypt: %v", err)
	}

	bobAppKey, err := aead.DeriveKey(bobSecret, nil, []byte("mlsctl demo message"), aead.KeySize)
	if err != nil {
		log.Fatalf("aead.DeriveKey: %v", err)
	}
	opened, err := aead.Decrypt(sealed, bobAppKey, []byte(groupID))
	if err != nil {
		log.Fatalf("bob aead.Decrypt: %v", err)
	}
	log.Printf("bob decrypted alice's application message: %q", opened)
}

// newBundle builds a fresh KeyPackage bundle for a basic-credential identity:
// a signature key pair, an HPKE init key pair, and a leaf encryption key
// pair, all signed over the identity's basic credential.
func newBundle(cs suite.CipherSuite, identity string) (keypackage.Bundle, error) {
	sigPub, sigPriv, err := cs.GenerateSignatureKeyPair()
	if err != nil {
		return keypackage.Bundle{}, err
	}
	initKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		return keypackage.Bundle{}, err
	}
	encKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		return keypackage.Bundle{}, err
	}
	cred, err := credential.NewBasic([]byte(identity))
	if err != nil {
		return keypackage.Bundle{}, err
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
		return keypackage.Bundle{}, err
	}
	return keypackage.New(cs, 1, initKP.Public, initKP.Private, leaf, encKP.Private, sigPriv, nil)
}
