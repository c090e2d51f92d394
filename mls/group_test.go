package mls

import (
	"bytes"
	"testing"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/keypackage"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
)

func mustSuite(t *testing.T) suite.CipherSuite {
	t.Helper()
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}
	return cs
}

func newMemberBundle(t *testing.T, cs suite.CipherSuite, identity string) keypackage.Bundle {
	t.Helper()
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
		t.Fatalf("HPKEGenerateKeyPair (leaf): %v", err)
	}
	cred, err := credential.NewBasic([]byte(identity))
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
	bundle, err := keypackage.New(cs, 1, initKP.Public, initKP.Private, leaf, encKP.Private, sigPriv, nil)
	if err != nil {
		t.Fatalf("keypackage.New: %v", err)
	}
	return bundle
}

// newMemberBundleDeclaringSuite is newMemberBundle but with the leaf node's
// declared capabilities naming declaredSuite instead of cs — used to
// exercise AddMember's capability-negotiation rejection.
func newMemberBundleDeclaringSuite(t *testing.T, cs suite.CipherSuite, identity string, declaredSuite suite.ID) keypackage.Bundle {
	t.Helper()
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
		t.Fatalf("HPKEGenerateKeyPair (leaf): %v", err)
	}
	cred, err := credential.NewBasic([]byte(identity))
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	leaf := credential.LeafNode{
		EncryptionKey: encKP.Public,
		SignatureKey:  sigPub,
		Credential:    cred,
		Capabilities: credential.Capabilities{
			Versions:        []uint16{1},
			CipherSuites:    []suite.ID{declaredSuite},
			CredentialTypes: []credential.Type{credential.TypeBasic},
		},
		Source:   credential.SourceKeyPackage,
		Lifetime: credential.Lifetime{NotBefore: 0, NotAfter: 1 << 40},
	}
	if err := leaf.Sign(cs, sigPriv, nil, 0); err != nil {
		t.Fatalf("leaf.Sign: %v", err)
	}
	bundle, err := keypackage.New(cs, 1, initKP.Public, initKP.Private, leaf, encKP.Private, sigPriv, nil)
	if err != nil {
		t.Fatalf("keypackage.New: %v", err)
	}
	return bundle
}

// TestAddMemberAndProcessWelcomeConverge is scenario S4: Alice creates a
// group holding only her own leaf, Bob publishes a key package, Alice
// adds him, and Bob's processed welcome yields a group whose exported
// secret matches Alice's.
func TestAddMemberAndProcessWelcomeConverge(t *testing.T) {
	cs := mustSuite(t)
	aliceBundle := newMemberBundle(t, cs, "alice")
	bobBundle := newMemberBundle(t, cs, "bob")

	alice, err := CreateGroup(cs, aliceBundle, []byte("group-s4"))
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	welcome, commit, err := AddMember(alice, &bobBundle.Public)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if commit.Epoch != 0 {
		t.Fatalf("commit.Epoch = %d, want 0", commit.Epoch)
	}
	if alice.CurrentEpoch() != 1 {
		t.Fatalf("alice epoch after commit = %d, want 1", alice.CurrentEpoch())
	}
	if len(alice.CurrentMembers()) != 2 {
		t.Fatalf("alice has %d members, want 2", len(alice.CurrentMembers()))
	}

	bob, err := ProcessWelcome(cs, bobBundle, welcome)
	if err != nil {
		t.Fatalf("ProcessWelcome: %v", err)
	}
	if bob.CurrentEpoch() != alice.CurrentEpoch() {
		t.Fatalf("bob epoch %d != alice epoch %d", bob.CurrentEpoch(), alice.CurrentEpoch())
	}

	aliceSecret, err := alice.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("alice ExportSecret: %v", err)
	}
	bobSecret, err := bob.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("bob ExportSecret: %v", err)
	}
	if !bytes.Equal(aliceSecret, bobSecret) {
		t.Fatalf("exported secrets differ: alice=%x bob=%x", aliceSecret, bobSecret)
	}
}

// TestRemoveMemberBlanksPathAndConverges is scenario S6: a 4-member group
// removes leaf 0; its leaf and the direct-path node that would have
// needed no refresh stay blank, the tree does not shrink, and every
// remaining member's exported secret agrees after processing the commit.
func TestRemoveMemberBlanksPathAndConverges(t *testing.T) {
	cs := mustSuite(t)
	aliceBundle := newMemberBundle(t, cs, "alice")
	bobBundle := newMemberBundle(t, cs, "bob")
	carolBundle := newMemberBundle(t, cs, "carol")
	daveBundle := newMemberBundle(t, cs, "dave")

	alice, err := CreateGroup(cs, aliceBundle, []byte("group-s6"))
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	welcomeBob, commit1, err := AddMember(alice, &bobBundle.Public)
	if err != nil {
		t.Fatalf("AddMember(bob): %v", err)
	}
	bob, err := ProcessWelcome(cs, bobBundle, welcomeBob)
	if err != nil {
		t.Fatalf("bob ProcessWelcome: %v", err)
	}
	_ = commit1

	welcomeCarol, commit2, err := AddMember(alice, &carolBundle.Public)
	if err != nil {
		t.Fatalf("AddMember(carol): %v", err)
	}
	if err := ProcessCommit(bob, commit2); err != nil {
		t.Fatalf("bob ProcessCommit(carol add): %v", err)
	}
	carol, err := ProcessWelcome(cs, carolBundle, welcomeCarol)
	if err != nil {
		t.Fatalf("carol ProcessWelcome: %v", err)
	}

	welcomeDave, commit3, err := AddMember(alice, &daveBundle.Public)
	if err != nil {
		t.Fatalf("AddMember(dave): %v", err)
	}
	if err := ProcessCommit(bob, commit3); err != nil {
		t.Fatalf("bob ProcessCommit(dave add): %v", err)
	}
	if err := ProcessCommit(carol, commit3); err != nil {
		t.Fatalf("carol ProcessCommit(dave add): %v", err)
	}
	dave, err := ProcessWelcome(cs, daveBundle, welcomeDave)
	if err != nil {
		t.Fatalf("dave ProcessWelcome: %v", err)
	}

	if bob.tree.NLeaves() != 4 {
		t.Fatalf("tree has %d leaves, want 4", bob.tree.NLeaves())
	}

	commit4, err := RemoveMember(bob, treemath.LeafIndex(0))
	if err != nil {
		t.Fatalf("RemoveMember(alice): %v", err)
	}
	if bob.tree.NLeaves() != 4 {
		t.Fatalf("tree shrank to %d leaves after remove, want 4", bob.tree.NLeaves())
	}
	if bob.tree.Leaf(0) != nil {
		t.Fatalf("leaf 0 not blanked after removal")
	}
	if bob.tree.Parent(0) != nil {
		t.Fatalf("node 1 (leaf 0's parent) not blank after removal")
	}

	for _, g := range []*Group{carol, dave} {
		if err := ProcessCommit(g, commit4); err != nil {
			t.Fatalf("ProcessCommit(remove alice): %v", err)
		}
		if g.tree.Leaf(0) != nil {
			t.Fatalf("leaf 0 not blanked in a peer's tree after removal")
		}
		if g.tree.Parent(0) != nil {
			t.Fatalf("node 1 not blank in a peer's tree after removal")
		}
	}

	bobSecret, err := bob.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("bob ExportSecret: %v", err)
	}
	carolSecret, err := carol.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("carol ExportSecret: %v", err)
	}
	daveSecret, err := dave.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("dave ExportSecret: %v", err)
	}
	if !bytes.Equal(bobSecret, carolSecret) || !bytes.Equal(bobSecret, daveSecret) {
		t.Fatalf("exported secrets diverged after remove: bob=%x carol=%x dave=%x", bobSecret, carolSecret, daveSecret)
	}
}

// TestProcessCommitRejectsWrongConfirmationTag checks that a tampered
// confirmation tag is rejected before any tree mutation is installed.
func TestProcessCommitRejectsWrongConfirmationTag(t *testing.T) {
	cs := mustSuite(t)
	aliceBundle := newMemberBundle(t, cs, "alice")
	bobBundle := newMemberBundle(t, cs, "bob")
	carolBundle := newMemberBundle(t, cs, "carol")

	alice, err := CreateGroup(cs, aliceBundle, []byte("group-tag"))
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	welcomeBob, commit1, err := AddMember(alice, &bobBundle.Public)
	if err != nil {
		t.Fatalf("AddMember(bob): %v", err)
	}
	bob, err := ProcessWelcome(cs, bobBundle, welcomeBob)
	if err != nil {
		t.Fatalf("bob ProcessWelcome: %v", err)
	}
	_ = commit1

	_, commit2, err := AddMember(alice, &carolBundle.Public)
	if err != nil {
		t.Fatalf("AddMember(carol): %v", err)
	}

	tampered := *commit2
	tampered.ConfirmationTag = append([]byte(nil), commit2.ConfirmationTag...)
	tampered.ConfirmationTag[0] ^= 0xFF

	if err := ProcessCommit(bob, &tampered); err == nil {
		t.Fatalf("expected ErrConfirmationTag for a tampered tag")
	}
	if bob.CurrentEpoch() != 1 {
		t.Fatalf("bob epoch advanced despite rejected commit: %d", bob.CurrentEpoch())
	}
	if bob.tree.NLeaves() != 2 {
		t.Fatalf("bob tree mutated despite rejected commit: %d leaves", bob.tree.NLeaves())
	}
}

// TestUpdateWithPSKRequiresMatchingSecret is scenario coverage for the
// resumption PSK slot: a matching psk_secret on both sides converges, and a
// mismatched one is caught by the confirmation tag check rather than
// silently producing diverging exported secrets.
func TestUpdateWithPSKRequiresMatchingSecret(t *testing.T) {
	cs := mustSuite(t)
	aliceBundle := newMemberBundle(t, cs, "alice")
	bobBundle := newMemberBundle(t, cs, "bob")

	alice, err := CreateGroup(cs, aliceBundle, []byte("group-psk"))
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	welcome, commit1, err := AddMember(alice, &bobBundle.Public)
	if err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	bob, err := ProcessWelcome(cs, bobBundle, welcome)
	if err != nil {
		t.Fatalf("ProcessWelcome: %v", err)
	}
	_ = commit1

	psk := bytes.Repeat([]byte{0x42}, cs.Nh())
	commit2, err := UpdateWithPSK(alice, psk)
	if err != nil {
		t.Fatalf("UpdateWithPSK: %v", err)
	}

	if err := ProcessCommitWithPSK(bob, commit2, bytes.Repeat([]byte{0x99}, cs.Nh())); err != ErrConfirmationTag {
		t.Fatalf("ProcessCommitWithPSK with wrong psk: got %v, want ErrConfirmationTag", err)
	}
	if bob.CurrentEpoch() != 1 {
		t.Fatalf("bob epoch advanced despite mismatched psk: %d", bob.CurrentEpoch())
	}

	if err := ProcessCommitWithPSK(bob, commit2, psk); err != nil {
		t.Fatalf("ProcessCommitWithPSK with matching psk: %v", err)
	}

	aliceSecret, err := alice.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("alice ExportSecret: %v", err)
	}
	bobSecret, err := bob.ExportSecret("nostr", nil, 32)
	if err != nil {
		t.Fatalf("bob ExportSecret: %v", err)
	}
	if !bytes.Equal(aliceSecret, bobSecret) {
		t.Fatalf("exported secrets differ after matching-psk update: alice=%x bob=%x", aliceSecret, bobSecret)
	}
}

// TestAddMemberRejectsUnsupportedCapability checks that a joiner whose key
// package declares a different cipher suite than the group's is rejected
// before any membership change is staged.
func TestAddMemberRejectsUnsupportedCapability(t *testing.T) {
	cs := mustSuite(t)
	aliceBundle := newMemberBundle(t, cs, "alice")
	eveBundle := newMemberBundleDeclaringSuite(t, cs, "eve", suite.MLS_128_DHKEMP256_AES128GCM_SHA256_P256)

	alice, err := CreateGroup(cs, aliceBundle, []byte("group-caps"))
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	if _, _, err := AddMember(alice, &eveBundle.Public); err != ErrInvalidCapability {
		t.Fatalf("AddMember with mismatched suite capability: got %v, want ErrInvalidCapability", err)
	}
	if alice.CurrentEpoch() != 0 {
		t.Fatalf("alice epoch advanced despite rejected add: %d", alice.CurrentEpoch())
	}
	if len(alice.CurrentMembers()) != 1 {
		t.Fatalf("alice gained a member despite rejected add: %d members", len(alice.CurrentMembers()))
	}
}
