package treekem

import (
	"bytes"
	"testing"

	"github.com/kindlyrobotics/nochat-mls/credential"
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
)

type member struct {
	leaf      treemath.LeafIndex
	node      treemath.NodeIndex
	encPriv   []byte
	sigPriv   []byte
	leafNode  *credential.LeafNode
}

func newMember(t *testing.T, cs suite.CipherSuite, leaf treemath.LeafIndex, name string) member {
	t.Helper()
	sigPub, sigPriv, err := cs.GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignatureKeyPair: %v", err)
	}
	encKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		t.Fatalf("HPKEGenerateKeyPair: %v", err)
	}
	cred, err := credential.NewBasic([]byte(name))
	if err != nil {
		t.Fatalf("NewBasic: %v", err)
	}
	ln := &credential.LeafNode{
		EncryptionKey: encKP.Public,
		SignatureKey:  sigPub,
		Credential:    cred,
		Source:        credential.SourceKeyPackage,
	}
	if err := ln.Sign(cs, sigPriv, nil, 0); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return member{leaf: leaf, node: leaf.ToNodeIndex(), encPriv: encKP.Private, sigPriv: sigPriv, leafNode: ln}
}

func installMembers(t *testing.T, tr *ratchettree.Tree, members ...member) {
	t.Helper()
	d := tr.Diff()
	for _, m := range members {
		d.ReplaceLeaf(m.leaf, m.leafNode)
	}
	if err := tr.Merge(d.Stage()); err != nil {
		t.Fatalf("Merge: %v", err)
	}
}

// TestGenerateAndApplyPathRoundTrip exercises the two-member case: alice
// commits a fresh path, bob (the only other member, directly covered by
// alice's single filtered-path node) applies it and must derive the same
// commit_secret.
func TestGenerateAndApplyPathRoundTrip(t *testing.T) {
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}

	tr := ratchettree.New(4)
	alice := newMember(t, cs, 0, "alice")
	bob := newMember(t, cs, 1, "bob")
	installMembers(t, tr, alice, bob)

	groupContext := []byte("group-context-v1")
	newSigPub, newSigPriv, err := cs.GenerateSignatureKeyPair()
	if err != nil {
		t.Fatalf("GenerateSignatureKeyPair: %v", err)
	}
	newEncKP, err := cs.HPKEGenerateKeyPair()
	if err != nil {
		t.Fatalf("HPKEGenerateKeyPair: %v", err)
	}
	cred, _ := credential.NewBasic([]byte("alice"))
	template := credential.LeafNode{
		EncryptionKey: newEncKP.Public,
		SignatureKey:  newSigPub,
		Credential:    cred,
	}

	gen, err := GeneratePath(cs, tr, tr.NLeaves(), alice.leaf, nil, groupContext, newSigPriv, template)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	if len(gen.Path.Nodes) != 1 {
		t.Fatalf("got %d update-path nodes, want 1 (alice's sibling is bob, her other copath entry is all-blank)", len(gen.Path.Nodes))
	}

	applied, err := ApplyPath(cs, tr, tr.NLeaves(), alice.leaf, gen.Path, groupContext, bob.node, bob.encPriv)
	if err != nil {
		t.Fatalf("ApplyPath: %v", err)
	}

	if !bytes.Equal(gen.CommitSecret, applied.CommitSecret) {
		t.Fatalf("sender and receiver derived different commit secrets")
	}
	if len(gen.CommitSecret) != cs.Nh() {
		t.Fatalf("commit secret length = %d, want %d", len(gen.CommitSecret), cs.Nh())
	}
}

// TestApplyPathRejectsTamperedEncryptionKey builds a three-member tree so
// that bob's application of alice's path must independently re-derive and
// verify a node strictly above the one he decrypts at — a commit that
// lies about that node's public key must be rejected.
func TestApplyPathRejectsTamperedEncryptionKey(t *testing.T) {
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}

	tr := ratchettree.New(4)
	alice := newMember(t, cs, 0, "alice")
	bob := newMember(t, cs, 1, "bob")
	carol := newMember(t, cs, 2, "carol")
	installMembers(t, tr, alice, bob, carol)

	groupContext := []byte("group-context-v1")
	newSigPub, newSigPriv, _ := cs.GenerateSignatureKeyPair()
	newEncKP, _ := cs.HPKEGenerateKeyPair()
	cred, _ := credential.NewBasic([]byte("alice"))
	template := credential.LeafNode{
		EncryptionKey: newEncKP.Public,
		SignatureKey:  newSigPub,
		Credential:    cred,
	}

	gen, err := GeneratePath(cs, tr, tr.NLeaves(), alice.leaf, nil, groupContext, newSigPriv, template)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	if len(gen.Path.Nodes) != 2 {
		t.Fatalf("got %d update-path nodes, want 2 (bob covers the near node, carol the far one)", len(gen.Path.Nodes))
	}

	// Bob applies cleanly against the untampered path.
	if _, err := ApplyPath(cs, tr, tr.NLeaves(), alice.leaf, gen.Path, groupContext, bob.node, bob.encPriv); err != nil {
		t.Fatalf("ApplyPath (untampered): %v", err)
	}

	tampered := *gen.Path
	tampered.Nodes = append([]UpdatePathNode(nil), gen.Path.Nodes...)
	tampered.Nodes[1] = UpdatePathNode{
		EncryptionKey:        []byte("not-the-real-key-not-the-real-key"),
		ParentHash:           gen.Path.Nodes[1].ParentHash,
		EncryptedPathSecrets: gen.Path.Nodes[1].EncryptedPathSecrets,
	}

	_, err = ApplyPath(cs, tr, tr.NLeaves(), alice.leaf, &tampered, groupContext, bob.node, bob.encPriv)
	if err == nil {
		t.Fatalf("expected ErrTreeKEMDerivationMismatch for a tampered update-path node")
	}
}

// TestGeneratePathSingleLeafTreeYieldsZeroCommitSecret covers the edge
// case where the committer's filtered direct path is empty: a lone member
// has no ancestors to refresh, so the commit_secret is the all-zero
// string rather than a derived value.
func TestGeneratePathSingleLeafTreeYieldsZeroCommitSecret(t *testing.T) {
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}

	tr := ratchettree.New(1)
	alice := newMember(t, cs, 0, "alice")
	installMembers(t, tr, alice)

	newSigPub, newSigPriv, _ := cs.GenerateSignatureKeyPair()
	newEncKP, _ := cs.HPKEGenerateKeyPair()
	cred, _ := credential.NewBasic([]byte("alice"))
	template := credential.LeafNode{
		EncryptionKey: newEncKP.Public,
		SignatureKey:  newSigPub,
		Credential:    cred,
	}

	gen, err := GeneratePath(cs, tr, tr.NLeaves(), alice.leaf, nil, []byte("ctx"), newSigPriv, template)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	if len(gen.Path.Nodes) != 0 {
		t.Fatalf("got %d update-path nodes, want 0", len(gen.Path.Nodes))
	}
	want := make([]byte, cs.Nh())
	if !bytes.Equal(gen.CommitSecret, want) {
		t.Fatalf("commit secret = %x, want all-zero", gen.CommitSecret)
	}
}

// TestPathSecretChainIsDeterministic confirms the node-keypair and
// path-secret derivations GeneratePath/ApplyPath both perform from a path
// secret are pure functions of that secret, not of any hidden randomness.
func TestPathSecretChainIsDeterministic(t *testing.T) {
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}
	seed := bytes.Repeat([]byte{0x42}, cs.Nh())

	nodeSecret1, err := cs.ExpandWithLabel(seed, "node", nil, cs.Nh())
	if err != nil {
		t.Fatalf("ExpandWithLabel: %v", err)
	}
	nodeSecret2, err := cs.ExpandWithLabel(seed, "node", nil, cs.Nh())
	if err != nil {
		t.Fatalf("ExpandWithLabel: %v", err)
	}
	if !bytes.Equal(nodeSecret1, nodeSecret2) {
		t.Fatalf("ExpandWithLabel is not deterministic")
	}

	kp1, err := cs.HPKEDeriveKeyPair(nodeSecret1)
	if err != nil {
		t.Fatalf("HPKEDeriveKeyPair: %v", err)
	}
	kp2, err := cs.HPKEDeriveKeyPair(nodeSecret2)
	if err != nil {
		t.Fatalf("HPKEDeriveKeyPair: %v", err)
	}
	if !bytes.Equal(kp1.Public, kp2.Public) || !bytes.Equal(kp1.Private, kp2.Private) {
		t.Fatalf("HPKEDeriveKeyPair is not deterministic")
	}

	nextSecret, err := cs.ExpandWithLabel(seed, "path", nil, cs.Nh())
	if err != nil {
		t.Fatalf("ExpandWithLabel: %v", err)
	}
	if bytes.Equal(nextSecret, seed) {
		t.Fatalf("chained path secret must differ from its parent")
	}
}

// TestGeneratedLeafParentHashMatchesLowestPathNode confirms the
// committer's freshly signed leaf carries the parent-hash value computed
// directly from the lowest node of its own path, not that node's own
// ParentHash field (which instead chains to the node above it).
func TestGeneratedLeafParentHashMatchesLowestPathNode(t *testing.T) {
	cs, err := suite.Get(suite.MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519)
	if err != nil {
		t.Fatalf("suite.Get: %v", err)
	}

	tr := ratchettree.New(4)
	alice := newMember(t, cs, 0, "alice")
	bob := newMember(t, cs, 1, "bob")
	carol := newMember(t, cs, 2, "carol")
	installMembers(t, tr, alice, bob, carol)

	groupContext := []byte("group-context-v1")
	newSigPub, newSigPriv, _ := cs.GenerateSignatureKeyPair()
	newEncKP, _ := cs.HPKEGenerateKeyPair()
	cred, _ := credential.NewBasic([]byte("alice"))
	template := credential.LeafNode{
		EncryptionKey: newEncKP.Public,
		SignatureKey:  newSigPub,
		Credential:    cred,
	}

	gen, err := GeneratePath(cs, tr, tr.NLeaves(), alice.leaf, nil, groupContext, newSigPriv, template)
	if err != nil {
		t.Fatalf("GeneratePath: %v", err)
	}
	if len(gen.ParentNodes) < 2 {
		t.Fatalf("got %d parent nodes, want at least 2 so the lowest node's own ParentHash differs from the value this test checks", len(gen.ParentNodes))
	}

	want, err := ratchettree.ParentHashValueOf(cs, gen.ParentNodes[0])
	if err != nil {
		t.Fatalf("ParentHashValueOf: %v", err)
	}
	if !bytes.Equal(gen.Path.LeafNode.ParentHash, want) {
		t.Fatalf("leaf ParentHash = %x, want %x (hash of the lowest path node itself)", gen.Path.LeafNode.ParentHash, want)
	}
	if bytes.Equal(gen.Path.LeafNode.ParentHash, gen.ParentNodes[0].ParentHash) {
		t.Fatalf("leaf ParentHash must not equal the lowest node's own ParentHash field (that chains to the node above it)")
	}
}
