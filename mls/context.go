package mls

import (
	"github.com/kindlyrobotics/nochat-mls/ratchettree"
	"github.com/kindlyrobotics/nochat-mls/suite"
	"github.com/kindlyrobotics/nochat-mls/treemath"
	"github.com/kindlyrobotics/nochat-mls/wire"
)

// groupContextBytes encodes the (suite, group_id, epoch, tree_hash) tuple
// that binds a commit's HPKE path encryption and its key schedule to a
// specific point in a specific group's history. v is whatever tree state
// the caller considers current at epoch — a merged Tree, or a Diff with
// edits staged but not yet merged — since TreeHash works over either.
//
// RFC 9420's GroupContext additionally carries confirmed_transcript_hash
// and the group's extensions; this implementation omits both. Transcript
// integrity is still enforced by advanceTranscriptHashes and
// confirmationTag below, just not folded into this binding value.
func groupContextBytes(cs suite.CipherSuite, groupID []byte, epoch uint64, v ratchettree.View, nLeaves uint32) ([]byte, error) {
	treeHash, err := ratchettree.TreeHash(v, nLeaves, cs, treemath.Root(nLeaves))
	if err != nil {
		return nil, err
	}
	e := wire.NewEncoder()
	e.WriteUint16(uint16(cs.ID()))
	if err := e.WriteVarBytes(wire.Len16, groupID); err != nil {
		return nil, err
	}
	e.WriteUint64(epoch)
	if err := e.WriteVarBytes(wire.Len8, treeHash); err != nil {
		return nil, err
	}
	return e.Bytes(), nil
}

// confirmationTag stands in for RFC 9420's HMAC(confirmation_key,
// confirmed_transcript_hash): a suite-hash-based MAC rather than a
// dedicated HMAC construction, since the cipher-suite façade exposes a
// hash function but no separate MAC primitive. Sufficient to bind a
// commit to one confirmed_transcript_hash value; not a claim of exact
// RFC 9420 test-vector compatibility.
func confirmationTag(cs suite.CipherSuite, confirmationKey, confirmedTranscriptHash []byte) []byte {
	return cs.Hash(append(append([]byte(nil), confirmationKey...), confirmedTranscriptHash...))
}

// advanceTranscriptHashes folds commitContent and the resulting
// confirmation tag into the transcript hash chain, per the two-hash
// (confirmed, interim) structure named in the persisted-state layout.
func advanceTranscriptHashes(cs suite.CipherSuite, interimTranscriptHash, commitContent, confirmationKey []byte) (confirmed, interim, tag []byte) {
	confirmed = cs.Hash(append(append([]byte(nil), interimTranscriptHash...), commitContent...))
	tag = confirmationTag(cs, confirmationKey, confirmed)
	interim = cs.Hash(append(append([]byte(nil), confirmed...), tag...))
	return confirmed, interim, tag
}
