// Package mls is the group façade (C9): it owns a group's ratchet tree,
// its current-epoch secrets, and its own member's private keys, and is
// the sole legitimate mutator of any of them. Every other package in this
// module (treemath, wire, suite, credential, keypackage, ratchettree,
// treekem, keyschedule) is a pure building block this package wires
// together into the operations a caller actually needs: create a group,
// add or remove a member, update your own leaf, process someone else's
// commit, join from a welcome, and export an application secret.
package mls

import "errors"

// Errors surfaced by this package, layered over the taxonomy its
// component packages already define (ratchettree.ErrStaleDiff,
// treekem.ErrTreeKEMDerivationMismatch, and so on propagate unwrapped).
var (
	ErrEpochClosed         = errors.New("mls: group has already processed a commit for this epoch")
	ErrEpochMismatch       = errors.New("mls: commit targets a different epoch than the group is in")
	ErrUnknownLeaf         = errors.New("mls: leaf index does not name a current member")
	ErrNoRoomForMember     = errors.New("mls: no blank leaf available and tree is already at capacity")
	ErrReusedKeyPackage    = errors.New("mls: key package's leaf encryption key is already in use in this group")
	ErrInvalidCapability   = errors.New("mls: joiner's declared capabilities do not cover this group's suite")
	ErrConfirmationTag     = errors.New("mls: commit's confirmation tag does not match")
	ErrSelfCommit          = errors.New("mls: cannot process a commit authored by this group's own member")
	ErrSuiteMismatch       = errors.New("mls: welcome's cipher suite does not match the joiner's")
	ErrWelcomeLeafMismatch = errors.New("mls: welcome's declared leaf does not belong to the joiner")
)
