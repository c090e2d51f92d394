// Package keyschedule computes the per-epoch secret graph (C8): starting
// from the previous epoch's init_secret and a fresh commit_secret, it
// derives every secret a commit advances the group to, ending in a new
// init_secret for the epoch after that.
package keyschedule

import (
	"github.com/kindlyrobotics/nochat-mls/suite"
)

// Epoch holds every secret derived for a single epoch transition. Every
// field is Nh bytes long.
type Epoch struct {
	JoinerSecret     []byte
	WelcomeSecret    []byte
	EpochSecret      []byte
	SenderDataSecret []byte
	EncryptionSecret []byte
	ExporterSecret   []byte
	ExternalSecret   []byte
	ConfirmationKey  []byte
	MembershipKey    []byte
	ResumptionPSK    []byte
	InitSecret       []byte // fed into the next call to Advance
}

// Advance computes the secret graph for the epoch that commitSecret and
// groupContext describe, rooted in the previous epoch's initSecret.
// pskSecret is the resumption/external PSK input §4.8 folds into
// epoch_secret's extraction; nil defaults to the all-zero string of length
// Nh, the value every commit uses unless a caller explicitly opts into the
// resumption PSK slot (this implementation carries no PSK proposal type, so
// a caller supplies pskSecret out of band, not via a negotiated proposal).
func Advance(cs suite.CipherSuite, initSecret, commitSecret, pskSecret, groupContext []byte) (*Epoch, error) {
	joinerExtract := cs.Extract(initSecret, commitSecret)
	joinerSecret, err := cs.DeriveSecret(joinerExtract, "joiner")
	if err != nil {
		return nil, err
	}
	return FromJoinerSecret(cs, joinerSecret, pskSecret, groupContext)
}

// FromJoinerSecret computes the same epoch secret graph as Advance from an
// already-derived joiner_secret, the half of §4.8 a joiner applying a
// welcome message runs: they never see commit_secret or init_secret
// directly, only the joiner_secret the welcome handed them. pskSecret is
// nil for every welcome this implementation produces — see
// mls.ProcessWelcome, which passes nil: no resumption is carried across a
// join.
func FromJoinerSecret(cs suite.CipherSuite, joinerSecret, pskSecret, groupContext []byte) (*Epoch, error) {
	if pskSecret == nil {
		pskSecret = make([]byte, cs.Nh())
	}
	epochExtract := cs.Extract(joinerSecret, pskSecret)

	welcomeSecret, err := cs.DeriveSecret(epochExtract, "welcome")
	if err != nil {
		return nil, err
	}

	epochSecret, err := cs.ExpandWithLabel(epochExtract, "epoch", groupContext, cs.Nh())
	if err != nil {
		return nil, err
	}

	derive := func(label string) ([]byte, error) { return cs.DeriveSecret(epochSecret, label) }

	senderDataSecret, err := derive("sender data")
	if err != nil {
		return nil, err
	}
	encryptionSecret, err := derive("encryption")
	if err != nil {
		return nil, err
	}
	exporterSecret, err := derive("exporter")
	if err != nil {
		return nil, err
	}
	externalSecret, err := derive("external")
	if err != nil {
		return nil, err
	}
	confirmationKey, err := derive("confirm")
	if err != nil {
		return nil, err
	}
	membershipKey, err := derive("membership")
	if err != nil {
		return nil, err
	}
	resumptionPSK, err := derive("resumption")
	if err != nil {
		return nil, err
	}
	nextInitSecret, err := derive("init")
	if err != nil {
		return nil, err
	}

	return &Epoch{
		JoinerSecret:     joinerSecret,
		WelcomeSecret:    welcomeSecret,
		EpochSecret:      epochSecret,
		SenderDataSecret: senderDataSecret,
		EncryptionSecret: encryptionSecret,
		ExporterSecret:   exporterSecret,
		ExternalSecret:   externalSecret,
		ConfirmationKey:  confirmationKey,
		MembershipKey:    membershipKey,
		ResumptionPSK:    resumptionPSK,
		InitSecret:       nextInitSecret,
	}, nil
}

// Export derives an application-visible secret from this epoch's exporter
// secret, per §4.3's exporter construction — the only caller-visible
// consumer of ExporterSecret.
func (e *Epoch) Export(cs suite.CipherSuite, label string, context []byte, length int) ([]byte, error) {
	return cs.ExporterSecret(e.ExporterSecret, label, context, length)
}
