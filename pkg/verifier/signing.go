// Copyright 2025 Trustcompute Protocol
//
// Committee attestations (a selected verifier confirming or disputing a
// job's receipt) are BLS12-381 signatures, per spec.md §3/§4.D and the
// GLOSSARY's "Committee signature" entry. This file verifies individual
// and aggregate attestations; Registry itself stays free of the BLS
// dependency, the same separation pkg/escrow/signing.go keeps from
// Machine.

package verifier

import (
	"github.com/trustcompute/protocol/pkg/crypto/bls"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// AttestationHash is the canonical tuple a verifier's committee
// attestation covers: jobID || outputDigest || verifier identity,
// fixed-width concatenation per pkg/hasher's convention.
func AttestationHash(jobID, outputDigest hasher.Digest, verifier identity.Address) hasher.Digest {
	buf := make([]byte, 0, hasher.Size*2+len(verifier))
	buf = append(buf, jobID[:]...)
	buf = append(buf, outputDigest[:]...)
	buf = append(buf, verifier[:]...)
	return hasher.Of(buf)
}

// VerifyAttestation reports whether signature is a valid individual
// BLS attestation by verifierKey over (jobID, outputDigest, verifier).
func VerifyAttestation(verifierKey *bls.PublicKey, jobID, outputDigest hasher.Digest, verifier identity.Address, signature []byte) bool {
	if verifierKey == nil {
		return false
	}
	sig, err := bls.SignatureFromBytes(signature)
	if err != nil {
		return false
	}
	hash := AttestationHash(jobID, outputDigest, verifier)
	return verifierKey.VerifyWithDomain(sig, hash[:], bls.DomainAttestation)
}

// VerifyAggregateAttestation reports whether aggSig is a valid BLS
// aggregate over the same (jobID, outputDigest) message, one signature
// contributed per key in verifierKeys — the three-primary/three-backup
// committee case (spec.md §4.D), letting a quorum submit one signature
// instead of one per verifier.
func VerifyAggregateAttestation(verifierKeys []*bls.PublicKey, jobID, outputDigest hasher.Digest, aggSig *bls.Signature) bool {
	if len(verifierKeys) == 0 || aggSig == nil {
		return false
	}
	// The attestation hash omits the individual verifier address here:
	// an aggregate signature is only meaningful over a message every
	// signer shares, and the per-verifier AttestationHash above binds
	// each individual signer's address instead.
	buf := make([]byte, 0, hasher.Size*2)
	buf = append(buf, jobID[:]...)
	buf = append(buf, outputDigest[:]...)
	message := hasher.Of(buf)
	return bls.VerifyAggregateSignatureWithDomain(aggSig, verifierKeys, message[:], bls.DomainAttestation)
}
