// Copyright 2025 Trustcompute Protocol
//
// Receipt signatures are BLS12-381, per spec.md §3 and pkg/crypto/bls.
// SubmitReceipt itself stores a signature verbatim without inspecting it
// (machine.go's own comment: the caller verifies before submitting); this
// file is that verification step, kept separate so Machine has no BLS
// dependency of its own.

package escrow

import (
	"github.com/trustcompute/protocol/pkg/crypto/bls"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// VerifyReceiptSignature reports whether signature is a valid BLS
// signature, under executorKey, over the canonical ReceiptSigningHash
// for the given job/module/input/output tuple.
func VerifyReceiptSignature(executorKey *bls.PublicKey, jobID, moduleDigest, inputDigest, outputDigest hasher.Digest, executor identity.Address, signature []byte) bool {
	if executorKey == nil {
		return false
	}
	sig, err := bls.SignatureFromBytes(signature)
	if err != nil {
		return false
	}
	hash := ReceiptSigningHash(jobID, moduleDigest, inputDigest, outputDigest, executor)
	return executorKey.VerifyWithDomain(sig, hash[:], bls.DomainResult)
}
