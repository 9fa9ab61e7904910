// Copyright 2025 Trustcompute Protocol

package escrow

import (
	"testing"

	"github.com/trustcompute/protocol/pkg/crypto/bls"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

func TestVerifyReceiptSignatureAcceptsValidSignature(t *testing.T) {
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	jobID := hasher.Of([]byte("job"))
	moduleDigest := hasher.Of([]byte("module"))
	inputDigest := hasher.Of([]byte("input"))
	outputDigest := hasher.Of([]byte("output"))
	executor := identity.FromBytes([]byte("executor"))

	hash := ReceiptSigningHash(jobID, moduleDigest, inputDigest, outputDigest, executor)
	sig := sk.SignWithDomain(hash[:], bls.DomainResult)

	if !VerifyReceiptSignature(pk, jobID, moduleDigest, inputDigest, outputDigest, executor, sig.Bytes()) {
		t.Fatal("valid receipt signature rejected")
	}
}

func TestVerifyReceiptSignatureRejectsWrongKey(t *testing.T) {
	sk, _, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, otherPk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	jobID := hasher.Of([]byte("job"))
	moduleDigest := hasher.Of([]byte("module"))
	inputDigest := hasher.Of([]byte("input"))
	outputDigest := hasher.Of([]byte("output"))
	executor := identity.FromBytes([]byte("executor"))

	hash := ReceiptSigningHash(jobID, moduleDigest, inputDigest, outputDigest, executor)
	sig := sk.SignWithDomain(hash[:], bls.DomainResult)

	if VerifyReceiptSignature(otherPk, jobID, moduleDigest, inputDigest, outputDigest, executor, sig.Bytes()) {
		t.Fatal("signature verified under the wrong public key")
	}
}

func TestVerifyReceiptSignatureRejectsTamperedDigest(t *testing.T) {
	sk, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	jobID := hasher.Of([]byte("job"))
	moduleDigest := hasher.Of([]byte("module"))
	inputDigest := hasher.Of([]byte("input"))
	outputDigest := hasher.Of([]byte("output"))
	tamperedOutput := hasher.Of([]byte("tampered"))
	executor := identity.FromBytes([]byte("executor"))

	hash := ReceiptSigningHash(jobID, moduleDigest, inputDigest, outputDigest, executor)
	sig := sk.SignWithDomain(hash[:], bls.DomainResult)

	if VerifyReceiptSignature(pk, jobID, moduleDigest, inputDigest, tamperedOutput, executor, sig.Bytes()) {
		t.Fatal("signature verified over a different output digest than it was signed for")
	}
}

func TestVerifyReceiptSignatureRejectsMalformedBytes(t *testing.T) {
	_, pk, err := bls.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	jobID := hasher.Of([]byte("job"))
	executor := identity.FromBytes([]byte("executor"))
	if VerifyReceiptSignature(pk, jobID, jobID, jobID, jobID, executor, []byte("not-a-signature")) {
		t.Fatal("malformed signature bytes accepted")
	}
}
