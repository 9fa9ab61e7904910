// Copyright 2025 Trustcompute Protocol

package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/verifier"
)

func newTestBisectionHandlers(t *testing.T) *BisectionHandlers {
	t.Helper()
	mem := ledger.NewMemory()
	modules := escrow.NewModuleRegistry()
	machine := escrow.NewMachine(mem, modules, escrow.FlatFeeSchedule{BasisPoints: 100}, escrowAddr, feeAddr)
	verifiers := verifier.NewRegistry(big.NewInt(100), testToken, time.Minute)
	engine := bisection.NewEngine(machine, verifiers, mem, modules, escrowAddr)
	direct := bisection.NewDirectEngine(machine, verifiers)
	return NewBisectionHandlers(engine, direct, nil)
}

func TestHandleInitiateAndGetChallengeOverHTTP(t *testing.T) {
	h := newTestBisectionHandlers(t)
	jobID := hasher.Of([]byte("job-1"))
	path := "/api/v1/bisection/0x" + hexDigest(jobID)

	rec := doJSON(t, h.HandleInitiate, http.MethodPost, path+"/initiate", initiateBisectionRequest{
		Challenger:         identity.FromBytes([]byte("challenger")),
		Executor:           addrExecutor,
		TotalSteps:         8,
		FinalStateRoot:     hasher.Of([]byte("root")),
		InitialStateDigest: hasher.Of([]byte("initial")),
		ClaimedFinalDigest: hasher.Of([]byte("claimed")),
		ChallengeStake:     "10",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	getRec := doJSON(t, func(w http.ResponseWriter, r *http.Request) {
		routeBisection(h, w, r)
	}, http.MethodGet, path, nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get challenge: expected 200, got %d: %s", getRec.Code, getRec.Body.String())
	}
	var c bisection.Challenge
	if err := json.Unmarshal(getRec.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if c.TotalSteps != 8 {
		t.Fatalf("expected TotalSteps 8, got %d", c.TotalSteps)
	}
}

func TestHandleGetChallengeUnknownReturnsNotFound(t *testing.T) {
	h := newTestBisectionHandlers(t)
	jobID := hasher.Of([]byte("unknown-job"))
	rec := doJSON(t, h.HandleGetChallenge, http.MethodGet, "/api/v1/bisection/0x"+hexDigest(jobID), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCommitFraudOverHTTP(t *testing.T) {
	h := newTestBisectionHandlers(t)
	jobID := hasher.Of([]byte("job-2"))
	challenger := identity.FromBytes([]byte("challenger-2"))
	commitment := bisection.CommitmentHash([]byte("module"), []byte("input"), []byte("output"), challenger, 1)

	rec := doJSON(t, h.HandleCommitFraud, http.MethodPost, "/api/v1/disputes/0x"+hexDigest(jobID)+"/commit", commitFraudRequest{
		Challenger: challenger,
		Commitment: commitment,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("commit fraud: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	again := doJSON(t, h.HandleCommitFraud, http.MethodPost, "/api/v1/disputes/0x"+hexDigest(jobID)+"/commit", commitFraudRequest{
		Challenger: challenger,
		Commitment: commitment,
	})
	if again.Code != http.StatusBadRequest {
		t.Fatalf("duplicate commit: expected 400, got %d: %s", again.Code, again.Body.String())
	}
}

func hexDigest(d hasher.Digest) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(d)*2)
	for i, b := range d {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
