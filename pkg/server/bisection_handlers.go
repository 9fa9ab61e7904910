// Copyright 2025 Trustcompute Protocol
//
// Bisection & Fraud Proof API Handlers
// Exposes the interactive bisection engine and the direct commit-reveal
// path (spec.md §4.E, §6) over HTTP.

package server

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/merkle"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// BisectionHandlers provides HTTP handlers for interactive bisection and
// direct fraud-proof disputes.
type BisectionHandlers struct {
	engine *bisection.Engine
	direct *bisection.DirectEngine
	logger *log.Logger
}

// NewBisectionHandlers constructs BisectionHandlers over engine and direct.
func NewBisectionHandlers(engine *bisection.Engine, direct *bisection.DirectEngine, logger *log.Logger) *BisectionHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[BisectionAPI] ", log.LstdFlags)
	}
	return &BisectionHandlers{engine: engine, direct: direct, logger: logger}
}

func trimSuffixSegment(path, suffix string) string {
	return strings.TrimSuffix(path, suffix)
}

type initiateBisectionRequest struct {
	Challenger         identity.Address `json:"challenger"`
	Executor           identity.Address `json:"executor"`
	TotalSteps         uint64           `json:"totalSteps"`
	FinalStateRoot     hasher.Digest    `json:"finalStateRoot"`
	InitialStateDigest hasher.Digest    `json:"initialStateDigest"`
	ClaimedFinalDigest hasher.Digest    `json:"claimedFinalDigest"`
	ChallengeStake     string           `json:"challengeStake"`
}

// HandleInitiate handles POST /api/v1/bisection/{jobID}/initiate.
func (h *BisectionHandlers) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/initiate"), "/api/v1/bisection/")
	if !ok {
		return
	}
	var req initiateBisectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stake, ok := parseBig(req.ChallengeStake)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STAKE", "challengeStake is not a valid integer")
		return
	}
	c, err := h.engine.InitiateBisection(r.Context(), jobID, req.Challenger, req.Executor, req.TotalSteps,
		req.FinalStateRoot, req.InitialStateDigest, req.ClaimedFinalDigest, stake, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type executorRespondRequest struct {
	MidDigest hasher.Digest `json:"midDigest"`
}

// HandleExecutorRespond handles POST /api/v1/bisection/{jobID}/respond.
func (h *BisectionHandlers) HandleExecutorRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/respond"), "/api/v1/bisection/")
	if !ok {
		return
	}
	var req executorRespondRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.engine.ExecutorRespond(jobID, req.MidDigest, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type challengerPickRequest struct {
	PickFirstHalf       bool          `json:"pickFirstHalf"`
	ChallengerMidDigest hasher.Digest `json:"challengerMidDigest"`
	AdditionalStake     string        `json:"additionalStake"`
}

// HandleChallengerPick handles POST /api/v1/bisection/{jobID}/pick.
func (h *BisectionHandlers) HandleChallengerPick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/pick"), "/api/v1/bisection/")
	if !ok {
		return
	}
	var req challengerPickRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stake, ok := parseBig(req.AdditionalStake)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STAKE", "additionalStake is not a valid integer")
		return
	}
	c, err := h.engine.ChallengerPick(jobID, req.PickFirstHalf, req.ChallengerMidDigest, stake, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type resolveBisectionRequest struct {
	ModuleBytes []byte                 `json:"moduleBytes"`
	Witness     wasmsbx.StepWitness    `json:"witness"`
	PreProof    *merkle.InclusionProof `json:"preProof"`
	PostProof   *merkle.InclusionProof `json:"postProof"`
	FuelCap     uint64                 `json:"fuelCap"`
	MemCap      int                    `json:"memCap"`
	MaxOutput   int                    `json:"maxOutput"`
}

// HandleResolve handles POST /api/v1/bisection/{jobID}/resolve, the final
// single-step adjudication once a round has narrowed the dispute to one
// instruction.
func (h *BisectionHandlers) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/resolve"), "/api/v1/bisection/")
	if !ok {
		return
	}
	var req resolveBisectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	limits := wasmsbx.Limits{FuelCap: req.FuelCap, MemCap: req.MemCap, MaxOutput: req.MaxOutput}
	c, err := h.engine.ResolveBisection(r.Context(), jobID, req.ModuleBytes, req.Witness, req.PreProof, req.PostProof, limits, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleResolveExecutorTimeout handles POST /api/v1/bisection/{jobID}/timeout/executor.
func (h *BisectionHandlers) HandleResolveExecutorTimeout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/timeout/executor"), "/api/v1/bisection/")
	if !ok {
		return
	}
	c, err := h.engine.ResolveExecutorTimeout(r.Context(), jobID, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleResolveChallengerTimeout handles POST /api/v1/bisection/{jobID}/timeout/challenger.
func (h *BisectionHandlers) HandleResolveChallengerTimeout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/timeout/challenger"), "/api/v1/bisection/")
	if !ok {
		return
	}
	c, err := h.engine.ResolveChallengerTimeout(r.Context(), jobID, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGetChallenge handles GET /api/v1/bisection/{jobID}.
func (h *BisectionHandlers) HandleGetChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/bisection/")
	if !ok {
		return
	}
	c, found := h.engine.Challenge(jobID)
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", bisection.ErrChallengeNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type commitFraudRequest struct {
	Challenger identity.Address `json:"challenger"`
	Commitment hasher.Digest    `json:"commitment"`
}

// HandleCommitFraud handles POST /api/v1/disputes/{jobID}/commit, the
// commit half of the direct (non-interactive) fraud path for small jobs.
func (h *BisectionHandlers) HandleCommitFraud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/commit"), "/api/v1/disputes/")
	if !ok {
		return
	}
	var req commitFraudRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	d, err := h.direct.CommitFraud(jobID, req.Challenger, req.Commitment, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

type revealFraudRequest struct {
	ModuleBytes   []byte `json:"moduleBytes"`
	InputBytes    []byte `json:"inputBytes"`
	ClaimedOutput []byte `json:"claimedOutput"`
	Nonce         uint64 `json:"nonce"`
}

// HandleRevealFraud handles POST /api/v1/disputes/{jobID}/reveal.
func (h *BisectionHandlers) HandleRevealFraud(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, trimSuffixSegment(r.URL.Path, "/reveal"), "/api/v1/disputes/")
	if !ok {
		return
	}
	var req revealFraudRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	fraudConfirmed, err := h.direct.RevealFraud(r.Context(), jobID, req.ModuleBytes, req.InputBytes, req.ClaimedOutput, req.Nonce, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"fraudConfirmed": fraudConfirmed})
}
