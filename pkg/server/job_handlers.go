// Copyright 2025 Trustcompute Protocol
//
// Job API Handlers
// Exposes the escrow state machine (spec.md §4.C, §6) over HTTP, grounded
// on the teacher's pkg/server/proof_handlers.go: a handler struct holding
// injected dependencies, prefix-trimmed path routing, writeJSON/writeError.

package server

import (
	"log"
	"math/big"
	"net/http"
	"time"

	"github.com/trustcompute/protocol/pkg/database"
	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// JobHandlers provides HTTP handlers for job lifecycle operations.
type JobHandlers struct {
	machine *escrow.Machine
	modules *escrow.ModuleRegistry
	jobs    *database.JobRepository
	logger  *log.Logger
}

// NewJobHandlers constructs JobHandlers over machine and modules. jobs may
// be nil, in which case created jobs rely entirely on the in-memory
// machine and the machine's own state-change listeners for persistence.
func NewJobHandlers(machine *escrow.Machine, modules *escrow.ModuleRegistry, jobs *database.JobRepository, logger *log.Logger) *JobHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[JobAPI] ", log.LstdFlags)
	}
	return &JobHandlers{machine: machine, modules: modules, jobs: jobs, logger: logger}
}

type createJobRequest struct {
	Client           identity.Address `json:"client"`
	Nonce            uint64           `json:"nonce"`
	PayToken         string           `json:"payToken"`
	PayAmount        string           `json:"payAmount"`
	ClientBond       string           `json:"clientBond"`
	ModuleDigest     hasher.Digest    `json:"moduleDigest"`
	InputDigest      hasher.Digest    `json:"inputDigest"`
	InlineInputSize  int              `json:"inlineInputSize"`
	AcceptDeadline   time.Time        `json:"acceptDeadline"`
	FinalizeDeadline time.Time        `json:"finalizeDeadline"`
	FuelLimit        uint64           `json:"fuelLimit"`
	MemLimit         int              `json:"memLimit"`
	MaxOutputSize    int              `json:"maxOutputSize"`
}

func parseBig(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	return v, ok
}

// HandleCreateJob handles POST /api/v1/jobs.
func (h *JobHandlers) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payAmount, ok := parseBig(req.PayAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "payAmount is not a valid integer")
		return
	}
	clientBond, ok := parseBig(req.ClientBond)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "clientBond is not a valid integer")
		return
	}

	job, err := h.machine.CreateJob(r.Context(), escrow.CreateJobParams{
		Client:           req.Client,
		Nonce:            req.Nonce,
		PayToken:         req.PayToken,
		PayAmount:        payAmount,
		ClientBond:       clientBond,
		ModuleDigest:     req.ModuleDigest,
		InputDigest:      req.InputDigest,
		InlineInputSize:  req.InlineInputSize,
		AcceptDeadline:   req.AcceptDeadline,
		FinalizeDeadline: req.FinalizeDeadline,
		FuelLimit:        req.FuelLimit,
		MemLimit:         req.MemLimit,
		MaxOutputSize:    req.MaxOutputSize,
	})
	if err != nil {
		writeComponentError(w, err)
		return
	}
	if h.jobs != nil {
		if err := h.jobs.Insert(r.Context(), job); err != nil {
			h.logger.Printf("job persistence insert failed for %x: %v", job.ID, err)
		}
	}
	writeJSON(w, http.StatusCreated, job)
}

type registerModuleRequest struct {
	ModuleBytes []byte `json:"moduleBytes"`
}

// HandleRegisterModule handles POST /api/v1/modules.
func (h *JobHandlers) HandleRegisterModule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	var req registerModuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	digest, err := h.modules.Register(req.ModuleBytes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "MODULE_REJECTED", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]hasher.Digest{"digest": digest})
}

// HandleGetJob handles GET /api/v1/jobs/{id}.
func (h *JobHandlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	job, err := h.machine.Job(jobID)
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type executorRequest struct {
	Executor identity.Address `json:"executor"`
}

// HandleAcceptJob handles POST /api/v1/jobs/{id}/accept.
func (h *JobHandlers) HandleAcceptJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	var req executorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.machine.AcceptJob(r.Context(), jobID, req.Executor, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type submitReceiptRequest struct {
	Executor      identity.Address `json:"executor"`
	OutputDigest  hasher.Digest    `json:"outputDigest"`
	Signature     []byte           `json:"signature"`
}

// HandleSubmitReceipt handles POST /api/v1/jobs/{id}/receipt.
func (h *JobHandlers) HandleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	var req submitReceiptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.machine.SubmitReceipt(jobID, req.Executor, req.OutputDigest, req.Signature, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type callerRequest struct {
	Caller identity.Address `json:"caller"`
}

// HandleFinalize handles POST /api/v1/jobs/{id}/finalize.
func (h *JobHandlers) HandleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	var req callerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.machine.Finalize(r.Context(), jobID, req.Caller, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleClaimTimeout handles POST /api/v1/jobs/{id}/claim-timeout.
func (h *JobHandlers) HandleClaimTimeout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	var req executorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.machine.ClaimTimeout(r.Context(), jobID, req.Executor, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleCancel handles POST /api/v1/jobs/{id}/cancel.
func (h *JobHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	jobID, ok := jobIDFromPath(w, r.URL.Path, "/api/v1/jobs/")
	if !ok {
		return
	}
	var req callerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	job, err := h.machine.Cancel(r.Context(), jobID, req.Caller, time.Now())
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
