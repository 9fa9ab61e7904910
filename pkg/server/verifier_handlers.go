// Copyright 2025 Trustcompute Protocol
//
// Verifier API Handlers
// Exposes the verifier registry (spec.md §4.D, §6) over HTTP.

package server

import (
	"log"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/verifier"
)

// VerifierHandlers provides HTTP handlers for verifier registration and
// liveness operations.
type VerifierHandlers struct {
	registry *verifier.Registry
	logger   *log.Logger
}

// NewVerifierHandlers constructs VerifierHandlers over registry.
func NewVerifierHandlers(registry *verifier.Registry, logger *log.Logger) *VerifierHandlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[VerifierAPI] ", log.LstdFlags)
	}
	return &VerifierHandlers{registry: registry, logger: logger}
}

func addressFromPath(w http.ResponseWriter, path, prefix string) (identity.Address, bool) {
	seg := trimmedSegment(path, prefix)
	if seg == "" {
		writeError(w, http.StatusBadRequest, "MISSING_ADDRESS", "verifier address is required in the URL path")
		return identity.Address{}, false
	}
	return identity.FromHex(seg), true
}

type registerVerifierRequest struct {
	Address      identity.Address `json:"address"`
	Stake        string           `json:"stake"`
	Region       string           `json:"region"`
	CapacityHint int64            `json:"capacityHint"`
}

// HandleRegister handles POST /api/v1/verifiers.
func (h *VerifierHandlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	var req registerVerifierRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	stake, ok := new(big.Int).SetString(req.Stake, 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_STAKE", "stake is not a valid integer")
		return
	}
	if err := h.registry.Register(req.Address, stake, req.Region, req.CapacityHint, time.Now()); err != nil {
		writeComponentError(w, err)
		return
	}
	v, err := h.registry.Get(req.Address)
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// HandleHeartbeat handles POST /api/v1/verifiers/{address}/heartbeat.
func (h *VerifierHandlers) HandleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	path := strings.TrimSuffix(r.URL.Path, "/heartbeat")
	addr, ok := addressFromPath(w, path, "/api/v1/verifiers/")
	if !ok {
		return
	}
	if err := h.registry.Heartbeat(addr, time.Now()); err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleUnregister handles DELETE /api/v1/verifiers/{address}.
func (h *VerifierHandlers) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only DELETE is allowed")
		return
	}
	addr, ok := addressFromPath(w, r.URL.Path, "/api/v1/verifiers/")
	if !ok {
		return
	}
	v, err := h.registry.Unregister(addr)
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleGet handles GET /api/v1/verifiers/{address}.
func (h *VerifierHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET is allowed")
		return
	}
	addr, ok := addressFromPath(w, r.URL.Path, "/api/v1/verifiers/")
	if !ok {
		return
	}
	v, err := h.registry.Get(addr)
	if err != nil {
		writeComponentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
