// Copyright 2025 Trustcompute Protocol
//
// NewRouter assembles the full HTTP surface (component G) out of the
// per-domain handler groups, mirroring the teacher's main.go pattern of
// registering each handler group's routes onto one http.ServeMux rather
// than pulling in a router dependency.

package server

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/database"
	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/verifier"
)

// Dependencies bundles everything NewRouter needs to wire the HTTP
// surface; nil fields simply skip registering their routes.
type Dependencies struct {
	Machine  *escrow.Machine
	Modules  *escrow.ModuleRegistry
	Jobs     *database.JobRepository
	Verifier *verifier.Registry
	Engine   *bisection.Engine
	Direct   *bisection.DirectEngine
	Logger   *log.Logger
}

// NewRouter builds the mux serving every component-G endpoint, plus
// /metrics for Prometheus scraping.
func NewRouter(deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	if deps.Machine != nil && deps.Modules != nil {
		jobs := NewJobHandlers(deps.Machine, deps.Modules, deps.Jobs, deps.Logger)
		mux.HandleFunc("/api/v1/jobs", WithMetrics("jobs.create", jobs.HandleCreateJob))
		mux.HandleFunc("/api/v1/modules", WithMetrics("modules.register", jobs.HandleRegisterModule))
		mux.HandleFunc("/api/v1/jobs/", WithMetrics("jobs.byID", func(w http.ResponseWriter, r *http.Request) {
			routeJob(jobs, w, r)
		}))
	}

	if deps.Verifier != nil {
		verifiers := NewVerifierHandlers(deps.Verifier, deps.Logger)
		mux.HandleFunc("/api/v1/verifiers", WithMetrics("verifiers.register", verifiers.HandleRegister))
		mux.HandleFunc("/api/v1/verifiers/", WithMetrics("verifiers.byAddress", func(w http.ResponseWriter, r *http.Request) {
			routeVerifier(verifiers, w, r)
		}))
	}

	if deps.Engine != nil || deps.Direct != nil {
		bisectionHandlers := NewBisectionHandlers(deps.Engine, deps.Direct, deps.Logger)
		mux.HandleFunc("/api/v1/bisection/", WithMetrics("bisection.byJobID", func(w http.ResponseWriter, r *http.Request) {
			routeBisection(bisectionHandlers, w, r)
		}))
		mux.HandleFunc("/api/v1/disputes/", WithMetrics("disputes.byJobID", func(w http.ResponseWriter, r *http.Request) {
			routeDispute(bisectionHandlers, w, r)
		}))
	}

	mux.Handle("/metrics", promhttp.Handler())

	return WithRequestID(mux)
}

func routeJob(h *JobHandlers, w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/accept"):
		h.HandleAcceptJob(w, r)
	case hasSuffix(r.URL.Path, "/receipt"):
		h.HandleSubmitReceipt(w, r)
	case hasSuffix(r.URL.Path, "/finalize"):
		h.HandleFinalize(w, r)
	case hasSuffix(r.URL.Path, "/claim-timeout"):
		h.HandleClaimTimeout(w, r)
	case hasSuffix(r.URL.Path, "/cancel"):
		h.HandleCancel(w, r)
	default:
		h.HandleGetJob(w, r)
	}
}

func routeVerifier(h *VerifierHandlers, w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/heartbeat"):
		h.HandleHeartbeat(w, r)
	case r.Method == http.MethodDelete:
		h.HandleUnregister(w, r)
	default:
		h.HandleGet(w, r)
	}
}

func routeBisection(h *BisectionHandlers, w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/initiate"):
		h.HandleInitiate(w, r)
	case hasSuffix(r.URL.Path, "/respond"):
		h.HandleExecutorRespond(w, r)
	case hasSuffix(r.URL.Path, "/pick"):
		h.HandleChallengerPick(w, r)
	case hasSuffix(r.URL.Path, "/resolve"):
		h.HandleResolve(w, r)
	case hasSuffix(r.URL.Path, "/timeout/executor"):
		h.HandleResolveExecutorTimeout(w, r)
	case hasSuffix(r.URL.Path, "/timeout/challenger"):
		h.HandleResolveChallengerTimeout(w, r)
	default:
		h.HandleGetChallenge(w, r)
	}
}

func routeDispute(h *BisectionHandlers, w http.ResponseWriter, r *http.Request) {
	switch {
	case hasSuffix(r.URL.Path, "/commit"):
		h.HandleCommitFraud(w, r)
	case hasSuffix(r.URL.Path, "/reveal"):
		h.HandleRevealFraud(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown dispute route")
	}
}

func hasSuffix(path, suffix string) bool {
	return len(path) >= len(suffix) && path[len(path)-len(suffix):] == suffix
}
