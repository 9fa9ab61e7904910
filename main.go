package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/trustcompute/protocol/pkg/abci"
	"github.com/trustcompute/protocol/pkg/bisection"
	"github.com/trustcompute/protocol/pkg/config"
	"github.com/trustcompute/protocol/pkg/database"
	"github.com/trustcompute/protocol/pkg/escrow"
	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"
	"github.com/trustcompute/protocol/pkg/server"
	"github.com/trustcompute/protocol/pkg/verifier"
)

// HealthStatus tracks the health of the node's dependencies for the
// /health endpoint, generalized from the teacher's original HealthStatus:
// Database and Ledger take the place of Database/Ethereum/Accumulate.
type HealthStatus struct {
	Status        string `json:"status"`
	Database      string `json:"database"`
	Ledger        string `json:"ledger"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	startTime     time.Time
	mu            sync.RWMutex
}

var healthStatus = &HealthStatus{
	Status:    "starting",
	Database:  "unknown",
	Ledger:    "unknown",
	startTime: time.Now(),
}

func (h *HealthStatus) set(databaseState, ledgerState string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if databaseState != "" {
		h.Database = databaseState
	}
	if ledgerState != "" {
		h.Ledger = ledgerState
	}
	switch {
	case h.Ledger == "disconnected":
		h.Status = "error"
	case h.Database == "disconnected":
		h.Status = "degraded"
	default:
		h.Status = "ok"
	}
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.Lock()
	h.UptimeSeconds = int64(time.Since(h.startTime).Seconds())
	h.mu.Unlock()
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(h)
	return data
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		nodeRole = flag.String("node-role", "", "Node role: executor, verifier, or both (overrides NODE_ROLE env var)")
		showHelp = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	log.Printf("starting node with CometBFT-backed ledger adapter")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if *nodeRole != "" {
		cfg.NodeRole = *nodeRole
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatal(err)
	}

	dbClient, repos := initDatabase(cfg)

	l, err := initLedger(context.Background(), cfg)
	if err != nil {
		healthStatus.set("", "disconnected")
		log.Fatal("failed to initialize ledger adapter:", err)
	}
	healthStatus.set("", "connected")

	escrowAccount := identity.FromHex(cfg.EscrowAccountHex)
	protocolFeeAccount := identity.FromHex(cfg.ProtocolFeeAccountHex)

	modules := escrow.NewModuleRegistry()
	machine := escrow.NewMachine(l, modules, escrow.FlatFeeSchedule{BasisPoints: cfg.FeeBasisPoints}, escrowAccount, protocolFeeAccount)
	verifiers := verifier.NewRegistry(cfg.MinVerifierStakeWei, cfg.VerifierStakeToken, cfg.HeartbeatWindow)
	engine := bisection.NewEngine(machine, verifiers, l, modules, escrowAccount)
	direct := bisection.NewDirectEngine(machine, verifiers)

	var jobRepo *database.JobRepository
	if repos != nil {
		jobRepo = repos.Jobs
		wireStatePersistence(machine, repos)
	}

	router := server.NewRouter(server.Dependencies{
		Machine:  machine,
		Modules:  modules,
		Jobs:     jobRepo,
		Verifier: verifiers,
		Engine:   engine,
		Direct:   direct,
		Logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	})

	topMux := http.NewServeMux()
	topMux.Handle("/", router)
	topMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		healthStatus.mu.RLock()
		status := healthStatus.Status
		healthStatus.mu.RUnlock()
		if status == "error" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Write(healthStatus.ToJSON())
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: topMux,
	}

	go func() {
		log.Printf("node API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down node...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if dbClient != nil {
		if err := dbClient.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}

	log.Printf("node stopped")
}

// repositories bundles the persistence layer's three aggregate
// repositories (component F), so startup can pass them around as one value.
type repositories struct {
	Jobs       *database.JobRepository
	Verifiers  *database.VerifierRepository
	Challenges *database.ChallengeRepository
}

func initDatabase(cfg *config.Config) (*database.Client, *repositories) {
	if cfg.DatabaseURL == "" {
		log.Printf("DATABASE_URL not set - running without persistence (in-memory state only)")
		healthStatus.set("disconnected", "")
		return nil, nil
	}

	dbClient, err := database.NewClient(cfg, database.WithLogger(
		log.New(log.Writer(), "[Database] ", log.LstdFlags),
	))
	if err != nil {
		log.Printf("database connection failed, running in degraded mode: %v", err)
		healthStatus.set("disconnected", "")
		return nil, nil
	}

	if err := dbClient.MigrateUp(context.Background()); err != nil {
		log.Printf("database migration failed: %v", err)
	}

	healthStatus.set("connected", "")
	return dbClient, &repositories{
		Jobs:       database.NewJobRepository(dbClient),
		Verifiers:  database.NewVerifierRepository(dbClient),
		Challenges: database.NewChallengeRepository(dbClient),
	}
}

// initLedger realizes pkg/ledger.Ledger over the CometBFT-shaped ABCI
// adapter (pkg/abci). A single-node devnet drives the adapter directly
// in-process, as here; a multi-validator deployment instead hands
// Adapter.Application() to a real CometBFT node process and has this
// adapter submit transactions through its RPC mempool.
func initLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	adapter, err := abci.NewAdapter(ctx, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("initialize abci adapter: %w", err)
	}
	return adapter, nil
}

// wireStatePersistence registers a listener that mirrors job state
// transitions into the Postgres job repository as they happen, so a
// restarted node can rebuild its view of in-flight jobs from the database
// rather than starting empty. The job's initial row is inserted directly
// by the HTTP handler at creation time (see server.JobHandlers); this
// listener only ever sees later transitions, since the machine does not
// fire it for job creation itself.
func wireStatePersistence(machine *escrow.Machine, repos *repositories) {
	machine.AddStateChangeListener(func(jobID hasher.Digest, from, to escrow.Status, details map[string]any) {
		job, err := machine.Job(jobID)
		if err != nil {
			return
		}
		if err := repos.Jobs.UpdateState(context.Background(), job); err != nil {
			log.Printf("job persistence update failed for %x: %v", jobID, err)
		}
	})
}

func printHelp() {
	fmt.Println("Trustcompute Protocol node")
	fmt.Println()
	fmt.Println("Usage: node [flags]")
	fmt.Println()
	flag.PrintDefaults()
}
