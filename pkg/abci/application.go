// Copyright 2025 Trustcompute Protocol
//
// Application is a CometBFT ABCI application whose transactions are
// unsigned token transfers rather than the teacher's ValidatorBlock
// bundles, generalizing pkg/consensus/abci_validator.go's ValidatorApp:
// the same Info/CheckTx/FinalizeBlock/Commit lifecycle, the same
// mutex-guarded height/AppHash bookkeeping, and the same
// accept-all-proposals PrepareProposal/ProcessProposal/snapshot stubs,
// retargeted from validator-block persistence to ledger-balance
// transitions (spec.md §6 "Abstract ledger").

package abci

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
)

// transferTx is the only transaction kind this chain orders: an atomic
// balance move between two accounts in one token.
type transferTx struct {
	Token  string `json:"token"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type account struct {
	balances map[string]*big.Int
}

// Application implements abcitypes.Application over the transfer-tx
// ledger. One Application instance is the entire chain state for a
// single-node devnet; multi-validator deployment wires the same
// Application behind a real CometBFT node process, which this package
// does not itself launch (grounded on the teacher shipping ValidatorApp
// as a library the surrounding node process wires up, not a standalone
// binary).
type Application struct {
	mu sync.Mutex

	logger *log.Logger

	latestHeight   int64
	lastAppHash    []byte
	appHashHistory [][]byte // most recent last

	accounts map[identity.Address]*account

	currentBlockHeight int64
	currentBlockTime   time.Time
	currentTxResults   []*abcitypes.ExecTxResult

	randomness   map[uint64][32]byte
	nextRandReq  uint64
}

// NewApplication constructs an empty Application.
func NewApplication() *Application {
	genesisHash := hasher.Of([]byte("trustcompute-genesis"))
	return &Application{
		logger:         log.New(log.Writer(), "[abci] ", log.LstdFlags),
		lastAppHash:    genesisHash[:],
		appHashHistory: [][]byte{genesisHash[:]},
		accounts:       make(map[identity.Address]*account),
		randomness:     make(map[uint64][32]byte),
	}
}

func (a *Application) acct(addr identity.Address) *account {
	acc, ok := a.accounts[addr]
	if !ok {
		acc = &account{balances: make(map[string]*big.Int)}
		a.accounts[addr] = acc
	}
	return acc
}

func (a *Application) balance(addr identity.Address, token string) *big.Int {
	acc, ok := a.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	b, ok := acc.balances[token]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(b)
}

// Info reports the application's last-committed height and hash, so a
// CometBFT node can resume correctly after restart.
func (a *Application) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &abcitypes.ResponseInfo{
		Data:             "trustcompute ledger application",
		Version:          "1.0.0",
		AppVersion:       1,
		LastBlockHeight:  a.latestHeight,
		LastBlockAppHash: a.lastAppHash,
	}, nil
}

// CheckTx validates a transfer transaction's shape before it enters the
// mempool; it never mutates state.
func (a *Application) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	if _, err := decodeTransferTx(req.Tx); err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	return &abcitypes.ResponseCheckTx{Code: 0, GasWanted: 1, GasUsed: 1}, nil
}

func decodeTransferTx(raw []byte) (transferTx, error) {
	var tx transferTx
	if err := json.Unmarshal(raw, &tx); err != nil {
		return transferTx{}, fmt.Errorf("invalid transfer tx: %w", err)
	}
	if tx.Token == "" {
		return transferTx{}, fmt.Errorf("transfer tx: token must not be empty")
	}
	amount, ok := new(big.Int).SetString(tx.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return transferTx{}, fmt.Errorf("transfer tx: amount must be a positive integer")
	}
	return tx, nil
}

func (a *Application) applyTransfer(tx transferTx) abcitypes.ExecTxResult {
	amount, ok := new(big.Int).SetString(tx.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return abcitypes.ExecTxResult{Code: 1, Log: "invalid amount"}
	}
	from := identity.FromHex(tx.From)
	to := identity.FromHex(tx.To)

	fromAcct := a.acct(from)
	current, ok := fromAcct.balances[tx.Token]
	if !ok {
		current = big.NewInt(0)
	}
	if current.Cmp(amount) < 0 {
		return abcitypes.ExecTxResult{Code: 2, Log: "insufficient balance"}
	}
	fromAcct.balances[tx.Token] = new(big.Int).Sub(current, amount)

	toAcct := a.acct(to)
	toCurrent, ok := toAcct.balances[tx.Token]
	if !ok {
		toCurrent = big.NewInt(0)
	}
	toAcct.balances[tx.Token] = new(big.Int).Add(toCurrent, amount)

	return abcitypes.ExecTxResult{
		Code: 0,
		Events: []abcitypes.Event{{
			Type: "transfer",
			Attributes: []abcitypes.EventAttribute{
				{Key: "token", Value: tx.Token},
				{Key: "from", Value: tx.From},
				{Key: "to", Value: tx.To},
				{Key: "amount", Value: tx.Amount},
			},
		}},
	}
}

// FinalizeBlock applies every transfer transaction in the block in
// order, mirroring the teacher's FinalizeBlock loop over
// processValidatorTransaction.
func (a *Application) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.currentBlockHeight = req.Height
	a.currentBlockTime = req.Time

	results := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, raw := range req.Txs {
		tx, err := decodeTransferTx(raw)
		if err != nil {
			results[i] = &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
			continue
		}
		result := a.applyTransfer(tx)
		results[i] = &result
	}
	a.currentTxResults = results
	return &abcitypes.ResponseFinalizeBlock{TxResults: results}, nil
}

// Commit advances the committed height and recomputes AppHash from the
// current balance snapshot, appending it to the digest history §4.D's
// selection fallback seed draws from.
func (a *Application) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.latestHeight++
	appHash := a.computeAppHash()
	a.lastAppHash = appHash
	a.appHashHistory = append(a.appHashHistory, appHash)
	const maxHistory = 256
	if len(a.appHashHistory) > maxHistory {
		a.appHashHistory = a.appHashHistory[len(a.appHashHistory)-maxHistory:]
	}

	retain := a.latestHeight - 100
	if retain < 0 {
		retain = 0
	}
	return &abcitypes.ResponseCommit{RetainHeight: retain}, nil
}

// computeAppHash folds every account's balances into a single digest in
// deterministic (sorted-address, sorted-token) order. Must be called
// with a.mu held.
func (a *Application) computeAppHash() []byte {
	addrs := make([]identity.Address, 0, len(a.accounts))
	for addr := range a.accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Hex() < addrs[j].Hex() })

	parts := make([][]byte, 0, len(addrs)*2+1)
	parts = append(parts, []byte(fmt.Sprintf("height:%d", a.latestHeight)))
	for _, addr := range addrs {
		acc := a.accounts[addr]
		tokens := make([]string, 0, len(acc.balances))
		for tok := range acc.balances {
			tokens = append(tokens, tok)
		}
		sort.Strings(tokens)
		for _, tok := range tokens {
			parts = append(parts, []byte(fmt.Sprintf("%s|%s|%s", addr.Hex(), tok, acc.balances[tok].String())))
		}
	}
	digest := hasher.OfConcat(parts...)
	return digest[:]
}

// Query answers read-only state queries; only balance lookups are
// exposed (job/verifier/challenge reads go through component F, not the
// chain itself).
func (a *Application) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch req.Path {
	case "/balance":
		var q struct {
			Token   string `json:"token"`
			Account string `json:"account"`
		}
		if err := json.Unmarshal(req.Data, &q); err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		bal := a.balance(identity.FromHex(q.Account), q.Token)
		return &abcitypes.ResponseQuery{Code: 0, Value: []byte(bal.String())}, nil
	case "/height":
		return &abcitypes.ResponseQuery{Code: 0, Value: []byte(fmt.Sprintf("%d", a.latestHeight))}, nil
	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

// InitChain is a no-op: this chain has no validator set or genesis
// balances to seed beyond the zero state.
func (a *Application) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	return &abcitypes.ResponseInitChain{}, nil
}

// PrepareProposal accepts every mempool transaction as-is: this chain has
// no fee market or transaction ordering policy to enforce.
func (a *Application) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal rejects a proposed block only if it contains a
// malformed transfer transaction.
func (a *Application) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, tx := range req.Txs {
		if _, err := decodeTransferTx(tx); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote, VerifyVoteExtension, and the snapshot RPCs are unused by
// this single-node ledger; they're implemented as no-op/accept stubs so
// Application satisfies abcitypes.Application in full, same as the
// teacher's ValidatorApp does for its own unused ABCI++ surface.
func (a *Application) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

func (a *Application) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

func (a *Application) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

func (a *Application) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

func (a *Application) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

func (a *Application) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}
