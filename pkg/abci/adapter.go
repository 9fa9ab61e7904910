// Copyright 2025 Trustcompute Protocol
//
// Adapter realizes pkg/ledger.Ledger over Application, letting the
// escrow/verifier/bisection components run against a real (if
// single-node) CometBFT-shaped consensus lifecycle instead of the
// in-process Memory ledger, per spec.md §6/§9 "Abstract ledger".

package abci

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/identity"
	"github.com/trustcompute/protocol/pkg/ledger"

	abcitypes "github.com/cometbft/cometbft/abci/types"
)

// Adapter drives Application directly, one committed block per call. A
// production multi-validator deployment instead hands Application to a
// real CometBFT node process and has Adapter submit transactions through
// its RPC mempool; both shapes share the same Application, so this
// adapter is also what a single-node devnet runs unmodified.
type Adapter struct {
	app    *Application
	height int64
}

// NewAdapter constructs an Adapter over a fresh Application, running
// InitChain once.
func NewAdapter(ctx context.Context, chainID string) (*Adapter, error) {
	app := NewApplication()
	if _, err := app.InitChain(ctx, &abcitypes.RequestInitChain{ChainId: chainID}); err != nil {
		return nil, err
	}
	return &Adapter{app: app}, nil
}

// Application returns the underlying ABCI application, for wiring into a
// real CometBFT node's NewNode call.
func (d *Adapter) Application() *Application {
	return d.app
}

func (d *Adapter) nextHeight() int64 {
	d.height++
	return d.height
}

// Transfer submits a single-transaction block moving amount of token from
// one account to another and commits it before returning, so callers
// observe the transfer as already final (spec.md's components never
// distinguish "pending" and "committed" ledger state).
func (d *Adapter) Transfer(ctx context.Context, token string, from, to identity.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("abci: transfer amount must be positive")
	}
	tx := transferTx{Token: token, From: from.Hex(), To: to.Hex(), Amount: amount.String()}
	raw, err := json.Marshal(tx)
	if err != nil {
		return err
	}

	if resp, err := d.app.CheckTx(ctx, &abcitypes.RequestCheckTx{Tx: raw}); err != nil {
		return err
	} else if resp.Code != 0 {
		return fmt.Errorf("abci: transfer rejected: %s", resp.Log)
	}

	height := d.nextHeight()
	finalized, err := d.app.FinalizeBlock(ctx, &abcitypes.RequestFinalizeBlock{
		Height: height,
		Time:   time.Now(),
		Txs:    [][]byte{raw},
	})
	if err != nil {
		return err
	}
	if len(finalized.TxResults) != 1 || finalized.TxResults[0].Code != 0 {
		log := ""
		if len(finalized.TxResults) == 1 {
			log = finalized.TxResults[0].Log
		}
		return fmt.Errorf("abci: transfer execution failed: %s", log)
	}
	_, err = d.app.Commit(ctx, &abcitypes.RequestCommit{})
	return err
}

// BalanceOf reads an account's current committed balance.
func (d *Adapter) BalanceOf(ctx context.Context, token string, account identity.Address) (*big.Int, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	return d.app.balance(account, token), nil
}

// RequestRandomness assigns the next sequential request ID and binds it
// to a seed hashed from subject, the last committed AppHash, and that ID;
// since this single-node adapter has no other validators contributing
// entropy, the seed is available immediately (Randomness returns
// ok=false only for an ID that was never requested), which is a strict
// improvement over the liveness fallback the multi-validator case needs.
func (d *Adapter) RequestRandomness(ctx context.Context, subject hasher.Digest) (ledger.RandomnessRequestID, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()

	reqID := d.app.nextRandReq
	d.app.nextRandReq++

	seedInput := append([]byte(nil), subject[:]...)
	seedInput = append(seedInput, d.app.lastAppHash...)
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], reqID)
	seedInput = append(seedInput, idBuf[:]...)
	d.app.randomness[reqID] = [32]byte(hasher.Of(seedInput))
	return ledger.RandomnessRequestID(reqID), nil
}

// Randomness returns the seed bound to id, always ready on this adapter.
func (d *Adapter) Randomness(ctx context.Context, id ledger.RandomnessRequestID) ([32]byte, bool, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()
	seed, ok := d.app.randomness[uint64(id)]
	if !ok {
		return [32]byte{}, false, nil
	}
	return seed, true, nil
}

// BlockDigestHistory returns up to depth of the most recent committed
// AppHashes, most recent first, for the committee-selection fallback
// seed (spec.md §4.D).
func (d *Adapter) BlockDigestHistory(ctx context.Context, depth int) ([]hasher.Digest, error) {
	d.app.mu.Lock()
	defer d.app.mu.Unlock()

	history := d.app.appHashHistory
	if depth > len(history) {
		depth = len(history)
	}
	out := make([]hasher.Digest, depth)
	for i := 0; i < depth; i++ {
		var digest hasher.Digest
		copy(digest[:], history[len(history)-1-i])
		out[i] = digest
	}
	return out, nil
}

var _ ledger.Ledger = (*Adapter)(nil)
