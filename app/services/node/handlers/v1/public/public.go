// Package public maintains the group of REST handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/events"
	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events[string]
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	id := v.TraceID
	ch := h.Evts.Acquire(id)
	defer h.Evts.Release(id)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return nil
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds new user transactions to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from:nonce", signedTx, "to", signedTx.To, "value", signedTx.Value)

	pending, err := h.State.UpsertWalletTransaction(signedTx)
	if err != nil {
		metrics.AddTxRejected()
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	metrics.AddTxIngress("rest")

	resp := submitted{
		Status: "transaction added to mempool",
		Hash:   pending.TxHash,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.Genesis(), http.StatusOK)
}

// Mempool returns the set of uncommitted transactions. When an account is
// provided only transactions to or from that account are returned.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var filter *common.Address
	if acct := web.Param(r, "account"); acct != "" {
		address, err := database.ToAddress(acct)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		filter = &address
	}

	mempool := h.State.QueryMempool()

	trans := make([]tx, 0, len(mempool))
	for _, tran := range mempool {
		tran := tran
		if filter != nil && tran.From != *filter && (tran.To == nil || *tran.To != *filter) {
			continue
		}

		t := h.toTx(tran.SignedTx)
		t.ArrivedAt = &tran.ArrivedAt
		trans = append(trans, t)
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current state of a single account, or of every
// account the name service knows about.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var addresses []common.Address

	switch acct := web.Param(r, "account"); acct {
	case "":
		if h.NS != nil {
			for address := range h.NS.Copy() {
				addresses = append(addresses, address)
			}
		}
		sort.Slice(addresses, func(i, j int) bool {
			return h.lookup(addresses[i]) < h.lookup(addresses[j])
		})

	default:
		address, err := database.ToAddress(acct)
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		addresses = append(addresses, address)
	}

	acts := make([]info, len(addresses))
	for i, address := range addresses {
		account := h.State.QueryAccount(address)
		acts[i] = info{
			Address: address,
			Name:    h.lookup(address),
			Balance: database.FormatAmount(account.Balance),
			Nonce:   account.Nonce,
			Code:    account.CodeHash != database.EmptyCodeHash,
		}
	}

	ai := actInfo{
		LatestBlock: h.State.LatestBlock().Hash,
		Uncommitted: h.State.QueryMempoolLength(),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// TransactionsByAccount returns the committed transactions the account
// sent or received, oldest first.
func (h Handlers) TransactionsByAccount(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAddress(web.Param(r, "account"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	blkTxs := h.State.QueryTransactionsByAddress(address)
	if len(blkTxs) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	trans := make([]tx, len(blkTxs))
	for i, blkTx := range blkTxs {
		t := h.toTx(blkTx.Tx)
		number := blkTx.BlockNumber
		t.BlockNumber = &number
		trans[i] = t
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Transaction returns a single transaction by hash, committed or pending.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := common.HexToHash(web.Param(r, "hash"))

	blkTx, err := h.State.QueryTransaction(hash)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	t := h.toTx(blkTx.Tx)
	if !blkTx.Pending {
		number := blkTx.BlockNumber
		t.BlockNumber = &number
	}

	return web.Respond(ctx, w, t, http.StatusOK)
}
