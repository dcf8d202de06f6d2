// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/peer"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	State   *state.State
	Network *peer.Network
}

// SubmitNodeTransaction adds a transaction shared by another node to the
// mempool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.SignedTx
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	h.Log.Infow("add node tran", "traceid", v.TraceID, "from:nonce", tx, "to", tx.To, "value", tx.Value)

	if _, err := h.State.UpsertNodeTransaction(tx); err != nil {
		metrics.AddTxRejected()
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	metrics.AddTxIngress("node")

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transactions added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ProposeBlock takes a block received from a peer, validates it and
// if that passes, adds the block to the local blockchain.
func (h Handlers) ProposeBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var block database.Block
	if err := web.Decode(r, &block); err != nil {
		return errs.NewTrusted(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := h.State.ProcessPeerBlock(block); err != nil {
		if errors.Is(err, state.ErrKnownBlock) {
			return web.Respond(ctx, w, struct {
				Status string `json:"status"`
			}{Status: "known"}, http.StatusOK)
		}

		return errs.NewTrusted(fmt.Errorf("block not accepted: %w", err), http.StatusNotAcceptable)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latestBlock := h.State.LatestBlock()

	status := peer.PeerStatus{
		LatestBlockHash:   latestBlock.Hash,
		LatestBlockNumber: latestBlock.Header.Number,
		KnownPeers:        h.State.KnownPeers().Copy(""),
	}

	if h.Network != nil {
		status.NodeID = h.Network.NodeID()
		status.Connected = h.Network.Peers()
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Peers returns the peers this node holds a connection with.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	peers := []peer.Peer{}
	if h.Network != nil {
		peers = h.Network.Peers()
	}

	return web.Respond(ctx, w, peers, http.StatusOK)
}

// BlocksByNumber returns all the blocks based on the specified to/from values.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	if fromStr == state.TagLatest || fromStr == "" {
		fromStr = fmt.Sprintf("%d", state.QueryLatest)
	}

	toStr := web.Param(r, "to")
	if toStr == state.TagLatest || toStr == "" {
		toStr = fmt.Sprintf("%d", state.QueryLatest)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	blocks := h.State.QueryBlocksByNumber(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	txs := h.State.QueryMempool()
	return web.Respond(ctx, w, txs, http.StatusOK)
}
