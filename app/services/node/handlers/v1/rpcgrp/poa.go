package rpcgrp

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/web"
)

// Bounds on the number of blocks returned by poa_recentBlocks.
const (
	defRecentBlocks = 10
	maxRecentBlocks = 100
)

// getValidators returns the round-robin schedule in order and marks the
// validator due to produce the next block.
func (h *Handlers) getValidators(ctx context.Context, params []json.RawMessage) (any, error) {
	next := h.State.ScheduledProducer(h.State.LatestBlock().Header.Number + 1)

	addrs := h.State.QueryValidators()
	out := make([]validator, len(addrs))
	for i, addr := range addrs {
		out[i] = validator{
			Address: addr,
			Name:    h.lookup(addr),
			Next:    addr == next,
		}
	}

	return out, nil
}

func (h *Handlers) mempoolStats(ctx context.Context, params []json.RawMessage) (any, error) {
	return h.State.QueryMempoolStats(), nil
}

func (h *Handlers) recentBlocks(ctx context.Context, params []json.RawMessage) (any, error) {
	n, err := optionalParam(params, 0, defRecentBlocks)
	if err != nil {
		return nil, err
	}

	if n <= 0 || n > maxRecentBlocks {
		return nil, errs.NewRPC(errs.CodeInvalidParams, "count must be between 1 and %d", maxRecentBlocks)
	}

	blocks := h.State.QueryRecentBlocks(n)

	out := make([]rpcBlock, len(blocks))
	for i, block := range blocks {
		out[i] = toBlock(block, false)
	}

	return out, nil
}

// faucet funds the address once with the configured amount.
func (h *Handlers) faucet(ctx context.Context, params []json.RawMessage) (any, error) {
	if h.Faucet == nil {
		return nil, errors.New("faucet is not enabled on this node")
	}

	address, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	hash, err := h.Faucet.Fund(address)
	if err != nil {
		return nil, err
	}
	metrics.AddTxIngress("faucet")

	h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "method", "poa_faucet", "to", address, "hash", hash)

	return hash, nil
}
