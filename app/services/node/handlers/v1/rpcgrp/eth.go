package rpcgrp

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/ardanlabs/evmchain/business/sys/metrics"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

func (h *Handlers) chainID(ctx context.Context, params []json.RawMessage) (any, error) {
	return hexutil.Uint64(h.State.ChainID()), nil
}

func (h *Handlers) netVersion(ctx context.Context, params []json.RawMessage) (any, error) {
	return strconv.FormatUint(h.State.ChainID(), 10), nil
}

func (h *Handlers) blockNumber(ctx context.Context, params []json.RawMessage) (any, error) {
	return hexutil.Uint64(h.State.LatestBlock().Header.Number), nil
}

func (h *Handlers) gasPrice(ctx context.Context, params []json.RawMessage) (any, error) {
	return toBig(h.State.Genesis().SuggestedGasPrice()), nil
}

// =============================================================================

func (h *Handlers) getBalance(ctx context.Context, params []json.RawMessage) (any, error) {
	address, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	if err := h.latestOnly(params, 1); err != nil {
		return nil, err
	}

	return toBig(h.State.QueryBalance(address)), nil
}

// getTransactionCount reports the nonce. The pending tag includes the
// transactions waiting in the mempool so wallets can sign the next one.
func (h *Handlers) getTransactionCount(ctx context.Context, params []json.RawMessage) (any, error) {
	address, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	tag, err := optionalParam(params, 1, state.TagLatest)
	if err != nil {
		return nil, err
	}

	if tag == state.TagPending {
		return hexutil.Uint64(h.State.QueryPendingNonce(address)), nil
	}

	if err := h.latestOnly(params, 1); err != nil {
		return nil, err
	}

	return hexutil.Uint64(h.State.QueryNonce(address)), nil
}

func (h *Handlers) getCode(ctx context.Context, params []json.RawMessage) (any, error) {
	address, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	if err := h.latestOnly(params, 1); err != nil {
		return nil, err
	}

	code := h.State.QueryCode(address)
	if code == nil {
		code = []byte{}
	}

	return hexutil.Bytes(code), nil
}

func (h *Handlers) getStorageAt(ctx context.Context, params []json.RawMessage) (any, error) {
	address, err := addressParam(params, 0)
	if err != nil {
		return nil, err
	}

	slot, err := param[string](params, 1)
	if err != nil {
		return nil, err
	}

	key, err := hexutil.Decode(slot)
	if err != nil || len(key) > common.HashLength {
		return nil, errs.NewRPC(errs.CodeInvalidParams, "invalid argument 1: invalid storage slot %q", slot)
	}

	if err := h.latestOnly(params, 2); err != nil {
		return nil, err
	}

	return h.State.QueryStorage(address, common.BytesToHash(key)), nil
}

// =============================================================================

func (h *Handlers) getBlockByNumber(ctx context.Context, params []json.RawMessage) (any, error) {
	number, err := h.blockParam(params, 0)
	if err != nil {
		return nil, err
	}

	fullTx, err := optionalParam(params, 1, false)
	if err != nil {
		return nil, err
	}

	block, err := h.State.QueryBlockByNumber(number)
	if err != nil {
		return notFound(err)
	}

	return toBlock(block, fullTx), nil
}

func (h *Handlers) getBlockByHash(ctx context.Context, params []json.RawMessage) (any, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}

	fullTx, err := optionalParam(params, 1, false)
	if err != nil {
		return nil, err
	}

	block, err := h.State.QueryBlockByHash(hash)
	if err != nil {
		return notFound(err)
	}

	return toBlock(block, fullTx), nil
}

func (h *Handlers) getTransactionByHash(ctx context.Context, params []json.RawMessage) (any, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}

	btx, err := h.State.QueryTransaction(hash)
	if err != nil {
		return notFound(err)
	}

	return toTransaction(btx), nil
}

func (h *Handlers) getTransactionByBlockNumberAndIndex(ctx context.Context, params []json.RawMessage) (any, error) {
	number, err := h.blockParam(params, 0)
	if err != nil {
		return nil, err
	}

	index, err := param[hexutil.Uint64](params, 1)
	if err != nil {
		return nil, err
	}

	btx, err := h.State.QueryTransactionByIndex(number, uint64(index))
	if err != nil {
		return notFound(err)
	}

	return toTransaction(btx), nil
}

func (h *Handlers) getTransactionReceipt(ctx context.Context, params []json.RawMessage) (any, error) {
	hash, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}

	receipt, err := h.State.QueryReceipt(hash)
	if err != nil {
		return notFound(err)
	}

	btx, err := h.State.QueryTransaction(hash)
	if err != nil {
		return notFound(err)
	}

	return toReceipt(receipt, btx.Tx.GasPrice), nil
}

// =============================================================================

// sendRawTransaction is the only method that changes the chain on behalf
// of a client.
func (h *Handlers) sendRawTransaction(ctx context.Context, params []json.RawMessage) (any, error) {
	raw, err := param[hexutil.Bytes](params, 0)
	if err != nil {
		return nil, err
	}

	signedTx, err := database.DecodeRaw(raw)
	if err != nil {
		metrics.AddTxRejected()
		return nil, errs.NewRPC(errs.CodeInvalidParams, "invalid argument 0: %s", err)
	}

	pending, err := h.State.UpsertWalletTransaction(signedTx)
	if err != nil {
		metrics.AddTxRejected()
		return nil, err
	}
	metrics.AddTxIngress("wallet")

	h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "method", "eth_sendRawTransaction", "tx", signedTx, "hash", pending.TxHash)

	return pending.TxHash, nil
}

func (h *Handlers) call(ctx context.Context, params []json.RawMessage) (any, error) {
	args, err := param[callArgs](params, 0)
	if err != nil {
		return nil, err
	}

	if err := h.latestOnly(params, 1); err != nil {
		return nil, err
	}

	msg, err := args.message()
	if err != nil {
		return nil, err
	}

	out, err := h.State.Call(msg)
	if err != nil {
		return nil, err
	}

	return hexutil.Bytes(out), nil
}

func (h *Handlers) estimateGas(ctx context.Context, params []json.RawMessage) (any, error) {
	args, err := param[callArgs](params, 0)
	if err != nil {
		return nil, err
	}

	msg, err := args.message()
	if err != nil {
		return nil, err
	}

	gas, err := h.State.EstimateGas(msg)
	if err != nil {
		return nil, err
	}

	return hexutil.Uint64(gas), nil
}

func (h *Handlers) getLogs(ctx context.Context, params []json.RawMessage) (any, error) {
	args, err := param[filterArgs](params, 0)
	if err != nil {
		return nil, err
	}

	filter, err := h.filter(args)
	if err != nil {
		return nil, err
	}

	logs, err := h.State.QueryLogs(filter)
	if err != nil {
		if errors.Is(err, state.ErrRangeTooLarge) {
			return nil, errs.NewRPC(errs.CodeInvalidParams, "%s", err)
		}
		return nil, err
	}

	// Logs are ordered by block so the block hash lookup is done once per
	// block.
	out := make([]rpcLog, len(logs))
	var blockHash common.Hash
	var number uint64 = state.QueryLatest
	for i, log := range logs {
		if log.BlockNumber != number {
			block, err := h.State.QueryBlockByNumber(log.BlockNumber)
			if err != nil {
				return nil, err
			}
			blockHash, number = block.Hash, log.BlockNumber
		}
		out[i] = toLog(log, blockHash)
	}

	return out, nil
}
