// Package rpcgrp maintains the JSON-RPC endpoint of the node. Requests are
// accepted over HTTP POST, single or batched, and over a websocket that
// also supports subscriptions.
package rpcgrp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/nameservice"
	"github.com/ardanlabs/evmchain/foundation/validate"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 5 << 20

// maxBatch bounds the number of calls in a batch request.
const maxBatch = 100

// method is the signature of every JSON-RPC method implementation.
type method func(ctx context.Context, params []json.RawMessage) (any, error)

// request is the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc" validate:"required,eq=2.0"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method" validate:"required"`
	Params  json.RawMessage `json:"params"`
}

// response is the JSON-RPC 2.0 response envelope. Exactly one of Result
// and Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *errs.RPC       `json:"error,omitempty"`
}

// Handlers manages the set of JSON-RPC endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	State  *state.State
	NS     *nameservice.NameService
	Faucet *faucet.Faucet
	WS     websocket.Upgrader

	methods map[string]method
}

// New constructs the handlers and registers the supported methods. The
// faucet is optional.
func New(log *zap.SugaredLogger, st *state.State, ns *nameservice.NameService, fct *faucet.Faucet) *Handlers {
	h := Handlers{
		Log:    log,
		State:  st,
		NS:     ns,
		Faucet: fct,
		WS: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	h.methods = map[string]method{
		"eth_chainId":                             h.chainID,
		"net_version":                             h.netVersion,
		"eth_blockNumber":                         h.blockNumber,
		"eth_gasPrice":                            h.gasPrice,
		"eth_getBalance":                          h.getBalance,
		"eth_getTransactionCount":                 h.getTransactionCount,
		"eth_getCode":                             h.getCode,
		"eth_getStorageAt":                        h.getStorageAt,
		"eth_getBlockByNumber":                    h.getBlockByNumber,
		"eth_getBlockByHash":                      h.getBlockByHash,
		"eth_getTransactionByHash":                h.getTransactionByHash,
		"eth_getTransactionByBlockNumberAndIndex": h.getTransactionByBlockNumberAndIndex,
		"eth_getTransactionReceipt":               h.getTransactionReceipt,
		"eth_sendRawTransaction":                  h.sendRawTransaction,
		"eth_call":                                h.call,
		"eth_estimateGas":                         h.estimateGas,
		"eth_getLogs":                             h.getLogs,
		"poa_getValidators":                       h.getValidators,
		"poa_mempoolStats":                        h.mempoolStats,
		"poa_recentBlocks":                        h.recentBlocks,
		"poa_faucet":                              h.faucet,
	}

	return &h
}

// Serve handles a single or batch JSON-RPC request posted over HTTP. Every
// outcome is reported inside the JSON-RPC response with a 200 status.
func (h *Handlers) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("reading request: %w", err), http.StatusRequestEntityTooLarge)
	}

	return web.Respond(ctx, w, h.handle(ctx, body), http.StatusOK)
}

// handle processes the raw body of a request and returns the value to
// marshal back to the client.
func (h *Handlers) handle(ctx context.Context, body []byte) any {
	body = bytes.TrimSpace(body)

	if !json.Valid(body) {
		return errResponse(nil, errs.NewRPC(errs.CodeParse, "parse error"))
	}

	if len(body) == 0 || body[0] != '[' {
		return h.dispatch(ctx, body)
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return errResponse(nil, errs.NewRPC(errs.CodeParse, "parse error"))
	}

	switch {
	case len(batch) == 0:
		return errResponse(nil, errs.NewRPC(errs.CodeInvalidRequest, "empty batch"))
	case len(batch) > maxBatch:
		return errResponse(nil, errs.NewRPC(errs.CodeInvalidRequest, "batch of %d exceeds %d calls", len(batch), maxBatch))
	}

	resps := make([]response, len(batch))
	for i, raw := range batch {
		resps[i] = h.dispatch(ctx, raw)
	}

	return resps
}

// dispatch executes one call and builds its response.
func (h *Handlers) dispatch(ctx context.Context, raw json.RawMessage) response {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errResponse(nil, errs.NewRPC(errs.CodeInvalidRequest, "invalid request"))
	}

	if err := validate.Check(req); err != nil {
		return errResponse(req.ID, errs.NewRPC(errs.CodeInvalidRequest, "invalid request: %s", err))
	}

	fn, exists := h.methods[req.Method]
	if !exists {
		return errResponse(req.ID, errs.NewRPC(errs.CodeMethodNotFound, "the method %s does not exist/is not available", req.Method))
	}

	params, err := decodeParams(req.Params)
	if err != nil {
		return errResponse(req.ID, err)
	}

	out, err := fn(ctx, params)
	if err != nil {
		h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "method", req.Method, "ERROR", err)
		return errResponse(req.ID, err)
	}

	return result(req.ID, out)
}

// =============================================================================

// decodeParams accepts a positional parameter list. A missing or null
// params member is treated as an empty list.
func decodeParams(raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var params []json.RawMessage
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errs.NewRPC(errs.CodeInvalidParams, "params must be an array")
	}

	return params, nil
}

func result(id json.RawMessage, v any) response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(id, errs.NewRPC(errs.CodeInternal, "marshal result: %s", err))
	}

	return response{
		JSONRPC: "2.0",
		ID:      idOrNull(id),
		Result:  data,
	}
}

func errResponse(id json.RawMessage, err error) response {
	return response{
		JSONRPC: "2.0",
		ID:      idOrNull(id),
		Error:   errs.AsRPC(err),
	}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// lookup returns the name registered for the address, if any.
func (h *Handlers) lookup(address common.Address) string {
	if h.NS == nil {
		return ""
	}
	return h.NS.Lookup(address)
}

// notFound converts a missing item into a null result.
func notFound(err error) (any, error) {
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	return nil, err
}
