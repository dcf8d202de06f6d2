package rpcgrp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ardanlabs/evmchain/app/services/node/handlers/v1/rpcgrp"
	"github.com/ardanlabs/evmchain/business/core/faucet"
	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ardanlabs/evmchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ardanlabs/evmchain/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/evmchain/foundation/logger"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	chainID  = 7001
)

var (
	kennedy = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	pavel   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	miner   = common.HexToAddress("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
)

// =============================================================================

func Test_Envelope(t *testing.T) {
	n := newNode(t)

	t.Log("Given the need to handle JSON-RPC envelopes.")
	{
		resp := n.call(t, "eth_chainId")
		var id hexutil.Uint64
		resp.decode(t, &id)
		if id != chainID {
			t.Fatalf("\t%s\tShould get the chain id, got %d.", failed, id)
		}
		t.Logf("\t%s\tShould get the chain id.", success)

		resp = n.call(t, "eth_mine")
		if resp.Error == nil || resp.Error.Code != errs.CodeMethodNotFound {
			t.Fatalf("\t%s\tShould get method not found: %+v", failed, resp.Error)
		}
		t.Logf("\t%s\tShould get method not found.", success)

		resp = n.call(t, "eth_getBalance", "kennedy", "latest")
		if resp.Error == nil || resp.Error.Code != errs.CodeInvalidParams {
			t.Fatalf("\t%s\tShould reject an invalid address: %+v", failed, resp.Error)
		}
		t.Logf("\t%s\tShould reject an invalid address.", success)

		var parse rpcResponse
		n.post(t, []byte(`{"jsonrpc":"2.0","method":`), &parse)
		if parse.Error == nil || parse.Error.Code != errs.CodeParse {
			t.Fatalf("\t%s\tShould get a parse error: %+v", failed, parse.Error)
		}
		t.Logf("\t%s\tShould get a parse error.", success)

		var invalid rpcResponse
		n.post(t, []byte(`{"jsonrpc":"1.0","id":1,"method":"eth_chainId"}`), &invalid)
		if invalid.Error == nil || invalid.Error.Code != errs.CodeInvalidRequest {
			t.Fatalf("\t%s\tShould reject the wrong protocol version: %+v", failed, invalid.Error)
		}
		t.Logf("\t%s\tShould reject the wrong protocol version.", success)

		var batch []rpcResponse
		n.post(t, []byte(`[{"jsonrpc":"2.0","id":1,"method":"eth_chainId"},{"jsonrpc":"2.0","id":2,"method":"net_version"},{"jsonrpc":"2.0","id":3,"method":"nope"}]`), &batch)
		if len(batch) != 3 {
			t.Fatalf("\t%s\tShould get three batch responses, got %d.", failed, len(batch))
		}
		var version string
		batch[1].decode(t, &version)
		if version != "7001" || batch[2].Error == nil {
			t.Fatalf("\t%s\tShould answer each batch call on its own: %s %+v", failed, version, batch[2].Error)
		}
		t.Logf("\t%s\tShould answer each batch call on its own.", success)

		var empty rpcResponse
		n.post(t, []byte(`[]`), &empty)
		if empty.Error == nil || empty.Error.Code != errs.CodeInvalidRequest {
			t.Fatalf("\t%s\tShould reject an empty batch: %+v", failed, empty.Error)
		}
		t.Logf("\t%s\tShould reject an empty batch.", success)
	}
}

func Test_Transactions(t *testing.T) {
	n := newNode(t)

	t.Log("Given the need to submit a raw transaction and query it.")
	{
		tx := sign(t, 0, &pavel, 1_000, 2, 30_000)
		raw, err := tx.EncodeRaw()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode the transaction: %v", failed, err)
		}

		var hash common.Hash
		n.call(t, "eth_sendRawTransaction", hexutil.Encode(raw)).decode(t, &hash)
		if hash != tx.Hash() {
			t.Fatalf("\t%s\tShould get back the transaction hash.", failed)
		}
		t.Logf("\t%s\tShould get back the transaction hash.", success)

		resp := n.call(t, "eth_sendRawTransaction", hexutil.Encode(raw))
		if resp.Error == nil || resp.Error.Code != errs.CodeServer {
			t.Fatalf("\t%s\tShould reject the duplicate as rejected input: %+v", failed, resp.Error)
		}
		t.Logf("\t%s\tShould reject the duplicate as rejected input.", success)

		var nonce hexutil.Uint64
		n.call(t, "eth_getTransactionCount", kennedy.Hex(), "pending").decode(t, &nonce)
		if nonce != 1 {
			t.Fatalf("\t%s\tShould count the pending transaction in the nonce, got %d.", failed, nonce)
		}
		t.Logf("\t%s\tShould count the pending transaction in the nonce.", success)

		var pending map[string]any
		n.call(t, "eth_getTransactionByHash", hash.Hex()).decode(t, &pending)
		if pending["blockHash"] != nil {
			t.Fatalf("\t%s\tShould report no block for a pending transaction.", failed)
		}
		t.Logf("\t%s\tShould report no block for a pending transaction.", success)

		var receipt json.RawMessage
		n.call(t, "eth_getTransactionReceipt", hash.Hex()).decode(t, &receipt)
		if string(receipt) != "null" {
			t.Fatalf("\t%s\tShould get a null receipt while pending: %s", failed, receipt)
		}
		t.Logf("\t%s\tShould get a null receipt while pending.", success)

		block, err := n.state.ProduceBlock()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to produce a block: %v", failed, err)
		}

		var rcpt struct {
			Status      hexutil.Uint64 `json:"status"`
			GasUsed     hexutil.Uint64 `json:"gasUsed"`
			BlockHash   common.Hash    `json:"blockHash"`
			BlockNumber hexutil.Uint64 `json:"blockNumber"`
		}
		n.call(t, "eth_getTransactionReceipt", hash.Hex()).decode(t, &rcpt)
		if rcpt.Status != 1 || rcpt.GasUsed != 21_000 || rcpt.BlockHash != block.Hash || rcpt.BlockNumber != 1 {
			t.Fatalf("\t%s\tShould get the committed receipt: %+v", failed, rcpt)
		}
		t.Logf("\t%s\tShould get the committed receipt.", success)

		var balance hexutil.Big
		n.call(t, "eth_getBalance", pavel.Hex(), "latest").decode(t, &balance)
		if balance.ToInt().Uint64() != 1_000 {
			t.Fatalf("\t%s\tShould see the transferred value, got %s.", failed, balance.ToInt())
		}
		t.Logf("\t%s\tShould see the transferred value.", success)

		resp = n.call(t, "eth_getBalance", pavel.Hex(), "0x0")
		if resp.Error == nil {
			t.Fatalf("\t%s\tShould refuse historical state.", failed)
		}
		t.Logf("\t%s\tShould refuse historical state.", success)

		var blk struct {
			Number       hexutil.Uint64 `json:"number"`
			Hash         common.Hash    `json:"hash"`
			Miner        common.Address `json:"miner"`
			Transactions []common.Hash  `json:"transactions"`
		}
		n.call(t, "eth_getBlockByNumber", "latest", false).decode(t, &blk)
		if blk.Number != 1 || blk.Hash != block.Hash || blk.Miner != miner || len(blk.Transactions) != 1 || blk.Transactions[0] != hash {
			t.Fatalf("\t%s\tShould get the latest block: %+v", failed, blk)
		}
		t.Logf("\t%s\tShould get the latest block.", success)

		var byIndex struct {
			Hash        common.Hash    `json:"hash"`
			BlockNumber hexutil.Uint64 `json:"blockNumber"`
		}
		n.call(t, "eth_getTransactionByBlockNumberAndIndex", "0x1", "0x0").decode(t, &byIndex)
		if byIndex.Hash != hash || byIndex.BlockNumber != 1 {
			t.Fatalf("\t%s\tShould find the transaction by block and index: %+v", failed, byIndex)
		}
		t.Logf("\t%s\tShould find the transaction by block and index.", success)

		var missing json.RawMessage
		n.call(t, "eth_getBlockByHash", common.Hash{1}.Hex(), false).decode(t, &missing)
		if string(missing) != "null" {
			t.Fatalf("\t%s\tShould get null for an unknown block: %s", failed, missing)
		}
		t.Logf("\t%s\tShould get null for an unknown block.", success)

		var gas hexutil.Uint64
		n.call(t, "eth_estimateGas", map[string]any{"from": kennedy.Hex(), "to": pavel.Hex(), "value": "0x1"}).decode(t, &gas)
		if gas != 25_200 {
			t.Fatalf("\t%s\tShould estimate intrinsic gas plus the margin, got %d.", failed, gas)
		}
		t.Logf("\t%s\tShould estimate intrinsic gas plus the margin.", success)

		var logs []json.RawMessage
		n.call(t, "eth_getLogs", map[string]any{"fromBlock": "0x0", "toBlock": "latest"}).decode(t, &logs)
		if len(logs) != 0 {
			t.Fatalf("\t%s\tShould find no logs for plain transfers, got %d.", failed, len(logs))
		}
		t.Logf("\t%s\tShould find no logs for plain transfers.", success)
	}
}

func Test_Extensions(t *testing.T) {
	n := newNode(t)

	t.Log("Given the need to use the node specific methods.")
	{
		var validators []struct {
			Address common.Address `json:"address"`
			Next    bool           `json:"next"`
		}
		n.call(t, "poa_getValidators").decode(t, &validators)
		if len(validators) != 1 || validators[0].Address != miner || !validators[0].Next {
			t.Fatalf("\t%s\tShould list the validators: %+v", failed, validators)
		}
		t.Logf("\t%s\tShould list the validators.", success)

		var hash common.Hash
		n.call(t, "poa_faucet", pavel.Hex()).decode(t, &hash)
		if hash == (common.Hash{}) {
			t.Fatalf("\t%s\tShould fund an address from the faucet.", failed)
		}
		t.Logf("\t%s\tShould fund an address from the faucet.", success)

		resp := n.call(t, "poa_faucet", pavel.Hex())
		if resp.Error == nil || !strings.Contains(resp.Error.Message, "already funded") {
			t.Fatalf("\t%s\tShould only fund an address once: %+v", failed, resp.Error)
		}
		t.Logf("\t%s\tShould only fund an address once.", success)

		var stats struct {
			Pending int `json:"pending"`
		}
		n.call(t, "poa_mempoolStats").decode(t, &stats)
		if stats.Pending != 1 {
			t.Fatalf("\t%s\tShould see the faucet transaction in the mempool, got %d.", failed, stats.Pending)
		}
		t.Logf("\t%s\tShould see the faucet transaction in the mempool.", success)

		for i := 0; i < 3; i++ {
			if _, err := n.state.ProduceBlock(); err != nil {
				t.Fatalf("\t%s\tShould be able to produce a block: %v", failed, err)
			}
		}

		var recent []struct {
			Number hexutil.Uint64 `json:"number"`
		}
		n.call(t, "poa_recentBlocks", 2).decode(t, &recent)
		if len(recent) != 2 || recent[0].Number != 3 || recent[1].Number != 2 {
			t.Fatalf("\t%s\tShould get the recent blocks newest first: %+v", failed, recent)
		}
		t.Logf("\t%s\tShould get the recent blocks newest first.", success)

		resp = n.call(t, "poa_recentBlocks", 0)
		if resp.Error == nil || resp.Error.Code != errs.CodeInvalidParams {
			t.Fatalf("\t%s\tShould reject a zero count: %+v", failed, resp.Error)
		}
		t.Logf("\t%s\tShould reject a zero count.", success)
	}
}

func Test_Subscriptions(t *testing.T) {
	n := newNode(t)

	t.Log("Given the need to subscribe to chain events over a websocket.")
	{
		url := "ws" + strings.TrimPrefix(n.server.URL, "http")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to dial the websocket: %v", failed, err)
		}
		defer ws.Close()
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))

		subscribe := func(kind string) string {
			req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "eth_subscribe", "params": []string{kind}}
			if err := ws.WriteJSON(req); err != nil {
				t.Fatalf("\t%s\tShould be able to write the request: %v", failed, err)
			}

			var resp rpcResponse
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("\t%s\tShould be able to read the response: %v", failed, err)
			}

			var id string
			resp.decode(t, &id)
			return id
		}

		headsID := subscribe("newHeads")
		pendingID := subscribe("newPendingTransactions")
		t.Logf("\t%s\tShould be able to subscribe.", success)

		tx := sign(t, 0, &pavel, 10, 1, 21_000)
		if _, err := n.state.UpsertWalletTransaction(tx); err != nil {
			t.Fatalf("\t%s\tShould be able to submit a transaction: %v", failed, err)
		}

		var note struct {
			Method string `json:"method"`
			Params struct {
				Subscription string          `json:"subscription"`
				Result       json.RawMessage `json:"result"`
			} `json:"params"`
		}
		if err := ws.ReadJSON(&note); err != nil {
			t.Fatalf("\t%s\tShould get a pending notification: %v", failed, err)
		}
		if note.Method != "eth_subscription" || note.Params.Subscription != pendingID || string(note.Params.Result) != `"`+tx.Hash().Hex()+`"` {
			t.Fatalf("\t%s\tShould get the pending transaction hash: %+v", failed, note)
		}
		t.Logf("\t%s\tShould get the pending transaction hash.", success)

		if _, err := n.state.ProduceBlock(); err != nil {
			t.Fatalf("\t%s\tShould be able to produce a block: %v", failed, err)
		}

		if err := ws.ReadJSON(&note); err != nil {
			t.Fatalf("\t%s\tShould get a head notification: %v", failed, err)
		}
		var head struct {
			Number hexutil.Uint64 `json:"number"`
		}
		if err := json.Unmarshal(note.Params.Result, &head); err != nil || note.Params.Subscription != headsID || head.Number != 1 {
			t.Fatalf("\t%s\tShould get the new head: %+v", failed, note)
		}
		t.Logf("\t%s\tShould get the new head.", success)

		req := map[string]any{"jsonrpc": "2.0", "id": 2, "method": "eth_unsubscribe", "params": []string{headsID}}
		if err := ws.WriteJSON(req); err != nil {
			t.Fatalf("\t%s\tShould be able to write the request: %v", failed, err)
		}
		var resp rpcResponse
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("\t%s\tShould be able to read the response: %v", failed, err)
		}
		var ok bool
		resp.decode(t, &ok)
		if !ok {
			t.Fatalf("\t%s\tShould be able to unsubscribe.", failed)
		}
		t.Logf("\t%s\tShould be able to unsubscribe.", success)

		req = map[string]any{"jsonrpc": "2.0", "id": 3, "method": "eth_blockNumber"}
		if err := ws.WriteJSON(req); err != nil {
			t.Fatalf("\t%s\tShould be able to write the request: %v", failed, err)
		}
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("\t%s\tShould be able to read the response: %v", failed, err)
		}
		var number hexutil.Uint64
		resp.decode(t, &number)
		if number != 1 {
			t.Fatalf("\t%s\tShould serve regular methods over the websocket, got %d.", failed, number)
		}
		t.Logf("\t%s\tShould serve regular methods over the websocket.", success)
	}
}

// =============================================================================

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *errs.RPC       `json:"error"`
}

func (r rpcResponse) decode(t *testing.T, v any) {
	t.Helper()

	if r.Error != nil {
		t.Fatalf("\t%s\tShould not get an error: %d %s", failed, r.Error.Code, r.Error.Message)
	}

	if err := json.Unmarshal(r.Result, v); err != nil {
		t.Fatalf("\t%s\tShould be able to decode the result %s: %v", failed, r.Result, err)
	}
}

type node struct {
	state  *state.State
	server *httptest.Server
	id     int
}

func newNode(t *testing.T) *node {
	faucetKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate the faucet key: %v", failed, err)
	}
	faucetAddr := crypto.PubkeyToAddress(faucetKey.PublicKey)

	gen := genesis.Genesis{
		Date:              time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		ChainID:           chainID,
		BlockTimeMS:       1000,
		GasLimit:          30_000_000,
		GasPrice:          "1",
		BaseReward:        "700",
		CongestionBonus:   "100",
		MempoolMax:        100,
		MempoolPerAccount: 10,
		Validators:        []string{miner.Hex()},
		Balances: map[string]string{
			kennedy.Hex():    "1000000",
			faucetAddr.Hex(): "1000000",
		},
	}

	st, err := state.New(state.Config{
		Producer: miner,
		Genesis:  gen,
		Storage:  memory.New(),
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to start the node: %v", failed, err)
	}

	fct, err := faucet.New(faucet.Config{
		Chain:      st,
		PrivateKey: faucetKey,
		Amount:     uint256.NewInt(5_000),
		GasPrice:   uint256.NewInt(1),
	})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the faucet: %v", failed, err)
	}

	h := rpcgrp.New(logger.NewTest(), st, nil, fct)

	app := web.NewApp(make(chan os.Signal, 1))
	app.Handle(http.MethodPost, "", "/", h.Serve)
	app.Handle(http.MethodGet, "", "/", h.Subscribe)

	n := node{
		state:  st,
		server: httptest.NewServer(app),
	}

	t.Cleanup(func() {
		n.server.Close()
		st.Shutdown()
	})

	return &n
}

func (n *node) call(t *testing.T, method string, params ...any) rpcResponse {
	t.Helper()

	if params == nil {
		params = []any{}
	}

	n.id++
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      n.id,
		"method":  method,
		"params":  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to marshal the request: %v", failed, err)
	}

	var resp rpcResponse
	n.post(t, body, &resp)

	return resp
}

func (n *node) post(t *testing.T, body []byte, v any) {
	t.Helper()

	resp, err := http.Post(n.server.URL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("\t%s\tShould be able to post the request: %v", failed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("\t%s\tShould get a 200 status, got %d.", failed, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("\t%s\tShould be able to decode the response: %v", failed, err)
	}
}

func sign(t *testing.T, nonce uint64, to *common.Address, value uint64, gasPrice uint64, gasLimit uint64) database.SignedTx {
	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to load the private key: %v", failed, err)
	}

	tx, err := database.NewTx(chainID, nonce, kennedy, to, uint256.NewInt(value), uint256.NewInt(gasPrice), gasLimit, nil)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the transaction: %v", failed, err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to sign the transaction: %v", failed, err)
	}

	return signedTx
}
