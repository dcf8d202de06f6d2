package rpcgrp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/web"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Subscription kinds supported by eth_subscribe.
const (
	subNewHeads   = "newHeads"
	subPendingTxs = "newPendingTransactions"
)

// writeWait is the time allowed to write a message to the client.
const writeWait = 10 * time.Second

// notification is pushed to the client for every subscription event.
type notification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type notificationParams struct {
	Subscription string `json:"subscription"`
	Result       any    `json:"result"`
}

// Subscribe upgrades the connection to a websocket. Every JSON-RPC method
// is available plus eth_subscribe and eth_unsubscribe. Subscriptions
// belong to the connection and are dropped when it closes.
func (h *Handlers) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := session{
		h:    h,
		ws:   c,
		subs: make(map[string]func() error),
	}
	defer s.close()

	h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "status", "websocket opened", "remoteaddr", r.RemoteAddr)
	defer h.Log.Infow("rpc", "traceid", web.GetTraceID(ctx), "status", "websocket closed", "remoteaddr", r.RemoteAddr)

	for {
		_, body, err := c.ReadMessage()
		if err != nil {
			return nil
		}

		if err := s.write(s.handle(ctx, body)); err != nil {
			return nil
		}
	}
}

// =============================================================================

// session is the state of one websocket connection.
type session struct {
	h  *Handlers
	ws *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]func() error
	wg   sync.WaitGroup
}

// handle routes the subscription methods to the session and everything
// else to the regular dispatcher.
func (s *session) handle(ctx context.Context, body []byte) any {
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		return s.h.handle(ctx, body)
	}

	switch req.Method {
	case "eth_subscribe":
		params, err := decodeParams(req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}

		id, err := s.subscribe(params)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return result(req.ID, id)

	case "eth_unsubscribe":
		params, err := decodeParams(req.Params)
		if err != nil {
			return errResponse(req.ID, err)
		}

		id, err := param[string](params, 0)
		if err != nil {
			return errResponse(req.ID, err)
		}
		return result(req.ID, s.unsubscribe(id))
	}

	return s.h.handle(ctx, body)
}

// subscribe registers with the chain event feed for the kind requested
// and forwards every event to the client.
func (s *session) subscribe(params []json.RawMessage) (string, error) {
	kind, err := param[string](params, 0)
	if err != nil {
		return "", err
	}

	uid := uuid.New()
	id := hexutil.Encode(uid[:])

	st := s.h.State

	switch kind {
	case subNewHeads:
		ch := st.SubscribeHeads(id)
		s.forward(id, func() error { return st.UnsubscribeHeads(id) }, func() (any, bool) {
			block, ok := <-ch
			return toHeader(block), ok
		})

	case subPendingTxs:
		ch := st.SubscribePending(id)
		s.forward(id, func() error { return st.UnsubscribePending(id) }, func() (any, bool) {
			tx, ok := <-ch
			return tx.TxHash, ok
		})

	default:
		return "", errs.NewRPC(errs.CodeInvalidParams, "unsupported subscription %q", kind)
	}

	return id, nil
}

// forward starts a goroutine that pushes events until the feed closes.
func (s *session) forward(id string, cancel func() error, next func() (any, bool)) {
	s.mu.Lock()
	s.subs[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			v, ok := next()
			if !ok {
				return
			}

			n := notification{
				JSONRPC: "2.0",
				Method:  "eth_subscription",
				Params: notificationParams{
					Subscription: id,
					Result:       v,
				},
			}

			if err := s.write(n); err != nil {
				return
			}
		}
	}()
}

// unsubscribe cancels the subscription and reports whether it existed.
func (s *session) unsubscribe(id string) bool {
	s.mu.Lock()
	cancel, exists := s.subs[id]
	delete(s.subs, id)
	s.mu.Unlock()

	if !exists {
		return false
	}

	return cancel() == nil
}

// close drops every subscription and closes the socket.
func (s *session) close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]func() error)
	s.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}

	s.ws.Close()
	s.wg.Wait()
}

func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.ws.WriteJSON(v); err != nil {
		return fmt.Errorf("writing to websocket: %w", err)
	}

	return nil
}
