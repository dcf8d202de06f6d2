package rpcgrp

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/ardanlabs/evmchain/business/web/errs"
	"github.com/ardanlabs/evmchain/foundation/blockchain/executor"
	"github.com/ardanlabs/evmchain/foundation/blockchain/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// errHistoricalState is returned when a state lookup asks for a block
// other than the latest. Only the latest state is kept.
var errHistoricalState = errors.New("historical state is not available")

// param decodes the positional parameter at index i.
func param[T any](params []json.RawMessage, i int) (T, error) {
	var v T
	if i >= len(params) {
		return v, errs.NewRPC(errs.CodeInvalidParams, "missing value for required argument %d", i)
	}

	if err := json.Unmarshal(params[i], &v); err != nil {
		return v, errs.NewRPC(errs.CodeInvalidParams, "invalid argument %d: %s", i, err)
	}

	return v, nil
}

// optionalParam decodes the positional parameter at index i or returns the
// default when it is absent or null.
func optionalParam[T any](params []json.RawMessage, i int, def T) (T, error) {
	if i >= len(params) || string(params[i]) == "null" {
		return def, nil
	}
	return param[T](params, i)
}

// addressParam decodes a hex encoded address.
func addressParam(params []json.RawMessage, i int) (common.Address, error) {
	s, err := param[string](params, i)
	if err != nil {
		return common.Address{}, err
	}

	if !common.IsHexAddress(s) {
		return common.Address{}, errs.NewRPC(errs.CodeInvalidParams, "invalid argument %d: invalid address %q", i, s)
	}

	return common.HexToAddress(s), nil
}

// hashParam decodes a 32 byte hex encoded hash.
func hashParam(params []json.RawMessage, i int) (common.Hash, error) {
	s, err := param[string](params, i)
	if err != nil {
		return common.Hash{}, err
	}

	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errs.NewRPC(errs.CodeInvalidParams, "invalid argument %d: invalid hash %q", i, s)
	}

	return common.BytesToHash(b), nil
}

// blockParam decodes a block tag or number, defaulting to latest.
func (h *Handlers) blockParam(params []json.RawMessage, i int) (uint64, error) {
	tag, err := optionalParam(params, i, state.TagLatest)
	if err != nil {
		return 0, err
	}

	number, err := h.State.ParseBlockTag(tag)
	if err != nil {
		return 0, errs.NewRPC(errs.CodeInvalidParams, "invalid argument %d: %s", i, err)
	}

	return number, nil
}

// latestOnly rejects state lookups against any block but the latest.
func (h *Handlers) latestOnly(params []json.RawMessage, i int) error {
	number, err := h.blockParam(params, i)
	if err != nil {
		return err
	}

	if number != h.State.LatestBlock().Header.Number {
		return errHistoricalState
	}

	return nil
}

// =============================================================================

// callArgs is the call object used by eth_call and eth_estimateGas.
type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

// message converts the call object into an executor message.
func (a callArgs) message() (executor.Message, error) {
	var msg executor.Message

	if a.From != nil {
		msg.From = *a.From
	}
	msg.To = a.To

	if a.Value != nil {
		v, overflow := uint256.FromBig(a.Value.ToInt())
		if overflow {
			return executor.Message{}, errs.NewRPC(errs.CodeInvalidParams, "value overflows 256 bits")
		}
		msg.Value = v
	}

	switch {
	case a.Input != nil:
		msg.Data = *a.Input
	case a.Data != nil:
		msg.Data = *a.Data
	}

	return msg, nil
}

// filterArgs is the filter object used by eth_getLogs.
type filterArgs struct {
	FromBlock string          `json:"fromBlock"`
	ToBlock   string          `json:"toBlock"`
	Address   json.RawMessage `json:"address"`
	Topics    []any           `json:"topics"`
}

// filter converts the filter object into a state log filter.
func (h *Handlers) filter(a filterArgs) (state.LogFilter, error) {
	var f state.LogFilter

	var err error
	if f.FromBlock, err = h.State.ParseBlockTag(a.FromBlock); err != nil {
		return f, errs.NewRPC(errs.CodeInvalidParams, "fromBlock: %s", err)
	}
	if f.ToBlock, err = h.State.ParseBlockTag(a.ToBlock); err != nil {
		return f, errs.NewRPC(errs.CodeInvalidParams, "toBlock: %s", err)
	}

	if f.Addresses, err = decodeAddresses(a.Address); err != nil {
		return f, err
	}

	for i, topic := range a.Topics {
		options, err := decodeTopic(topic)
		if err != nil {
			return f, errs.NewRPC(errs.CodeInvalidParams, "topics[%d]: %s", i, err)
		}
		f.Topics = append(f.Topics, options)
	}

	return f, nil
}

// decodeAddresses accepts a single address or a list of addresses.
func decodeAddresses(raw json.RawMessage) ([]common.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, errs.NewRPC(errs.CodeInvalidParams, "address must be a string or a list")
		}
		list = []string{single}
	}

	addrs := make([]common.Address, len(list))
	for i, s := range list {
		if !common.IsHexAddress(s) {
			return nil, errs.NewRPC(errs.CodeInvalidParams, "invalid address %q", s)
		}
		addrs[i] = common.HexToAddress(s)
	}

	return addrs, nil
}

// decodeTopic accepts null, a single topic or a list of alternatives.
func decodeTopic(v any) ([]common.Hash, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil

	case string:
		hash, err := toHash(t)
		if err != nil {
			return nil, err
		}
		return []common.Hash{hash}, nil

	case []any:
		options := make([]common.Hash, 0, len(t))
		for _, o := range t {
			s, ok := o.(string)
			if !ok {
				return nil, errors.New("topic must be a string")
			}
			hash, err := toHash(s)
			if err != nil {
				return nil, err
			}
			options = append(options, hash)
		}
		return options, nil
	}

	return nil, errors.New("topic must be null, a string or a list")
}

func toHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, errors.New("invalid topic " + strings.TrimSpace(s))
	}
	return common.BytesToHash(b), nil
}
