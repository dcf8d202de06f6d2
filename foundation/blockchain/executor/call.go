package executor

import (
	"fmt"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Message is a read only call made on behalf of a client.
type Message struct {
	From  common.Address
	To    *common.Address
	Value *uint256.Int
	Data  []byte
}

// Call checks the message could run against the current state without
// changing it. No code is executed so the return data is always empty.
func (e *Executor) Call(msg Message) ([]byte, error) {
	if msg.Value != nil && !msg.Value.IsZero() {
		balance := e.db.Balance(msg.From)
		if balance.Lt(msg.Value) {
			return nil, fmt.Errorf("%w: balance %s, value %s", database.ErrInsufficientFunds, balance.Dec(), msg.Value.Dec())
		}
	}

	return []byte{}, nil
}

// EstimateGas returns the gas limit a client should use for the message.
func (e *Executor) EstimateGas(msg Message) (uint64, error) {
	if _, err := e.Call(msg); err != nil {
		return 0, err
	}

	return database.EstimateGas(msg.Data, msg.To == nil), nil
}
