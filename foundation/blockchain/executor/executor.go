// Package executor applies transactions to the account state. It is not a
// virtual machine: contract code is stored verbatim and calls into code only
// recognize a small set of selectors to emit logs.
package executor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Set of errors captured on failed receipts.
var (
	ErrGasHold          = errors.New("insufficient funds for gas * price")
	ErrIntrinsicGas     = errors.New("intrinsic gas exceeds gas limit")
	ErrAddressCollision = errors.New("contract address collision")
)

// Known event signatures.
var (
	TransferEvent        = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	ContractCreatedEvent = crypto.Keccak256Hash([]byte("ContractCreated(address,address)"))
)

// transferSelector is the 4 byte selector of transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// EventHandler defines a function that is called when events
// occur in the processing of transactions.
type EventHandler func(v string, args ...any)

// Env is the block level information a transaction executes under.
type Env struct {
	BlockNumber       uint64
	Producer          common.Address
	TxIndex           uint64
	LogIndex          uint64
	CumulativeGasUsed uint64
}

// Executor applies transactions to the database.
type Executor struct {
	db        *database.Database
	evHandler EventHandler
}

// New constructs an executor for the database.
func New(db *database.Database, evHandler EventHandler) *Executor {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	return &Executor{
		db:        db,
		evHandler: evHandler,
	}
}

// Execute applies the transaction and always returns a receipt. The gas
// hold is the first gate: a sender that can't cover gasPrice * gasLimit
// gets a failed receipt and only the nonce moves. Any other failure puts
// the state back to right after the hold, then the nonce, the refund and
// the producer fee are applied whatever the outcome.
func (e *Executor) Execute(env Env, tx database.SignedTx) database.Receipt {
	receipt := database.Receipt{
		TxHash:      tx.Hash(),
		TxIndex:     env.TxIndex,
		BlockNumber: env.BlockNumber,
		From:        tx.From,
		To:          tx.To,
		Status:      database.ReceiptStatusFailed,
		Logs:        []database.Log{},
	}

	gasHold, err := tx.GasCost()
	if err == nil {
		err = e.db.SubtractBalance(tx.From, gasHold)
	}
	if err != nil {
		e.evHandler("executor: Execute: tx[%s]: gas hold failed: %s", receipt.TxHash, err)

		e.db.IncrementNonce(tx.From)
		receipt.Error = fmt.Errorf("%w: %v", ErrGasHold, err).Error()
		receipt.CumulativeGasUsed = env.CumulativeGasUsed
		return receipt
	}

	snapshot := e.db.Snapshot()

	gasUsed := tx.IntrinsicGas()
	logs, contract, err := e.run(tx, gasUsed)
	if err != nil {
		e.evHandler("executor: Execute: tx[%s]: execution failed: %s", receipt.TxHash, err)

		if rerr := e.db.Restore(snapshot); rerr != nil {
			e.evHandler("executor: Execute: tx[%s]: ERROR: restore: %s", receipt.TxHash, rerr)
		}
		receipt.Error = err.Error()
		logs = nil
		contract = nil

		if gasUsed > tx.GasLimit {
			gasUsed = tx.GasLimit
		}
	} else {
		receipt.Status = database.ReceiptStatusSuccess
	}

	e.db.IncrementNonce(tx.From)

	price := tx.GasPrice
	refund := new(uint256.Int).Mul(price, uint256.NewInt(tx.GasLimit-gasUsed))
	if err := e.db.AddBalance(tx.From, refund); err != nil {
		e.evHandler("executor: Execute: tx[%s]: ERROR: refund: %s", receipt.TxHash, err)
	}

	fee := new(uint256.Int).Mul(price, uint256.NewInt(gasUsed))
	if err := e.db.AddBalance(env.Producer, fee); err != nil {
		e.evHandler("executor: Execute: tx[%s]: ERROR: producer fee: %s", receipt.TxHash, err)
	}

	for i := range logs {
		logs[i].BlockNumber = env.BlockNumber
		logs[i].TxHash = receipt.TxHash
		logs[i].TxIndex = env.TxIndex
		logs[i].LogIndex = env.LogIndex + uint64(i)
	}
	if logs != nil {
		receipt.Logs = logs
	}

	receipt.ContractAddress = contract
	receipt.GasUsed = gasUsed
	receipt.CumulativeGasUsed = env.CumulativeGasUsed + gasUsed
	receipt.LogsBloom = database.CreateBloom(receipt.Logs)

	return receipt
}

// run performs the state transition of the transaction.
func (e *Executor) run(tx database.SignedTx, gasUsed uint64) ([]database.Log, *common.Address, error) {
	if gasUsed > tx.GasLimit {
		return nil, nil, fmt.Errorf("%w: intrinsic %d, limit %d", ErrIntrinsicGas, gasUsed, tx.GasLimit)
	}

	switch {
	case tx.IsCreate():
		return e.create(tx)

	case !e.db.HasCode(*tx.To):
		if err := e.db.Transfer(tx.From, *tx.To, tx.Value); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil

	default:
		logs, err := e.call(tx)
		return logs, nil, err
	}
}

// create stores the payload as code at the address derived from the
// sender and nonce.
func (e *Executor) create(tx database.SignedTx) ([]database.Log, *common.Address, error) {
	contract := crypto.CreateAddress(tx.From, tx.Nonce)

	if e.db.HasCode(contract) {
		return nil, nil, fmt.Errorf("%w: %s", ErrAddressCollision, contract)
	}

	if err := e.db.Transfer(tx.From, contract, tx.Value); err != nil {
		return nil, nil, err
	}

	e.db.SetCode(contract, tx.Data)

	log := database.Log{
		Address: contract,
		Topics:  []common.Hash{ContractCreatedEvent, addressTopic(tx.From), addressTopic(contract)},
		Data:    []byte{},
	}

	e.evHandler("executor: create: tx[%s]: contract[%s]: code[%d bytes]", tx, contract, len(tx.Data))

	return []database.Log{log}, &contract, nil
}

// call handles a transaction to an address holding code. No code runs.
// Value moves like a transfer and a well formed ERC20 transfer call emits
// the log a token would.
func (e *Executor) call(tx database.SignedTx) ([]database.Log, error) {
	if err := e.db.Transfer(tx.From, *tx.To, tx.Value); err != nil {
		return nil, err
	}

	// Only a full transfer(address,uint256) call, selector plus two words,
	// produces a log. Anything else is a plain value move.
	if len(tx.Data) < 4+64 || !bytes.Equal(tx.Data[:4], transferSelector) {
		return nil, nil
	}

	recipient := common.BytesToAddress(tx.Data[4:36])
	amount := bytes.Clone(tx.Data[36:68])

	log := database.Log{
		Address: *tx.To,
		Topics:  []common.Hash{TransferEvent, addressTopic(tx.From), addressTopic(recipient)},
		Data:    amount,
	}

	return []database.Log{log}, nil
}

// addressTopic left pads the address into a topic.
func addressTopic(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}
