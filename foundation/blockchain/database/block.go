package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/merkle"
	"github.com/ardanlabs/evmchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidBlock is wrapped by every reason a block fails validation.
var ErrInvalidBlock = errors.New("invalid block")

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	ChainID          uint64         `json:"chain_id"`          // Ethereum: The chain id that is listed in the genesis file.
	Number           uint64         `json:"number"`            // Ethereum: Block number in the chain.
	Timestamp        uint64         `json:"timestamp"`         // Ethereum: Time the block was produced in milliseconds.
	ParentHash       common.Hash    `json:"parent_hash"`       // Ethereum: Hash of the previous block in the chain.
	StateRoot        common.Hash    `json:"state_root"`        // Ethereum: Root of the account state after the block.
	TransactionsRoot common.Hash    `json:"transactions_root"` // Ethereum: Merkle root of the transaction hashes.
	ReceiptsRoot     common.Hash    `json:"receipts_root"`     // Ethereum: Merkle root of the receipt hashes.
	Producer         common.Address `json:"producer"`          // Ethereum: The validator who produced the block and receives the reward.
	Difficulty       uint64         `json:"difficulty"`        // Ethereum: Always zero under proof of authority.
	GasLimit         uint64         `json:"gas_limit"`         // Ethereum: Maximum gas the block may consume.
	GasUsed          uint64         `json:"gas_used"`          // Ethereum: Gas consumed by the transactions.
	ExtraData        hexutil.Bytes  `json:"extra_data"`        // Ethereum: Arbitrary producer data.
	Nonce            uint64         `json:"nonce"`             // Ethereum: Unused under proof of authority.
	MixHash          common.Hash    `json:"mix_hash"`          // Ethereum: Unused under proof of authority.
}

// Hash returns the unique hash for the header. Every field takes part in
// the hash in declaration order.
func (h BlockHeader) Hash() common.Hash {
	return signature.Hash(h)
}

// Block represents a group of transactions batched together.
type Block struct {
	Header       BlockHeader `json:"header"`
	Transactions []SignedTx  `json:"transactions"`
	Hash         common.Hash `json:"hash"`
	Size         uint64      `json:"size"`
}

// Genesis constructs the first block of the chain. It has a zero parent hash,
// zero roots and no producer.
func Genesis(chainID uint64, timestamp uint64, gasLimit uint64) Block {
	b := Block{
		Header: BlockHeader{
			ChainID:   chainID,
			Number:    0,
			Timestamp: timestamp,
			GasLimit:  gasLimit,
		},
		Transactions: []SignedTx{},
	}

	b.seal()

	return b
}

// BlockArgs holds what is needed to build a block on top of a parent.
type BlockArgs struct {
	Parent       Block
	Transactions []SignedTx
	Producer     common.Address
	StateRoot    common.Hash
	ReceiptsRoot common.Hash
	GasLimit     uint64
	GasUsed      uint64
	ExtraData    []byte
	Timestamp    uint64 // Zero means now.
}

// NewBlock builds the next block after the parent. The timestamp is moved
// forward when needed so it is always after the parent's.
func NewBlock(args BlockArgs) Block {
	timestamp := args.Timestamp
	if timestamp == 0 {
		timestamp = uint64(time.Now().UTC().UnixMilli())
	}
	if timestamp <= args.Parent.Header.Timestamp {
		timestamp = args.Parent.Header.Timestamp + 1
	}

	trans := args.Transactions
	if trans == nil {
		trans = []SignedTx{}
	}

	b := Block{
		Header: BlockHeader{
			ChainID:          args.Parent.Header.ChainID,
			Number:           args.Parent.Header.Number + 1,
			Timestamp:        timestamp,
			ParentHash:       args.Parent.Hash,
			StateRoot:        args.StateRoot,
			TransactionsRoot: TransactionsRoot(trans),
			ReceiptsRoot:     args.ReceiptsRoot,
			Producer:         args.Producer,
			GasLimit:         args.GasLimit,
			GasUsed:          args.GasUsed,
			ExtraData:        args.ExtraData,
		},
		Transactions: trans,
	}

	b.seal()

	return b
}

// IsGenesis reports whether this is the first block of the chain.
func (b Block) IsGenesis() bool {
	return b.Header.Number == 0 && b.Header.ParentHash == (common.Hash{})
}

// ValidateBlock takes a block and validates it to be included into the
// blockchain on top of the parent. The genesis block is only checked for
// its own hash and roots.
func (b Block) ValidateBlock(parent Block, evHandler func(v string, args ...any)) error {
	if !b.IsGenesis() {
		evHandler("database: ValidateBlock: validate: blk[%d]: check: parent hash does match parent block", b.Header.Number)

		if b.Header.ParentHash != parent.Hash {
			return fmt.Errorf("%w: parent block hash doesn't match our known parent, got %s, exp %s", ErrInvalidBlock, b.Header.ParentHash, parent.Hash)
		}

		evHandler("database: ValidateBlock: validate: blk[%d]: check: block number is the next number", b.Header.Number)

		if nextNumber := parent.Header.Number + 1; b.Header.Number != nextNumber {
			return fmt.Errorf("%w: this block is not the next number, got %d, exp %d", ErrInvalidBlock, b.Header.Number, nextNumber)
		}

		evHandler("database: ValidateBlock: validate: blk[%d]: check: block's timestamp is greater than parent block's timestamp", b.Header.Number)

		if b.Header.Timestamp <= parent.Header.Timestamp {
			return fmt.Errorf("%w: block timestamp is not after parent block, parent %d, block %d", ErrInvalidBlock, parent.Header.Timestamp, b.Header.Timestamp)
		}

		if b.Header.ChainID != parent.Header.ChainID {
			return fmt.Errorf("%w: wrong chain id, got %d, exp %d", ErrInvalidBlock, b.Header.ChainID, parent.Header.ChainID)
		}
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: block hash matches the header", b.Header.Number)

	if hash := b.Header.Hash(); b.Hash != hash {
		return fmt.Errorf("%w: block hash doesn't match the header, got %s, exp %s", ErrInvalidBlock, b.Hash, hash)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: merkle root does match transactions", b.Header.Number)

	if root := TransactionsRoot(b.Transactions); b.Header.TransactionsRoot != root {
		return fmt.Errorf("%w: merkle root does not match transactions, got %s, exp %s", ErrInvalidBlock, root, b.Header.TransactionsRoot)
	}

	evHandler("database: ValidateBlock: validate: blk[%d]: check: gas used is within the gas limit", b.Header.Number)

	if b.Header.GasUsed > b.Header.GasLimit {
		return fmt.Errorf("%w: gas used %d exceeds gas limit %d", ErrInvalidBlock, b.Header.GasUsed, b.Header.GasLimit)
	}

	return nil
}

// seal computes the hash and the serialized size of the block.
func (b *Block) seal() {
	b.Hash = b.Header.Hash()
	b.Size = 0

	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	b.Size = uint64(len(data))
}

// =============================================================================

// TransactionsRoot computes the merkle root over the transaction hashes.
func TransactionsRoot(trans []SignedTx) common.Hash {
	hashes := make([]common.Hash, len(trans))
	for i, tx := range trans {
		hashes[i] = tx.Hash()
	}

	return merkle.RootOf(hashes)
}
