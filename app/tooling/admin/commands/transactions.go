package commands

import (
	"fmt"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
)

// Transactions prints the committed transactions in chain order. An account
// can be given to only show the transactions it sent or received.
func Transactions(args conf.Args, strg database.Serializer) error {
	data, err := strg.Read()
	if err != nil {
		return err
	}

	var filter *common.Address
	if acct := args.Num(1); acct != "" {
		address, err := database.ToAddress(acct)
		if err != nil {
			return err
		}
		filter = &address
	}

	blocks := make(map[common.Hash]database.Block, len(data.Blocks))
	for _, entry := range data.Blocks {
		blocks[entry.Key] = entry.Value
	}

	for _, number := range data.Numbers {
		block, exists := blocks[number.Value]
		if !exists {
			return fmt.Errorf("block %d missing from chain data", number.Key)
		}

		for _, tx := range block.Transactions {
			if filter != nil && tx.From != *filter && (tx.To == nil || *tx.To != *filter) {
				continue
			}

			to := "create"
			if tx.To != nil {
				to = tx.To.Hex()
			}

			fmt.Printf("Block: %d  Hash: %s  From: %s  To: %s  Value: %s  Nonce: %d\n",
				number.Key, tx.Hash(), tx.From, to, database.FormatAmount(tx.Value), tx.Nonce)
		}
	}

	return nil
}
