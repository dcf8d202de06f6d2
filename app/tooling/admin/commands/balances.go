// Package commands contains the functionality for the admin tool.
package commands

import (
	"fmt"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
)

// Balances prints the account state that was persisted with the latest
// block. An account can be given to limit the output.
func Balances(args conf.Args, strg database.Serializer) error {
	data, err := strg.Read()
	if err != nil {
		return err
	}

	var only string
	if acct := args.Num(1); acct != "" {
		address, err := database.ToAddress(acct)
		if err != nil {
			return err
		}
		only = address.Hex()
	}

	fmt.Printf("LatestBlock: %d\n\n", data.LatestBlock)

	for _, entry := range data.State.Accounts {
		if only != "" && entry.Key.Hex() != only {
			continue
		}

		fmt.Printf("Account: %s  Balance: %s  Nonce: %d\n", entry.Key, database.FormatAmount(entry.Value.Balance), entry.Value.Nonce)
	}

	return nil
}
