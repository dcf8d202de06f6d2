package cmd

import (
	"fmt"
	"log"
	"math/big"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var balanceAccount string

// balanceCmd represents the balance command
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Print your balance.",
	Run: func(cmd *cobra.Command, args []string) {
		account, err := resolveAccount(balanceAccount)
		if err != nil {
			log.Fatal(err)
		}

		client, ctx, cancel, err := dial()
		if err != nil {
			log.Fatal(err)
		}
		defer cancel()
		defer client.Close()

		var balance hexutil.Big
		if err := client.CallContext(ctx, &balance, "eth_getBalance", account, "latest"); err != nil {
			log.Fatal(err)
		}

		var nonce hexutil.Uint64
		if err := client.CallContext(ctx, &nonce, "eth_getTransactionCount", account, "pending"); err != nil {
			log.Fatal(err)
		}

		fmt.Println("For Account:", account)
		fmt.Println("Balance:", (*big.Int)(&balance))
		fmt.Println("Next Nonce:", uint64(nonce))
	},
}

func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().StringVarP(&balanceAccount, "account", "a", "", "Account to look up, defaults to the wallet's.")
}

// resolveAccount returns the specified account or the wallet's own address
// when none is given.
func resolveAccount(account string) (common.Address, error) {
	if account != "" {
		return database.ToAddress(account)
	}

	privateKey, err := loadKey()
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(privateKey.PublicKey), nil
}
