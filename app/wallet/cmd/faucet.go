package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var faucetAccount string

// faucetCmd represents the faucet command
var faucetCmd = &cobra.Command{
	Use:   "faucet",
	Short: "Ask the node's faucet to fund an account",
	Run: func(cmd *cobra.Command, args []string) {
		account, err := resolveAccount(faucetAccount)
		if err != nil {
			log.Fatal(err)
		}

		client, ctx, cancel, err := dial()
		if err != nil {
			log.Fatal(err)
		}
		defer cancel()
		defer client.Close()

		var hash common.Hash
		if err := client.CallContext(ctx, &hash, "poa_faucet", account); err != nil {
			log.Fatal(err)
		}

		fmt.Println(hash)
	},
}

func init() {
	rootCmd.AddCommand(faucetCmd)
	faucetCmd.Flags().StringVarP(&faucetAccount, "account", "a", "", "Account to fund, defaults to the wallet's.")
}
