package cmd

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

// receiptCmd represents the receipt command
var receiptCmd = &cobra.Command{
	Use:   "receipt <hash>",
	Short: "Print the receipt of a transaction",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, ctx, cancel, err := dial()
		if err != nil {
			log.Fatal(err)
		}
		defer cancel()
		defer client.Close()

		var receipt json.RawMessage
		if err := client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", common.HexToHash(args[0])); err != nil {
			log.Fatal(err)
		}

		if string(receipt) == "null" {
			fmt.Println("receipt not found, the transaction may still be pending")
			return
		}

		var out any
		if err := json.Unmarshal(receipt, &out); err != nil {
			log.Fatal(err)
		}

		pretty, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(pretty))
	},
}

func init() {
	rootCmd.AddCommand(receiptCmd)
}
