package cmd

import (
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var showPublicKey bool

// addressCmd represents the address command
var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print address for the specific wallet",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadKey()
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(crypto.PubkeyToAddress(privateKey.PublicKey))

		if showPublicKey {
			fmt.Println(hexutil.Encode(crypto.FromECDSAPub(&privateKey.PublicKey)))
		}
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
	addressCmd.Flags().BoolVarP(&showPublicKey, "public-key", "k", false, "Also print the uncompressed public key.")
}
