package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate new key pair",
	Run: func(cmd *cobra.Command, args []string) {
		path := getPrivateKeyPath()
		if _, err := os.Stat(path); err == nil {
			log.Fatal(fmt.Errorf("%s: %w", path, os.ErrExist))
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Fatal(err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			log.Fatal(err)
		}

		privateKey, err := crypto.GenerateKey()
		if err != nil {
			log.Fatal(err)
		}
		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			log.Fatal(err)
		}

		fmt.Println(crypto.PubkeyToAddress(privateKey.PublicKey))
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
