package cmd

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

var (
	to       string
	value    string
	gasPrice string
	gasLimit uint64
	data     string
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send transaction",
	Run: func(cmd *cobra.Command, args []string) {
		privateKey, err := loadKey()
		if err != nil {
			log.Fatal(err)
		}

		sa, err := parseSendArgs(to, value, gasPrice, gasLimit, data)
		if err != nil {
			log.Fatal(err)
		}

		client, ctx, cancel, err := dial()
		if err != nil {
			log.Fatal(err)
		}
		defer cancel()
		defer client.Close()

		hash, err := send(ctx, client, privateKey, sa)
		if err != nil {
			log.Fatal(err)
		}

		fmt.Println(hash)
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&to, "to", "t", "", "Account receiving the value, empty deploys the data as a contract.")
	sendCmd.Flags().StringVarP(&value, "value", "v", "0", "Value to send in wei.")
	sendCmd.Flags().StringVarP(&gasPrice, "gas-price", "g", "", "Gas price in wei, defaults to the node's suggestion.")
	sendCmd.Flags().Uint64VarP(&gasLimit, "gas", "l", 0, "Gas limit, defaults to the node's estimate.")
	sendCmd.Flags().StringVarP(&data, "data", "d", "", "Hex encoded data to send.")
}

// =============================================================================

type sendArgs struct {
	To       *common.Address
	Value    *uint256.Int
	GasPrice *uint256.Int // Nil asks the node.
	GasLimit uint64       // Zero asks the node.
	Data     []byte
}

func parseSendArgs(to string, value string, gasPrice string, gasLimit uint64, data string) (sendArgs, error) {
	sa := sendArgs{
		GasLimit: gasLimit,
	}

	if to != "" {
		address, err := database.ToAddress(to)
		if err != nil {
			return sendArgs{}, fmt.Errorf("to: %w", err)
		}
		sa.To = &address
	}

	v, err := database.ParseAmount(value)
	if err != nil {
		return sendArgs{}, fmt.Errorf("value: %w", err)
	}
	sa.Value = v

	if gasPrice != "" {
		gp, err := database.ParseAmount(gasPrice)
		if err != nil {
			return sendArgs{}, fmt.Errorf("gas price: %w", err)
		}
		sa.GasPrice = gp
	}

	if data != "" {
		b, err := hexutil.Decode(data)
		if err != nil {
			return sendArgs{}, fmt.Errorf("data: %w", err)
		}
		sa.Data = b
	}

	return sa, nil
}

// send builds, signs and submits a transaction. The chain id and the
// pending nonce always come from the node.
func send(ctx context.Context, client *rpc.Client, privateKey *ecdsa.PrivateKey, sa sendArgs) (common.Hash, error) {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	var chainID hexutil.Uint64
	if err := client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return common.Hash{}, fmt.Errorf("chain id: %w", err)
	}

	var nonce hexutil.Uint64
	if err := client.CallContext(ctx, &nonce, "eth_getTransactionCount", from, "pending"); err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}

	if sa.GasPrice == nil {
		var price hexutil.Big
		if err := client.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
			return common.Hash{}, fmt.Errorf("gas price: %w", err)
		}

		gp, overflow := uint256.FromBig((*big.Int)(&price))
		if overflow {
			return common.Hash{}, fmt.Errorf("gas price %s overflows", (*big.Int)(&price))
		}
		sa.GasPrice = gp
	}

	if sa.GasLimit == 0 {
		call := map[string]any{
			"from":  from,
			"value": (*hexutil.Big)(sa.Value.ToBig()),
			"data":  hexutil.Bytes(sa.Data),
		}
		if sa.To != nil {
			call["to"] = *sa.To
		}

		var gas hexutil.Uint64
		if err := client.CallContext(ctx, &gas, "eth_estimateGas", call); err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		sa.GasLimit = uint64(gas)
	}

	tx, err := database.NewTx(uint64(chainID), uint64(nonce), from, sa.To, sa.Value, sa.GasPrice, sa.GasLimit, sa.Data)
	if err != nil {
		return common.Hash{}, err
	}

	signedTx, err := tx.Sign(privateKey)
	if err != nil {
		return common.Hash{}, err
	}

	raw, err := signedTx.EncodeRaw()
	if err != nil {
		return common.Hash{}, err
	}

	var hash common.Hash
	if err := client.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}

	return hash, nil
}
