package database

// Gas costs used to compute the intrinsic gas of a transaction. These mirror
// the values Ethereum charges before any code runs.
const (
	TxGas                 uint64 = 21_000 // Base cost of every transaction and the floor for any gas limit.
	TxGasContractCreation uint64 = 32_000 // Surcharge when the transaction creates a contract.
	TxDataZeroGas         uint64 = 4      // Per zero byte of payload.
	TxDataNonZeroGas      uint64 = 16     // Per non-zero byte of payload.
)

// estimateMargin is the percentage added on top of the intrinsic gas when
// estimating a gas limit for a client.
const estimateMargin = 20

// IntrinsicGas computes the gas a transaction costs from its shape and
// payload alone.
func IntrinsicGas(data []byte, isCreate bool) uint64 {
	gas := TxGas
	if isCreate {
		gas += TxGasContractCreation
	}

	for _, b := range data {
		switch b {
		case 0:
			gas += TxDataZeroGas
		default:
			gas += TxDataNonZeroGas
		}
	}

	return gas
}

// EstimateGas returns the intrinsic gas plus a safety margin.
func EstimateGas(data []byte, isCreate bool) uint64 {
	gas := IntrinsicGas(data, isCreate)
	return gas + gas*estimateMargin/100
}
