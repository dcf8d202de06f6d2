package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// Set of errors returned when a transaction is rejected.
var (
	ErrInvalidSender     = errors.New("invalid sender address")
	ErrInvalidRecipient  = errors.New("invalid recipient address")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrWrongChain        = errors.New("wrong chain id")
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrNonceTooHigh      = errors.New("nonce too high")
	ErrGasPriceTooLow    = errors.New("gas price must be positive")
	ErrGasLimitTooLow    = errors.New("gas limit too low")
	ErrCostOverflow      = errors.New("transaction cost overflows")
	ErrInsufficientForTx = errors.New("insufficient funds for value + gas * price")
)

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	ChainID  uint64          // Ethereum: The chain id that is listed in the genesis file.
	Nonce    uint64          // Ethereum: Unique id for the transaction supplied by the user.
	From     common.Address  // Ethereum: Account sending the transaction. Will be checked against the signature.
	To       *common.Address // Ethereum: Account receiving the benefit of the transaction. Nil creates a contract.
	Value    *uint256.Int    // Ethereum: Monetary value received from this transaction.
	GasPrice *uint256.Int    // Ethereum: The price of one unit of gas to be paid for fees.
	GasLimit uint64          // Ethereum: The maximum number of gas units the sender pays for.
	Data     []byte          // Ethereum: Extra data related to the transaction.
}

// NewTx constructs a new transaction.
func NewTx(chainID uint64, nonce uint64, from common.Address, to *common.Address, value *uint256.Int, gasPrice *uint256.Int, gasLimit uint64, data []byte) (Tx, error) {
	if from == (common.Address{}) {
		return Tx{}, ErrInvalidSender
	}

	if to != nil && *to == (common.Address{}) {
		return Tx{}, ErrInvalidRecipient
	}

	if value == nil {
		value = new(uint256.Int)
	}

	if gasPrice == nil {
		gasPrice = new(uint256.Int)
	}

	tx := Tx{
		ChainID:  chainID,
		Nonce:    nonce,
		From:     from,
		To:       to,
		Value:    value.Clone(),
		GasPrice: gasPrice.Clone(),
		GasLimit: gasLimit,
		Data:     data,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {

	// The key must belong to the account the transaction is sent from.
	if crypto.PubkeyToAddress(privateKey.PublicKey) != tx.From {
		return SignedTx{}, fmt.Errorf("%w: key does not match from account %s", ErrInvalidSender, tx.From)
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature
	// in the [R|S|V] format.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// IsCreate reports whether the transaction creates a contract.
func (tx Tx) IsCreate() bool {
	return tx.To == nil
}

// IntrinsicGas returns the gas this transaction costs before execution.
func (tx Tx) IntrinsicGas() uint64 {
	return IntrinsicGas(tx.Data, tx.IsCreate())
}

// GasCost returns gasPrice * gasLimit.
func (tx Tx) GasCost() (*uint256.Int, error) {
	cost, overflow := new(uint256.Int).MulOverflow(tx.GasPrice, uint256.NewInt(tx.GasLimit))
	if overflow {
		return nil, ErrCostOverflow
	}

	return cost, nil
}

// Cost returns value + gasPrice * gasLimit which is the most this
// transaction can take from the sender.
func (tx Tx) Cost() (*uint256.Int, error) {
	gasCost, err := tx.GasCost()
	if err != nil {
		return nil, err
	}

	cost, overflow := new(uint256.Int).AddOverflow(gasCost, tx.Value)
	if overflow {
		return nil, ErrCostOverflow
	}

	return cost, nil
}

// ValidateAgainst checks the transaction against the sender's current
// balance and nonce. The nonce must match exactly.
func (tx Tx) ValidateAgainst(balance *uint256.Int, nonce uint64) error {
	if tx.From == (common.Address{}) {
		return ErrInvalidSender
	}

	if tx.To != nil && *tx.To == (common.Address{}) {
		return ErrInvalidRecipient
	}

	switch {
	case tx.Nonce < nonce:
		return fmt.Errorf("%w: current %d, provided %d", ErrNonceTooLow, nonce, tx.Nonce)
	case tx.Nonce > nonce:
		return fmt.Errorf("%w: current %d, provided %d", ErrNonceTooHigh, nonce, tx.Nonce)
	}

	if tx.GasPrice == nil || tx.GasPrice.IsZero() {
		return ErrGasPriceTooLow
	}

	if intrinsic := tx.IntrinsicGas(); tx.GasLimit < intrinsic {
		return fmt.Errorf("%w: limit %d, intrinsic %d", ErrGasLimitTooLow, tx.GasLimit, intrinsic)
	}

	cost, err := tx.Cost()
	if err != nil {
		return err
	}

	if balance == nil || balance.Lt(cost) {
		return fmt.Errorf("%w: balance %s, cost %s", ErrInsufficientForTx, FormatAmount(balance), FormatAmount(cost))
	}

	return nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	V *big.Int // Ethereum: Recovery identifier, either 27 or 28.
	R *big.Int // Ethereum: First coordinate of the ECDSA signature.
	S *big.Int // Ethereum: Second coordinate of the ECDSA signature.
}

// Validate verifies the transaction has a proper signature that was
// produced by the from account and is for the specified chain.
func (tx SignedTx) Validate(chainID uint64) error {
	if tx.ChainID != chainID {
		return fmt.Errorf("%w: got %d, exp %d", ErrWrongChain, tx.ChainID, chainID)
	}

	if tx.From == (common.Address{}) {
		return ErrInvalidSender
	}

	if tx.To != nil && *tx.To == (common.Address{}) {
		return ErrInvalidRecipient
	}

	from, err := tx.FromAddress()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if from != tx.From {
		return fmt.Errorf("%w: signed by %s, from %s", ErrInvalidSignature, from, tx.From)
	}

	return nil
}

// FromAddress extracts the address that signed the transaction.
func (tx SignedTx) FromAddress() (common.Address, error) {
	return signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
}

// Hash returns the hash of the signed transaction.
func (tx SignedTx) Hash() common.Hash {
	return signature.Hash(tx)
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	return fmt.Sprintf("%s:%d", tx.From, tx.Nonce)
}

// =============================================================================

// PendingTx represents a transaction waiting in the mempool. This includes
// the time the transaction arrived.
type PendingTx struct {
	SignedTx
	TxHash    common.Hash
	ArrivedAt time.Time
}

// NewPendingTx constructs a pending transaction stamped with the arrival time.
func NewPendingTx(signedTx SignedTx, arrivedAt time.Time) PendingTx {
	return PendingTx{
		SignedTx:  signedTx,
		TxHash:    signedTx.Hash(),
		ArrivedAt: arrivedAt,
	}
}

// =============================================================================

type txJSON struct {
	ChainID  uint64          `json:"chain_id"`
	Nonce    uint64          `json:"nonce"`
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Value    string          `json:"value"`
	GasPrice string          `json:"gas_price"`
	GasLimit uint64          `json:"gas_limit"`
	Data     hexutil.Bytes   `json:"data"`
}

type signedTxJSON struct {
	txJSON
	V string `json:"v"`
	R string `json:"r"`
	S string `json:"s"`
}

func (tx Tx) toJSON() txJSON {
	return txJSON{
		ChainID:  tx.ChainID,
		Nonce:    tx.Nonce,
		From:     tx.From,
		To:       tx.To,
		Value:    FormatAmount(tx.Value),
		GasPrice: FormatAmount(tx.GasPrice),
		GasLimit: tx.GasLimit,
		Data:     tx.Data,
	}
}

func (tj txJSON) toTx() (Tx, error) {
	value, err := ParseAmount(tj.Value)
	if err != nil {
		return Tx{}, fmt.Errorf("value: %w", err)
	}

	gasPrice, err := ParseAmount(tj.GasPrice)
	if err != nil {
		return Tx{}, fmt.Errorf("gas price: %w", err)
	}

	tx := Tx{
		ChainID:  tj.ChainID,
		Nonce:    tj.Nonce,
		From:     tj.From,
		To:       tj.To,
		Value:    value,
		GasPrice: gasPrice,
		GasLimit: tj.GasLimit,
		Data:     tj.Data,
	}

	return tx, nil
}

// MarshalJSON implements the json.Marshaler interface. This is the form
// that gets signed.
func (tx Tx) MarshalJSON() ([]byte, error) {
	return json.Marshal(tx.toJSON())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (tx *Tx) UnmarshalJSON(data []byte) error {
	var tj txJSON
	if err := json.Unmarshal(data, &tj); err != nil {
		return err
	}

	t, err := tj.toTx()
	if err != nil {
		return err
	}
	*tx = t

	return nil
}

// MarshalJSON implements the json.Marshaler interface. This is the form
// that gets hashed and persisted.
func (tx SignedTx) MarshalJSON() ([]byte, error) {
	return json.Marshal(signedTxJSON{
		txJSON: tx.Tx.toJSON(),
		V:      formatBig(tx.V),
		R:      formatBig(tx.R),
		S:      formatBig(tx.S),
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (tx *SignedTx) UnmarshalJSON(data []byte) error {
	var stj signedTxJSON
	if err := json.Unmarshal(data, &stj); err != nil {
		return err
	}

	t, err := stj.txJSON.toTx()
	if err != nil {
		return err
	}

	var sig [3]*big.Int
	for i, s := range []string{stj.V, stj.R, stj.S} {
		if sig[i], err = parseBig(s); err != nil {
			return fmt.Errorf("signature: %w", err)
		}
	}

	*tx = SignedTx{Tx: t, V: sig[0], R: sig[1], S: sig[2]}

	return nil
}

// =============================================================================

// rawTx is the RLP layout of a signed transaction used by the raw
// transaction JSON-RPC method and the wallet.
type rawTx struct {
	ChainID  uint64
	Nonce    uint64
	From     common.Address
	To       []byte
	Value    *big.Int
	GasPrice *big.Int
	GasLimit uint64
	Data     []byte
	V        *big.Int
	R        *big.Int
	S        *big.Int
}

// EncodeRaw returns the RLP encoding of the signed transaction.
func (tx SignedTx) EncodeRaw() ([]byte, error) {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}

	raw := rawTx{
		ChainID:  tx.ChainID,
		Nonce:    tx.Nonce,
		From:     tx.From,
		To:       to,
		Value:    amountToBig(tx.Value),
		GasPrice: amountToBig(tx.GasPrice),
		GasLimit: tx.GasLimit,
		Data:     tx.Data,
		V:        tx.V,
		R:        tx.R,
		S:        tx.S,
	}

	return rlp.EncodeToBytes(raw)
}

// DecodeRaw reverses EncodeRaw.
func DecodeRaw(data []byte) (SignedTx, error) {
	var raw rawTx
	if err := rlp.DecodeBytes(data, &raw); err != nil {
		return SignedTx{}, fmt.Errorf("decoding raw transaction: %w", err)
	}

	var to *common.Address
	switch len(raw.To) {
	case 0:
	case common.AddressLength:
		addr := common.BytesToAddress(raw.To)
		to = &addr
	default:
		return SignedTx{}, ErrInvalidRecipient
	}

	value, overflow := uint256.FromBig(raw.Value)
	if overflow {
		return SignedTx{}, fmt.Errorf("%w: value", ErrInvalidAmount)
	}

	gasPrice, overflow := uint256.FromBig(raw.GasPrice)
	if overflow {
		return SignedTx{}, fmt.Errorf("%w: gas price", ErrInvalidAmount)
	}

	tx := SignedTx{
		Tx: Tx{
			ChainID:  raw.ChainID,
			Nonce:    raw.Nonce,
			From:     raw.From,
			To:       to,
			Value:    value,
			GasPrice: gasPrice,
			GasLimit: raw.GasLimit,
			Data:     raw.Data,
		},
		V: raw.V,
		R: raw.R,
		S: raw.S,
	}

	return tx, nil
}

// amountToBig converts an amount for RLP encoding.
func amountToBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}

	return v.ToBig()
}
