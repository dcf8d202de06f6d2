package public

import (
	"time"

	"github.com/ardanlabs/evmchain/foundation/blockchain/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

type info struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Balance string         `json:"balance"`
	Nonce   uint64         `json:"nonce"`
	Code    bool           `json:"contract"`
}

type actInfo struct {
	LatestBlock common.Hash `json:"latest_block"`
	Uncommitted int         `json:"uncommitted"`
	Accounts    []info      `json:"accounts"`
}

type tx struct {
	Hash        common.Hash     `json:"hash"`
	FromAccount common.Address  `json:"from"`
	FromName    string          `json:"from_name"`
	To          *common.Address `json:"to"`
	ToName      string          `json:"to_name"`
	Nonce       uint64          `json:"nonce"`
	Value       string          `json:"value"`
	GasPrice    string          `json:"gas_price"`
	GasLimit    uint64          `json:"gas_limit"`
	Data        hexutil.Bytes   `json:"data"`
	Sig         string          `json:"sig"`
	BlockNumber *uint64         `json:"block_number,omitempty"`
	ArrivedAt   *time.Time      `json:"arrived_at,omitempty"`
}

type submitted struct {
	Status string      `json:"status"`
	Hash   common.Hash `json:"hash"`
}

// =============================================================================

func (h Handlers) toTx(tran database.SignedTx) tx {
	t := tx{
		Hash:        tran.Hash(),
		FromAccount: tran.From,
		FromName:    h.lookup(tran.From),
		To:          tran.To,
		Nonce:       tran.Nonce,
		Value:       database.FormatAmount(tran.Value),
		GasPrice:    database.FormatAmount(tran.GasPrice),
		GasLimit:    tran.GasLimit,
		Data:        tran.Data,
		Sig:         tran.SignatureString(),
	}

	if tran.To != nil {
		t.ToName = h.lookup(*tran.To)
	}

	return t
}

func (h Handlers) lookup(address common.Address) string {
	if h.NS == nil {
		return address.Hex()
	}

	return h.NS.Lookup(address)
}
