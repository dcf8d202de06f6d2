// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the genesis file leaves a value unset.
const (
	defaultBlockTime         = 1000
	defaultGasLimit          = 30_000_000
	defaultMempoolMax        = 5000
	defaultMempoolPerAccount = 64
)

// Genesis represents the genesis file.
type Genesis struct {
	Date              time.Time         `json:"date" yaml:"date"`
	ChainID           uint64            `json:"chain_id" yaml:"chain_id"`                       // The chain id represents an unique id for this running instance.
	BlockTimeMS       uint64            `json:"block_time_ms" yaml:"block_time_ms"`             // How often a block is produced.
	GasLimit          uint64            `json:"gas_limit" yaml:"gas_limit"`                     // The maximum amount of gas a block can consume.
	GasPrice          string            `json:"gas_price" yaml:"gas_price"`                     // Suggested gas price reported to clients.
	BaseReward        string            `json:"base_reward" yaml:"base_reward"`                 // Reward paid to the producer of every block.
	CongestionBonus   string            `json:"congestion_bonus" yaml:"congestion_bonus"`       // Extra reward when a block is more than half full.
	MempoolMax        int               `json:"mempool_max" yaml:"mempool_max"`                 // Global capacity of the mempool.
	MempoolPerAccount int               `json:"mempool_per_account" yaml:"mempool_per_account"` // Pending transactions allowed per sender.
	Validators        []string          `json:"validators" yaml:"validators"`                   // Producers in round-robin order.
	Balances          map[string]string `json:"balances" yaml:"balances"`                       // Initial allocation in decimal.
}

// =============================================================================

// Load opens and consumes the genesis file. Files ending in .yaml or .yml
// are decoded as YAML, everything else as JSON.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &genesis)
	default:
		err = json.Unmarshal(content, &genesis)
	}
	if err != nil {
		return Genesis{}, fmt.Errorf("decoding genesis: %w", err)
	}

	genesis.applyDefaults()

	if err := genesis.Validate(); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Validate checks the genesis information is usable for starting a chain.
func (g Genesis) Validate() error {
	if g.ChainID == 0 {
		return errors.New("chain id must be set")
	}

	if _, err := g.ValidatorAddresses(); err != nil {
		return err
	}

	if _, err := g.Allocations(); err != nil {
		return err
	}

	for name, v := range map[string]string{"gas_price": g.GasPrice, "base_reward": g.BaseReward, "congestion_bonus": g.CongestionBonus} {
		if _, err := parseAmount(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	return nil
}

// BlockTime returns the configured block production interval.
func (g Genesis) BlockTime() time.Duration {
	return time.Duration(g.BlockTimeMS) * time.Millisecond
}

// ValidatorAddresses returns the round-robin producer list in file order.
func (g Genesis) ValidatorAddresses() ([]common.Address, error) {
	if len(g.Validators) == 0 {
		return nil, errors.New("at least one validator is required")
	}

	seen := make(map[common.Address]bool)
	addrs := make([]common.Address, len(g.Validators))
	for i, v := range g.Validators {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("validator %q is not a valid address", v)
		}

		addr := common.HexToAddress(v)
		if seen[addr] {
			return nil, fmt.Errorf("validator %s is listed twice", addr)
		}
		seen[addr] = true
		addrs[i] = addr
	}

	return addrs, nil
}

// Allocations returns the initial account balances.
func (g Genesis) Allocations() (map[common.Address]*uint256.Int, error) {
	allocs := make(map[common.Address]*uint256.Int, len(g.Balances))
	for account, balance := range g.Balances {
		if !common.IsHexAddress(account) {
			return nil, fmt.Errorf("balance account %q is not a valid address", account)
		}

		amount, err := parseAmount(balance)
		if err != nil {
			return nil, fmt.Errorf("balance for %s: %w", account, err)
		}

		allocs[common.HexToAddress(account)] = amount
	}

	return allocs, nil
}

// Rewards returns the base reward and the congestion bonus. A value that
// doesn't pass Validate is returned as zero.
func (g Genesis) Rewards() (base *uint256.Int, bonus *uint256.Int) {
	return amountOrZero(g.BaseReward), amountOrZero(g.CongestionBonus)
}

// SuggestedGasPrice returns the gas price reported to clients. A value that
// doesn't pass Validate is returned as zero.
func (g Genesis) SuggestedGasPrice() *uint256.Int {
	return amountOrZero(g.GasPrice)
}

// =============================================================================

// applyDefaults fills the values the file left out.
func (g *Genesis) applyDefaults() {
	if g.BlockTimeMS == 0 {
		g.BlockTimeMS = defaultBlockTime
	}
	if g.GasLimit == 0 {
		g.GasLimit = defaultGasLimit
	}
	if g.MempoolMax == 0 {
		g.MempoolMax = defaultMempoolMax
	}
	if g.MempoolPerAccount == 0 {
		g.MempoolPerAccount = defaultMempoolPerAccount
	}
}

func amountOrZero(s string) *uint256.Int {
	v, err := parseAmount(s)
	if err != nil {
		return new(uint256.Int)
	}
	return v
}

// parseAmount converts a decimal string into an amount. An empty string is
// treated as zero.
func parseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}

	return uint256.FromDecimal(s)
}
