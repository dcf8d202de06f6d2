package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// amountSuffix marks a decimal string as a large integer so the value
// survives text formats that can't hold 256 bit numbers.
const amountSuffix = "n"

// ErrInvalidAmount is returned when a serialized amount can't be parsed.
var ErrInvalidAmount = errors.New("invalid amount")

// FormatAmount renders an amount as a decimal string with the large integer
// marker. A nil amount renders as zero.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0" + amountSuffix
	}

	return v.Dec() + amountSuffix
}

// ParseAmount reverses FormatAmount. The marker is optional so plain decimal
// strings are accepted as well.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSuffix(s, amountSuffix)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}

	return v, nil
}

// formatBig renders a signature component the same way as an amount.
func formatBig(v *big.Int) string {
	if v == nil {
		return ""
	}

	return v.String() + amountSuffix
}

// parseBig reverses formatBig. An empty string is a missing value.
func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}

	v, ok := new(big.Int).SetString(strings.TrimSuffix(s, amountSuffix), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	return v, nil
}

// =============================================================================

// Pair is a key and value that serializes as a two element JSON array. The
// chain data document stores its maps as lists of pairs.
type Pair[K any, V any] struct {
	Key   K
	Value V
}

// MarshalJSON implements the json.Marshaler interface.
func (p Pair[K, V]) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Key, p.Value})
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *Pair[K, V]) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw) != 2 {
		return fmt.Errorf("pair must have 2 elements, got %d", len(raw))
	}

	if err := json.Unmarshal(raw[0], &p.Key); err != nil {
		return fmt.Errorf("pair key: %w", err)
	}

	if err := json.Unmarshal(raw[1], &p.Value); err != nil {
		return fmt.Errorf("pair value: %w", err)
	}

	return nil
}
