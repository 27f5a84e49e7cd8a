package trade

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DecimalOrZero parses a stored numeric column. Unparsable input yields zero
// together with an ErrDataIntegrity error so callers can log and continue.
func DecimalOrZero(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: parse %q: %v", ErrDataIntegrity, raw, err)
	}
	return v, nil
}
