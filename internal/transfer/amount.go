package transfer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const microPerSTX = 1_000_000

// ErrInvalidAmount indicates the amount is not a positive finite decimal with
// at most six fractional digits.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount converts a decimal STX amount like "12.5" to µSTX. Decimal
// string arithmetic only: float rounding must never change the amount sent.
func ParseAmount(s string) (int64, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, ErrInvalidAmount
	}
	if hasFrac && frac == "" {
		return 0, ErrInvalidAmount
	}
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (hasFrac && !isDigits(frac)) {
		return 0, ErrInvalidAmount
	}
	if len(frac) > 6 {
		return 0, ErrInvalidAmount
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (math.MaxInt64-microPerSTX)/microPerSTX {
		return 0, ErrInvalidAmount
	}

	micro := w * microPerSTX
	if frac != "" {
		f, err := strconv.ParseInt(frac+strings.Repeat("0", 6-len(frac)), 10, 64)
		if err != nil {
			return 0, ErrInvalidAmount
		}
		micro += f
	}

	if micro <= 0 {
		return 0, ErrInvalidAmount
	}

	return micro, nil
}

// FormatSTX renders a µSTX amount as a decimal STX string without trailing
// zeros.
func FormatSTX(micro int64) string {
	whole := micro / microPerSTX
	frac := micro % microPerSTX
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}

	return fmt.Sprintf("%d.%s", whole, strings.TrimRight(fmt.Sprintf("%06d", frac), "0"))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}
