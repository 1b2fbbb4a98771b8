package invoice

import (
	"fmt"
	"strconv"

	"github.com/rafaelminatto1/dudufisio-AI-sub004/types"
)

// MaxSequence is the largest per-year sequence an invoice number can carry.
const MaxSequence = 999_999

// FormatNumber renders an invoice number as a 4-digit year followed by a
// 6-digit zero-padded sequence, e.g. 2026000042.
func FormatNumber(year int, seq int64) (string, error) {
	if year < 1000 || year > 9999 {
		return "", types.ValidationError{Field: "number", Message: fmt.Sprintf("year %d out of range", year)}
	}
	if seq < 1 || seq > MaxSequence {
		return "", types.ValidationError{Field: "number", Message: fmt.Sprintf("sequence %d out of range", seq)}
	}
	return fmt.Sprintf("%04d%06d", year, seq), nil
}

// ParseNumber splits an invoice number into its year and sequence.
func ParseNumber(number string) (year int, seq int64, err error) {
	if len(number) != 10 {
		return 0, 0, types.ValidationError{Field: "number", Message: fmt.Sprintf("invoice number %q must have 10 digits", number)}
	}
	y, err := strconv.Atoi(number[:4])
	if err != nil {
		return 0, 0, types.ValidationError{Field: "number", Message: fmt.Sprintf("invalid year in %q", number)}
	}
	s, err := strconv.ParseInt(number[4:], 10, 64)
	if err != nil || s < 1 {
		return 0, 0, types.ValidationError{Field: "number", Message: fmt.Sprintf("invalid sequence in %q", number)}
	}
	return y, s, nil
}
