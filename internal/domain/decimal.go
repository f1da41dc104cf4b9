package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for every amount, matching NUMERIC(38,9).
const Scale int32 = 9

// maxAmount bounds the integer part of a NUMERIC(38,9) column: 38-9 = 29 digits.
var maxAmount = decimal.New(1, 38-Scale)

// InRange reports whether d fits a NUMERIC(38,9) column once normalized.
func InRange(d decimal.Decimal) bool {
	return Normalize(d).Abs().LessThan(maxAmount)
}

// Normalize rounds d to Scale fractional digits (half away from zero, like PostgreSQL).
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// ParseDecimal converts a stored numeric field into a decimal.
// It never yields a silent zero: empty, NaN, infinite or malformed input is an error
// naming the field and the raw value.
func ParseDecimal(field, raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, &DecimalParseError{Field: field, Raw: raw, Reason: "empty value"}
	}
	switch strings.ToLower(s) {
	case "nan", "infinity", "+infinity", "-infinity", "inf", "+inf", "-inf":
		return decimal.Zero, &DecimalParseError{Field: field, Raw: raw, Reason: "not a finite number"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &DecimalParseError{Field: field, Raw: raw, Reason: err.Error()}
	}
	return Normalize(d), nil
}

// DecimalParseError reports an unparsable numeric field.
type DecimalParseError struct {
	Field  string
	Raw    string
	Reason string
}

func (e *DecimalParseError) Error() string {
	return fmt.Sprintf("parse decimal field %s=%q: %s", e.Field, e.Raw, e.Reason)
}
