package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept at every boundary.
const Places = 2

// ErrNegative is returned when parsing a negative amount.
var ErrNegative = errors.New("amount must not be negative")

// Amount is a non-negative monetary value with two-decimal precision.
// The zero value is 0.00.
type Amount struct {
	d decimal.Decimal
}

// Zero is 0.00
var Zero = Amount{}

// New rounds d to two decimals.
func New(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Places)}
}

// FromCents builds an amount from an integer number of cents.
func FromCents(cents int64) Amount {
	return Amount{d: decimal.New(cents, -Places)}
}

// Parse parses a decimal string such as "4.5", "$12.00" or " 7 ".
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("parsing amount: empty value")
	}
	if strings.ContainsAny(s, "eE") {
		return Zero, fmt.Errorf("parsing amount %q: exponent notation is not allowed", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return Zero, ErrNegative
	}
	return New(d), nil
}

// MustParse is Parse for constants in tests and defaults.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Sum adds amounts, rounding each one before adding and the result after.
func Sum(amounts ...Amount) Amount {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a.d.Round(Places))
	}
	return New(total)
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return New(a.d.Add(b.d))
}

// Sub returns a - b, floored at zero.
func (a Amount) Sub(b Amount) Amount {
	r := a.d.Sub(b.d)
	if r.IsNegative() {
		return Zero
	}
	return New(r)
}

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool {
	return a.d.IsPositive()
}

// Equal compares two amounts by value.
func (a Amount) Equal(b Amount) bool {
	return a.d.Equal(b.d)
}

// Cents returns the amount in the smallest currency unit.
func (a Amount) Cents() int64 {
	return a.d.Shift(Places).Round(0).IntPart()
}

// Decimal exposes the underlying value.
func (a Amount) Decimal() decimal.Decimal {
	return a.d
}

// String formats the amount with exactly two decimals, e.g. "4.50".
func (a Amount) String() string {
	return a.d.StringFixed(Places)
}

// Dollars formats the amount for display, e.g. "$4.50".
func (a Amount) Dollars() string {
	return "$" + a.String()
}

// MarshalJSON encodes the amount as a fixed-point string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a JSON string or number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Zero
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer. Amounts are stored as fixed-point text.
func (a Amount) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Zero
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scanning amount: %w", err)
		}
		*a = New(d)
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scanning amount: %w", err)
		}
		*a = New(d)
	case float64:
		*a = New(decimal.NewFromFloat(v))
	case int64:
		*a = New(decimal.NewFromInt(v))
	default:
		return fmt.Errorf("scanning amount: unsupported type %T", src)
	}
	return nil
}
