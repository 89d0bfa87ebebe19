// Package mass is a small mass value type with unit conversion. Values are
// stored in micrograms and carry the unit they are displayed in.
package mass

import (
	"errors"
	"math"
	"strings"

	"scalecode-go/x/strconvx"
)

// Epsilon is the tolerance for equality and divide-by-zero checks.
const Epsilon = 2.220446049250313e-16

var (
	ErrInvalidUnit = errors.New("mass: invalid unit")
	ErrDivByZero   = errors.New("mass: division by zero")
)

type Unit uint8

const (
	Microgram Unit = iota
	Milligram
	Gram
	Kilogram
	Ton
	ImperialTon
	USTon
	Stone
	Pound
	Ounce

	numUnits
)

// Micrograms per unit.
var ratios = [numUnits]float64{
	1,
	1_000,
	1_000_000,
	1_000_000_000,
	1_000_000_000_000,
	1_016_046_908_800,
	907_184_740_000,
	6_350_293_180,
	453_592_370,
	28_349_523.125,
}

var names = [numUnits]string{
	"μg",
	"mg",
	"g",
	"kg",
	"ton",
	"ton (IMP)",
	"ton (US)",
	"st",
	"lb",
	"oz",
}

func (u Unit) Valid() bool { return u < numUnits }

// Ratio returns micrograms per one u, 0 if u is invalid.
func (u Unit) Ratio() float64 {
	if !u.Valid() {
		return 0
	}
	return ratios[u]
}

func (u Unit) String() string {
	if !u.Valid() {
		return "invalid"
	}
	return names[u]
}

// ParseUnit accepts the names String returns, case-insensitively, plus
// "ug" and "µg" (micro sign) for micrograms.
func ParseUnit(s string) (Unit, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "ug", "µg":
		return Microgram, nil
	}
	for i, n := range names {
		if strings.EqualFold(s, n) {
			return Unit(i), nil
		}
	}
	return 0, ErrInvalidUnit
}

// Convert converts v from one unit to another through micrograms.
func Convert(v float64, from, to Unit) float64 {
	if from == to {
		return v
	}
	return v * from.Ratio() / to.Ratio()
}

// Mass is a quantity of mass. The zero value is 0 μg.
type Mass struct {
	ug   float64
	unit Unit
}

// New returns v expressed in u.
func New(v float64, u Unit) Mass {
	return Mass{ug: Convert(v, u, Microgram), unit: u}
}

// Value returns the mass in its own unit.
func (m Mass) Value() float64 { return Convert(m.ug, Microgram, m.unit) }

func (m Mass) Unit() Unit { return m.unit }

func (m Mass) Micrograms() float64 { return m.ug }

// In returns the same mass displayed in u.
func (m Mass) In(u Unit) Mass { return Mass{ug: m.ug, unit: u} }

// Arithmetic keeps the left operand's unit.

func (m Mass) Add(o Mass) Mass { return Mass{ug: m.ug + o.ug, unit: m.unit} }

func (m Mass) Sub(o Mass) Mass { return Mass{ug: m.ug - o.ug, unit: m.unit} }

func (m Mass) Mul(o Mass) Mass { return Mass{ug: m.ug * o.ug, unit: m.unit} }

// Div fails when o is ~0.
func (m Mass) Div(o Mass) (Mass, error) {
	if math.Abs(o.ug) < Epsilon {
		return Mass{}, ErrDivByZero
	}
	return Mass{ug: m.ug / o.ug, unit: m.unit}, nil
}

// Scale multiplies by a plain factor.
func (m Mass) Scale(f float64) Mass { return Mass{ug: m.ug * f, unit: m.unit} }

func (m Mass) Eq(o Mass) bool  { return math.Abs(m.ug-o.ug) < Epsilon }
func (m Mass) Lt(o Mass) bool  { return m.ug < o.ug }
func (m Mass) Gt(o Mass) bool  { return o.Lt(m) }
func (m Mass) Lte(o Mass) bool { return !m.Gt(o) }
func (m Mass) Gte(o Mass) bool { return !m.Lt(o) }

// Decimals returns how many decimal places String prints for v: enough to
// show the first significant digit of the fraction, plus one.
func Decimals(v float64) int {
	_, frac := math.Modf(v)
	f := math.Abs(frac)
	if f < Epsilon {
		return 0
	}
	return int(math.Max(0, math.Ceil(1-math.Log10(f))))
}

// String formats as "<value> <unit>", e.g. "1.50 kg" or "12 g".
func (m Mass) String() string {
	v := m.Value()
	return strconvx.FormatFloat(v, Decimals(v)) + " " + m.unit.String()
}
