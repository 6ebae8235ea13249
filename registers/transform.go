package registers

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// TransformKind enumerates the supported unit conversions.
type TransformKind string

const (
	// TransformIdentity passes values through unchanged.
	TransformIdentity TransformKind = "identity"
	// TransformAffine maps user values with raw = user*Scale + Offset.
	TransformAffine TransformKind = "affine"
	// TransformReciprocal maps user values with raw = K / user.
	TransformReciprocal TransformKind = "reciprocal"
)

var (
	minRaw = decimal.NewFromInt(math.MinInt64)
	maxRaw = decimal.NewFromInt(math.MaxInt64)
)

// Transform converts between raw register integers and user facing units.
type Transform struct {
	Kind   TransformKind `json:"kind"`
	Scale  float64       `json:"scale,omitempty"`
	Offset float64       `json:"offset,omitempty"`
	K      float64       `json:"k,omitempty"`
}

// Identity returns the pass-through transform.
func Identity() Transform {
	return Transform{Kind: TransformIdentity}
}

// Affine returns a transform with raw = user*scale + offset.
func Affine(scale, offset float64) Transform {
	return Transform{Kind: TransformAffine, Scale: scale, Offset: offset}
}

// Reciprocal returns a transform with raw = k / user.
func Reciprocal(k float64) Transform {
	return Transform{Kind: TransformReciprocal, K: k}
}

// Validate checks that the transform parameters are usable in both directions.
func (t Transform) Validate() error {
	switch t.Kind {
	case TransformIdentity, "":
		return nil
	case TransformAffine:
		if t.Scale == 0 || !finite(t.Scale) || !finite(t.Offset) {
			return fmt.Errorf("affine transform needs a finite non-zero scale")
		}
		return nil
	case TransformReciprocal:
		if t.K == 0 || !finite(t.K) {
			return fmt.Errorf("reciprocal transform needs a finite non-zero k")
		}
		return nil
	default:
		return fmt.Errorf("unknown transform kind %q", t.Kind)
	}
}

// ToRaw converts a user value into the raw register integer. The result is
// truncated toward zero.
func (t Transform) ToRaw(user float64) (int64, error) {
	if !finite(user) {
		return 0, fmt.Errorf("user value %v: %w", user, ErrNotRepresentable)
	}
	value := decimal.NewFromFloat(user)
	var raw decimal.Decimal
	switch t.Kind {
	case TransformIdentity, "":
		raw = value
	case TransformAffine:
		raw = value.Mul(decimal.NewFromFloat(t.Scale)).Add(decimal.NewFromFloat(t.Offset))
	case TransformReciprocal:
		if value.IsZero() {
			return 0, fmt.Errorf("reciprocal of zero: %w", ErrNotRepresentable)
		}
		raw = decimal.NewFromFloat(t.K).Div(value)
	default:
		return 0, fmt.Errorf("unknown transform kind %q", t.Kind)
	}
	raw = raw.Truncate(0)
	if raw.LessThan(minRaw) || raw.GreaterThan(maxRaw) {
		return 0, fmt.Errorf("raw value %s: %w", raw, ErrNotRepresentable)
	}
	return raw.IntPart(), nil
}

// ToUser converts a raw register integer into user units.
func (t Transform) ToUser(raw int64) (float64, error) {
	value := decimal.NewFromInt(raw)
	var user decimal.Decimal
	switch t.Kind {
	case TransformIdentity, "":
		user = value
	case TransformAffine:
		if t.Scale == 0 {
			return 0, fmt.Errorf("affine scale is zero: %w", ErrNotRepresentable)
		}
		user = value.Sub(decimal.NewFromFloat(t.Offset)).Div(decimal.NewFromFloat(t.Scale))
	case TransformReciprocal:
		if value.IsZero() {
			return 0, fmt.Errorf("reciprocal of zero: %w", ErrNotRepresentable)
		}
		user = decimal.NewFromFloat(t.K).Div(value)
	default:
		return 0, fmt.Errorf("unknown transform kind %q", t.Kind)
	}
	f, _ := user.Float64()
	return f, nil
}

func (t Transform) String() string {
	switch t.Kind {
	case TransformAffine:
		return fmt.Sprintf("x*%g%+g", t.Scale, t.Offset)
	case TransformReciprocal:
		return fmt.Sprintf("%g/x", t.K)
	default:
		return "x"
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
