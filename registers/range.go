package registers

import "fmt"

// RangeKind enumerates the supported raw value predicates.
type RangeKind string

const (
	// RangeUnbounded accepts every raw value.
	RangeUnbounded RangeKind = "unbounded"
	// RangeBetween accepts the half-open interval [Min, Max).
	RangeBetween RangeKind = "between"
	// RangeZeroTo accepts the half-open interval [0, Max).
	RangeZeroTo RangeKind = "zero_to"
)

// Range is a validity predicate over the raw register domain.
type Range struct {
	Kind RangeKind `json:"kind"`
	Min  int64     `json:"min"`
	Max  int64     `json:"max"`
}

// Unbounded returns a range accepting all raw values.
func Unbounded() Range {
	return Range{Kind: RangeUnbounded}
}

// Between returns a range accepting raw values in [min, max).
func Between(min, max int64) Range {
	return Range{Kind: RangeBetween, Min: min, Max: max}
}

// ZeroTo returns a range accepting raw values in [0, k).
func ZeroTo(k int64) Range {
	return Range{Kind: RangeZeroTo, Max: k}
}

// Contains reports whether raw satisfies the predicate.
func (r Range) Contains(raw int64) bool {
	switch r.Kind {
	case RangeUnbounded, "":
		return true
	case RangeBetween:
		return raw >= r.Min && raw < r.Max
	case RangeZeroTo:
		return raw >= 0 && raw < r.Max
	default:
		return false
	}
}

// Validate checks that the range is well formed.
func (r Range) Validate() error {
	switch r.Kind {
	case RangeUnbounded, "":
		return nil
	case RangeBetween:
		if r.Min >= r.Max {
			return fmt.Errorf("range between(%d,%d) is empty", r.Min, r.Max)
		}
		return nil
	case RangeZeroTo:
		if r.Max <= 0 {
			return fmt.Errorf("range zero_to(%d) is empty", r.Max)
		}
		return nil
	default:
		return fmt.Errorf("unknown range kind %q", r.Kind)
	}
}

func (r Range) String() string {
	switch r.Kind {
	case RangeBetween:
		return fmt.Sprintf("[%d, %d)", r.Min, r.Max)
	case RangeZeroTo:
		return fmt.Sprintf("[0, %d)", r.Max)
	default:
		return "unbounded"
	}
}
