package features

import (
	"encoding/json"
	"fmt"
	"math"
)

// DefaultMaxURLLength bounds url_length under strict validation.
const DefaultMaxURLLength = 10000

// Vector holds one value per schema slot, in schema order.
type Vector []float64

// Float32 converts the vector to the element type ONNX models consume.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// MissingFeatureError reports a schema slot absent from the request.
type MissingFeatureError struct {
	Feature string
}

func (e *MissingFeatureError) Error() string {
	return "missing required feature: " + e.Feature
}

// UnsupportedValueError reports a slot whose value is neither numeric nor boolean.
type UnsupportedValueError struct {
	Feature string
	Value   any
}

func (e *UnsupportedValueError) Error() string {
	return fmt.Sprintf("feature %s has non-numeric value %s", e.Feature, describe(e.Value))
}

// InvalidFeatureError reports a strict-mode range or type violation.
type InvalidFeatureError struct {
	Feature string
	Reason  string
}

func (e *InvalidFeatureError) Error() string {
	return fmt.Sprintf("feature %s %s", e.Feature, e.Reason)
}

// Options tunes validation. The zero value is the lenient default.
type Options struct {
	Strict       bool
	MaxURLLength int
}

// Vector assembles the schema-ordered vector for a feature mapping.
// Booleans become 1 or 0, numbers pass through, keys outside the schema are
// ignored.
func (s *Schema) Vector(raw map[string]any) (Vector, error) {
	return s.VectorWithOptions(raw, Options{})
}

// VectorWithOptions is Vector with strict checks applied when opts.Strict is set.
func (s *Schema) VectorWithOptions(raw map[string]any, opts Options) (Vector, error) {
	for _, slot := range s.slots {
		if _, ok := raw[slot.Name]; !ok {
			return nil, &MissingFeatureError{Feature: slot.Name}
		}
	}

	out := make(Vector, len(s.slots))
	for i, slot := range s.slots {
		value := raw[slot.Name]
		num, isBool, err := numeric(value)
		if err != nil {
			return nil, &UnsupportedValueError{Feature: slot.Name, Value: value}
		}
		if opts.Strict {
			if err := checkStrict(slot, num, isBool, opts); err != nil {
				return nil, err
			}
		}
		out[i] = num
	}
	return out, nil
}

func numeric(v any) (float64, bool, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, true, nil
		}
		return 0, true, nil
	case float64:
		return x, false, nil
	case float32:
		return float64(x), false, nil
	case int:
		return float64(x), false, nil
	case int32:
		return float64(x), false, nil
	case int64:
		return float64(x), false, nil
	case uint:
		return float64(x), false, nil
	case uint32:
		return float64(x), false, nil
	case uint64:
		return float64(x), false, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false, err
		}
		return f, false, nil
	default:
		return 0, false, fmt.Errorf("unsupported %T", v)
	}
}

func checkStrict(slot Slot, num float64, isBool bool, opts Options) error {
	if math.IsNaN(num) || math.IsInf(num, 0) {
		return &InvalidFeatureError{Feature: slot.Name, Reason: "must be finite"}
	}
	switch slot.Kind {
	case KindFlag:
		if !isBool && num != 0 && num != 1 {
			return &InvalidFeatureError{Feature: slot.Name, Reason: "must be a boolean"}
		}
	default:
		if isBool {
			return &InvalidFeatureError{Feature: slot.Name, Reason: "must be a non-negative integer"}
		}
		if num < 0 || num != math.Trunc(num) {
			return &InvalidFeatureError{Feature: slot.Name, Reason: "must be a non-negative integer"}
		}
	}
	if slot.Name == "url_length" {
		limit := opts.MaxURLLength
		if limit <= 0 {
			limit = DefaultMaxURLLength
		}
		if num > float64(limit) {
			return &InvalidFeatureError{Feature: slot.Name, Reason: fmt.Sprintf("exceeds %d characters", limit)}
		}
	}
	return nil
}

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	default:
		return fmt.Sprintf("of type %T", v)
	}
}
