package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/phishcheck/phishcheck/internal/scoring"
)

// DecoderKind records, once at load time, how raw class ids become labels.
type DecoderKind string

const (
	// DecoderWithLabels uses the label_map.json shipped with the model.
	DecoderWithLabels DecoderKind = "with_decoder"
	// DecoderFallback uses the fixed {0: safe, 1: suspicious, 2: malicious} map.
	DecoderFallback DecoderKind = "fallback_map"
)

// ErrUnknownClass is returned when a bundle decoder has no label for a class id.
var ErrUnknownClass = errors.New("class id not covered by label decoder")

var fallbackLabels = map[int64]string{
	0: scoring.LabelSafe,
	1: scoring.LabelSuspicious,
	2: scoring.LabelMalicious,
}

// Decoder is a tagged variant over the two decoding strategies.
type Decoder struct {
	kind   DecoderKind
	labels []string
}

// NewLabelDecoder wraps an explicit class-id-indexed label list.
func NewLabelDecoder(labels []string) Decoder {
	cp := make([]string, len(labels))
	copy(cp, labels)
	return Decoder{kind: DecoderWithLabels, labels: cp}
}

// FallbackDecoder returns the fixed reference mapping.
func FallbackDecoder() Decoder {
	return Decoder{kind: DecoderFallback}
}

// Kind reports which variant is active.
func (d Decoder) Kind() DecoderKind {
	if d.kind == "" {
		return DecoderFallback
	}
	return d.kind
}

// Classes returns the number of classes the decoder knows about.
func (d Decoder) Classes() int {
	if d.Kind() == DecoderWithLabels {
		return len(d.labels)
	}
	return len(fallbackLabels)
}

// Decode maps a raw class id to a label. The fallback map decodes unmapped ids
// to "unknown"; an explicit decoder rejects them.
func (d Decoder) Decode(raw int64) (string, error) {
	switch d.Kind() {
	case DecoderWithLabels:
		if raw < 0 || raw >= int64(len(d.labels)) {
			return "", fmt.Errorf("%w: %d (decoder has %d labels)", ErrUnknownClass, raw, len(d.labels))
		}
		return d.labels[raw], nil
	default:
		if lbl, ok := fallbackLabels[raw]; ok {
			return lbl, nil
		}
		return scoring.LabelUnknown, nil
	}
}

// LoadDecoder reads label_map.json. A missing file selects the fallback map;
// an unreadable or malformed file is an error.
func LoadDecoder(path string) (Decoder, error) {
	if strings.TrimSpace(path) == "" {
		return FallbackDecoder(), nil
	}
	labels, err := loadLabels(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FallbackDecoder(), nil
		}
		return Decoder{}, err
	}
	if len(labels) == 0 {
		return Decoder{}, fmt.Errorf("label map %s is empty", path)
	}
	for i, lbl := range labels {
		if strings.TrimSpace(lbl) == "" {
			return Decoder{}, fmt.Errorf("label map %s has no label for class %d", path, i)
		}
	}
	return NewLabelDecoder(labels), nil
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode label map: %w", err)
	}

	out := make([]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(strings.TrimSpace(k))
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		out[idx] = v
	}
	return out, nil
}
