// Package scoring maps a decoded classifier label and its confidence to a
// caller-facing risk score and message.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	LabelSafe       = "safe"
	LabelSuspicious = "suspicious"
	LabelMalicious  = "malicious"
	LabelUnknown    = "unknown"
)

// Band scores one label as Base + Slope*confidence.
type Band struct {
	Base    float64 `yaml:"base" json:"base"`
	Slope   float64 `yaml:"slope" json:"slope"`
	Message string  `yaml:"message" json:"message"`
}

// Score evaluates the band and clamps the result to [0,1].
func (b Band) Score(confidence float64) float64 {
	return Clamp(b.Base + b.Slope*confidence)
}

// Assessment is the policy output before rounding for presentation.
type Assessment struct {
	Label      string
	RiskScore  float64
	Confidence float64
	Message    string
}

// DefaultBands is the reference policy. A barely confident "safe" is itself
// risky; suspicious and malicious rise with confidence inside their own band.
func DefaultBands() map[string]Band {
	return map[string]Band{
		LabelSafe: {
			Base:    1.0,
			Slope:   -1.0,
			Message: "URL appears to be safe based on analyzed features",
		},
		LabelSuspicious: {
			Base:    0.5,
			Slope:   0.3,
			Message: "URL shows suspicious characteristics - proceed with caution",
		},
		LabelMalicious: {
			Base:    0.7,
			Slope:   0.3,
			Message: "URL appears to be malicious - high risk detected",
		},
	}
}

// DefaultUnknownBand scores labels the policy has no band for. It uses the
// malicious tier with a generic message.
func DefaultUnknownBand() Band {
	return Band{
		Base:    0.7,
		Slope:   0.3,
		Message: "URL could not be classified - treat as high risk",
	}
}

// Policy is immutable once built.
type Policy struct {
	bands   map[string]Band
	unknown Band
}

// NewPolicy returns the default policy with overrides applied on top.
// Override keys are matched case-insensitively; the key "unknown" replaces the
// fallback band.
func NewPolicy(overrides map[string]Band) (*Policy, error) {
	p := &Policy{
		bands:   DefaultBands(),
		unknown: DefaultUnknownBand(),
	}
	for rawLabel, band := range overrides {
		label := normalizeLabel(rawLabel)
		if label == "" {
			return nil, fmt.Errorf("scoring band has empty label")
		}
		if math.IsNaN(band.Base) || math.IsNaN(band.Slope) || math.IsInf(band.Base, 0) || math.IsInf(band.Slope, 0) {
			return nil, fmt.Errorf("scoring band %q must have finite base and slope", label)
		}
		if strings.TrimSpace(band.Message) == "" {
			if prev, ok := p.bands[label]; ok {
				band.Message = prev.Message
			} else {
				band.Message = p.unknown.Message
			}
		}
		if label == LabelUnknown {
			p.unknown = band
			continue
		}
		p.bands[label] = band
	}
	return p, nil
}

// Default returns the reference policy.
func Default() *Policy {
	p, _ := NewPolicy(nil)
	return p
}

// Assess scores a decoded label. It is total: every label gets a score.
func (p *Policy) Assess(label string, confidence float64) Assessment {
	if p == nil {
		p = Default()
	}
	label = normalizeLabel(label)
	if label == "" {
		label = LabelUnknown
	}
	band, ok := p.bands[label]
	if !ok {
		band = p.unknown
	}
	return Assessment{
		Label:      label,
		RiskScore:  band.Score(confidence),
		Confidence: confidence,
		Message:    band.Message,
	}
}

// Labels lists the labels with an explicit band, sorted.
func (p *Policy) Labels() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.bands))
	for label := range p.bands {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Clamp bounds v to [0,1]. NaN maps to 1, the maximal risk.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}

// Round3 rounds to three decimal places. Rounding is done on the exact
// binary value and exact ties go to the even digit.
func Round3(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	if err != nil {
		return v
	}
	return r
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
