package predict

import (
	"encoding/json"
	"strconv"

	"github.com/phishcheck/phishcheck/internal/scoring"
)

// StatusError is the status of the uniform error response.
const StatusError = "error"

// Result is the caller-facing prediction record. Scores are already rounded to
// three decimals.
type Result struct {
	Status     string  `json:"status"`
	RiskScore  float64 `json:"risk_score"`
	Message    string  `json:"message"`
	Confidence float64 `json:"confidence"`
}

// OK reports whether r is a successful prediction.
func (r Result) OK() bool {
	return r.Status != StatusError
}

// MarshalJSON renders scores with exactly three decimals.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Status     string      `json:"status"`
		RiskScore  json.Number `json:"risk_score"`
		Message    string      `json:"message"`
		Confidence json.Number `json:"confidence"`
	}{
		Status:     r.Status,
		RiskScore:  fixed3(r.RiskScore),
		Message:    r.Message,
		Confidence: fixed3(r.Confidence),
	})
}

func fixed3(v float64) json.Number {
	return json.Number(FormatScore(v))
}

// FormatScore renders a score clamped to [0,1] with exactly three decimals.
func FormatScore(v float64) string {
	return strconv.FormatFloat(scoring.Clamp(v), 'f', 3, 64)
}

// ErrorResult converts any failure into the uniform error response.
func ErrorResult(err error) Result {
	desc := "unknown error"
	if err != nil {
		desc = err.Error()
	}
	return Result{
		Status:     StatusError,
		RiskScore:  1.0,
		Message:    "Prediction error: " + desc,
		Confidence: 0.0,
	}
}

func resultFrom(a scoring.Assessment) Result {
	return Result{
		Status:     a.Label,
		RiskScore:  scoring.Round3(a.RiskScore),
		Message:    a.Message,
		Confidence: scoring.Round3(scoring.Clamp(a.Confidence)),
	}
}
