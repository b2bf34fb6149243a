package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/phishcheck/phishcheck/internal/predict"
)

type checkResponse struct {
	Success  bool         `json:"success"`
	Data     checkData    `json:"data"`
	Metadata responseMeta `json:"metadata"`
}

type checkData struct {
	Status           string      `json:"status"`
	RiskScore        json.Number `json:"risk_score"`
	Message          string      `json:"message"`
	Confidence       json.Number `json:"confidence"`
	FeaturesAnalyzed int         `json:"features_analyzed,omitempty"`
}

type responseMeta struct {
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Timestamp        string `json:"timestamp"`
	RequestID        string `json:"request_id,omitempty"`
	ModelVersion     string `json:"model_version,omitempty"`
}

type healthResponse struct {
	Status           string   `json:"status"`
	Timestamp        string   `json:"timestamp"`
	Version          string   `json:"version"`
	MLModelAvailable bool     `json:"ml_model_available"`
	BundleVersion    string   `json:"bundle_version,omitempty"`
	Features         []string `json:"features"`
}

type errorBody struct {
	Success bool        `json:"success"`
	Error   errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ready")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		Version:          s.version,
		MLModelAvailable: s.engine != nil,
		Features:         []string{},
	}
	if s.engine != nil {
		resp.BundleVersion = s.engine.Version()
		resp.Features = s.engine.Schema().Names()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	meta := func() responseMeta {
		m := responseMeta{
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Timestamp:        time.Now().UTC().Format(time.RFC3339Nano),
			RequestID:        middleware.GetReqID(r.Context()),
		}
		if s.engine != nil {
			m.ModelVersion = s.engine.Version()
		}
		return m
	}

	if s.engine == nil {
		err := &predict.Error{Kind: predict.KindStartup, Err: errors.New("model not loaded")}
		writeCheck(w, http.StatusServiceUnavailable, predict.ErrorResult(err), 0, meta())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.bodyLimit()))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
			err = fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		perr := &predict.Error{Kind: predict.KindMalformedInput, Err: err}
		writeCheck(w, status, predict.ErrorResult(perr), 0, meta())
		return
	}

	res, err := s.engine.PredictPayload(r.Context(), body)
	if err != nil {
		s.logger.Warn("prediction rejected",
			"kind", string(predict.KindOf(err)),
			"error", err.Error(),
			"request_id", middleware.GetReqID(r.Context()),
		)
		writeCheck(w, statusFor(err), res, 0, meta())
		return
	}
	writeCheck(w, http.StatusOK, res, s.engine.Schema().Len(), meta())
}

func (s *Server) bodyLimit() int64 {
	if s.cfg.MaxRequestBodyBytes > 0 {
		return s.cfg.MaxRequestBodyBytes
	}
	return 1 << 20
}

// statusFor maps prediction failure kinds onto HTTP status codes.
func statusFor(err error) int {
	switch predict.KindOf(err) {
	case "":
		return http.StatusOK
	case predict.KindMissingFeature, predict.KindMalformedInput, predict.KindInvalidFeature:
		return http.StatusBadRequest
	case predict.KindStartup:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeCheck(w http.ResponseWriter, status int, res predict.Result, featuresAnalyzed int, meta responseMeta) {
	writeJSON(w, status, checkResponse{
		Success: res.OK(),
		Data: checkData{
			Status:           res.Status,
			RiskScore:        json.Number(predict.FormatScore(res.RiskScore)),
			Message:          res.Message,
			Confidence:       json.Number(predict.FormatScore(res.Confidence)),
			FeaturesAnalyzed: featuresAnalyzed,
		},
		Metadata: meta,
	})
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, http.StatusUnauthorized, msg, "authentication_error")
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: typ}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
