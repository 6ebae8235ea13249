package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/timzifer/drivelink/registers"
	"github.com/timzifer/drivelink/runtime/exchange"
)

type httpSurface struct {
	logger zerolog.Logger
	bridge *Bridge
}

type writeRequest struct {
	Value   *float64 `json:"value"`
	Default bool     `json:"default"`
}

type writeResponse struct {
	Address uint16 `json:"address"`
	Command string `json:"command"`
}

type telemetryResponse struct {
	Generation uint64        `json:"generation"`
	Rows       int           `json:"rows"`
	Width      int           `json:"width"`
	Latest     []ColumnValue `json:"latest"`
	Data       [][]int64     `json:"data,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newHandler(b *Bridge, logger zerolog.Logger) http.Handler {
	s := &httpSurface{logger: logger, bridge: b}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/registers", s.handleRegisters)
	mux.HandleFunc("POST /api/registers/{address}", s.handleWrite)
	mux.HandleFunc("POST /api/restore-defaults", s.handleRestoreDefaults)
	mux.HandleFunc("GET /api/telemetry", s.handleTelemetry)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if b.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(b.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *httpSurface) handleRegisters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Registers())
}

func (s *httpSurface) handleWrite(w http.ResponseWriter, r *http.Request) {
	address, err := strconv.ParseUint(r.PathValue("address"), 0, 16)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid register address"})
		return
	}
	defer r.Body.Close()
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request"})
		return
	}

	var cmd registers.Command
	switch {
	case req.Default:
		cmd, err = s.bridge.WriteDefault(uint16(address))
	case req.Value != nil:
		cmd, err = s.bridge.Write(uint16(address), *req.Value)
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "value required"})
		return
	}
	if err != nil {
		s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, writeResponse{Address: uint16(address), Command: string(cmd)})
}

func (s *httpSurface) handleRestoreDefaults(w http.ResponseWriter, r *http.Request) {
	if err := s.bridge.RestoreDefaults(); err != nil {
		s.writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, writeResponse{Command: string(registers.RestoreDefaults)})
}

func (s *httpSurface) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	snapshot := s.bridge.Telemetry()
	resp := telemetryResponse{
		Generation: snapshot.Generation,
		Rows:       snapshot.Len(),
		Width:      snapshot.Width(),
		Latest:     s.bridge.Columns(snapshot),
	}
	if full, _ := strconv.ParseBool(r.URL.Query().Get("rows")); full {
		resp.Data = snapshot.Rows()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *httpSurface) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *httpSurface) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, registers.ErrUnknownAddress):
		return http.StatusNotFound
	case errors.Is(err, registers.ErrNotWritable):
		return http.StatusForbidden
	case errors.Is(err, registers.ErrOutOfRange), errors.Is(err, registers.ErrNotRepresentable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
