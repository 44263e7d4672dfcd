// Package api exposes the scan driver and scan database over HTTP JSON.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/aerobeam/flyscan/internal/filterbank"
	"github.com/aerobeam/flyscan/internal/httputil"
	"github.com/aerobeam/flyscan/internal/profile"
	"github.com/aerobeam/flyscan/internal/scandb"
	"github.com/aerobeam/flyscan/internal/serialmux"
)

// ScanDriver is the subset of the scan driver the API needs.
type ScanDriver interface {
	StartScan(params profile.ScanParameters) (string, error)
	LiveState(scanID string) (string, bool)
	AbortScan(scanID string) error
}

type Server struct {
	m      serialmux.SerialMuxInterface
	db     *scandb.DB
	driver ScanDriver
	// allowCommand guards the raw command passthrough.
	allowCommand func(string) bool
	// filters is nil when the beamline has no filter bank configured.
	filters *filterbank.Controller
}

func NewServer(m serialmux.SerialMuxInterface, db *scandb.DB, driver ScanDriver, allowCommand func(string) bool) *Server {
	return &Server{
		m:            m,
		db:           db,
		driver:       driver,
		allowCommand: allowCommand,
	}
}

// WithFilterBank exposes the filter and shutter routes for the given bank.
func (s *Server) WithFilterBank(filters *filterbank.Controller) *Server {
	s.filters = filters
	return s
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	// Handle the home page
	w.Write([]byte("Welcome to the Fly Scan Server!"))
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /scan", s.startScanHandler)
	mux.HandleFunc("GET /scans", s.listScansHandler)
	mux.HandleFunc("GET /scan/{id}", s.getScanHandler)
	mux.HandleFunc("GET /scan/{id}/points", s.scanPointsHandler)
	mux.HandleFunc("POST /scan/{id}/abort", s.abortScanHandler)
	mux.HandleFunc("POST /command", s.sendCommandHandler)
	mux.HandleFunc("GET /filters", s.filterStatusHandler)
	mux.HandleFunc("POST /filter/{slot}/{action}", s.filterActionHandler)
	mux.HandleFunc("POST /shutter/{action}", s.shutterHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

// ScanRequest is the POST /scan body.
type ScanRequest struct {
	StartPosition     float64 `json:"start_position"`
	EndPosition       float64 `json:"end_position"`
	StepSize          float64 `json:"step_size"`
	DwellTime         float64 `json:"dwell_time"`
	AccelTime         float64 `json:"accel_time"`
	EncoderResolution float64 `json:"encoder_resolution"`
	MotorUnit         string  `json:"motor_unit,omitempty"`
}

// ScanResponse carries the persisted record plus the live phase while the
// scan is still running.
type ScanResponse struct {
	scandb.ScanRecord
	LiveState string `json:"live_state,omitempty"`
}

func (s *Server) startScanHandler(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	id, err := s.driver.StartScan(profile.ScanParameters{
		StartPosition:     req.StartPosition,
		EndPosition:       req.EndPosition,
		StepSize:          req.StepSize,
		DwellTime:         req.DwellTime,
		AccelTime:         req.AccelTime,
		EncoderResolution: req.EncoderResolution,
		MotorUnit:         req.MotorUnit,
	})
	if err != nil {
		if errors.Is(err, profile.ErrInvalidScanParameters) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.Conflict(w, err.Error())
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"scan_id": id})
}

func (s *Server) listScansHandler(w http.ResponseWriter, r *http.Request) {
	scans, err := s.db.ListScans(50)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list scans: %v", err))
		return
	}
	if scans == nil {
		scans = []scandb.ScanRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, scans)
}

func (s *Server) getScanHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.db.GetScan(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "scan not found")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load scan: %v", err))
		return
	}

	resp := ScanResponse{ScanRecord: rec}
	if state, ok := s.driver.LiveState(id); ok {
		resp.LiveState = state
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) scanPointsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.db.GetScan(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			httputil.NotFound(w, "scan not found")
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to load scan: %v", err))
		return
	}

	points, err := s.db.ScanPoints(id)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load points: %v", err))
		return
	}
	if points == nil {
		points = []scandb.Point{}
	}
	httputil.WriteJSON(w, http.StatusOK, points)
}

func (s *Server) abortScanHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.driver.AbortScan(id); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"scan_id": id, "state": "aborting"})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	command := r.FormValue("command")

	if s.allowCommand == nil || !s.allowCommand(command) {
		httputil.BadRequest(w, "invalid command")
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	io.WriteString(w, "Command sent successfully")
}

func (s *Server) filterStatusHandler(w http.ResponseWriter, r *http.Request) {
	if s.filters == nil {
		httputil.NotFound(w, "no filter bank configured")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.filters.Status())
}

func (s *Server) filterActionHandler(w http.ResponseWriter, r *http.Request) {
	if s.filters == nil {
		httputil.NotFound(w, "no filter bank configured")
		return
	}
	slot, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil {
		httputil.BadRequest(w, "slot must be a number")
		return
	}
	switch r.PathValue("action") {
	case "insert":
		err = s.filters.InsertFilter(slot)
	case "remove":
		err = s.filters.RemoveFilter(slot)
	default:
		httputil.NotFound(w, "unknown filter action")
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.filters.Status())
}

func (s *Server) shutterHandler(w http.ResponseWriter, r *http.Request) {
	if s.filters == nil {
		httputil.NotFound(w, "no filter bank configured")
		return
	}
	var err error
	switch r.PathValue("action") {
	case "open":
		err = s.filters.OpenShutter()
	case "close":
		err = s.filters.CloseShutter()
	default:
		httputil.NotFound(w, "unknown shutter action")
		return
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.filters.Status())
}
