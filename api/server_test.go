package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aerobeam/flyscan/internal/filterbank"
	"github.com/aerobeam/flyscan/internal/profile"
	"github.com/aerobeam/flyscan/internal/scandb"
	"github.com/aerobeam/flyscan/internal/serialmux"
)

// fakeDriver implements ScanDriver for handler tests.
type fakeDriver struct {
	startErr  error
	started   []profile.ScanParameters
	liveState map[string]string
	aborted   []string
}

func (f *fakeDriver) StartScan(params profile.ScanParameters) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, params)
	return "scan-1", nil
}

func (f *fakeDriver) LiveState(scanID string) (string, bool) {
	state, ok := f.liveState[scanID]
	return state, ok
}

func (f *fakeDriver) AbortScan(scanID string) error {
	if _, ok := f.liveState[scanID]; !ok {
		return fmt.Errorf("unknown scan %s", scanID)
	}
	f.aborted = append(f.aborted, scanID)
	return nil
}

func newTestServer(t *testing.T, driver *fakeDriver) (*Server, *scandb.DB) {
	t.Helper()
	db, err := scandb.Open(filepath.Join(t.TempDir(), "scans.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	allow := func(cmd string) bool { return strings.HasPrefix(cmd, "PSOCONTROL ") }
	return NewServer(serialmux.NewDisabledSerialMux(), db, driver, allow), db
}

func TestStartScan(t *testing.T) {
	driver := &fakeDriver{}
	s, _ := newTestServer(t, driver)

	body := `{"start_position": 20, "end_position": 20.1, "step_size": 0.001,
		"dwell_time": 0.001, "accel_time": 0.5, "encoder_resolution": 5e-6}`
	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp["scan_id"] != "scan-1" {
		t.Errorf("scan_id = %q, want scan-1", resp["scan_id"])
	}
	if len(driver.started) != 1 || driver.started[0].StartPosition != 20 {
		t.Errorf("driver received %+v", driver.started)
	}
}

func TestStartScanInvalidBody(t *testing.T) {
	s, _ := newTestServer(t, &fakeDriver{})

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartScanInvalidParameters(t *testing.T) {
	driver := &fakeDriver{startErr: fmt.Errorf("%w: step size must be positive", profile.ErrInvalidScanParameters)}
	s, _ := newTestServer(t, driver)

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartScanBusyAxis(t *testing.T) {
	driver := &fakeDriver{startErr: fmt.Errorf("axis busy with another scan")}
	s, _ := newTestServer(t, driver)

	req := httptest.NewRequest(http.MethodPost, "/scan", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

func TestListScans(t *testing.T) {
	s, db := newTestServer(t, &fakeDriver{})

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty database should list [], got %s", rec.Body.String())
	}

	if err := db.RecordScan(scandb.ScanRecord{ScanID: "scan-1", Axis: "@0", MotorUnit: "micron", State: "done"}); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	rec = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scans", nil))
	var scans []scandb.ScanRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &scans); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(scans) != 1 || scans[0].ScanID != "scan-1" {
		t.Errorf("unexpected scans %+v", scans)
	}
}

func TestGetScan(t *testing.T) {
	driver := &fakeDriver{liveState: map[string]string{"scan-1": "flying"}}
	s, db := newTestServer(t, driver)

	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/scan-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing scan status = %d, want 404", rec.Code)
	}

	if err := db.RecordScan(scandb.ScanRecord{ScanID: "scan-1", Axis: "@0", MotorUnit: "micron", State: "flying"}); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	rec = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/scan-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.ScanID != "scan-1" || resp.LiveState != "flying" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestScanPoints(t *testing.T) {
	s, db := newTestServer(t, &fakeDriver{})

	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/scan-1/points", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing scan status = %d, want 404", rec.Code)
	}

	if err := db.RecordScan(scandb.ScanRecord{ScanID: "scan-1", Axis: "@0", MotorUnit: "micron", State: "done"}); err != nil {
		t.Fatalf("RecordScan failed: %v", err)
	}
	if err := db.RecordPoints("scan-1", []scandb.Point{
		{Index: 0, Position: 20.0, Setpoint: 20.0, Timestamp: 1.125},
		{Index: 1, Position: 20.001, Setpoint: 20.001, Timestamp: 2.125},
	}); err != nil {
		t.Fatalf("RecordPoints failed: %v", err)
	}

	rec = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan/scan-1/points", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var points []scandb.Point
	if err := json.Unmarshal(rec.Body.Bytes(), &points); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(points) != 2 {
		t.Errorf("expected 2 points, got %d", len(points))
	}
}

func TestAbortScan(t *testing.T) {
	driver := &fakeDriver{liveState: map[string]string{"scan-1": "flying"}}
	s, _ := newTestServer(t, driver)

	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan/scan-1/abort", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(driver.aborted) != 1 || driver.aborted[0] != "scan-1" {
		t.Errorf("driver aborted %v", driver.aborted)
	}

	rec = httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/scan/missing/abort", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSendCommand(t *testing.T) {
	s, _ := newTestServer(t, &fakeDriver{})

	send := func(command string) *httptest.ResponseRecorder {
		form := strings.NewReader("command=" + command)
		req := httptest.NewRequest(http.MethodPost, "/command", form)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		s.ServeMux().ServeHTTP(rec, req)
		return rec
	}

	if rec := send("PSOCONTROL @0 OFF"); rec.Code != http.StatusOK {
		t.Errorf("allowed command status = %d, want 200", rec.Code)
	}
	if rec := send("PROGRAM RUN 1 evil.bcx"); rec.Code != http.StatusBadRequest {
		t.Errorf("denied command status = %d, want 400", rec.Code)
	}
}

func TestFilterRoutesWithoutBank(t *testing.T) {
	s, _ := newTestServer(t, &fakeDriver{})

	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/filters", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestFilterRoutes(t *testing.T) {
	s, _ := newTestServer(t, &fakeDriver{})
	bank, err := filterbank.NewBank([]filterbank.Slot{
		{Number: 1, Role: filterbank.RoleFilter, Material: "Al"},
		{Number: 3, Role: filterbank.RoleShutterTop},
		{Number: 4, Role: filterbank.RoleShutterBottom},
	})
	if err != nil {
		t.Fatalf("failed to build bank: %v", err)
	}
	s.WithFilterBank(filterbank.NewController(bank, nil))
	mux := s.ServeMux()

	post := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		return rec
	}

	if rec := post("/filter/1/insert"); rec.Code != http.StatusOK {
		t.Fatalf("insert status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := post("/shutter/close"); rec.Code != http.StatusOK {
		t.Fatalf("shutter close status = %d: %s", rec.Code, rec.Body.String())
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/filters", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status filterbank.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.ShutterState != "closed" {
		t.Errorf("shutter_state = %q, want closed", status.ShutterState)
	}
	if len(status.Slots) != 3 || !status.Slots[0].Inserted {
		t.Errorf("slots = %+v", status.Slots)
	}

	// shutter blades are rejected as filter slots
	if rec := post("/filter/3/insert"); rec.Code != http.StatusBadRequest {
		t.Errorf("blade insert status = %d, want 400", rec.Code)
	}
	if rec := post("/filter/x/insert"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad slot status = %d, want 400", rec.Code)
	}
}
