// Package scandb persists completed fly scans and their collected data
// points to sqlite.
package scandb

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the scan database at path and applies
// any pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate scan database: %w", err)
	}
	return db, nil
}

// ScanRecord is one row of the scans table.
type ScanRecord struct {
	ScanID        string  `json:"scan_id"`
	Axis          string  `json:"axis"`
	MotorUnit     string  `json:"motor_unit"`
	StartPosition float64 `json:"start_position"`
	EndPosition   float64 `json:"end_position"`
	StepSize      float64 `json:"step_size"`
	DwellTime     float64 `json:"dwell_time"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	State         string  `json:"state"`
}

// Point is one collected data point of a scan.
type Point struct {
	Index     int     `json:"idx"`
	Position  float64 `json:"position"`
	Setpoint  float64 `json:"setpoint"`
	Timestamp float64 `json:"timestamp"`
}

// RecordScan inserts or updates the record for a scan. Scans are recorded
// at kickoff and updated when they finish, so the upsert keys on scan_id.
func (db *DB) RecordScan(rec ScanRecord) error {
	_, err := db.Exec(
		`INSERT INTO scans (
			scan_id, axis, motor_unit, start_position, end_position,
			step_size, dwell_time, start_time, end_time, state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			state = excluded.state`,
		rec.ScanID, rec.Axis, rec.MotorUnit, rec.StartPosition, rec.EndPosition,
		rec.StepSize, rec.DwellTime, rec.StartTime, rec.EndTime, rec.State,
	)
	if err != nil {
		return fmt.Errorf("failed to record scan %s: %w", rec.ScanID, err)
	}
	return nil
}

// RecordPoints inserts the collected points for a scan in one transaction.
func (db *DB) RecordPoints(scanID string, points []Point) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO scan_points (scan_id, idx, position, setpoint, timestamp)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.Exec(scanID, p.Index, p.Position, p.Setpoint, p.Timestamp); err != nil {
			return fmt.Errorf("failed to record point %d of scan %s: %w", p.Index, scanID, err)
		}
	}
	return tx.Commit()
}

// ListScans returns the most recent scans, newest first, up to limit.
func (db *DB) ListScans(limit int) ([]ScanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT scan_id, axis, motor_unit, start_position, end_position,
			step_size, dwell_time,
			COALESCE(start_time, 0), COALESCE(end_time, 0), state
		 FROM scans ORDER BY created_at DESC, scan_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []ScanRecord
	for rows.Next() {
		var rec ScanRecord
		if err := rows.Scan(&rec.ScanID, &rec.Axis, &rec.MotorUnit,
			&rec.StartPosition, &rec.EndPosition, &rec.StepSize, &rec.DwellTime,
			&rec.StartTime, &rec.EndTime, &rec.State); err != nil {
			return nil, err
		}
		scans = append(scans, rec)
	}
	return scans, rows.Err()
}

// GetScan returns the record for a single scan.
func (db *DB) GetScan(scanID string) (ScanRecord, error) {
	var rec ScanRecord
	err := db.QueryRow(
		`SELECT scan_id, axis, motor_unit, start_position, end_position,
			step_size, dwell_time,
			COALESCE(start_time, 0), COALESCE(end_time, 0), state
		 FROM scans WHERE scan_id = ?`, scanID).Scan(
		&rec.ScanID, &rec.Axis, &rec.MotorUnit,
		&rec.StartPosition, &rec.EndPosition, &rec.StepSize, &rec.DwellTime,
		&rec.StartTime, &rec.EndTime, &rec.State)
	if err != nil {
		return ScanRecord{}, err
	}
	return rec, nil
}

// ScanPoints returns the collected points of a scan in index order.
func (db *DB) ScanPoints(scanID string) ([]Point, error) {
	rows, err := db.Query(
		`SELECT idx, position, setpoint, timestamp
		 FROM scan_points WHERE scan_id = ? ORDER BY idx`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Index, &p.Position, &p.Setpoint, &p.Timestamp); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://scans.db", db.DB, &tailsql.DBOptions{
		Label: "Scan DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
