package db

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"snore-detection/models"
	"snore-detection/utils"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Busy timeout in milliseconds
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

func createTables(db *sql.DB) error {
	createDetectionsTable := `
    CREATE TABLE IF NOT EXISTS detections (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        timestamp DATETIME NOT NULL,
        probability REAL NOT NULL,
        is_snoring INTEGER NOT NULL DEFAULT 0,
        threshold REAL NOT NULL,
        window_seconds REAL NOT NULL,
        samples INTEGER NOT NULL,
        rms REAL NOT NULL DEFAULT 0,
        snr_db REAL NOT NULL DEFAULT 0,
        latency_ms REAL NOT NULL DEFAULT 0,
        recording_path TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp);
    `

	if _, err := db.Exec(createDetectionsTable); err != nil {
		return fmt.Errorf("error creating detections table: %s", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreDetection inserts detection and sets its ID.
func (db *SQLiteClient) StoreDetection(detection *models.Detection) error {
	if detection.Timestamp.IsZero() {
		detection.Timestamp = time.Now()
	}

	isSnoringInt := 0
	if detection.IsSnoring {
		isSnoringInt = 1
	}

	var recordingPath *string
	if detection.RecordingPath != "" {
		recordingPath = &detection.RecordingPath
	}

	res, err := db.db.Exec(`
		INSERT INTO detections (
			timestamp, probability, is_snoring, threshold, window_seconds,
			samples, rms, snr_db, latency_ms, recording_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		detection.Timestamp.UTC(),
		detection.Probability,
		isSnoringInt,
		detection.Threshold,
		detection.WindowSeconds,
		detection.Samples,
		detection.RMS,
		detection.SNRDb,
		detection.LatencyMs,
		recordingPath,
	)
	if err != nil {
		return fmt.Errorf("error storing detection: %s", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		detection.ID = id
	}
	return nil
}

const detectionColumns = `id, timestamp, probability, is_snoring, threshold, window_seconds,
       samples, rms, snr_db, latency_ms, recording_path`

// RecentDetections returns up to limit detections, newest first.
func (db *SQLiteClient) RecentDetections(limit int) ([]models.Detection, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.db.Query(`SELECT `+detectionColumns+`
		FROM detections
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying detections: %s", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

// DetectionsSince returns detections at or after since, oldest first.
func (db *SQLiteClient) DetectionsSince(since time.Time) ([]models.Detection, error) {
	rows, err := db.db.Query(`SELECT `+detectionColumns+`
		FROM detections
		WHERE timestamp >= ?
		ORDER BY timestamp ASC, id ASC`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("error querying detections since %s: %s", since.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

func scanDetections(rows *sql.Rows) ([]models.Detection, error) {
	var detections []models.Detection
	for rows.Next() {
		var d models.Detection
		var isSnoringInt int
		var recordingPath sql.NullString

		err := rows.Scan(
			&d.ID,
			&d.Timestamp,
			&d.Probability,
			&isSnoringInt,
			&d.Threshold,
			&d.WindowSeconds,
			&d.Samples,
			&d.RMS,
			&d.SNRDb,
			&d.LatencyMs,
			&recordingPath,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning detection: %s", err)
		}

		d.IsSnoring = isSnoringInt == 1
		d.RecordingPath = recordingPath.String
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating detections: %s", err)
	}
	return detections, nil
}
