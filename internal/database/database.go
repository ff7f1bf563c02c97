// Package database persists detection events and the detection config in
// SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"roiwatch/internal/config"
)

// DetectionConfigKey is the app_config key holding the detection config.
const DetectionConfigKey = "detection"

// Database handles SQLite database operations
type Database struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// DetectionEventRecord is a stored detection event.
type DetectionEventRecord struct {
	ID        string    `json:"id"`
	ROIID     int       `json:"roi_id"`
	Timestamp time.Time `json:"timestamp"`
	Area      int       `json:"area"`
	Blobs     int       `json:"blobs"`
	FrameSeq  uint64    `json:"frame_seq"`
}

// New opens the database at dbPath, creating its directory when needed.
// Call Migrate before use.
func New(dbPath string, logger *zap.SugaredLogger) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{db: db, path: dbPath, logger: logger.Named("db")}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks that the database answers.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SaveConfig saves a configuration value
func (d *Database) SaveConfig(key, value string) error {
	query := `INSERT INTO app_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`

	_, err := d.db.Exec(query, key, value)
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfig retrieves a configuration value. A missing key yields "".
func (d *Database) GetConfig(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config: %w", err)
	}
	return value, nil
}

// SaveDetectionConfig stores cfg under DetectionConfigKey.
func (d *Database) SaveDetectionConfig(cfg config.Detection) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal detection config: %w", err)
	}
	return d.SaveConfig(DetectionConfigKey, string(data))
}

// LoadDetectionConfig returns the stored detection config, if any. The value
// is not validated here; callers pass it through config.Store.
func (d *Database) LoadDetectionConfig() (config.Detection, bool, error) {
	value, err := d.GetConfig(DetectionConfigKey)
	if err != nil || value == "" {
		return config.Detection{}, false, err
	}
	var cfg config.Detection
	if err := json.Unmarshal([]byte(value), &cfg); err != nil {
		return config.Detection{}, false, fmt.Errorf("failed to unmarshal detection config: %w", err)
	}
	return cfg, true, nil
}

// SaveDetectionEvent stores an event. Saving the same id twice is a no-op.
func (d *Database) SaveDetectionEvent(event *DetectionEventRecord) error {
	query := `INSERT INTO detection_events (id, roi_id, timestamp, area, blobs, frame_seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	_, err := d.db.Exec(query, event.ID, event.ROIID, event.Timestamp.UTC(), event.Area, event.Blobs, int64(event.FrameSeq))
	if err != nil {
		return fmt.Errorf("failed to save detection event: %w", err)
	}
	return nil
}

// ListDetectionEvents returns events newest first. roiID zero matches every
// ROI; a nil since matches any time; limit zero means no limit.
func (d *Database) ListDetectionEvents(roiID int, since *time.Time, limit int) ([]*DetectionEventRecord, error) {
	query := `SELECT id, roi_id, timestamp, area, blobs, frame_seq FROM detection_events WHERE 1=1`
	args := []any{}

	if roiID != 0 {
		query += " AND roi_id = ?"
		args = append(args, roiID)
	}
	if since != nil {
		query += " AND timestamp >= ?"
		args = append(args, since.UTC())
	}

	query += " ORDER BY timestamp DESC, frame_seq DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list detection events: %w", err)
	}
	defer rows.Close()

	events := []*DetectionEventRecord{}
	for rows.Next() {
		var event DetectionEventRecord
		var seq int64
		if err := rows.Scan(&event.ID, &event.ROIID, &event.Timestamp, &event.Area, &event.Blobs, &seq); err != nil {
			return nil, fmt.Errorf("failed to scan detection event: %w", err)
		}
		event.FrameSeq = uint64(seq)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list detection events: %w", err)
	}
	return events, nil
}

// DeleteOldDetectionEvents deletes events older than before.
func (d *Database) DeleteOldDetectionEvents(before time.Time) (int64, error) {
	result, err := d.db.Exec("DELETE FROM detection_events WHERE timestamp < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old detection events: %w", err)
	}
	return result.RowsAffected()
}
