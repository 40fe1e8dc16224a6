package database

import (
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

// Schema contains the workflow engine tables. Reports keep one timestamp
// column per lifecycle stage; verifications are one-to-one with the
// active cleanup attempt; citizens is the per-device points ledger.
const Schema = `
CREATE TABLE IF NOT EXISTS reports (
    id VARCHAR(36) PRIMARY KEY,
    device_id VARCHAR(256) NOT NULL,
    latitude DOUBLE NOT NULL,
    longitude DOUBLE NOT NULL,
    accuracy DOUBLE NOT NULL DEFAULT 0,
    severity ENUM('low', 'medium', 'high') DEFAULT NULL,
    waste_types VARCHAR(512) DEFAULT NULL,
    description VARCHAR(512) DEFAULT NULL,
    photo_url VARCHAR(512) NOT NULL,
    status ENUM('open', 'assigned', 'in_progress', 'verified', 'resolved') NOT NULL DEFAULT 'open',
    assigned_worker_id VARCHAR(256) DEFAULT NULL,
    points_awarded INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    assigned_at TIMESTAMP NULL DEFAULT NULL,
    in_progress_at TIMESTAMP NULL DEFAULT NULL,
    verified_at TIMESTAMP NULL DEFAULT NULL,
    resolved_at TIMESTAMP NULL DEFAULT NULL,
    INDEX idx_device_created (device_id, created_at),
    INDEX idx_status (status),
    INDEX idx_worker_status (assigned_worker_id, status),
    INDEX idx_lat_lng (latitude, longitude)
);

CREATE TABLE IF NOT EXISTS verifications (
    id VARCHAR(36) PRIMARY KEY,
    report_id VARCHAR(36) NOT NULL,
    worker_id VARCHAR(256) NOT NULL,
    before_photo_url VARCHAR(512) NOT NULL,
    after_photo_url VARCHAR(512) DEFAULT NULL,
    worker_latitude DOUBLE NOT NULL,
    worker_longitude DOUBLE NOT NULL,
    started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at TIMESTAMP NULL DEFAULT NULL,
    time_spent_minutes INT NOT NULL DEFAULT 0,
    approval_status ENUM('pending', 'approved', 'rejected') NOT NULL DEFAULT 'pending',
    reject_reason VARCHAR(512) DEFAULT NULL,
    FOREIGN KEY (report_id) REFERENCES reports(id),
    INDEX idx_report_status (report_id, approval_status),
    INDEX idx_worker (worker_id)
);

CREATE TABLE IF NOT EXISTS citizens (
    device_id VARCHAR(256) PRIMARY KEY,
    total_points INT NOT NULL DEFAULT 0,
    reports_count INT NOT NULL DEFAULT 0,
    current_badge ENUM('rookie', 'scout', 'guardian', 'champion', 'legend') NOT NULL DEFAULT 'rookie',
    streak_days INT NOT NULL DEFAULT 0,
    last_submission_at TIMESTAMP NULL DEFAULT NULL,
    last_credit_at TIMESTAMP NULL DEFAULT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS points_reconciliation (
    report_id VARCHAR(36) PRIMARY KEY,
    device_id VARCHAR(256) NOT NULL,
    severity ENUM('low', 'medium', 'high') DEFAULT NULL,
    attempts INT NOT NULL DEFAULT 0,
    last_error VARCHAR(512) DEFAULT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS schema_migrations (
    version INT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Migration represents a database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Migrations list all database migrations
var Migrations = []Migration{}

// InitializeSchema creates the database schema and runs migrations
func InitializeSchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database schema initialized successfully")
	return nil
}

// RunMigrations applies all pending database migrations
func RunMigrations(db *sql.DB) error {
	rows, err := db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}
		log.Infof("Applying migration %d: %s", migration.Version, migration.Name)

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
