package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/yegors/arrival-watch/pkg/logger"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so created_at sorts correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Open opens (creating if needed) the SQLite database at path
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer is all this process ever needs
	db.SetMaxOpenConns(1)
	return db, nil
}

// NotificationStorage keeps the history of sent notifications
type NotificationStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewNotificationStorage creates the storage and its schema
func NewNotificationStorage(db *sql.DB, logger *logger.Logger) (*NotificationStorage, error) {
	storage := &NotificationStorage{
		db:     db,
		logger: logger.Named("sqlite-notify"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}
	return storage, nil
}

func (s *NotificationStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id TEXT PRIMARY KEY,
			registration TEXT NOT NULL,
			callsign TEXT,
			flight_number TEXT,
			owner TEXT,
			target TEXT NOT NULL,
			degraded INTEGER NOT NULL DEFAULT 0,
			committed INTEGER NOT NULL DEFAULT 0,
			delivered INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			message TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_notifications_registration ON notifications(registration)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create notification index: %w", err)
		}
	}
	return nil
}

// StoreNotification inserts a record, assigning an ID and timestamp when missing
func (s *NotificationStorage) StoreNotification(ctx context.Context, record *NotificationRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications
		(id, registration, callsign, flight_number, owner, target, degraded, committed, delivered, error, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Registration,
		record.Callsign,
		record.FlightNumber,
		record.Owner,
		record.Target,
		record.Degraded,
		record.Committed,
		record.Delivered,
		record.Error,
		record.Message,
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	s.logger.Debug("Notification stored",
		logger.String("id", record.ID),
		logger.String("registration", record.Registration),
	)
	return nil
}

// GetRecentNotifications returns the newest notifications first
func (s *NotificationStorage) GetRecentNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, registration, callsign, flight_number, owner, target, degraded, committed, delivered, error, message, created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent notifications: %w", err)
	}
	defer rows.Close()

	return s.scanNotificationRows(rows)
}

// GetNotificationsByRegistration returns the history of one aircraft
func (s *NotificationStorage) GetNotificationsByRegistration(ctx context.Context, registration string, limit int) ([]*NotificationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, registration, callsign, flight_number, owner, target, degraded, committed, delivered, error, message, created_at
		FROM notifications
		WHERE registration = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		registration, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications by registration: %w", err)
	}
	defer rows.Close()

	return s.scanNotificationRows(rows)
}

func (s *NotificationStorage) scanNotificationRows(rows *sql.Rows) ([]*NotificationRecord, error) {
	records := []*NotificationRecord{}
	for rows.Next() {
		var record NotificationRecord
		var callsign, flightNumber, owner, errText sql.NullString
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.Registration,
			&callsign,
			&flightNumber,
			&owner,
			&record.Target,
			&record.Degraded,
			&record.Committed,
			&record.Delivered,
			&errText,
			&record.Message,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		record.Callsign = callsign.String
		record.FlightNumber = flightNumber.String
		record.Owner = owner.String
		record.Error = errText.String

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return records, nil
}
