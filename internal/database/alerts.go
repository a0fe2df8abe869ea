package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// AlertStore is a persistent set of active alerts keyed by (eui, issue).
// The device and gateway stores are two instances over separate tables.
type AlertStore struct {
	db    *DB
	table string
}

// NewDeviceAlertStore returns the store holding device alerts
func NewDeviceAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db, table: DeviceAlertsTable}
}

// NewGatewayAlertStore returns the store holding gateway alerts
func NewGatewayAlertStore(db *DB) *AlertStore {
	return &AlertStore{db: db, table: GatewayAlertsTable}
}

// Upsert creates the alert for (eui, issue) or, when one exists, replaces its
// message. Name and severity of an existing alert are left untouched.
func (s *AlertStore) Upsert(ctx context.Context, name, eui, issue, message, severity string) (UpsertResult, error) {
	// prev is evaluated against the statement snapshot, i.e. before the write.
	query := fmt.Sprintf(`
		WITH prev AS (
			SELECT message FROM %[1]s WHERE eui = $3 AND issue = $4
		)
		INSERT INTO %[1]s (uid, name, eui, issue, message, severity)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (eui, issue) DO UPDATE
		SET message = EXCLUDED.message,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING uid, (xmax = 0) AS created, COALESCE((SELECT message FROM prev), '') AS previous
	`, s.table)

	var result UpsertResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var previous string
		if err := tx.QueryRowContext(ctx, query,
			uuid.NewString(), name, eui, issue, message, severity,
		).Scan(&result.AlertID, &result.Created, &previous); err != nil {
			return err
		}
		result.Changed = result.Created || previous != message
		return nil
	})
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to upsert alert in %s: %w", s.table, err)
	}
	return result, nil
}

// Clear deletes the alert for (eui, issue). Clearing a missing alert is a no-op.
func (s *AlertStore) Clear(ctx context.Context, eui, issue string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE eui = $1 AND issue = $2`, s.table)

	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, eui, issue)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to clear alert in %s: %w", s.table, err)
	}
	return deleted, nil
}

// Exists reports whether an alert is active for (eui, issue)
func (s *AlertStore) Exists(ctx context.Context, eui, issue string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE eui = $1 AND issue = $2)`, s.table)

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, eui, issue).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check alert in %s: %w", s.table, err)
	}
	return exists, nil
}

// ListAll returns every active alert in the store
func (s *AlertStore) ListAll(ctx context.Context) ([]Alert, error) {
	query := fmt.Sprintf(`
		SELECT uid, name, eui, issue, message, severity, created_at, updated_at
		FROM %s
		ORDER BY created_at
	`, s.table)
	return s.queryAlerts(ctx, query)
}

// ListForEntity returns the active alerts of one device or gateway
func (s *AlertStore) ListForEntity(ctx context.Context, eui string) ([]Alert, error) {
	query := fmt.Sprintf(`
		SELECT uid, name, eui, issue, message, severity, created_at, updated_at
		FROM %s
		WHERE eui = $1
		ORDER BY created_at
	`, s.table)
	return s.queryAlerts(ctx, query, eui)
}

// DeleteByID removes an alert by its external identifier
func (s *AlertStore) DeleteByID(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE uid = $1`, s.table)

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete alert from %s: %w", s.table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *AlertStore) queryAlerts(ctx context.Context, query string, args ...any) ([]Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts from %s: %w", s.table, err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var a Alert
		if err := rows.Scan(
			&a.ID,
			&a.Name,
			&a.EUI,
			&a.Issue,
			&a.Message,
			&a.Severity,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func (s *AlertStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
