package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/user/circuitdiag/internal/model"
)

// ErrNotFound is returned when a stored diagnosis does not exist.
var ErrNotFound = errors.New("not found")

// DiagnosisStorage handles diagnosis persistence.
type DiagnosisStorage struct {
	db *DB
}

// NewDiagnosisStorage creates a new diagnosis storage handler.
func NewDiagnosisStorage(db *DB) *DiagnosisStorage {
	return &DiagnosisStorage{db: db}
}

// Save stores a diagnosis with its evidence and sets d.ID.
func (s *DiagnosisStorage) Save(d *model.Diagnosis) error {
	availability, err := json.Marshal(d.Availability)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}
	lossEvents, err := json.Marshal(d.LossEvents)
	if err != nil {
		return fmt.Errorf("failed to encode loss events: %w", err)
	}
	probes, err := json.Marshal(d.Probes)
	if err != nil {
		return fmt.Errorf("failed to encode probes: %w", err)
	}

	return s.db.WithLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		result, err := tx.Exec(
			`INSERT INTO diagnoses (service_id, status, responsibility, issue_type, reason, message,
			 max_loss, lookback_hours, availability, loss_events, probes, evaluated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ServiceID, d.Status, d.Responsibility, d.IssueType, d.Reason, d.Message,
			d.MaxLossPercent, d.LookbackHours, string(availability), string(lossEvents), string(probes),
			d.EvaluatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert diagnosis: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get diagnosis ID: %w", err)
		}

		stmt, err := tx.Prepare(
			`INSERT INTO evidence (diagnosis_id, seq, device, stage, outcome, raw, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare evidence statement: %w", err)
		}
		defer stmt.Close()

		for i, e := range d.Evidence {
			if _, err := stmt.Exec(id, i, e.Device, e.Stage, e.Outcome, e.Raw, e.Err); err != nil {
				return fmt.Errorf("failed to insert evidence %d: %w", i, err)
			}
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		d.ID = id
		return nil
	})
}

const diagnosisColumns = `id, service_id, status, responsibility, issue_type, reason, message,
	max_loss, lookback_hours, availability, loss_events, probes, evaluated_at`

// Get returns a diagnosis by ID with its evidence.
func (s *DiagnosisStorage) Get(id int64) (*model.Diagnosis, error) {
	row := s.db.QueryRow(`SELECT `+diagnosisColumns+` FROM diagnoses WHERE id = ?`, id)
	d, err := scanDiagnosis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("diagnosis %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get diagnosis: %w", err)
	}

	if d.Evidence, err = s.evidence(d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// Latest returns the most recent diagnosis of a service, or nil.
func (s *DiagnosisStorage) Latest(serviceID string) (*model.Diagnosis, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM diagnoses WHERE service_id = ? ORDER BY evaluated_at DESC, id DESC LIMIT 1`,
		serviceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest diagnosis: %w", err)
	}
	return s.Get(id)
}

// List returns diagnoses without evidence, newest first. An empty
// serviceID lists every service.
func (s *DiagnosisStorage) List(serviceID string, since time.Time, limit int) ([]model.Diagnosis, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + diagnosisColumns + ` FROM diagnoses
			  WHERE evaluated_at >= ? AND (? = '' OR service_id = ?)
			  ORDER BY evaluated_at DESC, id DESC LIMIT ?`

	rows, err := s.db.Query(query, since.UTC(), serviceID, serviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnoses: %w", err)
	}
	defer rows.Close()

	var out []model.Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diagnosis: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Services returns the distinct diagnosed service IDs.
func (s *DiagnosisStorage) Services() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT service_id FROM diagnoses ORDER BY service_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		services = append(services, id)
	}
	return services, rows.Err()
}

// Prune deletes diagnoses evaluated before cutoff.
func (s *DiagnosisStorage) Prune(cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.WithLock(func() error {
		result, err := s.db.Exec("DELETE FROM diagnoses WHERE evaluated_at < ?", cutoff.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune diagnoses: %w", err)
		}
		n, err = result.RowsAffected()
		return err
	})
	return n, err
}

func (s *DiagnosisStorage) evidence(diagnosisID int64) ([]model.EvidenceRecord, error) {
	rows, err := s.db.Query(
		`SELECT device, stage, outcome, raw, error FROM evidence WHERE diagnosis_id = ? ORDER BY seq`,
		diagnosisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var records []model.EvidenceRecord
	for rows.Next() {
		var (
			e                         model.EvidenceRecord
			device, outcome, raw, msg sql.NullString
		)
		if err := rows.Scan(&device, &e.Stage, &outcome, &raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		e.Device, e.Outcome, e.Raw, e.Err = device.String, outcome.String, raw.String, msg.String
		records = append(records, e)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDiagnosis(row rowScanner) (*model.Diagnosis, error) {
	var (
		d                                    model.Diagnosis
		reason, message                      sql.NullString
		availability, lossEvents, probesJSON sql.NullString
	)
	err := row.Scan(&d.ID, &d.ServiceID, &d.Status, &d.Responsibility, &d.IssueType, &reason, &message,
		&d.MaxLossPercent, &d.LookbackHours, &availability, &lossEvents, &probesJSON, &d.EvaluatedAt)
	if err != nil {
		return nil, err
	}
	d.Reason, d.Message = reason.String, message.String

	if availability.Valid && availability.String != "" {
		if err := json.Unmarshal([]byte(availability.String), &d.Availability); err != nil {
			return nil, fmt.Errorf("corrupt availability for diagnosis %d: %w", d.ID, err)
		}
	}
	if lossEvents.Valid && lossEvents.String != "" {
		if err := json.Unmarshal([]byte(lossEvents.String), &d.LossEvents); err != nil {
			return nil, fmt.Errorf("corrupt loss events for diagnosis %d: %w", d.ID, err)
		}
	}
	if probesJSON.Valid && probesJSON.String != "" {
		if err := json.Unmarshal([]byte(probesJSON.String), &d.Probes); err != nil {
			return nil, fmt.Errorf("corrupt probes for diagnosis %d: %w", d.ID, err)
		}
	}
	return &d, nil
}
