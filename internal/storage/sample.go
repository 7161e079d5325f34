package storage

import (
	"fmt"
	"time"

	"github.com/user/circuitdiag/internal/history"
	"github.com/user/circuitdiag/internal/model"
)

// SampleStorage handles recorded history series.
type SampleStorage struct {
	db *DB
}

// NewSampleStorage creates a new sample storage handler.
func NewSampleStorage(db *DB) *SampleStorage {
	return &SampleStorage{db: db}
}

// SaveSamples stores samples for key. Samples already recorded at the
// same timestamp are replaced.
func (s *SampleStorage) SaveSamples(key history.MetricKey, samples []model.Sample) error {
	return s.db.WithLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(
			`INSERT OR REPLACE INTO samples (host, metric, timestamp, value) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare sample statement: %w", err)
		}
		defer stmt.Close()

		for _, sample := range samples {
			if _, err := stmt.Exec(key.Host, string(key.Metric), sample.Timestamp.UTC(), sample.Value); err != nil {
				return fmt.Errorf("failed to insert sample: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Samples returns the samples of key in [from, to], oldest first.
func (s *SampleStorage) Samples(key history.MetricKey, from, to time.Time) ([]model.Sample, error) {
	query := `SELECT timestamp, value FROM samples
			  WHERE host = ? AND metric = ? AND timestamp >= ? AND timestamp <= ?
			  ORDER BY timestamp ASC`

	rows, err := s.db.Query(query, key.Host, string(key.Metric), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []model.Sample
	for rows.Next() {
		var sample model.Sample
		if err := rows.Scan(&sample.Timestamp, &sample.Value); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, rows.Err()
}

// HasHost reports whether any sample was recorded for host.
func (s *SampleStorage) HasHost(host string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM samples WHERE host = ?", host).Scan(&count)
	return count > 0, err
}

// Count returns the number of samples recorded for host since a given time.
func (s *SampleStorage) Count(host string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM samples WHERE host = ? AND timestamp >= ?", host, since.UTC()).Scan(&count)
	return count, err
}
