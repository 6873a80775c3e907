// Package storage is the durable persistence layer: calibration samples and
// voting history written to PostgreSQL. Every write is best-effort; when the
// store is down the gateway degrades to memory-only and no request fails.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/calibration"
	"github.com/neurastack/gateway/internal/config"
	"github.com/neurastack/gateway/internal/voting"
)

// Store wraps the pgx pool and implements the persister interfaces the
// calibration store and voting history accept.
type Store struct {
	pool   *pgxpool.Pool
	logger *logrus.Logger
}

// Connect opens the pool and verifies connectivity. A failed ping is a
// warning, not an error; writes will keep failing softly until the database
// comes back.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("storage: pool init: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil && logger != nil {
		logger.WithError(err).Warn("database unreachable at startup, continuing memory-only")
	}
	return &Store{pool: pool, logger: logger}, nil
}

// NewStore wraps an existing pool. Used by tests.
func NewStore(pool *pgxpool.Pool, logger *logrus.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// SaveCalibrationSample appends one sample to calibration_samples.
func (s *Store) SaveCalibrationSample(ctx context.Context, sample calibration.Sample) error {
	if s.pool == nil {
		return fmt.Errorf("storage: no pool")
	}
	metadata, err := json.Marshal(sample.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal sample metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO calibration_samples (model, predicted, actual, metadata, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, sample.Model, sample.Predicted, int(sample.Actual), metadata, sample.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: insert calibration sample: %w", err)
	}
	return nil
}

// LoadCalibrationSamples returns the most recent samples for a model, oldest
// first, bounded by limit. Used to warm the calibration store at startup.
func (s *Store) LoadCalibrationSamples(ctx context.Context, model string, limit int) ([]calibration.Sample, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("storage: no pool")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT model, predicted, actual, metadata, recorded_at
		FROM calibration_samples
		WHERE model = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, model, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query calibration samples: %w", err)
	}
	defer rows.Close()

	var samples []calibration.Sample
	for rows.Next() {
		var (
			sample   calibration.Sample
			actual   int
			metadata []byte
		)
		if err := rows.Scan(&sample.Model, &sample.Predicted, &actual, &metadata, &sample.Timestamp); err != nil {
			return nil, fmt.Errorf("storage: scan calibration sample: %w", err)
		}
		sample.Actual = calibration.Outcome(actual)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &sample.Metadata); err != nil {
				return nil, fmt.Errorf("storage: unmarshal sample metadata: %w", err)
			}
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate calibration samples: %w", err)
	}
	// Reverse to oldest-first so replay preserves ordering.
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// SaveVotingRecord appends one completed vote to voting_history.
func (s *Store) SaveVotingRecord(ctx context.Context, record voting.HistoryRecord) error {
	if s.pool == nil {
		return fmt.Errorf("storage: no pool")
	}
	weights, err := json.Marshal(record.Weights)
	if err != nil {
		return fmt.Errorf("storage: marshal weights: %w", err)
	}
	participants, err := json.Marshal(record.Models)
	if err != nil {
		return fmt.Errorf("storage: marshal participants: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO voting_history
			(id, winner, winner_model, weights, participants, consensus, diversity,
			 tie_breaker_used, meta_voter_used, processing_time_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`, record.ID, record.Winner, record.WinnerModel, weights, participants,
		string(record.Consensus), record.Diversity, record.TieBreakerUsed,
		record.MetaVoterUsed, record.ProcessingTimeMS, record.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: insert voting record: %w", err)
	}
	return nil
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("storage: no pool")
	}
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS calibration_samples (
			id          BIGSERIAL PRIMARY KEY,
			model       TEXT NOT NULL,
			predicted   DOUBLE PRECISION NOT NULL,
			actual      SMALLINT NOT NULL,
			metadata    JSONB,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_calibration_samples_model
			ON calibration_samples (model, recorded_at DESC);

		CREATE TABLE IF NOT EXISTS voting_history (
			id                 TEXT PRIMARY KEY,
			winner             TEXT NOT NULL,
			winner_model       TEXT,
			weights            JSONB NOT NULL,
			participants       JSONB NOT NULL,
			consensus          TEXT NOT NULL,
			diversity          DOUBLE PRECISION,
			tie_breaker_used   BOOLEAN NOT NULL DEFAULT FALSE,
			meta_voter_used    BOOLEAN NOT NULL DEFAULT FALSE,
			processing_time_ms BIGINT,
			recorded_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	return nil
}

// Healthy reports whether the pool answers a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	if s.pool == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(pingCtx) == nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
