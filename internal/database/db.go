package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/ecosimlab/predictor/models"
)

// DB is the postgres-backed snapshot and prediction store.
type DB struct {
	*sql.DB
}

// ConnectionParams holds PostgreSQL connection parameters.
type ConnectionParams struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// New opens a database connection, waiting for the server to come up, and
// creates the tables if they don't exist.
func New(params ConnectionParams) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		params.Host, params.Port, params.User, params.Password, params.DBName, params.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// The database often starts alongside the service; retry the ping
	// instead of failing the boot.
	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(db.Ping, backoffStrategy); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			user_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			plants INTEGER NOT NULL,
			herbivores INTEGER NOT NULL,
			carnivores INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, step)
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS predictions (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			input JSONB NOT NULL,
			output JSONB NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			steps_ahead INTEGER NOT NULL,
			accuracy DOUBLE PRECISION,
			actual_outcome JSONB,
			evaluated_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS predictions_user_created_idx
		ON predictions (user_id, created_at DESC)
	`)

	return err
}

// SaveSnapshot appends one simulation step. Re-ingesting an existing step
// is a no-op: snapshots are immutable once created.
func (db *DB) SaveSnapshot(ctx context.Context, userID string, snap models.Snapshot) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO snapshots (user_id, step, plants, herbivores, carnivores, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, step) DO NOTHING
	`, userID, snap.Step, snap.Plants, snap.Herbivores, snap.Carnivores, snap.Timestamp)

	return err
}

// FetchRecentSnapshots returns the user's most recent snapshots in
// chronological order, oldest first.
func (db *DB) FetchRecentSnapshots(ctx context.Context, userID string, limit int) ([]models.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT step, plants, herbivores, carnivores, created_at
		FROM snapshots
		WHERE user_id = $1
		ORDER BY step DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.Step, &s.Plants, &s.Herbivores, &s.Carnivores, &s.Timestamp); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the index; callers expect oldest-first.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}

	return snaps, nil
}

// SavePrediction inserts a prediction record with a generated id.
func (db *DB) SavePrediction(ctx context.Context, p *models.Prediction) (*models.Prediction, error) {
	stored := *p
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO predictions (id, user_id, type, input, output, confidence, steps_ahead, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, stored.ID, stored.UserID, stored.Type, []byte(stored.Input), []byte(stored.Output),
		stored.Confidence, stored.StepsAhead, stored.CreatedAt)
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// GetPrediction loads one prediction record by id.
func (db *DB) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	var (
		p             models.Prediction
		accuracy      sql.NullFloat64
		actualOutcome []byte
		evaluatedAt   sql.NullTime
	)

	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, type, input, output, confidence, steps_ahead,
			accuracy, actual_outcome, evaluated_at, created_at
		FROM predictions
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.UserID, &p.Type, (*[]byte)(&p.Input), (*[]byte)(&p.Output),
		&p.Confidence, &p.StepsAhead, &accuracy, &actualOutcome, &evaluatedAt, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrPredictionNotFound
		}
		return nil, err
	}

	if accuracy.Valid {
		p.Accuracy = &accuracy.Float64
	}
	if actualOutcome != nil {
		p.ActualOutcome = json.RawMessage(actualOutcome)
	}
	if evaluatedAt.Valid {
		p.EvaluatedAt = &evaluatedAt.Time
	}

	return &p, nil
}

// EvaluatePrediction fills in ground truth for a prediction exactly once.
// The WHERE clause guards the transition: a concurrent or repeated attempt
// matches zero rows and fails with AlreadyEvaluatedError, leaving the
// first evaluation untouched.
func (db *DB) EvaluatePrediction(ctx context.Context, id string, actualOutcome json.RawMessage, accuracy float64) (*models.Prediction, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE predictions
		SET accuracy = $2, actual_outcome = $3, evaluated_at = $4
		WHERE id = $1 AND evaluated_at IS NULL
	`, id, accuracy, []byte(actualOutcome), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		existing, err := db.GetPrediction(ctx, id)
		if err != nil {
			return nil, err
		}
		if existing.Evaluated() {
			return nil, &models.AlreadyEvaluatedError{ID: id}
		}
		return nil, models.ErrPredictionNotFound
	}

	return db.GetPrediction(ctx, id)
}

// ListPredictions returns a user's most recent prediction records.
func (db *DB) ListPredictions(ctx context.Context, userID string, limit int) ([]*models.Prediction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, type, input, output, confidence, steps_ahead,
			accuracy, actual_outcome, evaluated_at, created_at
		FROM predictions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var predictions []*models.Prediction
	for rows.Next() {
		var (
			p             models.Prediction
			accuracy      sql.NullFloat64
			actualOutcome []byte
			evaluatedAt   sql.NullTime
		)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Type, (*[]byte)(&p.Input), (*[]byte)(&p.Output),
			&p.Confidence, &p.StepsAhead, &accuracy, &actualOutcome, &evaluatedAt, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		if accuracy.Valid {
			p.Accuracy = &accuracy.Float64
		}
		if actualOutcome != nil {
			p.ActualOutcome = json.RawMessage(actualOutcome)
		}
		if evaluatedAt.Valid {
			p.EvaluatedAt = &evaluatedAt.Time
		}
		predictions = append(predictions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return predictions, nil
}

// PurgeExpired deletes prediction records older than the cutoff, enforcing
// the retention window.
func (db *DB) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM predictions
		WHERE created_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
