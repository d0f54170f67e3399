package interest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/wanderlog/internal/moment"
	"github.com/onnwee/wanderlog/internal/tracing"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres interest repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// GetProfile returns the viewer's profile.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (_ Profile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interests", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx,
		`SELECT category, weight FROM user_interests WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interests: %w", err)
	}
	defer rows.Close()

	profile := make(Profile)
	for rows.Next() {
		var category string
		var weight int
		if err := rows.Scan(&category, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan interest: %w", err)
		}
		profile[moment.Category(category)] = weight
	}
	return profile, rows.Err()
}

// SetWeight creates or replaces one category weight.
func (r *PostgresRepository) SetWeight(ctx context.Context, userID string, category moment.Category, weight int) (err error) {
	if err := Validate(category, weight); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interests", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO user_interests (user_id, category, weight)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, category) DO UPDATE SET weight = EXCLUDED.weight, updated_at = NOW()
	`
	if _, err = r.db.ExecContext(ctx, query, userID, string(category), weight); err != nil {
		r.logger.Error("failed to upsert interest",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		return fmt.Errorf("failed to upsert interest: %w", err)
	}
	return nil
}

// Remove drops one category from the profile.
func (r *PostgresRepository) Remove(ctx context.Context, userID string, category moment.Category) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interests", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	if _, err = r.db.ExecContext(ctx,
		`DELETE FROM user_interests WHERE user_id = $1 AND category = $2`, userID, string(category)); err != nil {
		return fmt.Errorf("failed to remove interest: %w", err)
	}
	return nil
}
