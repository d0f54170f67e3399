package follow

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/wanderlog/internal/tracing"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres follow repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Follow adds the edge follower -> following.
func (r *PostgresRepository) Follow(ctx context.Context, followerID, followingID string) (err error) {
	if followerID == followingID {
		return ErrSelfFollow
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)
		ON CONFLICT (follower_id, following_id) DO NOTHING
	`
	if _, err = r.db.ExecContext(ctx, query, followerID, followingID); err != nil {
		r.logger.Error("failed to insert follow",
			slog.String("error", err.Error()),
			slog.String("follower_id", followerID))
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// Unfollow removes the edge follower -> following.
func (r *PostgresRepository) Unfollow(ctx context.Context, followerID, followingID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	if _, err = r.db.ExecContext(ctx,
		`DELETE FROM follows WHERE follower_id = $1 AND following_id = $2`, followerID, followingID); err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	return nil
}

// FollowedIDs returns the set of users followerID follows.
func (r *PostgresRepository) FollowedIDs(ctx context.Context, followerID string) (_ Set, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx,
		`SELECT following_id FROM follows WHERE follower_id = $1`, followerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query follows: %w", err)
	}
	defer rows.Close()

	set := make(Set)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan follow: %w", err)
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}
