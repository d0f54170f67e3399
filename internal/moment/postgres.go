package moment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/onnwee/wanderlog/internal/tracing"
)

// PostgresRepository is a Postgres-backed implementation of Repository.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new Postgres moment repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const momentColumns = `id, owner_id, category, rating_overall, rating_value, rating_authenticity,
	rating_crowd, composite_score, rank, like_count, view_count, created_at, updated_at, deleted_at`

// Create inserts a new moment.
func (r *PostgresRepository) Create(ctx context.Context, m *Moment) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	if m.OwnerID == "" {
		return ErrMissingOwner
	}

	var overall sql.NullFloat64
	var value, authenticity, crowd sql.NullFloat64
	if m.Ratings != nil {
		overall = sql.NullFloat64{Float64: m.Ratings.Overall, Valid: true}
		value = nullFloat(m.Ratings.Value)
		authenticity = nullFloat(m.Ratings.Authenticity)
		crowd = nullFloat(m.Ratings.Crowd)
	}

	query := `
		INSERT INTO moments (owner_id, category, rating_overall, rating_value, rating_authenticity,
			rating_crowd, composite_score, like_count, view_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		m.OwnerID, nullCategory(m.Category), overall, value, authenticity, crowd,
		nullFloat(m.CompositeScore), m.LikeCount, m.ViewCount,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to insert moment",
			slog.String("error", err.Error()),
			slog.String("owner_id", m.OwnerID))
		return fmt.Errorf("failed to insert moment: %w", err)
	}
	return nil
}

// GetByID retrieves a moment by its UUID, excluding soft-deleted moments.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (_ *Moment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + momentColumns + ` FROM moments WHERE id = $1 AND deleted_at IS NULL`
	m, err := scanMoment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMomentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get moment: %w", err)
	}
	return m, nil
}

// SetRatings stores new sub-ratings together with their composite score.
func (r *PostgresRepository) SetRatings(ctx context.Context, id string, ratings Ratings, compositeScore float64) (_ *Moment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE moments
		SET rating_overall = $2, rating_value = $3, rating_authenticity = $4, rating_crowd = $5,
			composite_score = $6, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + momentColumns
	m, err := scanMoment(r.db.QueryRowContext(ctx, query, id,
		ratings.Overall, nullFloat(ratings.Value), nullFloat(ratings.Authenticity), nullFloat(ratings.Crowd),
		compositeScore))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMomentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update ratings: %w", err)
	}
	return m, nil
}

// Delete soft-deletes a moment and clears its rank.
func (r *PostgresRepository) Delete(ctx context.Context, id string) (_ *Moment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	query := `
		UPDATE moments SET deleted_at = NOW(), updated_at = NOW(), rank = NULL
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + momentColumns
	m, err := scanMoment(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMomentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete moment: %w", err)
	}
	return m, nil
}

// AddEngagement increments like and view counters.
func (r *PostgresRepository) AddEngagement(ctx context.Context, id string, likes, views int64) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE moments
		SET like_count = GREATEST(like_count + $2, 0), view_count = GREATEST(view_count + $3, 0)
		WHERE id = $1 AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, likes, views)
	if err != nil {
		return fmt.Errorf("failed to add engagement: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrMomentNotFound
	}
	return nil
}

// ListOwnerScored returns the owner's scored moments, oldest first.
func (r *PostgresRepository) ListOwnerScored(ctx context.Context, ownerID string) (_ []ScoredMoment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return listOwnerScored(ctx, r.db, ownerID, false)
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listOwnerScored(ctx context.Context, q queryer, ownerID string, forUpdate bool) ([]ScoredMoment, error) {
	query := `
		SELECT id, composite_score FROM moments
		WHERE owner_id = $1 AND composite_score IS NOT NULL AND deleted_at IS NULL
		ORDER BY created_at ASC, seq ASC
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scored moments: %w", err)
	}
	defer rows.Close()

	var result []ScoredMoment
	for rows.Next() {
		var sm ScoredMoment
		if err := rows.Scan(&sm.ID, &sm.CompositeScore); err != nil {
			return nil, fmt.Errorf("failed to scan scored moment: %w", err)
		}
		result = append(result, sm)
	}
	return result, rows.Err()
}

// ListScoredOwners returns the owners of scored moments, sorted.
func (r *PostgresRepository) ListScoredOwners(ctx context.Context) (_ []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT owner_id FROM moments
		WHERE composite_score IS NOT NULL AND deleted_at IS NULL
		ORDER BY owner_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scored owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}

// RecomputeOwnerRanks reads the owner's scored set and rewrites its ranks in
// one transaction. A transaction-scoped advisory lock keyed on the owner
// serializes concurrent recomputes for the same owner, and the scored rows
// are read FOR UPDATE so a delete or rescore of any of them waits for the
// commit and its own recompute sees the new rank set.
func (r *PostgresRepository) RecomputeOwnerRanks(ctx context.Context, ownerID string, assign RankFunc) (_ []RankAssignment, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		r.logger.Error("failed to begin rank transaction",
			slog.String("error", err.Error()),
			slog.String("owner_id", ownerID))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Warn("failed to rollback rank transaction",
				slog.String("error", err.Error()))
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return nil, fmt.Errorf("failed to lock owner ranks: %w", err)
	}

	scored, err := listOwnerScored(ctx, tx, ownerID, true)
	if err != nil {
		return nil, err
	}
	ranks := assign(scored)

	if err = writeRanks(ctx, tx, ownerID, ranks); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		r.logger.Error("failed to commit rank transaction",
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return ranks, nil
}

// writeRanks clears every rank of the owner not in ranks and writes the
// rest. Only scored, non-deleted moments of the owner can take a rank; an
// assignment for any other moment fails the batch with ErrMomentNotFound.
func writeRanks(ctx context.Context, tx *sql.Tx, ownerID string, ranks []RankAssignment) error {
	ids := make([]string, len(ranks))
	values := make([]int64, len(ranks))
	for i, a := range ranks {
		ids[i] = a.MomentID
		values[i] = int64(a.Rank)
	}

	clearQuery := `
		UPDATE moments SET rank = NULL
		WHERE owner_id = $1 AND rank IS NOT NULL
			AND (NOT (id = ANY($2::uuid[])) OR deleted_at IS NOT NULL OR composite_score IS NULL)
	`
	if _, err := tx.ExecContext(ctx, clearQuery, ownerID, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to clear stale ranks: %w", err)
	}

	if len(ranks) == 0 {
		return nil
	}

	updateQuery := `
		UPDATE moments AS m SET rank = u.rank
		FROM unnest($2::uuid[], $3::int[]) AS u(id, rank)
		WHERE m.id = u.id AND m.owner_id = $1
			AND m.deleted_at IS NULL AND m.composite_score IS NOT NULL
	`
	result, err := tx.ExecContext(ctx, updateQuery, ownerID, pq.Array(ids), pq.Array(values))
	if err != nil {
		return fmt.Errorf("failed to write ranks: %w", err)
	}
	if n, _ := result.RowsAffected(); n != int64(len(ranks)) {
		return fmt.Errorf("rank update touched %d of %d moments: %w", n, len(ranks), ErrMomentNotFound)
	}
	return nil
}

// ListCandidates returns every scored moment not owned by excludingUserID,
// oldest first.
func (r *PostgresRepository) ListCandidates(ctx context.Context, excludingUserID string) (_ []Candidate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "moments", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, owner_id, composite_score, like_count, view_count, created_at, category
		FROM moments
		WHERE owner_id <> $1 AND composite_score IS NOT NULL AND deleted_at IS NULL
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := r.db.QueryContext(ctx, query, excludingUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var c Candidate
		var category sql.NullString
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.CompositeScore, &c.LikeCount, &c.ViewCount,
			&c.CreatedAt, &category); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if category.Valid {
			cat := Category(category.String)
			c.Category = &cat
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMoment(row rowScanner) (*Moment, error) {
	var (
		m                          Moment
		category                   sql.NullString
		overall                    sql.NullFloat64
		value, authenticity, crowd sql.NullFloat64
		compositeScore             sql.NullFloat64
		rank                       sql.NullInt64
		deletedAt                  sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.OwnerID, &category, &overall, &value, &authenticity, &crowd,
		&compositeScore, &rank, &m.LikeCount, &m.ViewCount, &m.CreatedAt, &m.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}

	if category.Valid {
		c := Category(category.String)
		m.Category = &c
	}
	if overall.Valid {
		m.Ratings = &Ratings{
			Overall:      overall.Float64,
			Value:        floatPtr(value),
			Authenticity: floatPtr(authenticity),
			Crowd:        floatPtr(crowd),
		}
	}
	m.CompositeScore = floatPtr(compositeScore)
	if rank.Valid {
		v := int(rank.Int64)
		m.Rank = &v
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		m.DeletedAt = &t
	}
	return &m, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullCategory(c *Category) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}
