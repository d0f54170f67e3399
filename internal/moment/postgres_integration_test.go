//go:build integration

package moment

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/wanderlog/internal/testdb"
)

func TestPostgresRepository_RankLifecycle(t *testing.T) {
	db := testdb.New(t)
	repo := NewPostgresRepository(db, quietLogger())
	assigner := NewRankAssigner(repo, quietLogger(), nil)
	ctx := context.Background()
	owner := uuid.New().String()

	var ids []string
	for _, overall := range []float64{3, 5, 3, 1} {
		ratings := Ratings{Overall: overall}
		score := ratings.CompositeScore()
		m := &Moment{OwnerID: owner, Ratings: &ratings, CompositeScore: &score}
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, m.ID)
	}

	if err := assigner.RecomputeRanks(ctx, owner); err != nil {
		t.Fatalf("RecomputeRanks() error = %v", err)
	}

	want := map[string]int{ids[1]: 1, ids[0]: 2, ids[2]: 3, ids[3]: 4}
	for id, rank := range want {
		m, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if m.Rank == nil || *m.Rank != rank {
			t.Errorf("moment %s rank = %v, want %d", id, m.Rank, rank)
		}
	}

	if _, err := repo.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := assigner.RecomputeRanks(ctx, owner); err != nil {
		t.Fatalf("RecomputeRanks() after delete error = %v", err)
	}

	top, _ := repo.GetByID(ctx, ids[0])
	if top.Rank == nil || *top.Rank != 1 {
		t.Errorf("rank after delete = %v, want 1", top.Rank)
	}
}

func TestPostgresRepository_RecomputeOwnerRanksAllOrNothing(t *testing.T) {
	db := testdb.New(t)
	repo := NewPostgresRepository(db, quietLogger())
	ctx := context.Background()
	owner := uuid.New().String()

	score := 6.0
	m := &Moment{OwnerID: owner, Ratings: &Ratings{Overall: 3}, CompositeScore: &score}
	if err := repo.Create(ctx, m); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err := repo.RecomputeOwnerRanks(ctx, owner, func([]ScoredMoment) []RankAssignment {
		return []RankAssignment{
			{MomentID: m.ID, Rank: 1},
			{MomentID: uuid.New().String(), Rank: 2},
		}
	})
	if err == nil {
		t.Fatal("expected error for unknown moment in rank batch")
	}

	got, _ := repo.GetByID(ctx, m.ID)
	if got.Rank != nil {
		t.Errorf("rank = %d, want unranked after rolled back batch", *got.Rank)
	}
}

func TestPostgresRepository_DeleteDuringRecompute(t *testing.T) {
	db := testdb.New(t)
	repo := NewPostgresRepository(db, quietLogger())
	assigner := NewRankAssigner(repo, quietLogger(), nil)
	ctx := context.Background()
	owner := uuid.New().String()

	var ids []string
	for _, score := range []float64{9, 5} {
		s := score
		m := &Moment{OwnerID: owner, Ratings: &Ratings{Overall: s / 2}, CompositeScore: &s}
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, m.ID)
	}
	top, remaining := ids[0], ids[1]

	// The delete blocks on the row lock until the recompute commits, then
	// re-ranks the owner itself.
	done := make(chan error, 1)
	_, err := repo.RecomputeOwnerRanks(ctx, owner, func(scored []ScoredMoment) []RankAssignment {
		go func() {
			if _, err := repo.Delete(ctx, top); err != nil {
				done <- err
				return
			}
			done <- assigner.RecomputeRanks(ctx, owner)
		}()
		time.Sleep(100 * time.Millisecond)
		return AssignRanks(scored)
	})
	if err != nil {
		t.Fatalf("RecomputeOwnerRanks() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("concurrent delete error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent delete did not finish")
	}

	m, err := repo.GetByID(ctx, remaining)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if m.Rank == nil || *m.Rank != 1 {
		t.Errorf("remaining moment rank = %v, want 1", m.Rank)
	}

	var deletedRank sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT rank FROM moments WHERE id = $1`, top).Scan(&deletedRank); err != nil {
		t.Fatalf("query deleted rank: %v", err)
	}
	if deletedRank.Valid {
		t.Errorf("deleted moment rank = %d, want NULL", deletedRank.Int64)
	}
}

func TestPostgresRepository_ConcurrentOwners(t *testing.T) {
	db := testdb.New(t)
	repo := NewPostgresRepository(db, quietLogger())
	assigner := NewRankAssigner(repo, quietLogger(), nil)
	ctx := context.Background()

	owners := make([]string, 4)
	for i := range owners {
		owners[i] = uuid.New().String()
		for j := 0; j < 5; j++ {
			score := 2.0 + float64(j)
			m := &Moment{OwnerID: owners[i], Ratings: &Ratings{Overall: 1 + float64(j)/2}, CompositeScore: &score}
			if err := repo.Create(ctx, m); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(owners)*2)
	for _, owner := range owners {
		for k := 0; k < 2; k++ {
			wg.Add(1)
			go func(owner string) {
				defer wg.Done()
				errs <- assigner.RecomputeRanks(ctx, owner)
			}(owner)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("RecomputeRanks() error = %v", err)
		}
	}

	for _, owner := range owners {
		scored, err := repo.ListOwnerScored(ctx, owner)
		if err != nil {
			t.Fatalf("ListOwnerScored() error = %v", err)
		}
		seen := map[int]bool{}
		for _, sm := range scored {
			m, _ := repo.GetByID(ctx, sm.ID)
			if m.Rank == nil {
				t.Fatalf("moment %s unranked", sm.ID)
			}
			seen[*m.Rank] = true
		}
		if len(seen) != len(scored) {
			t.Errorf("owner %s has duplicate ranks", owner)
		}
	}
}

func TestPostgresRepository_ListCandidates(t *testing.T) {
	db := testdb.New(t)
	repo := NewPostgresRepository(db, quietLogger())
	ctx := context.Background()
	viewer := uuid.New().String()
	author := uuid.New().String()
	cat := CategoryFoodDrink

	score := 8.0
	mine := &Moment{OwnerID: viewer, Ratings: &Ratings{Overall: 4}, CompositeScore: &score}
	theirs := &Moment{OwnerID: author, Category: &cat, Ratings: &Ratings{Overall: 4}, CompositeScore: &score}
	unrated := &Moment{OwnerID: author}
	for _, m := range []*Moment{mine, theirs, unrated} {
		if err := repo.Create(ctx, m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.AddEngagement(ctx, theirs.ID, 4, 40); err != nil {
		t.Fatalf("AddEngagement() error = %v", err)
	}

	got, err := repo.ListCandidates(ctx, viewer)
	if err != nil {
		t.Fatalf("ListCandidates() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != theirs.ID {
		t.Fatalf("candidates = %+v, want only %s", got, theirs.ID)
	}
	c := got[0]
	if c.Category == nil || *c.Category != CategoryFoodDrink || c.Engagement() != 44 {
		t.Errorf("unexpected candidate %+v", c)
	}
	if time.Since(c.CreatedAt) > time.Minute {
		t.Errorf("unexpected created_at %v", c.CreatedAt)
	}
}
