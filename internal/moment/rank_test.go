package moment

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAssignRanks(t *testing.T) {
	scored := []ScoredMoment{
		{ID: "a", CompositeScore: 6.0},
		{ID: "b", CompositeScore: 9.2},
		{ID: "c", CompositeScore: 6.0},
		{ID: "d", CompositeScore: 2.0},
		{ID: "e", CompositeScore: 9.2},
	}

	got := AssignRanks(scored)
	want := []RankAssignment{
		{MomentID: "b", Rank: 1},
		{MomentID: "e", Rank: 2},
		{MomentID: "a", Rank: 3},
		{MomentID: "c", Rank: 4},
		{MomentID: "d", Rank: 5},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d assignments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("assignment %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if scored[0].ID != "a" || scored[1].ID != "b" {
		t.Error("AssignRanks must not reorder its input")
	}
}

func TestAssignRanks_Empty(t *testing.T) {
	if got := AssignRanks(nil); len(got) != 0 {
		t.Errorf("expected no assignments, got %v", got)
	}
}

func TestAssignRanks_DenseAndMaxFirst(t *testing.T) {
	scored := []ScoredMoment{
		{ID: "m1", CompositeScore: 4.4},
		{ID: "m2", CompositeScore: 8.8},
		{ID: "m3", CompositeScore: 7.0},
		{ID: "m4", CompositeScore: 8.8},
		{ID: "m5", CompositeScore: 10.0},
		{ID: "m6", CompositeScore: 3.2},
	}
	scores := make(map[string]float64, len(scored))
	maxScore := 0.0
	for _, s := range scored {
		scores[s.ID] = s.CompositeScore
		maxScore = max(maxScore, s.CompositeScore)
	}

	ranks := AssignRanks(scored)
	seen := make(map[int]bool)
	for _, r := range ranks {
		if r.Rank < 1 || r.Rank > len(scored) {
			t.Errorf("rank %d out of 1..%d", r.Rank, len(scored))
		}
		if seen[r.Rank] {
			t.Errorf("duplicate rank %d", r.Rank)
		}
		seen[r.Rank] = true
		if r.Rank == 1 && scores[r.MomentID] != maxScore {
			t.Errorf("rank 1 has score %v, want max %v", scores[r.MomentID], maxScore)
		}
	}
	if len(seen) != len(scored) {
		t.Errorf("expected %d distinct ranks, got %d", len(scored), len(seen))
	}
}

func seedOwner(t *testing.T, repo *InMemoryRepository, ownerID string, scores ...float64) []string {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, 0, len(scores))
	for i, s := range scores {
		m := &Moment{OwnerID: ownerID, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if s > 0 {
			score := s
			m.CompositeScore = &score
			m.Ratings = &Ratings{Overall: s / 2}
		}
		if err := repo.Create(context.Background(), m); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		ids = append(ids, m.ID)
	}
	return ids
}

func ranksOf(t *testing.T, repo *InMemoryRepository, ids []string) []*int {
	t.Helper()
	out := make([]*int, len(ids))
	for i, id := range ids {
		m, err := repo.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID(%s) error = %v", id, err)
		}
		out[i] = m.Rank
	}
	return out
}

func TestRankAssigner_RecomputeRanks(t *testing.T) {
	repo := NewInMemoryRepository()
	ids := seedOwner(t, repo, "owner-1", 6.0, 9.0, 0, 6.0)
	otherIDs := seedOwner(t, repo, "owner-2", 5.0)

	assigner := NewRankAssigner(repo, quietLogger(), NewMetrics())
	if err := assigner.RecomputeRanks(context.Background(), "owner-1"); err != nil {
		t.Fatalf("RecomputeRanks() error = %v", err)
	}

	got := ranksOf(t, repo, ids)
	want := []int{2, 1, 0, 3} // 0 means unranked
	for i, w := range want {
		switch {
		case w == 0 && got[i] != nil:
			t.Errorf("moment %d: expected no rank, got %d", i, *got[i])
		case w != 0 && (got[i] == nil || *got[i] != w):
			t.Errorf("moment %d: rank = %v, want %d", i, got[i], w)
		}
	}

	if r := ranksOf(t, repo, otherIDs)[0]; r != nil {
		t.Error("other owner's moments should not be ranked")
	}
}

func TestRankAssigner_Idempotent(t *testing.T) {
	repo := NewInMemoryRepository()
	ids := seedOwner(t, repo, "owner-1", 7.0, 7.0, 3.0, 9.8, 7.0)
	assigner := NewRankAssigner(repo, quietLogger(), nil)
	ctx := context.Background()

	if err := assigner.RecomputeRanks(ctx, "owner-1"); err != nil {
		t.Fatalf("first RecomputeRanks() error = %v", err)
	}
	first := ranksOf(t, repo, ids)

	if err := assigner.RecomputeRanks(ctx, "owner-1"); err != nil {
		t.Fatalf("second RecomputeRanks() error = %v", err)
	}
	second := ranksOf(t, repo, ids)

	for i := range ids {
		if *first[i] != *second[i] {
			t.Errorf("moment %d rank changed from %d to %d", i, *first[i], *second[i])
		}
	}
}

func TestRankAssigner_ClearsRankAfterDelete(t *testing.T) {
	repo := NewInMemoryRepository()
	ids := seedOwner(t, repo, "owner-1", 9.0, 5.0)
	assigner := NewRankAssigner(repo, quietLogger(), nil)
	ctx := context.Background()

	if err := assigner.RecomputeRanks(ctx, "owner-1"); err != nil {
		t.Fatalf("RecomputeRanks() error = %v", err)
	}
	if _, err := repo.Delete(ctx, ids[0]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := assigner.RecomputeRanks(ctx, "owner-1"); err != nil {
		t.Fatalf("RecomputeRanks() error = %v", err)
	}

	if r := ranksOf(t, repo, ids[1:])[0]; r == nil || *r != 1 {
		t.Errorf("remaining moment rank = %v, want 1", r)
	}
}

type failingRankStore struct {
	err error
}

func (s failingRankStore) RecomputeOwnerRanks(context.Context, string, RankFunc) ([]RankAssignment, error) {
	return nil, s.err
}

func TestRankAssigner_PropagatesStoreErrors(t *testing.T) {
	listErr := errors.New("connection reset")
	replaceErr := errors.New("deadlock detected")

	for _, store := range []failingRankStore{{err: listErr}, {err: replaceErr}} {
		metrics := NewMetrics()
		assigner := NewRankAssigner(store, quietLogger(), metrics)
		err := assigner.RecomputeRanks(context.Background(), "owner-1")
		if err == nil {
			t.Fatal("expected error from failing store")
		}
		if !errors.Is(err, listErr) && !errors.Is(err, replaceErr) {
			t.Errorf("error should wrap store error, got %v", err)
		}
		if v := getCounterValue(metrics.rankErrors); v != 1 {
			t.Errorf("rank errors = %v, want 1", v)
		}
	}
}

// interleavingRankStore runs during while the wrapped store is between
// reading the owner's scored set and writing its ranks.
type interleavingRankStore struct {
	*InMemoryRepository
	during func()
}

func (s interleavingRankStore) RecomputeOwnerRanks(ctx context.Context, ownerID string, assign RankFunc) ([]RankAssignment, error) {
	return s.InMemoryRepository.RecomputeOwnerRanks(ctx, ownerID, func(scored []ScoredMoment) []RankAssignment {
		s.during()
		return assign(scored)
	})
}

func TestRankAssigner_DeleteDuringRecompute(t *testing.T) {
	repo := NewInMemoryRepository()
	ids := seedOwner(t, repo, "owner-1", 9.0, 5.0)
	top, remaining := ids[0], ids[1]

	// A concurrent delete followed by its own recompute, as Service.Delete does.
	done := make(chan error, 1)
	store := interleavingRankStore{
		InMemoryRepository: repo,
		during: func() {
			go func() {
				if _, err := repo.Delete(context.Background(), top); err != nil {
					done <- err
					return
				}
				done <- NewRankAssigner(repo, quietLogger(), nil).RecomputeRanks(context.Background(), "owner-1")
			}()
		},
	}

	if err := NewRankAssigner(store, quietLogger(), nil).RecomputeRanks(context.Background(), "owner-1"); err != nil {
		t.Fatalf("RecomputeRanks() error = %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("concurrent delete error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent delete did not finish")
	}

	if r := ranksOf(t, repo, []string{remaining})[0]; r == nil || *r != 1 {
		t.Errorf("remaining moment rank = %v, want 1", r)
	}
	repo.mu.RLock()
	deletedRank := repo.moments[top].Rank
	repo.mu.RUnlock()
	if deletedRank != nil {
		t.Errorf("deleted moment rank = %d, want unranked", *deletedRank)
	}
}
