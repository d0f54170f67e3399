package feed

import (
	"math"
	"testing"
	"time"

	"github.com/onnwee/wanderlog/internal/follow"
	"github.com/onnwee/wanderlog/internal/interest"
	"github.com/onnwee/wanderlog/internal/moment"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func category(c moment.Category) *moment.Category { return &c }

// scenarioSnapshot is the viewer with {FOOD_DRINK: 10} following author-a,
// looking at X (author-a, FOOD_DRINK) and Y (author-b, no category).
func scenarioSnapshot() Snapshot {
	return Snapshot{
		ViewerID: "viewer",
		Now:      testNow,
		Profile:  interest.Profile{moment.CategoryFoodDrink: 10},
		Followed: follow.Set{"author-a": {}},
		Candidates: []moment.Candidate{
			{ID: "moment-x", AuthorID: "author-a", Category: category(moment.CategoryFoodDrink), LikeCount: 100, CompositeScore: 6, CreatedAt: testNow},
			{ID: "moment-y", AuthorID: "author-b", LikeCount: 100, CompositeScore: 6, CreatedAt: testNow},
		},
	}
}

func scoreByID(scored []ScoredCandidate) map[string]ScoredCandidate {
	out := make(map[string]ScoredCandidate, len(scored))
	for _, s := range scored {
		out[s.ID] = s
	}
	return out
}

func TestScorer_InterestAndFollowScenario(t *testing.T) {
	scored := scoreByID(NewScorer(nil).Score(scenarioSnapshot()))
	x, y := scored["moment-x"], scored["moment-y"]

	if diff := x.Score - y.Score; diff < 32-1e-9 {
		t.Errorf("X - Y = %v, want at least 32", diff)
	}
	if x.Breakdown.Interest != 30 || x.Breakdown.Social != 2 {
		t.Errorf("X breakdown = %+v, want interest 30 and social 2", x.Breakdown)
	}
	if y.Breakdown.Interest != 0 || y.Breakdown.Social != 0 {
		t.Errorf("Y breakdown = %+v, want no interest or social", y.Breakdown)
	}

	page := Select(NewScorer(nil).Score(scenarioSnapshot()), 1, 0)
	if len(page.IDs) != 1 || page.IDs[0] != "moment-x" {
		t.Errorf("top page = %v, want [moment-x]", page.IDs)
	}
}

func TestScorer_ColdStartViewer(t *testing.T) {
	snap := scenarioSnapshot()
	snap.Profile = nil
	snap.Followed = nil

	for _, s := range NewScorer(nil).Score(snap) {
		if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
			t.Fatalf("score for %s is not finite: %v", s.ID, s.Score)
		}
		if s.Breakdown.Interest != 0 || s.Breakdown.Social != 0 {
			t.Errorf("cold start breakdown = %+v", s.Breakdown)
		}
		// engagement 2 + recency 1 + quality 0.6
		if math.Abs(s.Score-3.6) > 1e-9 {
			t.Errorf("cold start score = %v, want 3.6", s.Score)
		}
	}
}

func TestScorer_EngagementNormalizedWithinBatch(t *testing.T) {
	snap := Snapshot{
		Now: testNow,
		Candidates: []moment.Candidate{
			{ID: "a", LikeCount: 10, ViewCount: 190, CreatedAt: testNow, CompositeScore: 5},
			{ID: "b", LikeCount: 50, ViewCount: 50, CreatedAt: testNow, CompositeScore: 5},
			{ID: "c", CreatedAt: testNow, CompositeScore: 5},
		},
	}

	scored := scoreByID(NewScorer(nil).Score(snap))
	want := map[string]float64{"a": 2.0, "b": 1.0, "c": 0.0}
	for id, w := range want {
		if got := scored[id].Breakdown.Engagement; math.Abs(got-w) > 1e-9 {
			t.Errorf("%s engagement = %v, want %v", id, got, w)
		}
	}
}

func TestScorer_ZeroEngagementBatch(t *testing.T) {
	snap := Snapshot{
		Now: testNow,
		Candidates: []moment.Candidate{
			{ID: "a", CreatedAt: testNow, CompositeScore: 4},
			{ID: "b", CreatedAt: testNow.Add(-10 * 24 * time.Hour), CompositeScore: 4},
		},
	}

	for _, s := range NewScorer(nil).Score(snap) {
		if math.IsNaN(s.Breakdown.Engagement) || s.Breakdown.Engagement != 0 {
			t.Errorf("%s engagement = %v, want 0", s.ID, s.Breakdown.Engagement)
		}
	}
}

func TestScorer_Empty(t *testing.T) {
	if got := NewScorer(nil).Score(Snapshot{Now: testNow}); len(got) != 0 {
		t.Errorf("expected no scores, got %v", got)
	}
}

func TestScorer_CategoryWithoutProfileMatch(t *testing.T) {
	snap := Snapshot{
		Now:     testNow,
		Profile: interest.Profile{moment.CategoryArt: 10},
		Candidates: []moment.Candidate{
			{ID: "a", Category: category(moment.CategoryNature), CreatedAt: testNow, CompositeScore: 5},
		},
	}
	if got := NewScorer(nil).Score(snap)[0].Breakdown.Interest; got != 0 {
		t.Errorf("interest = %v, want 0 for unmatched category", got)
	}
}
