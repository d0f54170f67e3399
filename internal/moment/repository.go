package moment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RankFunc turns an owner's scored moments, oldest first, into ranks.
type RankFunc func(scored []ScoredMoment) []RankAssignment

// RankStore is the storage surface needed to recompute an owner's ranks.
type RankStore interface {
	// RecomputeOwnerRanks reads the owner's scored, non-deleted moments,
	// ranks them with assign and rewrites the owner's full rank set, all
	// atomically with respect to other writers of the owner's moments.
	// Moments of the owner absent from the result have their rank cleared.
	RecomputeOwnerRanks(ctx context.Context, ownerID string, assign RankFunc) ([]RankAssignment, error)
}

// CandidateSource fetches feed candidates.
type CandidateSource interface {
	// ListCandidates returns every scored, non-deleted moment not owned by
	// excludingUserID.
	ListCandidates(ctx context.Context, excludingUserID string) ([]Candidate, error)
}

// Repository defines the interface for moment data operations.
type Repository interface {
	RankStore
	CandidateSource

	// Create inserts a new moment with a generated UUID.
	Create(ctx context.Context, m *Moment) error

	// GetByID retrieves a moment by its UUID, excluding soft-deleted moments.
	GetByID(ctx context.Context, id string) (*Moment, error)

	// SetRatings stores new sub-ratings together with their composite score.
	SetRatings(ctx context.Context, id string, ratings Ratings, compositeScore float64) (*Moment, error)

	// Delete soft-deletes a moment and returns its last state.
	Delete(ctx context.Context, id string) (*Moment, error)

	// AddEngagement increments like and view counters.
	AddEngagement(ctx context.Context, id string, likes, views int64) error

	// ListOwnerScored returns the owner's scored, non-deleted moments ordered
	// by creation, oldest first.
	ListOwnerScored(ctx context.Context, ownerID string) ([]ScoredMoment, error)

	// ListScoredOwners returns the distinct owners of scored, non-deleted
	// moments in ascending order.
	ListScoredOwners(ctx context.Context) ([]string, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	moments map[string]*Moment // UUID -> Moment
	seq     map[string]int64   // UUID -> insertion sequence, breaks CreatedAt ties
	nextSeq int64
}

// NewInMemoryRepository creates a new in-memory moment repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		moments: make(map[string]*Moment),
		seq:     make(map[string]int64),
	}
}

// Create inserts a new moment. CreatedAt is kept when already set so
// callers can import historical moments.
func (r *InMemoryRepository) Create(_ context.Context, m *Moment) error {
	if m.OwnerID == "" {
		return ErrMissingOwner
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	stored := cloneMoment(m)
	r.moments[m.ID] = stored
	r.seq[m.ID] = r.nextSeq
	r.nextSeq++
	return nil
}

// GetByID retrieves a moment by its UUID, excluding soft-deleted moments.
func (r *InMemoryRepository) GetByID(_ context.Context, id string) (*Moment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.moments[id]
	if !ok || m.DeletedAt != nil {
		return nil, ErrMomentNotFound
	}
	return cloneMoment(m), nil
}

// SetRatings stores new sub-ratings together with their composite score.
func (r *InMemoryRepository) SetRatings(_ context.Context, id string, ratings Ratings, compositeScore float64) (*Moment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.moments[id]
	if !ok || m.DeletedAt != nil {
		return nil, ErrMomentNotFound
	}

	rc := cloneRatings(&ratings)
	m.Ratings = rc
	score := compositeScore
	m.CompositeScore = &score
	m.UpdatedAt = time.Now()
	return cloneMoment(m), nil
}

// Delete soft-deletes a moment and clears its rank.
func (r *InMemoryRepository) Delete(_ context.Context, id string) (*Moment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.moments[id]
	if !ok || m.DeletedAt != nil {
		return nil, ErrMomentNotFound
	}

	now := time.Now()
	m.DeletedAt = &now
	m.UpdatedAt = now
	m.Rank = nil
	return cloneMoment(m), nil
}

// AddEngagement increments like and view counters. Counters never go below zero.
func (r *InMemoryRepository) AddEngagement(_ context.Context, id string, likes, views int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.moments[id]
	if !ok || m.DeletedAt != nil {
		return ErrMomentNotFound
	}
	m.LikeCount = max(m.LikeCount+likes, 0)
	m.ViewCount = max(m.ViewCount+views, 0)
	return nil
}

// ListOwnerScored returns the owner's scored moments, oldest first.
func (r *InMemoryRepository) ListOwnerScored(_ context.Context, ownerID string) ([]ScoredMoment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ownerScored(ownerID), nil
}

// ownerScored lists the owner's scored, non-deleted moments. Caller must hold r.mu.
func (r *InMemoryRepository) ownerScored(ownerID string) []ScoredMoment {
	owned := make([]*Moment, 0)
	for _, m := range r.moments {
		if m.OwnerID == ownerID && m.DeletedAt == nil && m.CompositeScore != nil {
			owned = append(owned, m)
		}
	}
	r.sortByCreation(owned)

	result := make([]ScoredMoment, len(owned))
	for i, m := range owned {
		result[i] = ScoredMoment{ID: m.ID, CompositeScore: *m.CompositeScore}
	}
	return result
}

// ListScoredOwners returns the owners of scored moments, sorted.
func (r *InMemoryRepository) ListScoredOwners(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, m := range r.moments {
		if m.DeletedAt == nil && m.CompositeScore != nil {
			seen[m.OwnerID] = struct{}{}
		}
	}
	owners := make([]string, 0, len(seen))
	for id := range seen {
		owners = append(owners, id)
	}
	sort.Strings(owners)
	return owners, nil
}

// RecomputeOwnerRanks reads and rewrites the owner's rank set under a single
// write lock, so no delete or rescore can land between the two and readers
// never observe a mix of old and new ranks.
func (r *InMemoryRepository) RecomputeOwnerRanks(_ context.Context, ownerID string, assign RankFunc) ([]RankAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ranks := assign(r.ownerScored(ownerID))

	byID := make(map[string]int, len(ranks))
	for _, a := range ranks {
		m, ok := r.moments[a.MomentID]
		if !ok || m.OwnerID != ownerID || m.DeletedAt != nil || m.CompositeScore == nil {
			return nil, ErrMomentNotFound
		}
		byID[a.MomentID] = a.Rank
	}

	for id, m := range r.moments {
		if m.OwnerID != ownerID {
			continue
		}
		if rank, ok := byID[id]; ok {
			rv := rank
			m.Rank = &rv
		} else {
			m.Rank = nil
		}
	}
	return ranks, nil
}

// ListCandidates returns every scored moment not owned by excludingUserID,
// oldest first.
func (r *InMemoryRepository) ListCandidates(_ context.Context, excludingUserID string) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	eligible := make([]*Moment, 0, len(r.moments))
	for _, m := range r.moments {
		if m.OwnerID == excludingUserID || m.DeletedAt != nil || m.CompositeScore == nil {
			continue
		}
		eligible = append(eligible, m)
	}
	r.sortByCreation(eligible)

	result := make([]Candidate, len(eligible))
	for i, m := range eligible {
		var category *Category
		if m.Category != nil {
			c := *m.Category
			category = &c
		}
		result[i] = Candidate{
			ID:             m.ID,
			AuthorID:       m.OwnerID,
			CompositeScore: *m.CompositeScore,
			LikeCount:      m.LikeCount,
			ViewCount:      m.ViewCount,
			CreatedAt:      m.CreatedAt,
			Category:       category,
		}
	}
	return result, nil
}

// sortByCreation orders moments by CreatedAt, then insertion order.
// Caller must hold r.mu.
func (r *InMemoryRepository) sortByCreation(ms []*Moment) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return r.seq[ms[i].ID] < r.seq[ms[j].ID]
	})
}

func cloneRatings(r *Ratings) *Ratings {
	if r == nil {
		return nil
	}
	c := Ratings{Overall: r.Overall}
	if r.Value != nil {
		v := *r.Value
		c.Value = &v
	}
	if r.Authenticity != nil {
		v := *r.Authenticity
		c.Authenticity = &v
	}
	if r.Crowd != nil {
		v := *r.Crowd
		c.Crowd = &v
	}
	return &c
}

// cloneMoment returns a deep copy so callers cannot mutate stored state.
func cloneMoment(m *Moment) *Moment {
	c := *m
	c.Ratings = cloneRatings(m.Ratings)
	if m.Category != nil {
		v := *m.Category
		c.Category = &v
	}
	if m.CompositeScore != nil {
		v := *m.CompositeScore
		c.CompositeScore = &v
	}
	if m.Rank != nil {
		v := *m.Rank
		c.Rank = &v
	}
	if m.DeletedAt != nil {
		v := *m.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}
