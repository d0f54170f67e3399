// Package follow stores the directed follow graph between users.
package follow

import (
	"context"
	"errors"
	"sync"
)

// ErrSelfFollow is returned when a user tries to follow themselves.
var ErrSelfFollow = errors.New("users cannot follow themselves")

// Set is a set of followed user IDs.
type Set map[string]struct{}

// Contains reports whether id is in the set.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Repository defines follow graph operations.
type Repository interface {
	// Follow adds the edge follower -> following. Following twice is a no-op.
	Follow(ctx context.Context, followerID, followingID string) error

	// Unfollow removes the edge follower -> following if present.
	Unfollow(ctx context.Context, followerID, followingID string) error

	// FollowedIDs returns the set of users followerID follows.
	FollowedIDs(ctx context.Context, followerID string) (Set, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu    sync.RWMutex
	edges map[string]Set // followerID -> following set
}

// NewInMemoryRepository creates a new in-memory follow repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{edges: make(map[string]Set)}
}

// Follow adds the edge follower -> following.
func (r *InMemoryRepository) Follow(_ context.Context, followerID, followingID string) error {
	if followerID == followingID {
		return ErrSelfFollow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.edges[followerID]
	if !ok {
		s = make(Set)
		r.edges[followerID] = s
	}
	s[followingID] = struct{}{}
	return nil
}

// Unfollow removes the edge follower -> following.
func (r *InMemoryRepository) Unfollow(_ context.Context, followerID, followingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.edges[followerID], followingID)
	return nil
}

// FollowedIDs returns a copy of the followed set.
func (r *InMemoryRepository) FollowedIDs(_ context.Context, followerID string) (Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src := r.edges[followerID]
	out := make(Set, len(src))
	for id := range src {
		out[id] = struct{}{}
	}
	return out, nil
}
