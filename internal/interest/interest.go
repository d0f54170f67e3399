// Package interest stores the weighted category interests of a viewer.
package interest

import (
	"context"
	"errors"
	"sync"

	"github.com/onnwee/wanderlog/internal/moment"
)

// Weight bounds for a single category interest.
const (
	MinWeight = 1
	MaxWeight = 10
)

// ErrWeightOutOfRange is returned when a weight falls outside [1, 10].
var ErrWeightOutOfRange = errors.New("interest weight must be between 1 and 10")

// Profile maps a category to the viewer's weight for it.
// A category absent from the map carries no interest.
type Profile map[moment.Category]int

// Weight returns the weight for category, 0 when absent or nil.
func (p Profile) Weight(category *moment.Category) int {
	if category == nil {
		return 0
	}
	return p[*category]
}

// Repository defines interest profile operations.
type Repository interface {
	// GetProfile returns the viewer's profile. An unknown viewer has an
	// empty profile, not an error.
	GetProfile(ctx context.Context, userID string) (Profile, error)

	// SetWeight creates or replaces one category weight.
	SetWeight(ctx context.Context, userID string, category moment.Category, weight int) error

	// Remove drops one category from the profile.
	Remove(ctx context.Context, userID string, category moment.Category) error
}

// Validate checks a single category weight.
func Validate(category moment.Category, weight int) error {
	if !category.Valid() {
		return moment.ErrInvalidCategory
	}
	if weight < MinWeight || weight > MaxWeight {
		return ErrWeightOutOfRange
	}
	return nil
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]Profile // userID -> profile
}

// NewInMemoryRepository creates a new in-memory interest repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{profiles: make(map[string]Profile)}
}

// GetProfile returns a copy of the viewer's profile.
func (r *InMemoryRepository) GetProfile(_ context.Context, userID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p := r.profiles[userID]
	out := make(Profile, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// SetWeight creates or replaces one category weight.
func (r *InMemoryRepository) SetWeight(_ context.Context, userID string, category moment.Category, weight int) error {
	if err := Validate(category, weight); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		p = make(Profile)
		r.profiles[userID] = p
	}
	p[category] = weight
	return nil
}

// Remove drops one category from the profile.
func (r *InMemoryRepository) Remove(_ context.Context, userID string, category moment.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles[userID], category)
	return nil
}
