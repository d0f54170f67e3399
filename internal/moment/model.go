// Package moment provides the moment model, composite quality scoring and
// per-owner rank assignment for place visits shared on Wanderlog.
package moment

import (
	"errors"
	"time"
)

// Common errors for moment operations.
var (
	ErrMomentNotFound   = errors.New("moment not found")
	ErrMissingOverall   = errors.New("overall rating is required")
	ErrRatingOutOfRange = errors.New("rating must be between 1 and 5")
	ErrInvalidCategory  = errors.New("invalid place category")
	ErrMissingOwner     = errors.New("moment owner is required")
	ErrNotOwner         = errors.New("only the owner can modify a moment")

	// ErrRanksStale wraps a rank recompute failure that followed a
	// successfully stored mutation.
	ErrRanksStale = errors.New("moment stored but owner ranks were not recomputed")
)

// Rating bounds shared by all four sub-ratings.
const (
	MinRating = 1.0
	MaxRating = 5.0
)

// Category is the place category tag attached to a moment.
type Category string

// Known place categories.
const (
	CategoryFoodDrink    Category = "FOOD_DRINK"
	CategoryNature       Category = "NATURE"
	CategoryCulture      Category = "CULTURE"
	CategoryNightlife    Category = "NIGHTLIFE"
	CategoryShopping     Category = "SHOPPING"
	CategoryAdventure    Category = "ADVENTURE"
	CategoryRelaxation   Category = "RELAXATION"
	CategoryHistory      Category = "HISTORY"
	CategoryArt          Category = "ART"
	CategoryArchitecture Category = "ARCHITECTURE"
)

var knownCategories = map[Category]struct{}{
	CategoryFoodDrink:    {},
	CategoryNature:       {},
	CategoryCulture:      {},
	CategoryNightlife:    {},
	CategoryShopping:     {},
	CategoryAdventure:    {},
	CategoryRelaxation:   {},
	CategoryHistory:      {},
	CategoryArt:          {},
	CategoryArchitecture: {},
}

// ParseCategory validates a category tag.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if _, ok := knownCategories[c]; !ok {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := knownCategories[c]
	return ok
}

// Ratings holds the four sub-ratings of a moment. Overall is required,
// the remaining dimensions are optional.
type Ratings struct {
	Overall      float64  `json:"overall"`
	Value        *float64 `json:"value,omitempty"`
	Authenticity *float64 `json:"authenticity,omitempty"`
	Crowd        *float64 `json:"crowd,omitempty"`
}

// Validate checks that every present rating lies in [1, 5].
// Callers validate before invoking ComputeCompositeScore, which only clamps.
func (r Ratings) Validate() error {
	if r.Overall == 0 {
		return ErrMissingOverall
	}
	for _, v := range []*float64{&r.Overall, r.Value, r.Authenticity, r.Crowd} {
		if v == nil {
			continue
		}
		if *v < MinRating || *v > MaxRating {
			return ErrRatingOutOfRange
		}
	}
	return nil
}

// CompositeScore computes the composite score for these ratings.
func (r Ratings) CompositeScore() float64 {
	return ComputeCompositeScore(r.Overall, r.Value, r.Authenticity, r.Crowd)
}

// Moment is a user-submitted, place-linked post eligible for rating and ranking.
type Moment struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Ratings  *Ratings  `json:"ratings,omitempty"`
	Category *Category `json:"category,omitempty"`

	// CompositeScore is nil until the moment is rated; otherwise in [2.0, 10.0].
	CompositeScore *float64 `json:"composite_score,omitempty"`
	// Rank is a derived per-owner ordinal, rewritten wholesale on every recompute.
	Rank *int `json:"rank,omitempty"`

	LikeCount int64 `json:"like_count"`
	ViewCount int64 `json:"view_count"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Scored reports whether the moment carries a composite score.
func (m *Moment) Scored() bool {
	return m.CompositeScore != nil
}

// ScoredMoment is the minimal (id, score) view used for rank assignment.
// Slices of ScoredMoment are expected in creation order, oldest first.
type ScoredMoment struct {
	ID             string
	CompositeScore float64
}

// RankAssignment is a single (moment, rank) pair produced by AssignRanks.
type RankAssignment struct {
	MomentID string
	Rank     int
}

// Candidate is the read-only view of a moment used when scoring a feed.
type Candidate struct {
	ID             string
	AuthorID       string
	CompositeScore float64
	LikeCount      int64
	ViewCount      int64
	CreatedAt      time.Time
	Category       *Category
}

// Engagement returns likes plus views, never negative.
func (c Candidate) Engagement() int64 {
	e := c.LikeCount + c.ViewCount
	if e < 0 {
		return 0
	}
	return e
}
