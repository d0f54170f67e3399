// Package feed builds personalized moment feeds. A feed pass fetches one
// immutable snapshot of the viewer's candidates, interest profile and follow
// set, scores every candidate with additive explainable terms, then orders
// and paginates the result.
package feed

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/wanderlog/internal/follow"
	"github.com/onnwee/wanderlog/internal/interest"
	"github.com/onnwee/wanderlog/internal/moment"
)

// ErrSnapshotFetch wraps any collaborator failure while building a snapshot.
// A feed pass that hits it returns no feed at all.
var ErrSnapshotFetch = errors.New("failed to fetch feed snapshot")

// DataSource provides the read-only inputs of a feed pass. Each method is a
// single bulk fetch.
type DataSource interface {
	// FetchCandidateMoments returns every scored moment not owned by excludingUserID.
	FetchCandidateMoments(ctx context.Context, excludingUserID string) ([]moment.Candidate, error)
	// FetchInterestProfile returns the viewer's category weights.
	FetchInterestProfile(ctx context.Context, userID string) (interest.Profile, error)
	// FetchFollowedIDs returns the set of users the viewer follows.
	FetchFollowedIDs(ctx context.Context, userID string) (follow.Set, error)
}

// Snapshot is the immutable input of one scoring pass.
type Snapshot struct {
	ViewerID   string
	Candidates []moment.Candidate
	Profile    interest.Profile
	Followed   follow.Set
	Now        time.Time
}

// RepositoryDataSource adapts the moment, interest and follow repositories
// to DataSource.
type RepositoryDataSource struct {
	Moments   moment.CandidateSource
	Interests interest.Repository
	Follows   follow.Repository
}

// NewRepositoryDataSource creates a DataSource over the given repositories.
func NewRepositoryDataSource(moments moment.CandidateSource, interests interest.Repository, follows follow.Repository) *RepositoryDataSource {
	return &RepositoryDataSource{Moments: moments, Interests: interests, Follows: follows}
}

// FetchCandidateMoments returns every scored moment not owned by excludingUserID.
func (d *RepositoryDataSource) FetchCandidateMoments(ctx context.Context, excludingUserID string) ([]moment.Candidate, error) {
	return d.Moments.ListCandidates(ctx, excludingUserID)
}

// FetchInterestProfile returns the viewer's category weights.
func (d *RepositoryDataSource) FetchInterestProfile(ctx context.Context, userID string) (interest.Profile, error) {
	return d.Interests.GetProfile(ctx, userID)
}

// FetchFollowedIDs returns the set of users the viewer follows.
func (d *RepositoryDataSource) FetchFollowedIDs(ctx context.Context, userID string) (follow.Set, error) {
	return d.Follows.FollowedIDs(ctx, userID)
}
