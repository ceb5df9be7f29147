package parking

import (
	"context"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

// Allocator claims and frees spots. Both operations take a Querier so they
// join the caller's transaction; on their own they never commit anything.
type Allocator struct {
	maxAttempts int
	obs         Observer
}

// NewAllocator returns an Allocator that gives up after maxAttempts lost
// claims.
func NewAllocator(maxAttempts int, obs Observer) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxClaimAttempts
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Allocator{maxAttempts: maxAttempts, obs: obs}
}

// Allocate marks the lowest-numbered free spot of an active lot occupied
// and returns it.
//
// The claim is a compare-and-swap on the spot's status, so two concurrent
// callers can read the same candidate but only one of them wins it. The
// loser picks the next candidate.
func (a *Allocator) Allocate(ctx context.Context, q db.Querier, lotID int64) (*models.Spot, error) {
	lot, err := repo.NewLotRepo(q).GetByID(ctx, lotID)
	if err != nil {
		return nil, notFound(err, ErrLotNotFound)
	}
	if !lot.Active {
		return nil, ErrLotInactive
	}

	spots := repo.NewSpotRepo(q)
	for range a.maxAttempts {
		spot, err := spots.FirstFree(ctx, lotID)
		if err != nil {
			return nil, notFound(err, ErrNoAvailableSpot)
		}
		won, err := spots.MarkOccupied(ctx, spot.ID)
		if err != nil {
			return nil, err
		}
		if won {
			spot.Status = models.SpotOccupied
			return spot, nil
		}
		a.obs.ClaimLost(lotID)
	}
	return nil, ErrAllocationConflict
}

// Release marks an occupied spot free. It refuses while an active
// reservation still holds the spot, so a reservation has to be completed
// or cancelled in the same transaction first.
func (a *Allocator) Release(ctx context.Context, q db.Querier, spotID int64) error {
	spots := repo.NewSpotRepo(q)
	spot, err := spots.GetByID(ctx, spotID)
	if err != nil {
		return notFound(err, ErrSpotNotFound)
	}
	if spot.Status != models.SpotOccupied {
		return ErrSpotNotOccupied
	}

	holders, err := repo.NewReservationRepo(q).CountActiveBySpot(ctx, spotID)
	if err != nil {
		return err
	}
	if holders > 0 {
		return ErrSpotHasActiveReservation
	}

	freed, err := spots.MarkFree(ctx, spotID)
	if err != nil {
		return err
	}
	if !freed {
		return ErrSpotNotOccupied
	}
	return nil
}
