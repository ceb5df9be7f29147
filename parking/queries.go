package parking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

// Listing bounds for ListReservations.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	MaxReportDays   = 365
)

// ListLots returns the lots matching f with their spot counts. Inactive lots
// are left out unless f.IncludeInactive is set.
func (e *Engine) ListLots(ctx context.Context, f models.LotFilter) ([]*models.LotSummary, error) {
	var out []*models.LotSummary
	err := e.read(ctx, "list_lots", func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = repo.NewLotRepo(q).Summaries(ctx, f)
		return err
	})
	return out, err
}

// GetLot returns one lot with its spot counts.
func (e *Engine) GetLot(ctx context.Context, lotID int64) (*models.LotSummary, error) {
	var out *models.LotSummary
	err := e.read(ctx, "get_lot", func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = repo.NewLotRepo(q).Summary(ctx, lotID)
		return notFound(err, ErrLotNotFound)
	}, attribute.Int64("lot_id", lotID))
	return out, err
}

// ListSpots returns the spots of a lot ordered by number, optionally only
// those in status.
func (e *Engine) ListSpots(ctx context.Context, lotID int64, status *models.SpotStatus) ([]*models.Spot, error) {
	if status != nil && !status.Valid() {
		return nil, wrap("list_spots", invalid("status", "must be free or occupied"))
	}
	var out []*models.Spot
	err := e.read(ctx, "list_spots", func(ctx context.Context, q db.Querier) error {
		if _, err := repo.NewLotRepo(q).GetByID(ctx, lotID); err != nil {
			return notFound(err, ErrLotNotFound)
		}
		var err error
		out, err = repo.NewSpotRepo(q).ListByLot(ctx, lotID, status)
		return err
	}, attribute.Int64("lot_id", lotID))
	return out, err
}

// ListReservations returns reservations newest first. Regular users only
// ever see their own; asking for someone else's is ErrForbidden.
func (e *Engine) ListReservations(ctx context.Context, actor models.Actor, f models.ReservationFilter) ([]*models.Reservation, error) {
	const op = "list_reservations"

	if !actor.IsAdmin() {
		if f.UserID != nil && *f.UserID != actor.UserID {
			return nil, wrap(op, ErrForbidden)
		}
		own := actor.UserID
		f.UserID = &own
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, wrap(op, invalid("status", "unknown reservation status"))
	}
	switch {
	case f.Limit < 0 || f.Limit > MaxPageSize:
		return nil, wrap(op, invalid("limit", "must be between 1 and 500"))
	case f.Offset < 0:
		return nil, wrap(op, invalid("offset", "must not be negative"))
	case f.Limit == 0:
		f.Limit = DefaultPageSize
	}

	var out []*models.Reservation
	err := e.read(ctx, op, func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = repo.NewReservationRepo(q).List(ctx, f)
		return err
	})
	return out, err
}

// GetReservation returns a reservation its owner or an admin may see.
func (e *Engine) GetReservation(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	var out *models.Reservation
	err := e.read(ctx, "get_reservation", func(ctx context.Context, q db.Querier) error {
		res, err := repo.NewReservationRepo(q).GetByID(ctx, id)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if !actor.CanAccess(res.UserID) {
			return ErrForbidden
		}
		out = res
		return nil
	}, attribute.Int64("reservation_id", id))
	return out, err
}

// ActiveReservation returns the user's active reservation or
// ErrReservationNotFound.
func (e *Engine) ActiveReservation(ctx context.Context, userID int64) (*models.Reservation, error) {
	var out *models.Reservation
	err := e.read(ctx, "active_reservation", func(ctx context.Context, q db.Querier) error {
		var err error
		out, err = repo.NewReservationRepo(q).ActiveByUser(ctx, userID)
		return notFound(err, ErrReservationNotFound)
	}, attribute.Int64("user_id", userID))
	return out, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Aggregates
// ─────────────────────────────────────────────────────────────────────────────

// DashboardStats takes a system-wide snapshot inside one transaction so the
// counts agree with each other.
func (e *Engine) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var out models.DashboardStats
	err := e.withTx(ctx, "dashboard_stats", func(ctx context.Context, tx *db.Tx) error {
		lots, err := repo.NewLotRepo(tx).Count(ctx)
		if err != nil {
			return err
		}
		spots, err := repo.NewSpotRepo(tx).CountAll(ctx)
		if err != nil {
			return err
		}
		regular, err := repo.NewUserRepo(tx).CountByRole(ctx, models.RoleRegular)
		if err != nil {
			return err
		}
		active, err := repo.NewReservationRepo(tx).CountActive(ctx)
		if err != nil {
			return err
		}
		out = models.DashboardStats{
			TotalLots:          int(lots),
			TotalSpots:         spots.Total(),
			OccupiedSpots:      spots.Occupied,
			AvailableSpots:     spots.Free,
			RegularUsers:       int(regular),
			ActiveReservations: int(active),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UserHistory totals the user's completed reservations.
func (e *Engine) UserHistory(ctx context.Context, userID int64) (*models.UserHistory, error) {
	out := &models.UserHistory{UserID: userID}
	err := e.read(ctx, "user_history", func(ctx context.Context, q db.Querier) error {
		if _, err := repo.NewUserRepo(q).GetByID(ctx, userID); err != nil {
			return notFound(err, ErrUserNotFound)
		}
		completed, err := repo.NewReservationRepo(q).CompletedByUser(ctx, userID)
		if err != nil {
			return err
		}
		for _, r := range completed {
			out.TotalBookings++
			if r.Cost != nil {
				out.TotalSpent += *r.Cost
			}
			out.TotalHours += r.Duration(e.now()).Hours()
		}
		return nil
	}, attribute.Int64("user_id", userID))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DailyRevenue returns one entry per UTC day for the last days days,
// today first. Days without completed reservations report zero.
func (e *Engine) DailyRevenue(ctx context.Context, days int) ([]models.DailyRevenue, error) {
	const op = "daily_revenue"

	if days < 1 || days > MaxReportDays {
		return nil, wrap(op, invalid("days", "must be between 1 and 365"))
	}
	today := e.now().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	out := make([]models.DailyRevenue, days)
	for i := range out {
		out[i].Day = today.AddDate(0, 0, -i)
	}
	err := e.read(ctx, op, func(ctx context.Context, q db.Querier) error {
		completed, err := repo.NewReservationRepo(q).CompletedSince(ctx, since)
		if err != nil {
			return err
		}
		for _, r := range completed {
			if r.EndTime == nil || r.Cost == nil {
				continue
			}
			i := int(today.Sub(r.EndTime.Truncate(24*time.Hour)) / (24 * time.Hour))
			if i < 0 || i >= days {
				continue
			}
			out[i].Revenue += *r.Cost
			out[i].Reservations++
		}
		return nil
	}, attribute.Int("days", days))
	if err != nil {
		return nil, err
	}
	return out, nil
}
