package parking

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

const maxVehicleNumberLen = 20

// ─────────────────────────────────────────────────────────────────────────────
// Open
// ─────────────────────────────────────────────────────────────────────────────

// OpenReservation claims a spot in lotID for userID and records an active
// reservation starting now. The claim and the reservation commit together
// or not at all.
func (e *Engine) OpenReservation(ctx context.Context, userID, lotID int64, vehicleNumber string) (*models.Reservation, error) {
	const op = "open_reservation"

	plate, err := normalizeVehicleNumber(vehicleNumber)
	if err != nil {
		err = wrap(op, err)
		e.obs.ReservationRejected(KindOf(err))
		return nil, err
	}

	var opened *models.Reservation
	err = e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		if _, err := repo.NewUserRepo(tx).GetByID(ctx, userID); err != nil {
			return notFound(err, ErrUserNotFound)
		}

		reservations := repo.NewReservationRepo(tx)
		held, err := reservations.CountActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if held > 0 {
			return ErrDuplicateActiveReservation
		}

		spot, err := e.alloc.Allocate(ctx, tx, lotID)
		if err != nil {
			return err
		}

		opened, err = reservations.Insert(ctx, models.CreateReservationParams{
			SpotID:        spot.ID,
			LotID:         lotID,
			SpotNumber:    spot.Number,
			UserID:        userID,
			VehicleNumber: plate,
			StartTime:     e.now(),
		})
		if db.IsDuplicateKey(err) {
			return ErrDuplicateActiveReservation
		}
		return err
	}, attribute.Int64("user_id", userID), attribute.Int64("lot_id", lotID))
	if err != nil {
		e.obs.ReservationRejected(KindOf(err))
		e.log.WarnContext(ctx, "reservation rejected",
			"user_id", userID, "lot_id", lotID, "kind", KindOf(err).String(), "error", err)
		return nil, err
	}

	e.obs.ReservationOpened(lotID)
	e.log.InfoContext(ctx, "reservation opened",
		"reservation_id", opened.ID, "user_id", userID, "lot_id", lotID,
		"spot_id", *opened.SpotID, "spot_number", opened.SpotNumber)
	return opened, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Close
// ─────────────────────────────────────────────────────────────────────────────

// CloseReservation completes an active reservation, bills it at the lot's
// price and frees its spot. Only the owner or an admin may close it.
func (e *Engine) CloseReservation(ctx context.Context, reservationID int64, actor models.Actor) (*models.Reservation, error) {
	const op = "close_reservation"

	closed, err := e.finish(ctx, op, reservationID, actor, models.ReservationCompleted)
	if err != nil {
		return nil, err
	}
	e.obs.ReservationClosed(closed.Status, *closed.Cost)
	e.log.InfoContext(ctx, "reservation completed",
		"reservation_id", closed.ID, "user_id", closed.UserID, "lot_id", derefID(closed.LotID),
		"spot_id", derefID(closed.SpotID), "cost", *closed.Cost)
	return closed, nil
}

// CancelReservation ends an active reservation without billing it and
// frees its spot. Admin only.
func (e *Engine) CancelReservation(ctx context.Context, reservationID int64, actor models.Actor) (*models.Reservation, error) {
	const op = "cancel_reservation"

	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	cancelled, err := e.finish(ctx, op, reservationID, actor, models.ReservationCancelled)
	if err != nil {
		return nil, err
	}
	e.obs.ReservationClosed(cancelled.Status, 0)
	e.log.InfoContext(ctx, "reservation cancelled",
		"reservation_id", cancelled.ID, "user_id", cancelled.UserID, "lot_id", derefID(cancelled.LotID),
		"spot_id", derefID(cancelled.SpotID), "admin_id", actor.UserID)
	return cancelled, nil
}

// finish moves an active reservation to the terminal status to and releases
// its spot in the same transaction.
func (e *Engine) finish(ctx context.Context, op string, id int64, actor models.Actor, to models.ReservationStatus) (*models.Reservation, error) {
	var out *models.Reservation
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		reservations := repo.NewReservationRepo(tx)
		res, err := reservations.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err, ErrReservationNotFound)
		}
		if !actor.CanAccess(res.UserID) {
			return ErrForbidden
		}
		if !res.IsActive() {
			return ErrReservationNotActive
		}
		if res.SpotID == nil || res.LotID == nil {
			return fmt.Errorf("active reservation %d has no spot", id)
		}

		end := e.now()
		var moved bool
		switch to {
		case models.ReservationCompleted:
			lot, err := repo.NewLotRepo(tx).GetByID(ctx, *res.LotID)
			if err != nil {
				return notFound(err, ErrLotNotFound)
			}
			cost := Bill(res.StartTime, end, lot.PricePerHour, e.minBillable)
			moved, err = reservations.Complete(ctx, id, end, cost)
			if err != nil {
				return err
			}
		case models.ReservationCancelled:
			moved, err = reservations.Cancel(ctx, id, end)
			if err != nil {
				return err
			}
		}
		if !moved {
			return ErrReservationNotActive
		}

		if err := e.alloc.Release(ctx, tx, *res.SpotID); err != nil {
			return err
		}
		out, err = reservations.GetByID(ctx, id)
		return err
	}, attribute.Int64("reservation_id", id), attribute.Int64("actor_id", actor.UserID))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// normalizeVehicleNumber trims and upper-cases a plate. Letters, digits,
// spaces and hyphens are accepted.
func normalizeVehicleNumber(s string) (string, error) {
	plate := strings.ToUpper(strings.TrimSpace(s))
	if plate == "" {
		return "", invalid("vehicle_number", "must not be empty")
	}
	if len([]rune(plate)) > maxVehicleNumberLen {
		return "", invalid("vehicle_number", fmt.Sprintf("must be at most %d characters", maxVehicleNumberLen))
	}
	for _, r := range plate {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != ' ' && r != '-' {
			return "", invalid("vehicle_number", fmt.Sprintf("unexpected character %q", r))
		}
	}
	return plate, nil
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
