package parking

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/repo"
)

// ─────────────────────────────────────────────────────────────────────────────
// Lots
// ─────────────────────────────────────────────────────────────────────────────

// CreateLot stores a lot and its spots 1..Capacity, all free.
func (e *Engine) CreateLot(ctx context.Context, actor models.Actor, p models.CreateLotParams) (*models.Lot, error) {
	const op = "create_lot"

	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Address = strings.TrimSpace(p.Address)
	p.Pincode = strings.TrimSpace(p.Pincode)
	if err := e.validateLot(p.Name, p.Address, p.Pincode, p.PricePerHour, p.Capacity); err != nil {
		return nil, wrap(op, err)
	}

	var lot *models.Lot
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		var err error
		lot, err = repo.NewLotRepo(tx).Insert(ctx, p)
		if err != nil {
			return err
		}
		return repo.NewSpotRepo(tx).InsertRange(ctx, lot.ID, 1, p.Capacity)
	}, attribute.Int("capacity", p.Capacity))
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "lot created", "lot_id", lot.ID, "capacity", lot.Capacity, "admin_id", actor.UserID)
	return lot, nil
}

// UpdateLot applies a partial update. A non-nil Capacity resizes the lot in
// the same transaction, following the ResizeLot rules.
func (e *Engine) UpdateLot(ctx context.Context, actor models.Actor, p models.UpdateLotParams) (*models.Lot, error) {
	const op = "update_lot"

	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	if err := e.normalizeLotUpdate(&p); err != nil {
		return nil, wrap(op, err)
	}

	var lot *models.Lot
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		lots := repo.NewLotRepo(tx)
		current, err := lots.GetForUpdate(ctx, p.ID)
		if err != nil {
			return notFound(err, ErrLotNotFound)
		}
		if _, err := lots.Update(ctx, p); err != nil {
			return err
		}
		if p.Capacity != nil {
			if err := e.resize(ctx, tx, current.ID, *p.Capacity); err != nil {
				return err
			}
		}
		lot, err = lots.GetByID(ctx, p.ID)
		return err
	}, attribute.Int64("lot_id", p.ID))
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "lot updated", "lot_id", lot.ID, "capacity", lot.Capacity, "active", lot.Active, "admin_id", actor.UserID)
	return lot, nil
}

// ResizeLot changes a lot's capacity. Growing appends free spots numbered
// after the current highest one. Shrinking deletes the highest-numbered
// free spots and fails with ErrCapacityBelowOccupancy when more spots are
// occupied than newCapacity allows.
func (e *Engine) ResizeLot(ctx context.Context, actor models.Actor, lotID int64, newCapacity int) (*models.Lot, error) {
	const op = "resize_lot"

	if err := requireAdmin(op, actor); err != nil {
		return nil, err
	}
	if err := e.validateCapacity(newCapacity); err != nil {
		return nil, wrap(op, err)
	}

	var lot *models.Lot
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		lots := repo.NewLotRepo(tx)
		if _, err := lots.GetForUpdate(ctx, lotID); err != nil {
			return notFound(err, ErrLotNotFound)
		}
		if err := e.resize(ctx, tx, lotID, newCapacity); err != nil {
			return err
		}
		var err error
		lot, err = lots.GetByID(ctx, lotID)
		return err
	}, attribute.Int64("lot_id", lotID), attribute.Int("capacity", newCapacity))
	if err != nil {
		return nil, err
	}

	e.log.InfoContext(ctx, "lot resized", "lot_id", lotID, "capacity", newCapacity, "admin_id", actor.UserID)
	return lot, nil
}

// resize brings the spot rows of lotID to exactly newCapacity and records
// the new capacity. It must run inside the caller's transaction.
func (e *Engine) resize(ctx context.Context, q db.Querier, lotID int64, newCapacity int) error {
	spots := repo.NewSpotRepo(q)
	counts, err := spots.CountByStatus(ctx, lotID)
	if err != nil {
		return err
	}
	total := counts.Total()

	switch {
	case newCapacity > total:
		highest, err := spots.HighestNumber(ctx, lotID)
		if err != nil {
			return err
		}
		if err := spots.InsertRange(ctx, lotID, highest+1, highest+newCapacity-total); err != nil {
			return err
		}

	case newCapacity < total:
		if counts.Occupied > newCapacity {
			return ErrCapacityBelowOccupancy
		}
		excess := total - newCapacity
		ids, err := spots.FreeIDsFromTop(ctx, lotID, excess)
		if err != nil {
			return err
		}
		if len(ids) < excess {
			return ErrAllocationConflict
		}
		if _, err := repo.NewReservationRepo(q).DetachSpots(ctx, ids); err != nil {
			return err
		}
		deleted, err := spots.DeleteByIDs(ctx, ids)
		if err != nil {
			return err
		}
		// A spot claimed since FreeIDsFromTop is skipped by the delete.
		if int(deleted) != excess {
			return ErrAllocationConflict
		}
	}

	return repo.NewLotRepo(q).SetCapacity(ctx, lotID, newCapacity)
}

// DeleteLot removes a lot with no occupied spots together with its spots.
// Past reservations in the lot are kept with their spot and lot cleared.
func (e *Engine) DeleteLot(ctx context.Context, actor models.Actor, lotID int64) error {
	const op = "delete_lot"

	if err := requireAdmin(op, actor); err != nil {
		return err
	}
	var detached, removed int64
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		lots := repo.NewLotRepo(tx)
		if _, err := lots.GetForUpdate(ctx, lotID); err != nil {
			return notFound(err, ErrLotNotFound)
		}
		spots := repo.NewSpotRepo(tx)
		counts, err := spots.CountByStatus(ctx, lotID)
		if err != nil {
			return err
		}
		if counts.Occupied > 0 {
			return ErrLotHasOccupiedSpots
		}

		if detached, err = repo.NewReservationRepo(tx).DetachLot(ctx, lotID); err != nil {
			return err
		}
		if removed, err = spots.DeleteByLot(ctx, lotID); err != nil {
			return err
		}
		err = lots.Delete(ctx, lotID)
		// A reservation opened concurrently still references the lot.
		if db.IsForeignKeyViolation(err) {
			return ErrLotHasOccupiedSpots
		}
		return err
	}, attribute.Int64("lot_id", lotID))
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "lot deleted",
		"lot_id", lotID, "spots_removed", removed, "reservations_detached", detached, "admin_id", actor.UserID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// DeleteUser removes a user and their reservation history. A user holding
// an active reservation cannot be deleted.
func (e *Engine) DeleteUser(ctx context.Context, actor models.Actor, userID int64) error {
	const op = "delete_user"

	if err := requireAdmin(op, actor); err != nil {
		return err
	}
	if actor.UserID == userID {
		return wrap(op, invalid("user_id", "admins cannot delete themselves"))
	}
	err := e.withTx(ctx, op, func(ctx context.Context, tx *db.Tx) error {
		users := repo.NewUserRepo(tx)
		if _, err := users.GetByID(ctx, userID); err != nil {
			return notFound(err, ErrUserNotFound)
		}
		reservations := repo.NewReservationRepo(tx)
		active, err := reservations.CountActiveByUser(ctx, userID)
		if err != nil {
			return err
		}
		if active > 0 {
			return ErrUserHasActiveReservation
		}
		if _, err := reservations.DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return users.Delete(ctx, userID)
	}, attribute.Int64("user_id", userID))
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "user deleted", "user_id", userID, "admin_id", actor.UserID)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

func (e *Engine) validateLot(name, address, pincode string, price float64, capacity int) error {
	switch {
	case name == "":
		return invalid("name", "must not be empty")
	case address == "":
		return invalid("address", "must not be empty")
	case pincode == "":
		return invalid("pincode", "must not be empty")
	}
	if err := validatePrice(price); err != nil {
		return err
	}
	return e.validateCapacity(capacity)
}

func (e *Engine) validateCapacity(capacity int) error {
	if capacity < 1 || capacity > e.maxSpots {
		return invalid("capacity", fmt.Sprintf("must be between 1 and %d", e.maxSpots))
	}
	return nil
}

func validatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return invalid("price_per_hour", "must be a non-negative number")
	}
	return nil
}

func (e *Engine) normalizeLotUpdate(p *models.UpdateLotParams) error {
	trimmed := func(field string, v *string) error {
		if v == nil {
			return nil
		}
		*v = strings.TrimSpace(*v)
		if *v == "" {
			return invalid(field, "must not be empty")
		}
		return nil
	}
	if err := trimmed("name", p.Name); err != nil {
		return err
	}
	if err := trimmed("address", p.Address); err != nil {
		return err
	}
	if err := trimmed("pincode", p.Pincode); err != nil {
		return err
	}
	if p.PricePerHour != nil {
		if err := validatePrice(*p.PricePerHour); err != nil {
			return err
		}
	}
	if p.Capacity != nil {
		return e.validateCapacity(*p.Capacity)
	}
	return nil
}
