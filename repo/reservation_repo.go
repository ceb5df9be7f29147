package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
)

// ReservationRepository defines persistence for reservations. Complete and
// Cancel only move a reservation out of the active state; they report false
// when it was no longer active.
type ReservationRepository interface {
	Insert(ctx context.Context, params models.CreateReservationParams) (*models.Reservation, error)
	GetByID(ctx context.Context, id int64) (*models.Reservation, error)
	// GetForUpdate reads the reservation with a row lock where the dialect
	// supports one.
	GetForUpdate(ctx context.Context, id int64) (*models.Reservation, error)
	List(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error)
	ActiveByUser(ctx context.Context, userID int64) (*models.Reservation, error)
	CountActiveByUser(ctx context.Context, userID int64) (int64, error)
	CountActiveBySpot(ctx context.Context, spotID int64) (int64, error)
	CountActive(ctx context.Context) (int64, error)
	Complete(ctx context.Context, id int64, end time.Time, cost float64) (bool, error)
	Cancel(ctx context.Context, id int64, end time.Time) (bool, error)
	// DetachSpots clears spot_id and lot_id on the history of the given
	// spots, keeping the spot_number snapshot.
	DetachSpots(ctx context.Context, spotIDs []int64) (int64, error)
	DetachLot(ctx context.Context, lotID int64) (int64, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	CompletedByUser(ctx context.Context, userID int64) ([]*models.Reservation, error)
	CompletedSince(ctx context.Context, since time.Time) ([]*models.Reservation, error)
}

type reservationRepo struct {
	q db.Querier
}

// NewReservationRepo returns a ReservationRepository backed by q.
func NewReservationRepo(q db.Querier) ReservationRepository {
	return &reservationRepo{q: q}
}

const reservationColumns = `id, spot_id, lot_id, spot_number, user_id, vehicle_number, start_time, end_time, cost, status`

const (
	sqlInsertReservation = `
		INSERT INTO reservations (spot_id, lot_id, spot_number, user_id, vehicle_number, start_time, status)
		VALUES (?, ?, ?, ?, ?, ?, 'active')`

	sqlGetReservationByID = `
		SELECT ` + reservationColumns + `
		FROM   reservations
		WHERE  id = ?`

	sqlActiveReservationByUser = `
		SELECT ` + reservationColumns + `
		FROM   reservations
		WHERE  user_id = ? AND status = 'active'`

	sqlCountActiveByUser = `
		SELECT COUNT(*) FROM reservations WHERE user_id = ? AND status = 'active'`

	sqlCountActiveBySpot = `
		SELECT COUNT(*) FROM reservations WHERE spot_id = ? AND status = 'active'`

	sqlCountActive = `
		SELECT COUNT(*) FROM reservations WHERE status = 'active'`

	sqlCompleteReservation = `
		UPDATE reservations
		SET    status = 'completed', end_time = ?, cost = ?
		WHERE  id = ? AND status = 'active'`

	sqlCancelReservation = `
		UPDATE reservations
		SET    status = 'cancelled', end_time = ?, cost = NULL
		WHERE  id = ? AND status = 'active'`

	sqlDetachLot = `
		UPDATE reservations SET spot_id = NULL, lot_id = NULL
		WHERE  lot_id = ? AND status <> 'active'`

	sqlDeleteReservationsByUser = `
		DELETE FROM reservations WHERE user_id = ?`

	sqlCompletedByUser = `
		SELECT ` + reservationColumns + `
		FROM   reservations
		WHERE  user_id = ? AND status = 'completed'
		ORDER  BY start_time DESC, id DESC`

	sqlCompletedSince = `
		SELECT ` + reservationColumns + `
		FROM   reservations
		WHERE  status = 'completed' AND end_time >= ?
		ORDER  BY end_time DESC, id DESC`
)

// Insert stores a new active reservation. A second active reservation for
// the same user or spot fails the partial unique indexes with
// db.ErrDuplicateKey.
func (r *reservationRepo) Insert(ctx context.Context, p models.CreateReservationParams) (*models.Reservation, error) {
	id, err := db.InsertID(ctx, r.q, sqlInsertReservation,
		p.SpotID, p.LotID, p.SpotNumber, p.UserID, p.VehicleNumber, p.StartTime.UTC())
	if err != nil {
		return nil, fmt.Errorf("repo/reservation: insert: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *reservationRepo) GetByID(ctx context.Context, id int64) (*models.Reservation, error) {
	return scanReservationFields(r.q.QueryRow(ctx, sqlGetReservationByID, id).Scan)
}

func (r *reservationRepo) GetForUpdate(ctx context.Context, id int64) (*models.Reservation, error) {
	return scanReservationFields(r.q.QueryRow(ctx, sqlGetReservationByID+r.q.Dialect().LockingRead(), id).Scan)
}

// List returns reservations matching filter, newest first.
func (r *reservationRepo) List(ctx context.Context, f models.ReservationFilter) ([]*models.Reservation, error) {
	where := make([]string, 0, 3)
	args := make([]any, 0, 5)
	if f.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *f.UserID)
	}
	if f.LotID != nil {
		where = append(where, "lot_id = ?")
		args = append(args, *f.LotID)
	}
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}

	var b strings.Builder
	b.WriteString("SELECT " + reservationColumns + " FROM reservations")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY start_time DESC, id DESC")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, f.Limit, max(f.Offset, 0))
	}

	return r.queryReservations(ctx, b.String(), args...)
}

// ActiveByUser returns the user's active reservation or db.ErrNotFound.
func (r *reservationRepo) ActiveByUser(ctx context.Context, userID int64) (*models.Reservation, error) {
	return scanReservationFields(r.q.QueryRow(ctx, sqlActiveReservationByUser, userID).Scan)
}

func (r *reservationRepo) CountActiveByUser(ctx context.Context, userID int64) (int64, error) {
	return r.count(ctx, sqlCountActiveByUser, userID)
}

func (r *reservationRepo) CountActiveBySpot(ctx context.Context, spotID int64) (int64, error) {
	return r.count(ctx, sqlCountActiveBySpot, spotID)
}

func (r *reservationRepo) CountActive(ctx context.Context) (int64, error) {
	return r.count(ctx, sqlCountActive)
}

func (r *reservationRepo) Complete(ctx context.Context, id int64, end time.Time, cost float64) (bool, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlCompleteReservation, end.UTC(), cost, id)
	if err != nil {
		return false, fmt.Errorf("repo/reservation: complete: %w", err)
	}
	return n == 1, nil
}

func (r *reservationRepo) Cancel(ctx context.Context, id int64, end time.Time) (bool, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlCancelReservation, end.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("repo/reservation: cancel: %w", err)
	}
	return n == 1, nil
}

func (r *reservationRepo) DetachSpots(ctx context.Context, spotIDs []int64) (int64, error) {
	if len(spotIDs) == 0 {
		return 0, nil
	}
	query := `UPDATE reservations SET spot_id = NULL, lot_id = NULL
		WHERE status <> 'active' AND spot_id IN (` + placeholders(len(spotIDs)) + `)`
	n, err := db.RowsAffected(ctx, r.q, query, int64Args(spotIDs)...)
	if err != nil {
		return 0, fmt.Errorf("repo/reservation: detach spots: %w", err)
	}
	return n, nil
}

func (r *reservationRepo) DetachLot(ctx context.Context, lotID int64) (int64, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlDetachLot, lotID)
	if err != nil {
		return 0, fmt.Errorf("repo/reservation: detach lot: %w", err)
	}
	return n, nil
}

func (r *reservationRepo) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlDeleteReservationsByUser, userID)
	if err != nil {
		return 0, fmt.Errorf("repo/reservation: delete by user: %w", err)
	}
	return n, nil
}

func (r *reservationRepo) CompletedByUser(ctx context.Context, userID int64) ([]*models.Reservation, error) {
	return r.queryReservations(ctx, sqlCompletedByUser, userID)
}

// CompletedSince returns reservations completed at or after since.
func (r *reservationRepo) CompletedSince(ctx context.Context, since time.Time) ([]*models.Reservation, error) {
	return r.queryReservations(ctx, sqlCompletedSince, since.UTC())
}

func (r *reservationRepo) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo/reservation: count: %w", err)
	}
	return n, nil
}

func (r *reservationRepo) queryReservations(ctx context.Context, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo/reservation: query: %w", err)
	}
	defer rows.Close()

	var out []*models.Reservation
	for rows.Next() {
		res, err := scanReservationFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func scanReservationFields(scan func(dest ...any) error) (*models.Reservation, error) {
	var (
		res     models.Reservation
		spotID  sql.NullInt64
		lotID   sql.NullInt64
		endTime sql.NullTime
		cost    sql.NullFloat64
		status  string
	)
	err := scan(&res.ID, &spotID, &lotID, &res.SpotNumber, &res.UserID,
		&res.VehicleNumber, &res.StartTime, &endTime, &cost, &status)
	if err != nil {
		return nil, fmt.Errorf("repo/reservation: %w", err)
	}
	res.StartTime = res.StartTime.UTC()
	res.SpotID = int64Ptr(spotID)
	res.LotID = int64Ptr(lotID)
	res.EndTime = timePtr(endTime)
	res.Cost = float64Ptr(cost)
	res.Status = models.ReservationStatus(status)
	return &res, nil
}

var _ ReservationRepository = (*reservationRepo)(nil)
