package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
)

// SpotCounts is the occupancy breakdown of one lot or of all lots.
type SpotCounts struct {
	Free     int
	Occupied int
}

// Total is the number of spot rows counted.
func (c SpotCounts) Total() int { return c.Free + c.Occupied }

// SpotRepository defines persistence for parking spots. Status changes are
// compare-and-swap updates: they report whether this caller made the change.
type SpotRepository interface {
	InsertRange(ctx context.Context, lotID int64, from, to int) error
	GetByID(ctx context.Context, id int64) (*models.Spot, error)
	ListByLot(ctx context.Context, lotID int64, status *models.SpotStatus) ([]*models.Spot, error)
	// FirstFree returns the free spot with the lowest number, or
	// db.ErrNotFound when the lot is full.
	FirstFree(ctx context.Context, lotID int64) (*models.Spot, error)
	MarkOccupied(ctx context.Context, id int64) (bool, error)
	MarkFree(ctx context.Context, id int64) (bool, error)
	CountByStatus(ctx context.Context, lotID int64) (SpotCounts, error)
	CountAll(ctx context.Context) (SpotCounts, error)
	HighestNumber(ctx context.Context, lotID int64) (int, error)
	// FreeIDsFromTop returns up to n free spot ids, highest number first.
	FreeIDsFromTop(ctx context.Context, lotID int64, n int) ([]int64, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	DeleteByLot(ctx context.Context, lotID int64) (int64, error)
}

type spotRepo struct {
	q db.Querier
}

// NewSpotRepo returns a SpotRepository backed by q.
func NewSpotRepo(q db.Querier) SpotRepository {
	return &spotRepo{q: q}
}

const spotColumns = `id, lot_id, spot_number, status, created_at`

const (
	sqlInsertSpot = `
		INSERT INTO parking_spots (lot_id, spot_number, status, created_at)
		VALUES (?, ?, 'free', ?)`

	sqlGetSpotByID = `
		SELECT ` + spotColumns + `
		FROM   parking_spots
		WHERE  id = ?`

	sqlListSpotsByLot = `
		SELECT ` + spotColumns + `
		FROM   parking_spots
		WHERE  lot_id = ?
		ORDER  BY spot_number`

	sqlListSpotsByLotStatus = `
		SELECT ` + spotColumns + `
		FROM   parking_spots
		WHERE  lot_id = ? AND status = ?
		ORDER  BY spot_number`

	sqlFirstFreeSpot = `
		SELECT ` + spotColumns + `
		FROM   parking_spots
		WHERE  lot_id = ? AND status = 'free'
		ORDER  BY spot_number
		LIMIT  1`

	sqlMarkSpotOccupied = `
		UPDATE parking_spots SET status = 'occupied' WHERE id = ? AND status = 'free'`

	sqlMarkSpotFree = `
		UPDATE parking_spots SET status = 'free' WHERE id = ? AND status = 'occupied'`

	sqlCountSpotsByStatus = `
		SELECT COALESCE(SUM(CASE WHEN status = 'free' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'occupied' THEN 1 ELSE 0 END), 0)
		FROM   parking_spots
		WHERE  lot_id = ?`

	sqlCountAllSpots = `
		SELECT COALESCE(SUM(CASE WHEN status = 'free' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'occupied' THEN 1 ELSE 0 END), 0)
		FROM   parking_spots`

	sqlHighestSpotNumber = `
		SELECT COALESCE(MAX(spot_number), 0) FROM parking_spots WHERE lot_id = ?`

	sqlFreeSpotIDsFromTop = `
		SELECT id
		FROM   parking_spots
		WHERE  lot_id = ? AND status = 'free'
		ORDER  BY spot_number DESC
		LIMIT  ?`

	sqlDeleteSpotsByLot = `
		DELETE FROM parking_spots WHERE lot_id = ?`
)

// InsertRange creates free spots numbered from..to inclusive with one
// prepared statement. An empty range is a no-op.
func (r *spotRepo) InsertRange(ctx context.Context, lotID int64, from, to int) error {
	if to < from {
		return nil
	}
	numbers := make([]int, 0, to-from+1)
	for n := from; n <= to; n++ {
		numbers = append(numbers, n)
	}
	now := time.Now().UTC()
	err := db.BatchExec(ctx, r.q, sqlInsertSpot, numbers, func(n int) []any {
		return []any{lotID, n, now}
	})
	if err != nil {
		return fmt.Errorf("repo/spot: insert range %d..%d: %w", from, to, err)
	}
	return nil
}

func (r *spotRepo) GetByID(ctx context.Context, id int64) (*models.Spot, error) {
	return scanSpotFields(r.q.QueryRow(ctx, sqlGetSpotByID, id).Scan)
}

// ListByLot returns the lot's spots by number, optionally only those in
// status.
func (r *spotRepo) ListByLot(ctx context.Context, lotID int64, status *models.SpotStatus) ([]*models.Spot, error) {
	query, args := sqlListSpotsByLot, []any{lotID}
	if status != nil {
		query, args = sqlListSpotsByLotStatus, []any{lotID, string(*status)}
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repo/spot: list: %w", err)
	}
	defer rows.Close()

	var spots []*models.Spot
	for rows.Next() {
		s, err := scanSpotFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		spots = append(spots, s)
	}
	return spots, rows.Err()
}

func (r *spotRepo) FirstFree(ctx context.Context, lotID int64) (*models.Spot, error) {
	return scanSpotFields(r.q.QueryRow(ctx, sqlFirstFreeSpot+r.q.Dialect().LockingRead(), lotID).Scan)
}

// MarkOccupied flips a free spot to occupied. false means the spot was not
// free any more.
func (r *spotRepo) MarkOccupied(ctx context.Context, id int64) (bool, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlMarkSpotOccupied, id)
	if err != nil {
		return false, fmt.Errorf("repo/spot: mark occupied: %w", err)
	}
	return n == 1, nil
}

// MarkFree flips an occupied spot to free. false means it was already free.
func (r *spotRepo) MarkFree(ctx context.Context, id int64) (bool, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlMarkSpotFree, id)
	if err != nil {
		return false, fmt.Errorf("repo/spot: mark free: %w", err)
	}
	return n == 1, nil
}

func (r *spotRepo) CountByStatus(ctx context.Context, lotID int64) (SpotCounts, error) {
	var c SpotCounts
	if err := r.q.QueryRow(ctx, sqlCountSpotsByStatus, lotID).Scan(&c.Free, &c.Occupied); err != nil {
		return SpotCounts{}, fmt.Errorf("repo/spot: count: %w", err)
	}
	return c, nil
}

func (r *spotRepo) CountAll(ctx context.Context) (SpotCounts, error) {
	var c SpotCounts
	if err := r.q.QueryRow(ctx, sqlCountAllSpots).Scan(&c.Free, &c.Occupied); err != nil {
		return SpotCounts{}, fmt.Errorf("repo/spot: count all: %w", err)
	}
	return c, nil
}

// HighestNumber returns the largest spot number in the lot, 0 when empty.
func (r *spotRepo) HighestNumber(ctx context.Context, lotID int64) (int, error) {
	var n int
	if err := r.q.QueryRow(ctx, sqlHighestSpotNumber, lotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo/spot: highest number: %w", err)
	}
	return n, nil
}

func (r *spotRepo) FreeIDsFromTop(ctx context.Context, lotID int64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.q.Query(ctx, sqlFreeSpotIDsFromTop, lotID, n)
	if err != nil {
		return nil, fmt.Errorf("repo/spot: free ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("repo/spot: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByIDs removes the given spots and reports how many were removed.
// Only free spots are deleted; an occupied one is left in place.
func (r *spotRepo) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := `DELETE FROM parking_spots WHERE status = 'free' AND id IN (` + placeholders(len(ids)) + `)`
	n, err := db.RowsAffected(ctx, r.q, query, int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("repo/spot: delete: %w", err)
	}
	return n, nil
}

func (r *spotRepo) DeleteByLot(ctx context.Context, lotID int64) (int64, error) {
	n, err := db.RowsAffected(ctx, r.q, sqlDeleteSpotsByLot, lotID)
	if err != nil {
		return 0, fmt.Errorf("repo/spot: delete by lot: %w", err)
	}
	return n, nil
}

func scanSpotFields(scan func(dest ...any) error) (*models.Spot, error) {
	s := &models.Spot{}
	var status string
	if err := scan(&s.ID, &s.LotID, &s.Number, &status, &s.CreatedAt); err != nil {
		return nil, fmt.Errorf("repo/spot: %w", err)
	}
	s.Status = models.SpotStatus(status)
	return s, nil
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

var _ SpotRepository = (*spotRepo)(nil)
