package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Skryldev/parkd/db"
	"github.com/Skryldev/parkd/models"
)

// LotRepository defines persistence for parking lots and their occupancy
// summaries.
type LotRepository interface {
	Insert(ctx context.Context, params models.CreateLotParams) (*models.Lot, error)
	GetByID(ctx context.Context, id int64) (*models.Lot, error)
	// GetForUpdate reads the lot with a row lock where the dialect supports
	// one, serialising capacity changes on the same lot.
	GetForUpdate(ctx context.Context, id int64) (*models.Lot, error)
	List(ctx context.Context, includeInactive bool) ([]*models.Lot, error)
	Update(ctx context.Context, params models.UpdateLotParams) (*models.Lot, error)
	SetCapacity(ctx context.Context, id int64, capacity int) error
	Delete(ctx context.Context, id int64) error
	Summaries(ctx context.Context, filter models.LotFilter) ([]*models.LotSummary, error)
	Summary(ctx context.Context, id int64) (*models.LotSummary, error)
	Count(ctx context.Context) (int64, error)
}

type lotRepo struct {
	q db.Querier
}

// NewLotRepo returns a LotRepository backed by q.
func NewLotRepo(q db.Querier) LotRepository {
	return &lotRepo{q: q}
}

const lotColumns = `pl.id, pl.name, pl.address, pl.pincode, pl.price_per_hour, pl.capacity, pl.active, pl.created_at, pl.updated_at`

const (
	sqlInsertLot = `
		INSERT INTO parking_lots (name, address, pincode, price_per_hour, capacity, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlGetLotByID = `
		SELECT ` + lotColumns + `
		FROM   parking_lots pl
		WHERE  pl.id = ?`

	sqlListLots = `
		SELECT ` + lotColumns + `
		FROM   parking_lots pl
		WHERE  (? OR pl.active = ?)
		ORDER  BY pl.name, pl.id`

	sqlSetLotCapacity = `
		UPDATE parking_lots SET capacity = ?, updated_at = ? WHERE id = ?`

	sqlDeleteLot = `
		DELETE FROM parking_lots WHERE id = ?`

	sqlCountLots = `
		SELECT COUNT(*) FROM parking_lots`

	sqlLotFilter = `(? OR pl.active = ?)
		AND    (LOWER(pl.name) LIKE ? ESCAPE '!' OR LOWER(pl.pincode) LIKE ? ESCAPE '!')`

	// Occupancy is derived from the spot rows, never stored.
	sqlLotSummaries = `
		SELECT ` + lotColumns + `,
		       COUNT(ps.id),
		       COALESCE(SUM(CASE WHEN ps.status = 'free' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN ps.status = 'occupied' THEN 1 ELSE 0 END), 0)
		FROM   parking_lots pl
		LEFT   JOIN parking_spots ps ON ps.lot_id = pl.id
		WHERE  %s
		GROUP  BY ` + lotColumns + `
		ORDER  BY pl.name, pl.id`
)

// Insert creates the lot row only; spots are created by SpotRepository.
func (r *lotRepo) Insert(ctx context.Context, params models.CreateLotParams) (*models.Lot, error) {
	now := time.Now().UTC()
	id, err := db.InsertID(ctx, r.q, sqlInsertLot,
		params.Name, params.Address, params.Pincode, params.PricePerHour,
		params.Capacity, true, now, now)
	if err != nil {
		return nil, fmt.Errorf("repo/lot: insert: %w", err)
	}
	return r.GetByID(ctx, id)
}

// GetByID returns db.ErrNotFound when no lot matches.
func (r *lotRepo) GetByID(ctx context.Context, id int64) (*models.Lot, error) {
	return scanLotFields(r.q.QueryRow(ctx, sqlGetLotByID, id).Scan)
}

func (r *lotRepo) GetForUpdate(ctx context.Context, id int64) (*models.Lot, error) {
	return scanLotFields(r.q.QueryRow(ctx, sqlGetLotByID+r.q.Dialect().LockingRead(), id).Scan)
}

// List returns lots ordered by name. Inactive lots are skipped unless
// includeInactive is set.
func (r *lotRepo) List(ctx context.Context, includeInactive bool) ([]*models.Lot, error) {
	rows, err := r.q.Query(ctx, sqlListLots, includeInactive, true)
	if err != nil {
		return nil, fmt.Errorf("repo/lot: list: %w", err)
	}
	defer rows.Close()

	var lots []*models.Lot
	for rows.Next() {
		l, err := scanLotFields(rows.Scan)
		if err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// Update applies the descriptive fields of params. Capacity is ignored here:
// resizing also changes spot rows and goes through SetCapacity.
func (r *lotRepo) Update(ctx context.Context, params models.UpdateLotParams) (*models.Lot, error) {
	var p patch
	setIf(&p, "name", params.Name)
	setIf(&p, "address", params.Address)
	setIf(&p, "pincode", params.Pincode)
	setIf(&p, "price_per_hour", params.PricePerHour)
	setIf(&p, "active", params.Active)
	if !p.empty() {
		if err := p.apply(ctx, r.q, "parking_lots", params.ID); err != nil {
			return nil, fmt.Errorf("repo/lot: update: %w", err)
		}
	}
	return r.GetByID(ctx, params.ID)
}

func (r *lotRepo) SetCapacity(ctx context.Context, id int64, capacity int) error {
	n, err := db.RowsAffected(ctx, r.q, sqlSetLotCapacity, capacity, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repo/lot: set capacity: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Delete removes the lot row. Spots and reservation references must be
// gone already.
func (r *lotRepo) Delete(ctx context.Context, id int64) error {
	n, err := db.RowsAffected(ctx, r.q, sqlDeleteLot, id)
	if err != nil {
		return fmt.Errorf("repo/lot: delete: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

// Summaries returns the lots matching filter with their total, free and
// occupied spot counts.
func (r *lotRepo) Summaries(ctx context.Context, filter models.LotFilter) ([]*models.LotSummary, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(filter.Search))) + "%"
	rows, err := r.q.Query(ctx, fmt.Sprintf(sqlLotSummaries, sqlLotFilter),
		filter.IncludeInactive, true, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("repo/lot: summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.LotSummary
	for rows.Next() {
		s, err := scanLotSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Summary returns one lot with its spot counts, or db.ErrNotFound.
func (r *lotRepo) Summary(ctx context.Context, id int64) (*models.LotSummary, error) {
	return scanLotSummary(r.q.QueryRow(ctx, fmt.Sprintf(sqlLotSummaries, "pl.id = ?"), id).Scan)
}

func (r *lotRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, sqlCountLots).Scan(&n); err != nil {
		return 0, fmt.Errorf("repo/lot: count: %w", err)
	}
	return n, nil
}

func scanLotFields(scan func(dest ...any) error) (*models.Lot, error) {
	l := &models.Lot{}
	if err := scan(lotDest(l)...); err != nil {
		return nil, fmt.Errorf("repo/lot: %w", err)
	}
	return l, nil
}

func scanLotSummary(scan func(dest ...any) error) (*models.LotSummary, error) {
	s := &models.LotSummary{}
	dest := append(lotDest(&s.Lot), &s.TotalSpots, &s.AvailableSpots, &s.OccupiedSpots)
	if err := scan(dest...); err != nil {
		return nil, fmt.Errorf("repo/lot: %w", err)
	}
	return s, nil
}

func lotDest(l *models.Lot) []any {
	return []any{&l.ID, &l.Name, &l.Address, &l.Pincode, &l.PricePerHour,
		&l.Capacity, &l.Active, &l.CreatedAt, &l.UpdatedAt}
}

var _ LotRepository = (*lotRepo)(nil)

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// escapeLike makes s match literally inside a LIKE pattern using '!' as the
// escape character, which all three dialects accept without quoting rules.
func escapeLike(s string) string { return likeEscaper.Replace(s) }
