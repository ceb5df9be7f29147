package models

import "time"

// Lot represents a row in the "parking_lots" table.
type Lot struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Address      string    `json:"address"`
	Pincode      string    `json:"pincode"`
	PricePerHour float64   `json:"price_per_hour"`
	Capacity     int       `json:"capacity"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateLotParams holds the fields required to create a lot. Capacity spots
// are created with it.
type CreateLotParams struct {
	Name         string  `json:"name"`
	Address      string  `json:"address"`
	Pincode      string  `json:"pincode"`
	PricePerHour float64 `json:"price_per_hour"`
	Capacity     int     `json:"capacity"`
}

// LotFilter narrows a lot listing. Search matches a case-insensitive
// substring of the name or the pincode; empty matches every lot.
type LotFilter struct {
	IncludeInactive bool
	Search          string
}

// UpdateLotParams is a partial update. A non-nil Capacity resizes the lot.
type UpdateLotParams struct {
	ID           int64    `json:"-"`
	Name         *string  `json:"name,omitempty"`
	Address      *string  `json:"address,omitempty"`
	Pincode      *string  `json:"pincode,omitempty"`
	PricePerHour *float64 `json:"price_per_hour,omitempty"`
	Active       *bool    `json:"active,omitempty"`
	Capacity     *int     `json:"capacity,omitempty"`
}

// LotSummary is a lot together with its live spot counts.
type LotSummary struct {
	Lot
	TotalSpots     int `json:"total_spots"`
	AvailableSpots int `json:"available_spots"`
	OccupiedSpots  int `json:"occupied_spots"`
}

// OccupancyPercent returns occupied spots as a percentage of all spots,
// rounded to one decimal. An empty lot is 0% occupied.
func (s LotSummary) OccupancyPercent() float64 {
	if s.TotalSpots == 0 {
		return 0
	}
	p := float64(s.OccupiedSpots) * 100 / float64(s.TotalSpots)
	return float64(int64(p*10+0.5)) / 10
}
