package models

import (
	"fmt"
	"time"
)

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Valid reports whether s is a known reservation status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case ReservationActive, ReservationCompleted, ReservationCancelled:
		return true
	}
	return false
}

// ParseReservationStatus converts s into a ReservationStatus.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	st := ReservationStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("models: unknown reservation status %q", s)
	}
	return st, nil
}

// Reservation represents a row in the "reservations" table.
//
// SpotID and LotID become nil once the spot or lot is deleted; SpotNumber
// keeps the number the spot had at booking time. EndTime and Cost are nil
// while the reservation is active, and Cost stays nil for a cancellation.
type Reservation struct {
	ID            int64             `json:"id"`
	SpotID        *int64            `json:"spot_id"`
	LotID         *int64            `json:"lot_id"`
	SpotNumber    int               `json:"spot_number"`
	UserID        int64             `json:"user_id"`
	VehicleNumber string            `json:"vehicle_number"`
	StartTime     time.Time         `json:"start_time"`
	EndTime       *time.Time        `json:"end_time"`
	Cost          *float64          `json:"cost"`
	Status        ReservationStatus `json:"status"`
}

// IsActive reports whether the reservation still holds its spot.
func (r *Reservation) IsActive() bool { return r.Status == ReservationActive }

// Duration returns the parked time, measured up to now while active.
func (r *Reservation) Duration(now time.Time) time.Duration {
	end := now
	if r.EndTime != nil {
		end = *r.EndTime
	}
	if end.Before(r.StartTime) {
		return 0
	}
	return end.Sub(r.StartTime)
}

// CreateReservationParams holds the fields of a new active reservation.
type CreateReservationParams struct {
	SpotID        int64
	LotID         int64
	SpotNumber    int
	UserID        int64
	VehicleNumber string
	StartTime     time.Time
}

// ReservationFilter narrows a reservation listing. Nil fields match all.
type ReservationFilter struct {
	UserID *int64
	LotID  *int64
	Status *ReservationStatus
	Limit  int
	Offset int
}
