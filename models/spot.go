package models

import (
	"fmt"
	"time"
)

// SpotStatus is the occupancy state of a single spot.
type SpotStatus string

const (
	SpotFree     SpotStatus = "free"
	SpotOccupied SpotStatus = "occupied"
)

// Valid reports whether s is a known spot status.
func (s SpotStatus) Valid() bool { return s == SpotFree || s == SpotOccupied }

// ParseSpotStatus converts s into a SpotStatus.
func ParseSpotStatus(s string) (SpotStatus, error) {
	st := SpotStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("models: unknown spot status %q", s)
	}
	return st, nil
}

// Spot represents a row in the "parking_spots" table. Number is unique
// within its lot.
type Spot struct {
	ID        int64      `json:"id"`
	LotID     int64      `json:"lot_id"`
	Number    int        `json:"spot_number"`
	Status    SpotStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}
