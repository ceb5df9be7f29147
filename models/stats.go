package models

import "time"

// DashboardStats is the system-wide snapshot shown to administrators.
type DashboardStats struct {
	TotalLots          int `json:"total_lots"`
	TotalSpots         int `json:"total_spots"`
	OccupiedSpots      int `json:"occupied_spots"`
	AvailableSpots     int `json:"available_spots"`
	RegularUsers       int `json:"regular_users"`
	ActiveReservations int `json:"active_reservations"`
}

// UserHistory aggregates a user's completed reservations.
type UserHistory struct {
	UserID        int64   `json:"user_id"`
	TotalBookings int     `json:"total_bookings"`
	TotalSpent    float64 `json:"total_spent"`
	TotalHours    float64 `json:"total_hours"`
}

// DailyRevenue is the billed total of reservations completed on one UTC day.
type DailyRevenue struct {
	Day          time.Time `json:"day"`
	Revenue      float64   `json:"revenue"`
	Reservations int       `json:"reservations"`
}
