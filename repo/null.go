package repo

import (
	"database/sql"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Nullable columns map to pointer fields
// ─────────────────────────────────────────────────────────────────────────────

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func float64Ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
