package parking_test

import (
	"context"
	"testing"
	"time"

	"github.com/Skryldev/parkd/models"
	"github.com/Skryldev/parkd/parking"
)

func TestListLots_Summaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.lot(4, 10)
	b := f.lot(2, 10)
	f.open(f.user(), a.ID)

	inactive := false
	if _, err := f.eng.UpdateLot(ctx, f.admin, models.UpdateLotParams{ID: b.ID, Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	active, err := f.eng.ListLots(ctx, models.LotFilter{})
	if err != nil {
		t.Fatalf("list lots: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("expected only the active lot, got %+v", active)
	}
	s := active[0]
	if s.TotalSpots != 4 || s.OccupiedSpots != 1 || s.AvailableSpots != 3 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.OccupancyPercent() != 25 {
		t.Fatalf("expected 25%% occupancy, got %v", s.OccupancyPercent())
	}

	all, err := f.eng.ListLots(ctx, models.LotFilter{IncludeInactive: true})
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 lots with inactive included, got %d (%v)", len(all), err)
	}

	_, err = f.eng.GetLot(ctx, 999999)
	expectKind(t, err, parking.ErrLotNotFound, parking.KindNotFound)
}

func TestListLots_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mk := func(name, pincode string) *models.Lot {
		lot, err := f.eng.CreateLot(ctx, f.admin, models.CreateLotParams{
			Name: name, Address: "Ring Rd", Pincode: pincode, PricePerHour: 20, Capacity: 1,
		})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return lot
	}
	mall := mk("City Mall", "560001")
	airport := mk("Airport Terminal", "560300")
	mk("Stadium", "411001")

	cases := map[string][]int64{
		"mall":   {mall.ID},
		"  MALL": {mall.ID},
		"5600":   {airport.ID, mall.ID},
		"560300": {airport.ID},
		"%":      nil,
		"harbor": nil,
	}
	for q, want := range cases {
		got, err := f.eng.ListLots(ctx, models.LotFilter{Search: q})
		if err != nil {
			t.Fatalf("search %q: %v", q, err)
		}
		if len(got) != len(want) {
			t.Fatalf("search %q: expected %d lots, got %+v", q, len(want), got)
		}
		for i, l := range got {
			if l.ID != want[i] {
				t.Fatalf("search %q: lot %d is %d, want %d", q, i, l.ID, want[i])
			}
		}
	}

	inactive := false
	if _, err := f.eng.UpdateLot(ctx, f.admin, models.UpdateLotParams{ID: mall.ID, Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if got, _ := f.eng.ListLots(ctx, models.LotFilter{Search: "mall"}); len(got) != 0 {
		t.Fatalf("inactive lot returned without IncludeInactive: %+v", got)
	}
	if got, _ := f.eng.ListLots(ctx, models.LotFilter{Search: "mall", IncludeInactive: true}); len(got) != 1 {
		t.Fatalf("expected inactive match with IncludeInactive, got %+v", got)
	}
}

func TestListSpots_ByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(3, 10)
	f.open(f.user(), lot.ID)

	occupied := models.SpotOccupied
	spots, err := f.eng.ListSpots(ctx, lot.ID, &occupied)
	if err != nil {
		t.Fatalf("list occupied: %v", err)
	}
	if len(spots) != 1 || spots[0].Number != 1 {
		t.Fatalf("expected spot 1 occupied, got %+v", spots)
	}

	free := models.SpotFree
	spots, _ = f.eng.ListSpots(ctx, lot.ID, &free)
	if len(spots) != 2 {
		t.Fatalf("expected 2 free spots, got %d", len(spots))
	}

	bogus := models.SpotStatus("reserved")
	_, err = f.eng.ListSpots(ctx, lot.ID, &bogus)
	expectKind(t, err, nil, parking.KindValidation)

	_, err = f.eng.ListSpots(ctx, 999999, nil)
	expectKind(t, err, parking.ErrLotNotFound, parking.KindNotFound)
}

func TestListReservations_Scoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(5, 10)
	alice := f.user()
	bob := f.user()

	first := f.open(alice, lot.ID)
	f.clock.Advance(time.Hour)
	if _, err := f.eng.CloseReservation(ctx, first.ID, alice); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.clock.Advance(time.Minute)
	second := f.open(alice, lot.ID)
	f.open(bob, lot.ID)

	mine, err := f.eng.ListReservations(ctx, alice, models.ReservationFilter{})
	if err != nil {
		t.Fatalf("list own: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != second.ID || mine[1].ID != first.ID {
		t.Fatalf("expected alice's two reservations newest first, got %+v", mine)
	}

	_, err = f.eng.ListReservations(ctx, alice, models.ReservationFilter{UserID: &bob.UserID})
	expectKind(t, err, parking.ErrForbidden, parking.KindForbidden)

	all, err := f.eng.ListReservations(ctx, f.admin, models.ReservationFilter{})
	if err != nil || len(all) != 3 {
		t.Fatalf("admin should see 3 reservations, got %d (%v)", len(all), err)
	}

	active := models.ReservationActive
	onlyActive, _ := f.eng.ListReservations(ctx, f.admin, models.ReservationFilter{Status: &active})
	if len(onlyActive) != 2 {
		t.Fatalf("expected 2 active reservations, got %d", len(onlyActive))
	}

	page, _ := f.eng.ListReservations(ctx, f.admin, models.ReservationFilter{Limit: 1, Offset: 1})
	if len(page) != 1 {
		t.Fatalf("expected one row on page, got %d", len(page))
	}

	_, err = f.eng.ListReservations(ctx, f.admin, models.ReservationFilter{Limit: parking.MaxPageSize + 1})
	expectKind(t, err, nil, parking.KindValidation)

	_, err = f.eng.GetReservation(ctx, bob, first.ID)
	expectKind(t, err, parking.ErrForbidden, parking.KindForbidden)
	got, err := f.eng.GetReservation(ctx, alice, first.ID)
	if err != nil || got.Status != models.ReservationCompleted {
		t.Fatalf("get own reservation: %+v, %v", got, err)
	}

	current, err := f.eng.ActiveReservation(ctx, alice.UserID)
	if err != nil || current.ID != second.ID {
		t.Fatalf("active reservation: %+v, %v", current, err)
	}
	_, err = f.eng.ActiveReservation(ctx, f.admin.UserID)
	expectKind(t, err, parking.ErrReservationNotFound, parking.KindNotFound)
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.lot(3, 10)
	f.lot(2, 10)
	f.open(f.user(), a.ID)
	f.user()

	stats, err := f.eng.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := models.DashboardStats{
		TotalLots:          2,
		TotalSpots:         5,
		OccupiedSpots:      1,
		AvailableSpots:     4,
		RegularUsers:       2,
		ActiveReservations: 1,
	}
	if *stats != want {
		t.Fatalf("expected %+v, got %+v", want, *stats)
	}
}

func TestUserHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(2, 40)
	u := f.user()

	for _, d := range []time.Duration{30 * time.Minute, 3 * time.Hour} {
		res := f.open(u, lot.ID)
		f.clock.Advance(d)
		if _, err := f.eng.CloseReservation(ctx, res.ID, u); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	f.open(u, lot.ID)

	h, err := f.eng.UserHistory(ctx, u.UserID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if h.TotalBookings != 2 || h.TotalSpent != 160 || h.TotalHours != 3.5 {
		t.Fatalf("unexpected history: %+v", h)
	}

	_, err = f.eng.UserHistory(ctx, 999999)
	expectKind(t, err, parking.ErrUserNotFound, parking.KindNotFound)
}

func TestDailyRevenue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lot := f.lot(2, 10)
	u := f.user()

	// Day 1: one 2h reservation. Day 3: one 1h reservation and a
	// cancellation, which earns nothing.
	res := f.open(u, lot.ID)
	f.clock.Advance(2 * time.Hour)
	if _, err := f.eng.CloseReservation(ctx, res.ID, u); err != nil {
		t.Fatalf("close: %v", err)
	}
	f.clock.Advance(48 * time.Hour)
	res = f.open(u, lot.ID)
	f.clock.Advance(time.Hour)
	if _, err := f.eng.CloseReservation(ctx, res.ID, u); err != nil {
		t.Fatalf("close: %v", err)
	}
	res = f.open(u, lot.ID)
	if _, err := f.eng.CancelReservation(ctx, res.ID, f.admin); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	report, err := f.eng.DailyRevenue(ctx, 4)
	if err != nil {
		t.Fatalf("revenue: %v", err)
	}
	if len(report) != 4 {
		t.Fatalf("expected 4 days, got %d", len(report))
	}
	today := t0.Add(51 * time.Hour).Truncate(24 * time.Hour)
	wantRevenue := []float64{10, 0, 20, 0}
	for i, day := range report {
		if !day.Day.Equal(today.AddDate(0, 0, -i)) {
			t.Fatalf("day %d: expected %v, got %v", i, today.AddDate(0, 0, -i), day.Day)
		}
		if day.Revenue != wantRevenue[i] {
			t.Fatalf("day %d: expected revenue %v, got %v", i, wantRevenue[i], day.Revenue)
		}
	}

	_, err = f.eng.DailyRevenue(ctx, 0)
	expectKind(t, err, nil, parking.KindValidation)
}
