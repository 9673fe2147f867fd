package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crystaldolphin/whatscast/internal/broadcast"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "data", "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func int64p(v int64) *int64 { return &v }

// seed creates two countries, two events and four clients:
//
//	1 alice  country A  events X
//	2 bob    country A  events X, Y
//	3 carol  country B  events Y
//	4 dave   no country no events
func seed(t *testing.T, s *Store) (countryA, countryB, eventX, eventY int64) {
	t.Helper()
	ctx := context.Background()
	var err error
	if countryA, err = s.AddCountry(ctx, "Indonesia"); err != nil {
		t.Fatal(err)
	}
	if countryB, err = s.AddCountry(ctx, "Malaysia"); err != nil {
		t.Fatal(err)
	}
	if eventX, err = s.AddEvent(ctx, "Expo"); err != nil {
		t.Fatal(err)
	}
	if eventY, err = s.AddEvent(ctx, "Summit"); err != nil {
		t.Fatal(err)
	}
	clients := []Client{
		{Name: "alice", Phone: "6281", CountryID: &countryA, EventIDs: []int64{eventX}},
		{Name: "bob", Phone: "6282", CountryID: &countryA, EventIDs: []int64{eventX, eventY}},
		{Name: "carol", Phone: "6011", CountryID: &countryB, EventIDs: []int64{eventY}},
		{Name: "dave", Phone: "4400"},
	}
	for _, c := range clients {
		if _, err := s.SaveClient(ctx, c); err != nil {
			t.Fatalf("save client %s: %v", c.Name, err)
		}
	}
	return
}

func names(rs []broadcast.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ─── Open ─────────────────────────────────────────────────────────────────

func TestOpen_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.db")
	s, err := Open(context.Background(), DriverSQLite, path, nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(context.Background(), DriverSQLite, path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + migrationTable).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 recorded migration, got %d", n)
	}
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "x", nil); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &Store{dialect: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}

// ─── Resolve ──────────────────────────────────────────────────────────────

func TestResolve_Filters(t *testing.T) {
	s := openTestStore(t)
	countryA, countryB, eventX, eventY := seed(t, s)

	cases := []struct {
		name    string
		filters broadcast.Filters
		want    []string
	}{
		{"all", broadcast.Filters{}, []string{"alice", "bob", "carol", "dave"}},
		{"country A", broadcast.Filters{CountryID: &countryA}, []string{"alice", "bob"}},
		{"country B", broadcast.Filters{CountryID: &countryB}, []string{"carol"}},
		{"event Y", broadcast.Filters{EventID: &eventY}, []string{"bob", "carol"}},
		{"country A and event X", broadcast.Filters{CountryID: &countryA, EventID: &eventX}, []string{"alice", "bob"}},
		{"country B and event X", broadcast.Filters{CountryID: &countryB, EventID: &eventX}, nil},
		{"unknown event", broadcast.Filters{EventID: int64p(999)}, nil},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := s.Resolve(context.Background(), c.filters)
			if err != nil {
				t.Fatal(err)
			}
			if !equal(names(got), c.want) {
				t.Errorf("got %v, want %v", names(got), c.want)
			}
		})
	}
}

func TestSaveClient_UpsertsByPhone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ev, _ := s.AddEvent(ctx, "Expo")

	id1, err := s.SaveClient(ctx, Client{Name: "old", Phone: "6281", EventIDs: []int64{ev}})
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.SaveClient(ctx, Client{Name: "new", Phone: "6281"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("expected same id on upsert, got %d and %d", id1, id2)
	}
	all, _ := s.Resolve(ctx, broadcast.Filters{})
	if len(all) != 1 || all[0].Name != "new" {
		t.Errorf("clients = %+v", all)
	}
	byEvent, _ := s.Resolve(ctx, broadcast.Filters{EventID: &ev})
	if len(byEvent) != 0 {
		t.Errorf("expected event membership replaced, got %+v", byEvent)
	}
}

func TestSaveClient_RequiresPhone(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.SaveClient(context.Background(), Client{Name: "x", Phone: "  "}); err == nil {
		t.Fatal("expected error for empty phone")
	}
}

// ─── Summaries ────────────────────────────────────────────────────────────

func TestSummaries_SaveGetList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := s.SaveSummary(ctx, broadcast.Summary{
		Message: "first", TotalRecipients: 3, Sent: 2, Failed: 1,
		Filters:     broadcast.Filters{CountryID: int64p(62)},
		InitiatorID: int64p(7), SentAt: base,
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SaveSummary(ctx, broadcast.Summary{
		Message: "second", Cancelled: true, SentAt: base.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == 0 || second.ID == first.ID {
		t.Fatalf("ids: %d, %d", first.ID, second.ID)
	}

	got, err := s.GetSummary(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Message != "first" || got.Sent != 2 || got.Failed != 1 || got.TotalRecipients != 3 {
		t.Errorf("summary = %+v", got)
	}
	if got.CountryID == nil || *got.CountryID != 62 || got.EventID != nil {
		t.Errorf("filters = %+v", got.Filters)
	}
	if got.InitiatorID == nil || *got.InitiatorID != 7 {
		t.Errorf("initiator = %v", got.InitiatorID)
	}
	if !got.SentAt.Equal(base) {
		t.Errorf("sent_at = %s", got.SentAt)
	}

	list, err := s.ListSummaries(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Message != "second" || !list[0].Cancelled {
		t.Errorf("expected newest first, got %+v", list)
	}

	page, err := s.ListSummaries(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].Message != "first" {
		t.Errorf("page = %+v", page)
	}
}

func TestSummaries_CarryFilterTitles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	countryA, _, _, eventY := seed(t, s)

	saved, err := s.SaveSummary(ctx, broadcast.Summary{
		Message: "promo",
		Filters: broadcast.Filters{CountryID: int64p(countryA), EventID: int64p(eventY)},
		SentAt:  time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	// A filter pointing at a row that no longer exists keeps its id only.
	if _, err := s.SaveSummary(ctx, broadcast.Summary{
		Message: "stale", Filters: broadcast.Filters{CountryID: int64p(999)}, SentAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSummary(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Country == nil || got.Country.ID != countryA || got.Country.Title != "Indonesia" {
		t.Errorf("country = %+v", got.Country)
	}
	if got.Event == nil || got.Event.ID != eventY || got.Event.Title != "Summit" {
		t.Errorf("event = %+v", got.Event)
	}

	list, err := s.ListSummaries(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Country != nil || list[0].CountryID == nil || *list[0].CountryID != 999 {
		t.Errorf("stale filter = %+v / %+v", list[0].Filters, list[0].Country)
	}
	if list[1].Country == nil || list[1].Country.Title != "Indonesia" || list[1].Event == nil {
		t.Errorf("listed summary lost titles: %+v", list[1])
	}
}

func TestGetSummary_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSummary(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSummaries_EmptyIsNotNil(t *testing.T) {
	s := openTestStore(t)
	list, err := s.ListSummaries(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("expected empty slice, got %#v", list)
	}
}
