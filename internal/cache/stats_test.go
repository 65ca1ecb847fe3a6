package cache

import (
	"context"
	"testing"
	"time"

	"flock/api/internal/store"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*StatsCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	statsCache, err := NewStatsCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create stats cache: %v", err)
	}
	return statsCache, s
}

func TestNewStatsCache(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	statsCache, err := NewStatsCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewStatsCache failed: %v", err)
	}
	defer statsCache.Close()

	if err := statsCache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSetAndGetGroups(t *testing.T) {
	statsCache, s := setupTestCache(t, time.Minute)
	defer statsCache.Close()
	defer s.Close()

	ctx := context.Background()
	groups := []store.StatGroup{
		{Key: "Pastor Kim", SessionsCount: 4, AvgPlannedMinutes: 30, AvgActualMinutes: 38, AvgDeltaMinutes: 8},
		{Key: "Guest", SessionsCount: 1, AvgPlannedMinutes: 25, AvgActualMinutes: 25, AvgDeltaMinutes: 0},
	}

	key := "tenant-a|presenter|||"
	statsCache.SetGroups(ctx, key, groups)

	got, ok := statsCache.GetGroups(ctx, key)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}
	if got[0].Key != "Pastor Kim" || got[0].AvgDeltaMinutes != 8 {
		t.Errorf("unexpected first group: %+v", got[0])
	}
}

func TestGetGroupsMiss(t *testing.T) {
	statsCache, s := setupTestCache(t, time.Minute)
	defer statsCache.Close()
	defer s.Close()

	if _, ok := statsCache.GetGroups(context.Background(), "never-set"); ok {
		t.Error("expected cache miss, got hit")
	}
}

func TestGroupsExpireAfterTTL(t *testing.T) {
	statsCache, s := setupTestCache(t, time.Second)
	defer statsCache.Close()
	defer s.Close()

	ctx := context.Background()
	statsCache.SetGroups(ctx, "short-lived", []store.StatGroup{{Key: "09:00"}})

	if _, ok := statsCache.GetGroups(ctx, "short-lived"); !ok {
		t.Fatal("expected cache hit before TTL")
	}

	s.FastForward(2 * time.Second)

	if _, ok := statsCache.GetGroups(ctx, "short-lived"); ok {
		t.Error("expected cache miss after TTL")
	}
}

func TestKeyIncludesEveryDimension(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	filters := store.StatFilters{Series: "Advent", Presenter: "Pastor Kim", TimeSlot: "09:00"}

	base := Key("tenant-a", "presenter", filters, from, to)

	variants := []string{
		Key("tenant-b", "presenter", filters, from, to),
		Key("tenant-a", "series", filters, from, to),
		Key("tenant-a", "presenter", store.StatFilters{Series: "Lent", Presenter: "Pastor Kim", TimeSlot: "09:00"}, from, to),
		Key("tenant-a", "presenter", filters, from.AddDate(0, 0, 1), to),
		Key("tenant-a", "presenter", filters, from, to.AddDate(0, 0, 1)),
	}
	for i, variant := range variants {
		if variant == base {
			t.Errorf("variant %d collides with base key %q", i, base)
		}
	}
}
