package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/voyagen/streamvault/internal/fingerprint"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

var defaultKeys = []string{"name", "url", "tvg_id"}

func tuple(name, url, group string) models.StreamTuple {
	return models.StreamTuple{Name: name, URL: url, GroupName: group}
}

func TestUpsertBatchCreatesNewStreams(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	now := time.Now().UTC()

	tuples := []models.StreamTuple{
		tuple("ESPN", "http://host/1", "Sports"),
		tuple("Sky Sports", "http://host/2", "Sports"),
	}
	res, err := UpsertBatch(context.Background(), m, 1, tuples, groups, defaultKeys, now)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 || res.Touched != 0 {
		t.Fatalf("got %+v, want 2 created", res)
	}
	if m.StreamCount() != 2 {
		t.Fatalf("stored %d streams, want 2", m.StreamCount())
	}
}

func TestUpsertBatchRerunOnlyTouches(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)

	tuples := []models.StreamTuple{tuple("ESPN", "http://host/1", "Sports")}
	if _, err := UpsertBatch(context.Background(), m, 1, tuples, groups, defaultKeys, first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	res, err := UpsertBatch(context.Background(), m, 1, tuples, groups, defaultKeys, second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Touched != 1 {
		t.Fatalf("got %+v, want 1 touched", res)
	}

	fp := fingerprint.Compute("ESPN", "http://host/1", "", defaultKeys)
	s := m.GetStreamByFingerprint(fp)
	if s == nil {
		t.Fatal("stream disappeared")
	}
	if !s.LastSeen.Equal(second) {
		t.Errorf("last_seen = %v, want %v", s.LastSeen, second)
	}
	if !s.UpdatedAt.Equal(first) {
		t.Errorf("updated_at = %v, want untouched %v", s.UpdatedAt, first)
	}
}

func TestUpsertBatchUpdatesChangedContent(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	in := tuple("ESPN", "http://host/1", "Sports")
	if _, err := UpsertBatch(context.Background(), m, 1, []models.StreamTuple{in}, groups, defaultKeys, first); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Logo is not part of the default fingerprint, so this is the same
	// logical stream with changed content.
	in.LogoURL = "http://host/logo.png"
	res, err := UpsertBatch(context.Background(), m, 1, []models.StreamTuple{in}, groups, defaultKeys, second)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 || res.Touched != 0 {
		t.Fatalf("got %+v, want 1 updated", res)
	}

	fp := fingerprint.Compute("ESPN", "http://host/1", "", defaultKeys)
	s := m.GetStreamByFingerprint(fp)
	if s.LogoURL != "http://host/logo.png" {
		t.Errorf("logo not applied: %q", s.LogoURL)
	}
	if !s.UpdatedAt.Equal(second) {
		t.Errorf("updated_at = %v, want %v", s.UpdatedAt, second)
	}
	if m.StreamCount() != 1 {
		t.Fatalf("stored %d streams, want 1", m.StreamCount())
	}
}

func TestUpsertBatchDropsFilteredGroups(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	now := time.Now().UTC()

	tuples := []models.StreamTuple{
		tuple("ESPN", "http://host/1", "Sports"),
		tuple("CNN", "http://host/2", "News"), // News not enabled
	}
	res, err := UpsertBatch(context.Background(), m, 1, tuples, groups, defaultKeys, now)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Created != 1 || res.Filtered != 1 {
		t.Fatalf("got %+v, want 1 created, 1 filtered", res)
	}
}

func TestUpsertBatchSkipsMalformedTuples(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	now := time.Now().UTC()

	tuples := []models.StreamTuple{
		tuple("", "http://host/1", "Sports"),
		tuple("ESPN", "", "Sports"),
		tuple("ESPN", "http://host/1", "Sports"),
	}
	res, err := UpsertBatch(context.Background(), m, 1, tuples, groups, defaultKeys, now)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Malformed != 2 || res.Created != 1 {
		t.Fatalf("got %+v, want 2 malformed, 1 created", res)
	}
}

func TestUpsertBatchInBatchDuplicateLastWins(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{"Sports": m.AddGroup("Sports")}
	now := time.Now().UTC()

	a := tuple("ESPN", "http://host/1", "Sports")
	b := a
	b.LogoURL = "http://host/final.png"
	res, err := UpsertBatch(context.Background(), m, 1, []models.StreamTuple{a, b}, groups, defaultKeys, now)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("got %+v, want 1 created", res)
	}
	fp := fingerprint.Compute("ESPN", "http://host/1", "", defaultKeys)
	if s := m.GetStreamByFingerprint(fp); s.LogoURL != "http://host/final.png" {
		t.Errorf("logo = %q, want last occurrence to win", s.LogoURL)
	}
}

func TestUpsertBatchDefaultGroupForUngrouped(t *testing.T) {
	m := store.NewMemory()
	groups := map[string]int64{
		"Sports":                m.AddGroup("Sports"),
		models.DefaultGroupName: m.AddGroup(models.DefaultGroupName),
	}
	now := time.Now().UTC()

	res, err := UpsertBatch(context.Background(), m, 1, []models.StreamTuple{
		tuple("Mystery", "http://host/9", ""),
	}, groups, defaultKeys, now)
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("got %+v, want 1 created", res)
	}
	fp := fingerprint.Compute("Mystery", "http://host/9", "", defaultKeys)
	s := m.GetStreamByFingerprint(fp)
	if s.GroupID != groups[models.DefaultGroupName] {
		t.Errorf("group = %d, want default group %d", s.GroupID, groups[models.DefaultGroupName])
	}
}
