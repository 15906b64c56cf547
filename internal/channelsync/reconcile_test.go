package channelsync

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

var scanWindow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testReconciler(m *store.Memory) *Reconciler {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return &Reconciler{Store: m, Log: logrus.NewEntry(l)}
}

// seedStream inserts an active stream and returns its id.
func seedStream(t *testing.T, m *store.Memory, accountID, groupID int64, name, tvgID string) int64 {
	t.Helper()
	fp := fmt.Sprintf("fp-%d-%s", groupID, name)
	_, err := m.InsertStreams(context.Background(), []models.Stream{{
		Fingerprint: fp,
		AccountID:   accountID,
		GroupID:     groupID,
		Name:        name,
		URL:         "http://host/" + name,
		TVGID:       tvgID,
		LastSeen:    scanWindow,
		UpdatedAt:   scanWindow,
	}})
	if err != nil {
		t.Fatalf("seed stream %q: %v", name, err)
	}
	return m.GetStreamByFingerprint(fp).ID
}

func autoChannels(t *testing.T, m *store.Memory, accountID, groupID int64) map[int64]*models.Channel {
	t.Helper()
	chans, err := m.AutoChannelsByStream(context.Background(), accountID, groupID)
	if err != nil {
		t.Fatalf("AutoChannelsByStream: %v", err)
	}
	return chans
}

func TestReconcileCreatesChannelsSkippingReservedNumbers(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1, IsActive: true}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{Enabled: true, StartNumber: 100})

	// A manually created channel already holds 101.
	m.AddChannel(models.Channel{Number: 101, SourceName: "Manual"})

	for i := 1; i <= 5; i++ {
		seedStream(t, m, 1, gid, fmt.Sprintf("Stream %d", i), "")
	}

	res, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 5 {
		t.Fatalf("created = %d, want 5", res.Created)
	}

	var numbers []int
	for _, ch := range autoChannels(t, m, 1, gid) {
		numbers = append(numbers, ch.Number)
	}
	sort.Ints(numbers)
	want := []int{100, 102, 103, 104, 105}
	if len(numbers) != len(want) {
		t.Fatalf("numbers = %v, want %v", numbers, want)
	}
	for i := range want {
		if numbers[i] != want[i] {
			t.Fatalf("numbers = %v, want %v", numbers, want)
		}
	}
}

func TestReconcilePreservesUserOverrides(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{Enabled: true, StartNumber: 1})
	streamID := seedStream(t, m, 1, gid, "ESPN", "")

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	ch := autoChannels(t, m, 1, gid)[streamID]
	if ch == nil {
		t.Fatal("channel not created")
	}
	m.SetUserName(ch.ID, "My ESPN")

	// Provider renames the stream upstream.
	s := m.GetStreamByFingerprint(fmt.Sprintf("fp-%d-%s", gid, "ESPN"))
	s.Name = "ESPN US"
	if err := m.UpdateStreams(context.Background(), []models.Stream{*s}); err != nil {
		t.Fatalf("rename stream: %v", err)
	}

	res, err := r.Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Updated != 1 || res.Created != 0 {
		t.Fatalf("got %+v, want 1 updated", res)
	}

	got := m.GetChannel(ch.ID)
	if got.SourceName != "ESPN US" {
		t.Errorf("source_name = %q, want provider rename applied", got.SourceName)
	}
	if got.EffectiveName() != "My ESPN" {
		t.Errorf("effective_name = %q, want user override to win", got.EffectiveName())
	}
}

func TestReconcileDeletesOrphansOnly(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{Enabled: true, StartNumber: 1})
	manualID := m.AddChannel(models.Channel{Number: 500, SourceName: "Manual"})

	ids := []int64{
		seedStream(t, m, 1, gid, "Keep A", ""),
		seedStream(t, m, 1, gid, "Drop", ""),
		seedStream(t, m, 1, gid, "Keep B", ""),
	}

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	if m.ChannelCount() != 4 {
		t.Fatalf("channels = %d, want 3 auto + 1 manual", m.ChannelCount())
	}

	// The middle stream disappears from the feed and gets swept.
	older := scanWindow.AddDate(0, 0, -30)
	if err := m.TouchStreams(context.Background(), []int64{ids[1]}, older); err != nil {
		t.Fatalf("age stream: %v", err)
	}
	if _, err := m.DeleteStaleStreams(context.Background(), 1, scanWindow.AddDate(0, 0, -7)); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	res, err := r.Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want exactly the orphan", res.Deleted)
	}
	if m.ChannelCount() != 3 {
		t.Fatalf("channels = %d, want 2 auto + 1 manual", m.ChannelCount())
	}
	if got := m.GetChannel(manualID); got == nil || got.Number != 500 {
		t.Fatal("manual channel was touched by reconciliation")
	}
}

func TestReconcileCleansUpChannelsOfDisabledGroup(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{Enabled: true, StartNumber: 1})
	seedStream(t, m, 1, gid, "ESPN", "")

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	if m.ChannelCount() != 1 {
		t.Fatalf("channels = %d, want 1 auto-created", m.ChannelCount())
	}

	// The group is disabled between refreshes; the sweep removes its streams
	// and the next reconcile never visits the group itself.
	m.SetAccountGroup(1, gid, false, models.AutoSyncPolicy{Enabled: true, StartNumber: 1})
	if _, err := m.DeleteStreamsOutsideGroups(context.Background(), 1, []int64{}); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	res, err := r.Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Deleted != 1 {
		t.Fatalf("deleted = %d, want the stranded channel removed", res.Deleted)
	}
	if m.ChannelCount() != 0 {
		t.Fatalf("channels = %d, want none left", m.ChannelCount())
	}
}

func TestReconcileNewStreamDoesNotDisplaceExistingChannel(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 100, SortOrder: models.SortName,
	})
	bID := seedStream(t, m, 1, gid, "BBC", "")

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("initial reconcile: %v", err)
	}
	if n := autoChannels(t, m, 1, gid)[bID].Number; n != 100 {
		t.Fatalf("number = %d, want 100", n)
	}

	// A new stream sorts ahead of the existing channel's stream. It must
	// take the next free number, not shove the existing channel off 100.
	aID := seedStream(t, m, 1, gid, "ARD", "")
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	chans := autoChannels(t, m, 1, gid)
	if n := chans[bID].Number; n != 100 {
		t.Fatalf("existing channel renumbered to %d, want to keep 100", n)
	}
	if n := chans[aID].Number; n != 101 {
		t.Fatalf("new channel number = %d, want 101", n)
	}
}

func TestReconcileNameFilterAndRewrite(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled:                true,
		StartNumber:            1,
		NameMatchRegex:         "^espn",
		NameRewritePattern:     `\s+HD$`,
		NameRewriteReplacement: "",
	})
	espnID := seedStream(t, m, 1, gid, "ESPN HD", "")
	seedStream(t, m, 1, gid, "CNN", "")

	res, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want regex to exclude CNN", res.Created)
	}
	ch := autoChannels(t, m, 1, gid)[espnID]
	if ch.SourceName != "ESPN" {
		t.Errorf("source_name = %q, want rewrite to strip HD suffix", ch.SourceName)
	}
}

func TestReconcileInvalidRegexDisablesFilter(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled:        true,
		StartNumber:    1,
		NameMatchRegex: "(unclosed",
	})
	seedStream(t, m, 1, gid, "ESPN", "")
	seedStream(t, m, 1, gid, "CNN", "")

	res, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Created != 2 {
		t.Fatalf("created = %d, want invalid filter to include all", res.Created)
	}
}

func TestReconcileEPGLinkage(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{Enabled: true, StartNumber: 1})
	epgID := m.AddEPGEntry("espn.us")
	streamID := seedStream(t, m, 1, gid, "ESPN", "espn.us")

	if _, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	ch := autoChannels(t, m, 1, gid)[streamID]
	if ch.EPGID == nil || *ch.EPGID != epgID {
		t.Fatalf("epg_id = %v, want %d", ch.EPGID, epgID)
	}
}

func TestReconcileForceDummyEPG(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 1, ForceDummyEPG: true,
	})
	m.AddEPGEntry("espn.us")
	streamID := seedStream(t, m, 1, gid, "ESPN", "espn.us")

	if _, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if ch := autoChannels(t, m, 1, gid)[streamID]; ch.EPGID != nil {
		t.Fatalf("epg_id = %v, want nil under force_dummy_epg", ch.EPGID)
	}
}

func TestReconcileTargetGroupOverride(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports Raw")
	target := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 1, TargetGroupID: target,
	})
	streamID := seedStream(t, m, 1, gid, "ESPN", "")

	if _, err := testReconciler(m).Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	ch := autoChannels(t, m, 1, gid)[streamID]
	if ch.GroupID != target {
		t.Fatalf("group = %d, want override %d", ch.GroupID, target)
	}
	if ch.OriginGroupID != gid {
		t.Fatalf("origin group = %d, want %d", ch.OriginGroupID, gid)
	}
}

func TestReconcileProfileMembershipDisableNotDelete(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	p1 := m.AddProfile("default")
	p2 := m.AddProfile("kids")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 1, TargetProfileIDs: []int64{p1},
	})
	streamID := seedStream(t, m, 1, gid, "ESPN", "")

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	chID := autoChannels(t, m, 1, gid)[streamID].ID

	// Policy switches the target profile; the old row is disabled, not dropped.
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 1, TargetProfileIDs: []int64{p2},
	})
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	enabled, err := m.EnabledProfileIDs(context.Background(), chID)
	if err != nil {
		t.Fatalf("EnabledProfileIDs: %v", err)
	}
	if len(enabled) != 1 || !enabled[p2] {
		t.Fatalf("enabled = %v, want only profile %d", enabled, p2)
	}
	if rows := m.MembershipRowCount(chID); rows != 2 {
		t.Fatalf("membership rows = %d, want disabled row retained", rows)
	}
}

func TestReconcileNumberingStableAcrossRuns(t *testing.T) {
	m := store.NewMemory()
	acct := models.Account{ID: 1}
	m.AddAccount(acct)
	gid := m.AddGroup("Sports")
	m.SetAccountGroup(1, gid, true, models.AutoSyncPolicy{
		Enabled: true, StartNumber: 10, SortOrder: models.SortName,
	})
	seedStream(t, m, 1, gid, "Channel 2", "")
	seedStream(t, m, 1, gid, "Channel 10", "")

	r := testReconciler(m)
	if _, err := r.Reconcile(context.Background(), &acct, scanWindow); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	before := make(map[int64]int)
	for sid, ch := range autoChannels(t, m, 1, gid) {
		before[sid] = ch.Number
	}

	res, err := r.Reconcile(context.Background(), &acct, scanWindow)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Deleted != 0 {
		t.Fatalf("got %+v, want a no-op second run", res)
	}
	for sid, ch := range autoChannels(t, m, 1, gid) {
		if ch.Number != before[sid] {
			t.Fatalf("stream %d renumbered %d -> %d on identical rerun", sid, before[sid], ch.Number)
		}
	}
}
