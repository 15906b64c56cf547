package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// Memory is an in-memory Store. It backs the engine tests and is handy for
// dry-running a refresh against a fixture feed without Postgres. All methods
// are safe for concurrent use; batch workers hit this from multiple
// goroutines.
type Memory struct {
	mu sync.Mutex

	nextStreamID  int64
	nextChannelID int64
	nextGroupID   int64
	nextProfileID int64
	nextEPGID     int64

	accounts      map[int64]*models.Account
	groups        map[int64]*models.Group
	groupsByName  map[string]int64
	accountGroups map[[2]int64]*models.AccountGroup

	streams       map[int64]*models.Stream
	byFingerprint map[string]int64

	channels map[int64]*models.Channel
	links    map[[2]int64]int // (channelID, streamID) -> position

	profiles    map[int64]*models.Profile
	memberships map[[2]int64]bool // (channelID, profileID) -> enabled

	epg map[string]int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:      make(map[int64]*models.Account),
		groups:        make(map[int64]*models.Group),
		groupsByName:  make(map[string]int64),
		accountGroups: make(map[[2]int64]*models.AccountGroup),
		streams:       make(map[int64]*models.Stream),
		byFingerprint: make(map[string]int64),
		channels:      make(map[int64]*models.Channel),
		links:         make(map[[2]int64]int),
		profiles:      make(map[int64]*models.Profile),
		memberships:   make(map[[2]int64]bool),
		epg:           make(map[string]int64),
	}
}

// --- seeding helpers (fixtures and tests) ---

// AddAccount registers an account under its ID (assigned by caller).
func (m *Memory) AddAccount(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.accounts[a.ID] = &cp
}

// AddGroup creates a group by name (idempotent) and returns its id.
func (m *Memory) AddGroup(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureGroupLocked(name)
}

// SetAccountGroup installs the (account, group) relation with the given
// enabled flag and policy, replacing a prior relation.
func (m *Memory) SetAccountGroup(accountID, groupID int64, enabled bool, policy models.AutoSyncPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ""
	if g, ok := m.groups[groupID]; ok {
		name = g.Name
	}
	m.accountGroups[[2]int64{accountID, groupID}] = &models.AccountGroup{
		AccountID: accountID,
		GroupID:   groupID,
		GroupName: name,
		Enabled:   enabled,
		AutoSync:  policy,
	}
}

// AddProfile creates a profile and returns its id.
func (m *Memory) AddProfile(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextProfileID++
	m.profiles[m.nextProfileID] = &models.Profile{ID: m.nextProfileID, Name: name}
	return m.nextProfileID
}

// AddEPGEntry registers an EPG entry for a tvg_id and returns its id.
func (m *Memory) AddEPGEntry(tvgID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEPGID++
	m.epg[tvgID] = m.nextEPGID
	return m.nextEPGID
}

// AddChannel inserts a channel directly (e.g. a manually created one).
func (m *Memory) AddChannel(ch models.Channel) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannelID++
	cp := ch
	cp.ID = m.nextChannelID
	m.channels[cp.ID] = &cp
	return cp.ID
}

// GetChannel returns a copy of a channel for assertions; nil when absent.
func (m *Memory) GetChannel(id int64) *models.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil
	}
	cp := *ch
	return &cp
}

// GetStreamByFingerprint returns a copy of a stream for assertions; nil when absent.
func (m *Memory) GetStreamByFingerprint(fp string) *models.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byFingerprint[fp]
	if !ok {
		return nil
	}
	cp := *m.streams[id]
	return &cp
}

// StreamCount returns the number of stored streams.
func (m *Memory) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// ChannelCount returns the number of stored channels.
func (m *Memory) ChannelCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// SetUserName sets the user override name on a channel, as the UI would.
func (m *Memory) SetUserName(channelID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		ch.UserName = &name
	}
}

// SetUserLogo sets the user override logo on a channel.
func (m *Memory) SetUserLogo(channelID int64, logo string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		ch.UserLogo = &logo
	}
}

func (m *Memory) ensureGroupLocked(name string) int64 {
	if id, ok := m.groupsByName[name]; ok {
		return id
	}
	m.nextGroupID++
	m.groups[m.nextGroupID] = &models.Group{ID: m.nextGroupID, Name: name}
	m.groupsByName[name] = m.nextGroupID
	return m.nextGroupID
}

// --- Store implementation ---

func (m *Memory) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Account
	for _, a := range m.accounts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SetAccountStatus(ctx context.Context, accountID int64, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.LastMessage = message
	return nil
}

func (m *Memory) MarkAccountRefreshed(ctx context.Context, accountID int64, when time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	w := when
	a.LastRefreshedAt = &w
	a.UpdatedAt = &w
	return nil
}

func (m *Memory) EnsureGroups(ctx context.Context, accountID int64, names []string) (map[string]int64, error) {
	m.mu.Lock()
	for _, name := range names {
		gid := m.ensureGroupLocked(name)
		key := [2]int64{accountID, gid}
		if _, ok := m.accountGroups[key]; !ok {
			m.accountGroups[key] = &models.AccountGroup{
				AccountID: accountID,
				GroupID:   gid,
				GroupName: name,
				Enabled:   true,
			}
		}
	}
	m.mu.Unlock()
	return m.EnabledGroups(ctx, accountID)
}

func (m *Memory) EnabledGroups(ctx context.Context, accountID int64) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64)
	for key, ag := range m.accountGroups {
		if key[0] == accountID && ag.Enabled {
			out[m.groups[ag.GroupID].Name] = ag.GroupID
		}
	}
	return out, nil
}

func (m *Memory) AutoSyncGroups(ctx context.Context, accountID int64) ([]models.AccountGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccountGroup
	for key, ag := range m.accountGroups {
		if key[0] == accountID && ag.Enabled && ag.AutoSync.Enabled {
			cp := *ag
			cp.GroupName = m.groups[ag.GroupID].Name
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupName < out[j].GroupName })
	return out, nil
}

func (m *Memory) StreamsByFingerprint(ctx context.Context, fingerprints []string) ([]models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stream
	for _, fp := range fingerprints {
		if id, ok := m.byFingerprint[fp]; ok {
			out = append(out, *m.streams[id])
		}
	}
	return out, nil
}

func (m *Memory) InsertStreams(ctx context.Context, streams []models.Stream) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted int64
	for i := range streams {
		s := streams[i]
		if _, exists := m.byFingerprint[s.Fingerprint]; exists {
			continue // conflict ignored, as ON CONFLICT DO NOTHING would
		}
		m.nextStreamID++
		s.ID = m.nextStreamID
		m.streams[s.ID] = &s
		m.byFingerprint[s.Fingerprint] = s.ID
		inserted++
	}
	return inserted, nil
}

func (m *Memory) UpdateStreams(ctx context.Context, streams []models.Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range streams {
		s := streams[i]
		cur, ok := m.streams[s.ID]
		if !ok {
			continue
		}
		cur.Name = s.Name
		cur.URL = s.URL
		cur.TVGID = s.TVGID
		cur.LogoURL = s.LogoURL
		cur.GroupID = s.GroupID
		cur.Attributes = s.Attributes
		cur.LastSeen = s.LastSeen
		cur.UpdatedAt = s.UpdatedAt
	}
	return nil
}

func (m *Memory) TouchStreams(ctx context.Context, ids []int64, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if s, ok := m.streams[id]; ok {
			s.LastSeen = seen
		}
	}
	return nil
}

func (m *Memory) DeleteStreamsOutsideGroups(ctx context.Context, accountID int64, enabledGroupIDs []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	enabled := make(map[int64]bool, len(enabledGroupIDs))
	for _, id := range enabledGroupIDs {
		enabled[id] = true
	}
	var deleted int64
	for id, s := range m.streams {
		if s.AccountID == accountID && !enabled[s.GroupID] {
			m.deleteStreamLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) DeleteStaleStreams(ctx context.Context, accountID int64, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for id, s := range m.streams {
		if s.AccountID == accountID && s.LastSeen.Before(cutoff) {
			m.deleteStreamLocked(id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *Memory) deleteStreamLocked(id int64) {
	s := m.streams[id]
	delete(m.byFingerprint, s.Fingerprint)
	delete(m.streams, id)
	for key := range m.links {
		if key[1] == id {
			delete(m.links, key)
		}
	}
}

func (m *Memory) ActiveStreams(ctx context.Context, accountID, groupID int64, seenSince time.Time) ([]models.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Stream
	for _, s := range m.streams {
		if s.AccountID == accountID && s.GroupID == groupID && !s.LastSeen.Before(seenSince) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) AutoChannelsByStream(ctx context.Context, accountID, originGroupID int64) (map[int64]*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*models.Channel)
	for key := range m.links {
		ch, ok := m.channels[key[0]]
		if !ok || !ch.AutoCreated || ch.AccountID != accountID {
			continue
		}
		s, ok := m.streams[key[1]]
		if !ok || s.AccountID != accountID || s.GroupID != originGroupID {
			continue
		}
		cp := *ch
		out[key[1]] = &cp
	}
	return out, nil
}

func (m *Memory) UnlinkedAutoChannels(ctx context.Context, accountID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hasLink := make(map[int64]bool)
	for key := range m.links {
		hasLink[key[0]] = true
	}
	var ids []int64
	for id, ch := range m.channels {
		if ch.AutoCreated && ch.AccountID == accountID && !hasLink[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) ReservedChannelNumbers(ctx context.Context, accountID int64) (map[int]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used := make(map[int]bool)
	for _, ch := range m.channels {
		if ch.AutoCreated && ch.AccountID == accountID {
			continue
		}
		used[ch.Number] = true
	}
	return used, nil
}

func (m *Memory) RenumberChannels(ctx context.Context, plan map[int64]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range plan {
		if ch, ok := m.channels[id]; ok {
			ch.Number = n
		}
	}
	return nil
}

func (m *Memory) CreateChannel(ctx context.Context, ch *models.Channel) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChannelID++
	cp := *ch
	cp.ID = m.nextChannelID
	m.channels[cp.ID] = &cp
	ch.ID = cp.ID
	return cp.ID, nil
}

func (m *Memory) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.channels[ch.ID]
	if !ok {
		return ErrNotFound
	}
	cur.SourceName = ch.SourceName
	cur.SourceLogoURL = ch.SourceLogoURL
	cur.SourceTVGID = ch.SourceTVGID
	cur.GroupID = ch.GroupID
	cur.EPGID = ch.EPGID
	return nil
}

func (m *Memory) DeleteChannels(ctx context.Context, ids []int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := m.channels[id]; !ok {
			continue
		}
		delete(m.channels, id)
		for key := range m.links {
			if key[0] == id {
				delete(m.links, key)
			}
		}
		for key := range m.memberships {
			if key[0] == id {
				delete(m.memberships, key)
			}
		}
		deleted++
	}
	return deleted, nil
}

func (m *Memory) LinkChannelStream(ctx context.Context, channelID, streamID int64, position int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[[2]int64{channelID, streamID}] = position
	return nil
}

func (m *Memory) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Profile
	for _, p := range m.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) EnabledProfileIDs(ctx context.Context, channelID int64) (map[int64]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]bool)
	for key, enabled := range m.memberships {
		if key[0] == channelID && enabled {
			out[key[1]] = true
		}
	}
	return out, nil
}

func (m *Memory) SyncProfileMemberships(ctx context.Context, channelID int64, profileIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.memberships {
		if key[0] == channelID {
			m.memberships[key] = false
		}
	}
	for _, pid := range profileIDs {
		m.memberships[[2]int64{channelID, pid}] = true
	}
	return nil
}

// MembershipRowCount counts membership rows for a channel, enabled or not.
// Disabled rows are retained, so this only ever grows.
func (m *Memory) MembershipRowCount(channelID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.memberships {
		if key[0] == channelID {
			n++
		}
	}
	return n
}

func (m *Memory) EPGIDForTVGID(ctx context.Context, tvgID string) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.epg[tvgID]; ok {
		cp := id
		return &cp, nil
	}
	return nil, nil
}

var _ Store = (*Memory)(nil)
