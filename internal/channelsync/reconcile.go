package channelsync

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Result aggregates reconciliation across all auto-sync groups of an account.
type Result struct {
	Created int
	Updated int
	Deleted int
	// FailedGroups counts groups whose reconciliation failed outright.
	// Remaining groups still run.
	FailedGroups int
}

// Reconciler maintains auto-created channels for auto-sync-enabled groups.
type Reconciler struct {
	Store store.Store
	Log   *logrus.Entry
}

// Reconcile runs the auto-channel sync for every enabled (account, group)
// pair with an active auto-sync policy. A failing group is logged and
// counted; the other groups still reconcile.
func (r *Reconciler) Reconcile(ctx context.Context, account *models.Account, scanWindow time.Time) (Result, error) {
	var res Result
	groups, err := r.Store.AutoSyncGroups(ctx, account.ID)
	if err != nil {
		return res, fmt.Errorf("list auto-sync groups: %w", err)
	}
	for _, ag := range groups {
		gr, err := r.reconcileGroup(ctx, account, ag, scanWindow)
		res.Created += gr.Created
		res.Updated += gr.Updated
		res.Deleted += gr.Deleted
		if err != nil {
			res.FailedGroups++
			r.Log.WithError(err).WithFields(logrus.Fields{
				"account": account.ID,
				"group":   ag.GroupName,
			}).Error("auto-channel sync failed for group")
		}
	}
	// An auto-created channel with no stream link left is garbage no matter
	// how it got that way: the sweep deleted its stream, or its group was
	// disabled since the last refresh and never entered the loop above.
	unlinked, err := r.Store.UnlinkedAutoChannels(ctx, account.ID)
	if err != nil {
		return res, fmt.Errorf("find unlinked channels: %w", err)
	}
	if len(unlinked) > 0 {
		deleted, err := r.Store.DeleteChannels(ctx, unlinked)
		if err != nil {
			return res, fmt.Errorf("delete unlinked channels: %w", err)
		}
		res.Deleted += int(deleted)
	}
	return res, nil
}

func (r *Reconciler) reconcileGroup(ctx context.Context, account *models.Account, ag models.AccountGroup, scanWindow time.Time) (Result, error) {
	var res Result
	policy := ag.AutoSync
	log := r.Log.WithFields(logrus.Fields{"account": account.ID, "group": ag.GroupName})

	streams, err := r.Store.ActiveStreams(ctx, account.ID, ag.GroupID, scanWindow)
	if err != nil {
		return res, fmt.Errorf("load active streams: %w", err)
	}
	streams = r.filterByName(streams, policy.NameMatchRegex, log)
	sortStreams(streams, policy.SortOrder, log)

	// Channels are found through their stream association, not their current
	// group, so a channel keeps tracking its stream across provider-side
	// group renames and target overrides.
	linked, err := r.Store.AutoChannelsByStream(ctx, account.ID, ag.GroupID)
	if err != nil {
		return res, fmt.Errorf("load linked channels: %w", err)
	}
	reserved, err := r.Store.ReservedChannelNumbers(ctx, account.ID)
	if err != nil {
		return res, fmt.Errorf("load reserved numbers: %w", err)
	}

	// Two numbering walks over the sorted streams. The first consumes numbers
	// only for already-linked channels and renumbers them in bulk; the second
	// restarts the counter and fills the remaining free numbers for streams
	// that need a new channel. New channels never displace an existing
	// channel's number, whatever their sort position.
	start := policy.StartNumber
	if start <= 0 {
		start = 1
	}
	plan := make(map[int64]int) // channelID -> number
	next := start
	for _, s := range streams {
		ch, ok := linked[s.ID]
		if !ok {
			continue
		}
		for reserved[next] {
			next++
		}
		reserved[next] = true
		if ch.Number != next {
			plan[ch.ID] = next
		}
		next++
	}
	assigned := make(map[int64]int) // streamID -> number for new channels
	next = start
	for _, s := range streams {
		if _, ok := linked[s.ID]; ok {
			continue
		}
		for reserved[next] {
			next++
		}
		reserved[next] = true
		assigned[s.ID] = next
		next++
	}
	if len(plan) > 0 {
		if err := r.Store.RenumberChannels(ctx, plan); err != nil {
			return res, fmt.Errorf("renumber channels: %w", err)
		}
		for _, ch := range linked {
			if n, ok := plan[ch.ID]; ok {
				ch.Number = n
			}
		}
	}

	rewrite := compileRewrite(policy, log)
	targetGroup := ag.GroupID
	if policy.TargetGroupID != 0 {
		targetGroup = policy.TargetGroupID
	}
	profileIDs, err := r.resolveProfiles(ctx, policy)
	if err != nil {
		return res, fmt.Errorf("resolve profiles: %w", err)
	}

	active := make(map[int64]bool, len(streams))
	for _, s := range streams {
		active[s.ID] = true
		ch, exists := linked[s.ID]
		var serr error
		if exists {
			var updated bool
			updated, serr = r.updateChannel(ctx, ch, &s, rewrite, targetGroup, policy, profileIDs)
			if updated {
				res.Updated++
			}
		} else {
			serr = r.createChannel(ctx, account, ag, &s, assigned[s.ID], rewrite, targetGroup, policy, profileIDs)
			if serr == nil {
				res.Created++
			}
		}
		if serr != nil {
			// One broken stream must not take the group down with it.
			log.WithError(serr).WithField("stream", s.Name).Warn("stream reconcile failed")
		}
	}

	// Channels still linked to a stream that left the active set are orphans.
	// Channels whose link cascaded away entirely are picked up account-wide
	// after the group loop.
	var orphans []int64
	for streamID, ch := range linked {
		if !active[streamID] {
			orphans = append(orphans, ch.ID)
		}
	}
	if len(orphans) > 0 {
		deleted, err := r.Store.DeleteChannels(ctx, orphans)
		if err != nil {
			return res, fmt.Errorf("delete orphan channels: %w", err)
		}
		res.Deleted += int(deleted)
	}
	return res, nil
}

// updateChannel refreshes provider-derived fields on an existing channel.
// User overrides are never written here.
func (r *Reconciler) updateChannel(ctx context.Context, ch *models.Channel, s *models.Stream, rewrite rewriteFunc, targetGroup int64, policy models.AutoSyncPolicy, profileIDs []int64) (bool, error) {
	changed := false
	if name := rewrite(s.Name); ch.SourceName != name {
		ch.SourceName = name
		changed = true
	}
	if ch.SourceLogoURL != s.LogoURL {
		ch.SourceLogoURL = s.LogoURL
		changed = true
	}
	if ch.SourceTVGID != s.TVGID {
		ch.SourceTVGID = s.TVGID
		changed = true
	}
	if ch.GroupID != targetGroup {
		ch.GroupID = targetGroup
		changed = true
	}
	epgID, err := r.resolveEPG(ctx, s.TVGID, policy)
	if err != nil {
		return false, err
	}
	if !epgEqual(ch.EPGID, epgID) {
		ch.EPGID = epgID
		changed = true
	}
	if changed {
		if err := r.Store.UpdateChannel(ctx, ch); err != nil {
			return false, fmt.Errorf("update channel %d: %w", ch.ID, err)
		}
	}
	if err := r.Store.SyncProfileMemberships(ctx, ch.ID, profileIDs); err != nil {
		return changed, fmt.Errorf("sync memberships: %w", err)
	}
	return changed, nil
}

func (r *Reconciler) createChannel(ctx context.Context, account *models.Account, ag models.AccountGroup, s *models.Stream, number int, rewrite rewriteFunc, targetGroup int64, policy models.AutoSyncPolicy, profileIDs []int64) error {
	epgID, err := r.resolveEPG(ctx, s.TVGID, policy)
	if err != nil {
		return err
	}
	ch := &models.Channel{
		Number:        number,
		SourceName:    rewrite(s.Name),
		SourceLogoURL: s.LogoURL,
		SourceTVGID:   s.TVGID,
		GroupID:       targetGroup,
		EPGID:         epgID,
		AutoCreated:   true,
		AccountID:     account.ID,
		OriginGroupID: ag.GroupID,
	}
	id, err := r.Store.CreateChannel(ctx, ch)
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	if err := r.Store.LinkChannelStream(ctx, id, s.ID, 0); err != nil {
		return fmt.Errorf("link stream: %w", err)
	}
	if err := r.Store.SyncProfileMemberships(ctx, id, profileIDs); err != nil {
		return fmt.Errorf("sync memberships: %w", err)
	}
	return nil
}

func (r *Reconciler) resolveEPG(ctx context.Context, tvgID string, policy models.AutoSyncPolicy) (*int64, error) {
	if policy.ForceDummyEPG || tvgID == "" {
		return nil, nil
	}
	id, err := r.Store.EPGIDForTVGID(ctx, tvgID)
	if err != nil {
		return nil, fmt.Errorf("epg lookup %q: %w", tvgID, err)
	}
	return id, nil
}

// resolveProfiles expands an empty target set to all profiles.
func (r *Reconciler) resolveProfiles(ctx context.Context, policy models.AutoSyncPolicy) ([]int64, error) {
	if len(policy.TargetProfileIDs) > 0 {
		return policy.TargetProfileIDs, nil
	}
	profiles, err := r.Store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(profiles))
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// filterByName applies the policy's name inclusion filter. Provider-facing
// config, so the pattern is matched case-insensitively and an invalid
// pattern disables the filter with a warning instead of failing the group.
func (r *Reconciler) filterByName(streams []models.Stream, pattern string, log *logrus.Entry) []models.Stream {
	if pattern == "" {
		return streams
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.WithError(err).Warn("invalid name_match_regex, filter disabled")
		return streams
	}
	out := streams[:0]
	for _, s := range streams {
		if re.MatchString(s.Name) {
			out = append(out, s)
		}
	}
	return out
}

type rewriteFunc func(string) string

// compileRewrite builds the name rewrite applied before comparison and
// storage. An invalid pattern falls back to the unmodified name.
func compileRewrite(policy models.AutoSyncPolicy, log *logrus.Entry) rewriteFunc {
	if policy.NameRewritePattern == "" {
		return func(s string) string { return s }
	}
	re, err := regexp.Compile(policy.NameRewritePattern)
	if err != nil {
		log.WithError(err).Warn("invalid name_rewrite_pattern, names left unmodified")
		return func(s string) string { return s }
	}
	repl := policy.NameRewriteReplacement
	return func(s string) string { return re.ReplaceAllString(s, repl) }
}

func sortStreams(streams []models.Stream, order string, log *logrus.Entry) {
	switch order {
	case models.SortName:
		sort.SliceStable(streams, func(i, j int) bool {
			return naturalLess(streams[i].Name, streams[j].Name)
		})
	case models.SortTVGID:
		sort.SliceStable(streams, func(i, j int) bool {
			if streams[i].TVGID != streams[j].TVGID {
				return streams[i].TVGID < streams[j].TVGID
			}
			return naturalLess(streams[i].Name, streams[j].Name)
		})
	case models.SortUpdatedAt:
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].UpdatedAt.Before(streams[j].UpdatedAt)
		})
	case models.SortProvider, "":
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].ID < streams[j].ID
		})
	default:
		log.WithField("sort_order", order).Warn("unknown sort_order, using provider order")
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].ID < streams[j].ID
		})
	}
}

func epgEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
