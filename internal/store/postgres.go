package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/streamvault/internal/models"
)

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

const accountColumns = `id, name, url, account_type, username, password, user_agent,
	is_active, status, last_message, retention_days, fingerprint_keys,
	last_refreshed_at, updated_at, created_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Name, &a.URL, &a.AccountType, &a.Username, &a.Password,
		&a.UserAgent, &a.IsActive, &a.Status, &a.LastMessage, &a.RetentionDays,
		&a.FingerprintKeys, &a.LastRefreshedAt, &a.UpdatedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns a single account by id.
func (p *Postgres) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	a, err := scanAccount(p.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("GetAccount %d: %w", accountID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return a, nil
}

// ListActiveAccounts returns all accounts flagged active.
func (p *Postgres) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListActiveAccounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListActiveAccounts scan: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// SetAccountStatus records the refresh phase and a human-readable message.
func (p *Postgres) SetAccountStatus(ctx context.Context, accountID int64, status, message string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE accounts SET status = $2, last_message = $3 WHERE id = $1`,
		accountID, status, message)
	if err != nil {
		return fmt.Errorf("SetAccountStatus: %w", err)
	}
	return nil
}

// MarkAccountRefreshed stamps a successful refresh completion time.
func (p *Postgres) MarkAccountRefreshed(ctx context.Context, accountID int64, when time.Time) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE accounts SET last_refreshed_at = $2, updated_at = $2 WHERE id = $1`,
		accountID, when)
	if err != nil {
		return fmt.Errorf("MarkAccountRefreshed: %w", err)
	}
	return nil
}

// EnsureGroups creates missing groups and (group, account) relations for the
// given names and returns name -> id for the account's enabled groups.
func (p *Postgres) EnsureGroups(ctx context.Context, accountID int64, names []string) (map[string]int64, error) {
	for _, name := range names {
		var gid int64
		err := p.pool.QueryRow(ctx,
			`INSERT INTO groups (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`, name).Scan(&gid)
		if err != nil {
			return nil, fmt.Errorf("EnsureGroups insert group %q: %w", name, err)
		}
		_, err = p.pool.Exec(ctx,
			`INSERT INTO account_groups (account_id, group_id, enabled)
			 VALUES ($1, $2, TRUE)
			 ON CONFLICT (account_id, group_id) DO NOTHING`, accountID, gid)
		if err != nil {
			return nil, fmt.Errorf("EnsureGroups insert relation %q: %w", name, err)
		}
	}
	return p.EnabledGroups(ctx, accountID)
}

// EnabledGroups returns name -> group id for the account's enabled groups.
func (p *Postgres) EnabledGroups(ctx context.Context, accountID int64) (map[string]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT g.name, g.id FROM groups g
		 JOIN account_groups ag ON ag.group_id = g.id
		 WHERE ag.account_id = $1 AND ag.enabled`, accountID)
	if err != nil {
		return nil, fmt.Errorf("EnabledGroups: %w", err)
	}
	defer rows.Close()

	groups := make(map[string]int64)
	for rows.Next() {
		var name string
		var id int64
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("EnabledGroups scan: %w", err)
		}
		groups[name] = id
	}
	return groups, rows.Err()
}

// AutoSyncGroups returns the account's enabled groups with auto-sync on.
func (p *Postgres) AutoSyncGroups(ctx context.Context, accountID int64) ([]models.AccountGroup, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT ag.account_id, ag.group_id, g.name, ag.enabled,
		        ag.auto_sync_enabled, ag.start_number, COALESCE(ag.target_group_id, 0),
		        ag.name_match_regex, ag.name_rewrite_pattern, ag.name_rewrite_replacement,
		        ag.sort_order, ag.force_dummy_epg, ag.target_profile_ids
		 FROM account_groups ag
		 JOIN groups g ON g.id = ag.group_id
		 WHERE ag.account_id = $1 AND ag.enabled AND ag.auto_sync_enabled
		 ORDER BY g.name`, accountID)
	if err != nil {
		return nil, fmt.Errorf("AutoSyncGroups: %w", err)
	}
	defer rows.Close()

	var out []models.AccountGroup
	for rows.Next() {
		var ag models.AccountGroup
		err := rows.Scan(&ag.AccountID, &ag.GroupID, &ag.GroupName, &ag.Enabled,
			&ag.AutoSync.Enabled, &ag.AutoSync.StartNumber, &ag.AutoSync.TargetGroupID,
			&ag.AutoSync.NameMatchRegex, &ag.AutoSync.NameRewritePattern,
			&ag.AutoSync.NameRewriteReplacement, &ag.AutoSync.SortOrder,
			&ag.AutoSync.ForceDummyEPG, &ag.AutoSync.TargetProfileIDs)
		if err != nil {
			return nil, fmt.Errorf("AutoSyncGroups scan: %w", err)
		}
		out = append(out, ag)
	}
	return out, rows.Err()
}

const streamColumns = `id, fingerprint, account_id, group_id, name, url, tvg_id,
	logo_url, attributes, last_seen, updated_at`

func scanStream(row pgx.Row) (models.Stream, error) {
	var s models.Stream
	err := row.Scan(&s.ID, &s.Fingerprint, &s.AccountID, &s.GroupID, &s.Name, &s.URL,
		&s.TVGID, &s.LogoURL, &s.Attributes, &s.LastSeen, &s.UpdatedAt)
	return s, err
}

// StreamsByFingerprint bulk-loads existing streams for a fingerprint set.
func (p *Postgres) StreamsByFingerprint(ctx context.Context, fingerprints []string) ([]models.Stream, error) {
	if len(fingerprints) == 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM streams WHERE fingerprint = ANY($1)`, fingerprints)
	if err != nil {
		return nil, fmt.Errorf("StreamsByFingerprint: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("StreamsByFingerprint scan: %w", err)
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

// InsertStreams bulk-inserts new streams. Conflicting inserts of the same
// fingerprint from a concurrent worker are ignored, not errored: fingerprint
// uniqueness is the sole source of truth.
func (p *Postgres) InsertStreams(ctx context.Context, streams []models.Stream) (int64, error) {
	if len(streams) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for i := range streams {
		s := &streams[i]
		batch.Queue(
			`INSERT INTO streams (fingerprint, account_id, group_id, name, url, tvg_id,
			                      logo_url, attributes, last_seen, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			s.Fingerprint, s.AccountID, s.GroupID, s.Name, s.URL, s.TVGID,
			s.LogoURL, s.Attributes, s.LastSeen, s.UpdatedAt)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for range streams {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("InsertStreams: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// UpdateStreams bulk-updates content fields plus last_seen and updated_at.
func (p *Postgres) UpdateStreams(ctx context.Context, streams []models.Stream) error {
	if len(streams) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range streams {
		s := &streams[i]
		batch.Queue(
			`UPDATE streams SET name = $2, url = $3, tvg_id = $4, logo_url = $5,
			        group_id = $6, attributes = $7, last_seen = $8, updated_at = $9
			 WHERE id = $1`,
			s.ID, s.Name, s.URL, s.TVGID, s.LogoURL, s.GroupID, s.Attributes,
			s.LastSeen, s.UpdatedAt)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range streams {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("UpdateStreams: %w", err)
		}
	}
	return nil
}

// TouchStreams bulk-updates last_seen only. updated_at is deliberately left
// alone so it keeps meaning "content changed", not "observed".
func (p *Postgres) TouchStreams(ctx context.Context, ids []int64, seen time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE streams SET last_seen = $2 WHERE id = ANY($1)`, ids, seen)
	if err != nil {
		return fmt.Errorf("TouchStreams: %w", err)
	}
	return nil
}

// DeleteStreamsOutsideGroups removes the account's streams whose group is not
// in the enabled set.
func (p *Postgres) DeleteStreamsOutsideGroups(ctx context.Context, accountID int64, enabledGroupIDs []int64) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM streams WHERE account_id = $1 AND NOT (group_id = ANY($2))`,
		accountID, enabledGroupIDs)
	if err != nil {
		return 0, fmt.Errorf("DeleteStreamsOutsideGroups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStaleStreams removes the account's streams last seen before cutoff.
func (p *Postgres) DeleteStaleStreams(ctx context.Context, accountID int64, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM streams WHERE account_id = $1 AND last_seen < $2`,
		accountID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("DeleteStaleStreams: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveStreams returns the account's streams in a group observed at or after
// seenSince, in insertion (provider) order.
func (p *Postgres) ActiveStreams(ctx context.Context, accountID, groupID int64, seenSince time.Time) ([]models.Stream, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+streamColumns+` FROM streams
		 WHERE account_id = $1 AND group_id = $2 AND last_seen >= $3
		 ORDER BY id`, accountID, groupID, seenSince)
	if err != nil {
		return nil, fmt.Errorf("ActiveStreams: %w", err)
	}
	defer rows.Close()

	var streams []models.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("ActiveStreams scan: %w", err)
		}
		streams = append(streams, s)
	}
	return streams, rows.Err()
}

const channelColumns = `c.id, c.number, c.source_name, c.source_logo_url, c.source_tvg_id,
	c.user_name, c.user_logo, COALESCE(c.group_id, 0), c.epg_id, c.auto_created,
	COALESCE(c.account_id, 0), COALESCE(c.origin_group_id, 0)`

// AutoChannelsByStream maps stream id -> managed channel for channels
// auto-created by the account and linked to streams from the origin group.
func (p *Postgres) AutoChannelsByStream(ctx context.Context, accountID, originGroupID int64) (map[int64]*models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT cs.stream_id, `+channelColumns+`
		 FROM channels c
		 JOIN channel_streams cs ON cs.channel_id = c.id
		 JOIN streams s ON s.id = cs.stream_id
		 WHERE c.auto_created AND c.account_id = $1
		   AND s.account_id = $1 AND s.group_id = $2`,
		accountID, originGroupID)
	if err != nil {
		return nil, fmt.Errorf("AutoChannelsByStream: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*models.Channel)
	for rows.Next() {
		var streamID int64
		var c models.Channel
		err := rows.Scan(&streamID, &c.ID, &c.Number, &c.SourceName, &c.SourceLogoURL,
			&c.SourceTVGID, &c.UserName, &c.UserLogo, &c.GroupID, &c.EPGID,
			&c.AutoCreated, &c.AccountID, &c.OriginGroupID)
		if err != nil {
			return nil, fmt.Errorf("AutoChannelsByStream scan: %w", err)
		}
		out[streamID] = &c
	}
	return out, rows.Err()
}

// UnlinkedAutoChannels returns ids of the account's auto-created channels
// whose stream link cascaded away with a deleted stream. These are orphans
// the association lookup cannot see anymore, including channels left behind
// by groups that were disabled since the last refresh.
func (p *Postgres) UnlinkedAutoChannels(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id FROM channels c
		 WHERE c.auto_created AND c.account_id = $1
		   AND NOT EXISTS (SELECT 1 FROM channel_streams cs WHERE cs.channel_id = c.id)`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("UnlinkedAutoChannels: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("UnlinkedAutoChannels scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReservedChannelNumbers returns numbers held by channels not managed by the
// account's auto-sync (manual channels and other accounts' channels).
func (p *Postgres) ReservedChannelNumbers(ctx context.Context, accountID int64) (map[int]bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT number FROM channels
		 WHERE auto_created IS FALSE OR account_id IS DISTINCT FROM $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ReservedChannelNumbers: %w", err)
	}
	defer rows.Close()

	used := make(map[int]bool)
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("ReservedChannelNumbers scan: %w", err)
		}
		used[n] = true
	}
	return used, rows.Err()
}

// RenumberChannels applies a channel id -> number plan in one bulk write.
func (p *Postgres) RenumberChannels(ctx context.Context, plan map[int64]int) error {
	if len(plan) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(plan))
	numbers := make([]int32, 0, len(plan))
	for id, n := range plan {
		ids = append(ids, id)
		numbers = append(numbers, int32(n))
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE channels c SET number = p.number
		 FROM (SELECT unnest($1::bigint[]) AS id, unnest($2::int[]) AS number) p
		 WHERE c.id = p.id`, ids, numbers)
	if err != nil {
		return fmt.Errorf("RenumberChannels: %w", err)
	}
	return nil
}

// CreateChannel inserts a channel and returns its id.
func (p *Postgres) CreateChannel(ctx context.Context, ch *models.Channel) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO channels (number, source_name, source_logo_url, source_tvg_id,
		                       user_name, user_logo, group_id, epg_id, auto_created,
		                       account_id, origin_group_id)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, 0), $8, $9, NULLIF($10, 0), NULLIF($11, 0))
		 RETURNING id`,
		ch.Number, ch.SourceName, ch.SourceLogoURL, ch.SourceTVGID,
		ch.UserName, ch.UserLogo, ch.GroupID, ch.EPGID, ch.AutoCreated,
		ch.AccountID, ch.OriginGroupID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("CreateChannel: %w", err)
	}
	ch.ID = id
	return id, nil
}

// UpdateChannel persists provider-derived and placement fields. The user
// override columns are not in the statement on purpose.
func (p *Postgres) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE channels SET source_name = $2, source_logo_url = $3, source_tvg_id = $4,
		        group_id = NULLIF($5, 0), epg_id = $6
		 WHERE id = $1`,
		ch.ID, ch.SourceName, ch.SourceLogoURL, ch.SourceTVGID, ch.GroupID, ch.EPGID)
	if err != nil {
		return fmt.Errorf("UpdateChannel: %w", err)
	}
	return nil
}

// DeleteChannels removes channels; stream links and memberships cascade.
func (p *Postgres) DeleteChannels(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := p.pool.Exec(ctx, `DELETE FROM channels WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("DeleteChannels: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LinkChannelStream associates a stream with a channel at a position.
func (p *Postgres) LinkChannelStream(ctx context.Context, channelID, streamID int64, position int) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO channel_streams (channel_id, stream_id, position)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (channel_id, stream_id) DO UPDATE SET position = EXCLUDED.position`,
		channelID, streamID, position)
	if err != nil {
		return fmt.Errorf("LinkChannelStream: %w", err)
	}
	return nil
}

// ListProfiles returns all distribution profiles.
func (p *Postgres) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListProfiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		var pr models.Profile
		if err := rows.Scan(&pr.ID, &pr.Name); err != nil {
			return nil, fmt.Errorf("ListProfiles scan: %w", err)
		}
		profiles = append(profiles, pr)
	}
	return profiles, rows.Err()
}

// EnabledProfileIDs returns ids of profiles the channel is enabled in.
func (p *Postgres) EnabledProfileIDs(ctx context.Context, channelID int64) (map[int64]bool, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT profile_id FROM profile_memberships WHERE channel_id = $1 AND enabled`,
		channelID)
	if err != nil {
		return nil, fmt.Errorf("EnabledProfileIDs: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("EnabledProfileIDs scan: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// SyncProfileMemberships makes profileIDs the exact enabled set for the
// channel. Rows leaving the set are disabled, not deleted.
func (p *Postgres) SyncProfileMemberships(ctx context.Context, channelID int64, profileIDs []int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("SyncProfileMemberships begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`UPDATE profile_memberships SET enabled = FALSE WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("SyncProfileMemberships disable: %w", err)
	}
	if len(profileIDs) > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO profile_memberships (channel_id, profile_id, enabled)
			 SELECT $1, unnest($2::bigint[]), TRUE
			 ON CONFLICT (channel_id, profile_id) DO UPDATE SET enabled = TRUE`,
			channelID, profileIDs)
		if err != nil {
			return fmt.Errorf("SyncProfileMemberships enable: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("SyncProfileMemberships commit: %w", err)
	}
	return nil
}

// EPGIDForTVGID resolves an EPG entry by tvg_id; nil when unknown.
func (p *Postgres) EPGIDForTVGID(ctx context.Context, tvgID string) (*int64, error) {
	if tvgID == "" {
		return nil, nil
	}
	var id int64
	err := p.pool.QueryRow(ctx,
		`SELECT id FROM epg_entries WHERE tvg_id = $1`, tvgID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("EPGIDForTVGID: %w", err)
	}
	return &id, nil
}

var _ Store = (*Postgres)(nil)
