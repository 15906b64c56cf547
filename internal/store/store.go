package store

import (
	"context"
	"errors"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence for accounts, streams, groups, channels, and
// profile memberships. The ingest pipeline and the reconciler communicate
// only through this interface; batch workers share no in-memory state.
type Store interface {
	// GetAccount returns a single account by id.
	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	// ListActiveAccounts returns all accounts flagged active.
	ListActiveAccounts(ctx context.Context) ([]models.Account, error)
	// SetAccountStatus records the refresh phase and a human-readable message.
	SetAccountStatus(ctx context.Context, accountID int64, status, message string) error
	// MarkAccountRefreshed stamps a successful refresh completion time.
	MarkAccountRefreshed(ctx context.Context, accountID int64, when time.Time) error

	// EnsureGroups creates missing groups and (group, account) relations for
	// the given names and returns name -> group id for every enabled group of
	// the account. New relations default to enabled.
	EnsureGroups(ctx context.Context, accountID int64, names []string) (map[string]int64, error)
	// EnabledGroups returns name -> group id for the account's enabled groups.
	EnabledGroups(ctx context.Context, accountID int64) (map[string]int64, error)
	// AutoSyncGroups returns the account's enabled groups whose auto-sync
	// policy is switched on.
	AutoSyncGroups(ctx context.Context, accountID int64) ([]models.AccountGroup, error)

	// StreamsByFingerprint bulk-loads existing streams for a fingerprint set.
	StreamsByFingerprint(ctx context.Context, fingerprints []string) ([]models.Stream, error)
	// InsertStreams bulk-inserts new streams, ignoring fingerprint conflicts
	// from concurrent workers. Returns the number of rows actually inserted.
	InsertStreams(ctx context.Context, streams []models.Stream) (int64, error)
	// UpdateStreams bulk-updates content fields plus last_seen and updated_at.
	UpdateStreams(ctx context.Context, streams []models.Stream) error
	// TouchStreams bulk-updates last_seen only, leaving updated_at alone.
	TouchStreams(ctx context.Context, ids []int64, seen time.Time) error
	// DeleteStreamsOutsideGroups removes the account's streams whose group is
	// not in the enabled set. Returns the deleted count.
	DeleteStreamsOutsideGroups(ctx context.Context, accountID int64, enabledGroupIDs []int64) (int64, error)
	// DeleteStaleStreams removes the account's streams last seen before cutoff.
	DeleteStaleStreams(ctx context.Context, accountID int64, cutoff time.Time) (int64, error)
	// ActiveStreams returns the account's streams in a group observed at or
	// after seenSince, in insertion (provider) order.
	ActiveStreams(ctx context.Context, accountID, groupID int64, seenSince time.Time) ([]models.Stream, error)

	// AutoChannelsByStream maps stream id -> managed channel for channels
	// auto-created by the account and linked to streams from the given origin
	// group. Lookup is by stream association, not the channel's current
	// group, so a channel survives a provider-side group move.
	AutoChannelsByStream(ctx context.Context, accountID, originGroupID int64) (map[int64]*models.Channel, error)
	// UnlinkedAutoChannels returns ids of channels auto-created by the
	// account that no longer have any stream link (the backing stream was
	// deleted and the link cascaded away, or the group was disabled).
	UnlinkedAutoChannels(ctx context.Context, accountID int64) ([]int64, error)
	// ReservedChannelNumbers returns the numbers held by every channel NOT
	// auto-created by the account (manual channels, other accounts').
	ReservedChannelNumbers(ctx context.Context, accountID int64) (map[int]bool, error)
	// RenumberChannels applies a channel id -> number plan in one bulk write.
	RenumberChannels(ctx context.Context, plan map[int64]int) error
	// CreateChannel inserts a channel and returns its id.
	CreateChannel(ctx context.Context, ch *models.Channel) (int64, error)
	// UpdateChannel persists provider-derived and placement fields. User
	// override fields are never written through this method.
	UpdateChannel(ctx context.Context, ch *models.Channel) error
	// DeleteChannels removes channels and cascades their stream links and
	// profile memberships. Returns the deleted count.
	DeleteChannels(ctx context.Context, ids []int64) (int64, error)
	// LinkChannelStream associates a stream with a channel at a position.
	LinkChannelStream(ctx context.Context, channelID, streamID int64, position int) error

	// ListProfiles returns all distribution profiles.
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	// EnabledProfileIDs returns the ids of profiles the channel is currently
	// enabled in.
	EnabledProfileIDs(ctx context.Context, channelID int64) (map[int64]bool, error)
	// SyncProfileMemberships makes profileIDs the exact enabled set for the
	// channel: missing memberships are created, extra ones are disabled
	// (never deleted).
	SyncProfileMemberships(ctx context.Context, channelID int64, profileIDs []int64) error

	// EPGIDForTVGID resolves an EPG entry by tvg_id; nil when unknown.
	EPGIDForTVGID(ctx context.Context, tvgID string) (*int64, error)
}
