package models

// Sort orders for auto-synced channels within a group.
const (
	SortProvider  = "provider"
	SortName      = "name"
	SortTVGID     = "tvg_id"
	SortUpdatedAt = "updated_at"
)

// AutoSyncPolicy configures automatic channel maintenance for one
// (account, group) pair. When Enabled, the reconciler keeps managed channels
// 1:1 with that group's active streams.
type AutoSyncPolicy struct {
	Enabled     bool `json:"enabled"`
	StartNumber int  `json:"start_number,omitempty"`

	// TargetGroupID redirects created/updated channels into a different
	// group than the one the streams came from. Zero means no override.
	TargetGroupID int64 `json:"target_group_id,omitempty"`

	// NameMatchRegex is an inclusion filter on stream names, applied
	// case-insensitively. Empty means no filter.
	NameMatchRegex string `json:"name_match_regex,omitempty"`

	// NameRewritePattern/NameRewriteReplacement rewrite the provider name
	// before it is stored as the channel's source name.
	NameRewritePattern     string `json:"name_rewrite_pattern,omitempty"`
	NameRewriteReplacement string `json:"name_rewrite_replacement,omitempty"`

	SortOrder     string `json:"sort_order,omitempty"`
	ForceDummyEPG bool   `json:"force_dummy_epg,omitempty"`

	// TargetProfileIDs limits profile membership for managed channels.
	// Empty means all profiles.
	TargetProfileIDs []int64 `json:"target_profile_ids,omitempty"`
}
