package models

// Profile is a distribution profile (a named subset of channels exposed to a
// client device or output).
type Profile struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// ProfileMembership links a channel into a profile. Memberships are disabled,
// never deleted, when a channel leaves a profile — the row is kept for audit
// continuity.
type ProfileMembership struct {
	ChannelID int64 `json:"channel_id"`
	ProfileID int64 `json:"profile_id"`
	Enabled   bool  `json:"enabled"`
}
