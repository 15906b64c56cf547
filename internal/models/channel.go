package models

// Channel is a logical, user-facing entity backed by one or more streams.
//
// Provider-derived fields (Source*) are rewritten by the reconciler on every
// refresh; user-override fields (User*) are only ever written by the user and
// always win when set. That split is what lets a refresh update upstream
// metadata without clobbering local edits.
type Channel struct {
	ID     int64 `json:"id,omitempty"`
	Number int   `json:"number"`

	SourceName    string `json:"source_name"`
	SourceLogoURL string `json:"source_logo_url,omitempty"`
	SourceTVGID   string `json:"source_tvg_id,omitempty"`

	UserName *string `json:"user_name,omitempty"`
	UserLogo *string `json:"user_logo,omitempty"`

	GroupID int64  `json:"group_id,omitempty"`
	EPGID   *int64 `json:"epg_id,omitempty"`

	// AutoCreated channels are owned by the reconciler; AccountID and
	// OriginGroupID record which (account, group) created them.
	AutoCreated   bool  `json:"auto_created"`
	AccountID     int64 `json:"account_id,omitempty"`
	OriginGroupID int64 `json:"origin_group_id,omitempty"`
}

// EffectiveName resolves override precedence: the user's name when set,
// otherwise the provider name.
func (c *Channel) EffectiveName() string {
	if c.UserName != nil && *c.UserName != "" {
		return *c.UserName
	}
	return c.SourceName
}

// EffectiveLogo resolves the logo the same way EffectiveName does.
func (c *Channel) EffectiveLogo() string {
	if c.UserLogo != nil && *c.UserLogo != "" {
		return *c.UserLogo
	}
	return c.SourceLogoURL
}
