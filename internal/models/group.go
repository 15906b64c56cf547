package models

// DefaultGroupName is assigned to feed entries that carry no group-title.
const DefaultGroupName = "Default Group"

// Group is a local channel group. Provider category names map onto groups by
// name; one group can be shared by several accounts.
type Group struct {
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name"`
}

// AccountGroup is the (account, group) relation: whether the group is enabled
// for ingestion and, optionally, an auto-sync policy for it.
type AccountGroup struct {
	AccountID int64          `json:"account_id"`
	GroupID   int64          `json:"group_id"`
	GroupName string         `json:"group_name,omitempty"` // joined from groups
	Enabled   bool           `json:"enabled"`
	AutoSync  AutoSyncPolicy `json:"auto_sync"`
}
