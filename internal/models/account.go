package models

import (
	"strings"
	"time"
)

// DefaultRetentionDays is the staleness window used when an account does not
// set its own.
const DefaultRetentionDays = 7

// Account type constants.
const (
	AccountTypeM3U    int16 = 0
	AccountTypeXtream int16 = 1
)

// Refresh status values persisted on an account. A refresh always leaves the
// account in StatusSuccess or StatusError; the intermediate values exist so
// operators can see which phase a running refresh is in.
const (
	StatusIdle        = "idle"
	StatusFetching    = "fetching"
	StatusParsing     = "parsing"
	StatusSweeping    = "sweeping"
	StatusReconciling = "reconciling"
	StatusSuccess     = "success"
	StatusError       = "error"
)

// Account represents one provider account (e.g. one M3U URL or one
// Xtream-Codes login) whose catalog is ingested and reconciled.
type Account struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	AccountType int16  `json:"account_type"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"-"`
	UserAgent   string `json:"user_agent,omitempty"`
	IsActive    bool   `json:"is_active"`
	Status      string `json:"status"`
	LastMessage string `json:"last_message,omitempty"`

	// RetentionDays controls the staleness sweep: streams not observed for
	// this many days (relative to the scan window) are deleted.
	RetentionDays int `json:"retention_days"`

	// FingerprintKeys is the comma-separated subset of {name,url,tvg_id}
	// hashed into the stream fingerprint. Empty means all three.
	FingerprintKeys string `json:"fingerprint_keys,omitempty"`

	LastRefreshedAt *time.Time `json:"last_refreshed_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
}

// HashKeys returns the parsed fingerprint key set, defaulting to all fields.
func (a *Account) HashKeys() []string {
	if strings.TrimSpace(a.FingerprintKeys) == "" {
		return []string{"name", "url", "tvg_id"}
	}
	parts := strings.Split(a.FingerprintKeys, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
