package models

import (
	"strings"
	"time"
)

// Stream is one provider stream record. Identity is the fingerprint: two
// observations with the same fingerprint are the same logical stream and
// collapse to one row.
type Stream struct {
	ID          int64  `json:"id,omitempty"`
	Fingerprint string `json:"fingerprint"`
	AccountID   int64  `json:"account_id"`
	GroupID     int64  `json:"group_id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	TVGID       string `json:"tvg_id,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`

	// Attributes is the opaque provider attribute bag from the EXTINF line
	// (or the raw Xtream stream object). Schema-less by contract.
	Attributes map[string]string `json:"attributes,omitempty"`

	// LastSeen is touched on every observation; UpdatedAt only moves when a
	// content field actually changed. Downstream consumers rely on that split.
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StreamTuple is one normalized feed entry before it is persisted. The parser
// (M3U or Xtream) produces these; the ingest pipeline consumes them.
type StreamTuple struct {
	Name       string            `json:"name"`
	URL        string            `json:"url"`
	TVGID      string            `json:"tvg_id,omitempty"`
	LogoURL    string            `json:"logo_url,omitempty"`
	GroupName  string            `json:"group_name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns an attribute value by case-insensitive key lookup. Provider
// feeds are inconsistent about attribute casing (TVG-ID vs tvg-id).
func Attr(attrs map[string]string, key string) string {
	if v, ok := attrs[key]; ok {
		return v
	}
	for k, v := range attrs {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
