// Package fingerprint computes the stable content hash identifying a provider
// stream. The hash is SHA-256 over a canonical JSON encoding of the selected
// identity fields, so it is stable across attribute reordering and across
// processes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Field names selectable as hash keys.
const (
	KeyName  = "name"
	KeyURL   = "url"
	KeyTVGID = "tvg_id"
)

// DefaultKeys hashes all three identity fields.
var DefaultKeys = []string{KeyName, KeyURL, KeyTVGID}

// Compute returns the hex-encoded SHA-256 fingerprint for a stream. keys
// selects which of {name, url, tvg_id} participate; unknown keys are ignored
// and an empty selection falls back to DefaultKeys. Excluding a volatile
// field (e.g. a provider that rotates tokens in the URL) keeps a stream's
// identity stable across superficial churn.
func Compute(name, url, tvgID string, keys []string) string {
	parts := map[string]string{
		KeyName:  name,
		KeyURL:   url,
		KeyTVGID: tvgID,
	}
	selected := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := parts[k]; ok {
			selected[k] = v
		}
	}
	if len(selected) == 0 {
		for _, k := range DefaultKeys {
			selected[k] = parts[k]
		}
	}
	// json.Marshal sorts map keys, giving a canonical byte sequence.
	raw, _ := json.Marshal(selected)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
