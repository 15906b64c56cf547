// Package ingest turns a parsed feed into persisted stream records: batch
// upsert keyed by fingerprint, parallel dispatch over a worker pool, and the
// post-refresh staleness sweep.
package ingest

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/voyagen/streamvault/internal/fingerprint"
	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Result aggregates what happened to one batch (or, summed, a whole feed).
type Result struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	// Touched streams were re-observed unchanged: last_seen advanced,
	// updated_at left alone.
	Touched int64 `json:"touched"`
	// Filtered tuples belonged to a group not in the enabled set.
	Filtered int64 `json:"filtered"`
	// Malformed tuples were individually skipped, never failing the batch.
	Malformed int64 `json:"malformed"`
}

// Add accumulates another result into r.
func (r *Result) Add(o Result) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Touched += o.Touched
	r.Filtered += o.Filtered
	r.Malformed += o.Malformed
}

// UpsertBatch reconciles one batch of normalized tuples against the stream
// table. groups maps enabled group names to ids; tuples outside it are
// dropped. now is the refresh's scan window, used for both last_seen and
// updated_at so a re-run with an unchanged feed is a pure touch.
//
// The operation is commutative and idempotent across batches: inserts ignore
// fingerprint conflicts from concurrent workers and updates are keyed by the
// same unique fingerprint, so batch order never affects the final state.
func UpsertBatch(ctx context.Context, st store.Store, accountID int64, tuples []models.StreamTuple, groups map[string]int64, hashKeys []string, now time.Time) (Result, error) {
	var res Result

	// Stage by fingerprint; in-batch duplicates collapse last-wins.
	staged := make(map[string]models.Stream, len(tuples))
	order := make([]string, 0, len(tuples))
	for i := range tuples {
		t := &tuples[i]
		if t.Name == "" || t.URL == "" {
			res.Malformed++
			continue
		}
		groupName := t.GroupName
		if groupName == "" {
			groupName = models.DefaultGroupName
		}
		groupID, ok := groups[groupName]
		if !ok {
			res.Filtered++
			continue
		}
		fp := fingerprint.Compute(t.Name, t.URL, t.TVGID, hashKeys)
		if _, dup := staged[fp]; !dup {
			order = append(order, fp)
		}
		staged[fp] = models.Stream{
			Fingerprint: fp,
			AccountID:   accountID,
			GroupID:     groupID,
			Name:        t.Name,
			URL:         t.URL,
			TVGID:       t.TVGID,
			LogoURL:     t.LogoURL,
			Attributes:  t.Attributes,
			LastSeen:    now,
			UpdatedAt:   now,
		}
	}
	if len(staged) == 0 {
		return res, nil
	}

	existing, err := st.StreamsByFingerprint(ctx, order)
	if err != nil {
		return res, fmt.Errorf("load existing: %w", err)
	}
	byFP := make(map[string]*models.Stream, len(existing))
	for i := range existing {
		byFP[existing[i].Fingerprint] = &existing[i]
	}

	var inserts, updates []models.Stream
	var touched []int64
	for _, fp := range order {
		next := staged[fp]
		cur, ok := byFP[fp]
		if !ok {
			inserts = append(inserts, next)
			continue
		}
		if streamChanged(cur, &next) {
			next.ID = cur.ID
			updates = append(updates, next)
		} else {
			touched = append(touched, cur.ID)
		}
	}

	created, err := st.InsertStreams(ctx, inserts)
	if err != nil {
		return res, fmt.Errorf("insert: %w", err)
	}
	res.Created = created

	// Two separate writes so touched rows never get a spurious updated_at bump.
	if err := st.UpdateStreams(ctx, updates); err != nil {
		return res, fmt.Errorf("update: %w", err)
	}
	res.Updated = int64(len(updates))

	if err := st.TouchStreams(ctx, touched, now); err != nil {
		return res, fmt.Errorf("touch: %w", err)
	}
	res.Touched = int64(len(touched))

	return res, nil
}

// streamChanged reports whether any compared content field differs between
// the stored record and the new observation.
func streamChanged(cur, next *models.Stream) bool {
	return cur.Name != next.Name ||
		cur.URL != next.URL ||
		cur.TVGID != next.TVGID ||
		cur.LogoURL != next.LogoURL ||
		cur.GroupID != next.GroupID ||
		!maps.Equal(cur.Attributes, next.Attributes)
}
