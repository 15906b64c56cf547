package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/streamvault/internal/models"
	"github.com/voyagen/streamvault/internal/store"
)

// Sweep removes streams that no longer belong to the account's view of the
// provider: rows whose group is not in the enabled set, plus rows not seen
// for longer than the account's retention window. Both comparisons use the
// scan window captured at refresh start, so a slow refresh cannot reap rows
// it observed itself.
func Sweep(ctx context.Context, st store.Store, account *models.Account, enabledGroupIDs []int64, scanWindow time.Time) (int64, error) {
	outside, err := st.DeleteStreamsOutsideGroups(ctx, account.ID, enabledGroupIDs)
	if err != nil {
		return 0, fmt.Errorf("delete filtered streams: %w", err)
	}

	retention := account.RetentionDays
	if retention <= 0 {
		retention = models.DefaultRetentionDays
	}
	cutoff := scanWindow.AddDate(0, 0, -retention)
	stale, err := st.DeleteStaleStreams(ctx, account.ID, cutoff)
	if err != nil {
		return outside, fmt.Errorf("delete stale streams: %w", err)
	}
	return outside + stale, nil
}
