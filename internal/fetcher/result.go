package fetcher

import (
	"context"

	"github.com/voyagen/streamvault/internal/models"
)

// ParseResult is a fully parsed feed: the normalized stream tuples plus every
// group name the feed mentioned (the default group included).
type ParseResult struct {
	Tuples []models.StreamTuple
	Groups []string
}

// Source retrieves and parses one account's feed. The refresh engine only
// depends on this interface; the M3U and Xtream implementations live here,
// tests substitute their own.
type Source interface {
	Fetch(ctx context.Context, account *models.Account) (*ParseResult, error)
}
