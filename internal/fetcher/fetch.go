package fetcher

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// M3USource fetches an account's playlist over HTTP and parses it.
type M3USource struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetch downloads and parses the account's M3U URL. Gzip-compressed
// playlists (by magic bytes, not extension) are decompressed transparently.
func (s *M3USource) Fetch(ctx context.Context, account *models.Account) (*ParseResult, error) {
	if account.URL == "" {
		return nil, fmt.Errorf("account %d has no feed URL", account.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, account.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	ua := account.UserAgent
	if ua == "" {
		ua = s.UserAgent
	}
	if ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	client := &http.Client{Timeout: s.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := maybeGunzip(resp.Body)
	if err != nil {
		return nil, err
	}
	return ParseM3U(body)
}

// maybeGunzip wraps r in a gzip reader when the stream starts with the gzip
// magic bytes.
func maybeGunzip(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peek: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	}
	return br, nil
}
