package fetcher

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/voyagen/streamvault/internal/models"
)

var reAttr = regexp.MustCompile(`([\w.-]+)=["']([^"']*)["']`)

// ParseM3U reads an M3U playlist from r and returns normalized stream tuples
// plus the set of discovered group names. Entries the parser cannot make
// sense of are skipped; one bad line never fails the feed.
func ParseM3U(r io.Reader) (*ParseResult, error) {
	res := &ParseResult{}
	seen := map[string]bool{models.DefaultGroupName: true}
	res.Groups = append(res.Groups, models.DefaultGroupName)

	scanner := bufio.NewScanner(r)
	// Handle long lines (some M3U have very long EXTINF lines).
	const maxSize = 1024 * 1024
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxSize)

	var pending *models.StreamTuple
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(strings.ToUpper(line), "#EXTINF"):
			pending = parseEXTINF(line)
		case line == "" || strings.HasPrefix(line, "#"):
			// Other directives (EXTVLCOPT etc.) stay in the attribute bag of
			// nothing; they are not part of stream identity.
		default:
			// URL line. An orphan URL without a preceding EXTINF is malformed.
			if pending == nil {
				continue
			}
			pending.URL = line
			group := models.Attr(pending.Attributes, "group-title")
			if group == "" {
				group = models.DefaultGroupName
			}
			pending.GroupName = group
			if !seen[group] {
				seen[group] = true
				res.Groups = append(res.Groups, group)
			}
			res.Tuples = append(res.Tuples, *pending)
			pending = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// parseEXTINF splits an EXTINF line into its attribute map and display name.
// Returns nil when the line has no comma-separated display part.
func parseEXTINF(line string) *models.StreamTuple {
	content := strings.TrimSpace(strings.TrimPrefix(line, "#EXTINF:"))
	attrPart, display, ok := splitOnUnquotedComma(content)
	if !ok {
		return nil
	}
	attrs := make(map[string]string)
	for _, m := range reAttr.FindAllStringSubmatch(attrPart, -1) {
		attrs[m[1]] = m[2]
	}
	name := models.Attr(attrs, "tvg-name")
	if name == "" {
		name = strings.TrimSpace(display)
	}
	if name == "" {
		return nil
	}
	return &models.StreamTuple{
		Name:       name,
		TVGID:      models.Attr(attrs, "tvg-id"),
		LogoURL:    models.Attr(attrs, "tvg-logo"),
		Attributes: attrs,
	}
}

// splitOnUnquotedComma splits on the first comma outside double quotes.
// Go's regexp has no lookahead, so this is a plain scan.
func splitOnUnquotedComma(s string) (before, after string, ok bool) {
	inQuotes := false
	for i, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return s[:i], s[i+1:], true
			}
		}
	}
	return "", "", false
}
