package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/voyagen/streamvault/internal/models"
)

// Category is one Xtream-Codes live category.
type Category struct {
	ID   string `json:"category_id"`
	Name string `json:"category_name"`
}

// XtreamStream is one entry from a category listing. The whole object is
// preserved in the tuple's attribute bag.
type XtreamStream struct {
	ID           int    `json:"stream_id"`
	Name         string `json:"name"`
	Icon         string `json:"stream_icon"`
	EPGChannelID string `json:"epg_channel_id"`
}

// XtreamClient is the provider-protocol surface the engine needs. The real
// HTTP client (authentication, panel quirks) lives outside this module.
type XtreamClient interface {
	LiveCategories(ctx context.Context) ([]Category, error)
	CategoryStreams(ctx context.Context, categoryID string) ([]XtreamStream, error)
	StreamURL(streamID int) string
}

// ParseCategoryBatch lists one category and normalizes its streams into
// tuples tagged with the category name as group.
func ParseCategoryBatch(ctx context.Context, client XtreamClient, cat Category) ([]models.StreamTuple, error) {
	streams, err := client.CategoryStreams(ctx, cat.ID)
	if err != nil {
		return nil, fmt.Errorf("category %s (%s): %w", cat.Name, cat.ID, err)
	}
	tuples := make([]models.StreamTuple, 0, len(streams))
	for _, s := range streams {
		tuples = append(tuples, models.StreamTuple{
			Name:      s.Name,
			URL:       client.StreamURL(s.ID),
			TVGID:     s.EPGChannelID,
			LogoURL:   s.Icon,
			GroupName: cat.Name,
			Attributes: map[string]string{
				"stream_id":      strconv.Itoa(s.ID),
				"epg_channel_id": s.EPGChannelID,
				"stream_icon":    s.Icon,
				"raw":            rawJSON(s),
			},
		})
	}
	return tuples, nil
}

func rawJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// XtreamSource adapts an XtreamClient factory into the Source interface.
type XtreamSource struct {
	// Connect builds an authenticated client for the account.
	Connect func(ctx context.Context, account *models.Account) (XtreamClient, error)
}

// Fetch lists all live categories and their streams. A single failing
// category is logged and skipped; the rest of the catalog still ingests.
func (s *XtreamSource) Fetch(ctx context.Context, account *models.Account) (*ParseResult, error) {
	client, err := s.Connect(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("xtream connect: %w", err)
	}
	cats, err := client.LiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("xtream categories: %w", err)
	}

	res := &ParseResult{Groups: []string{models.DefaultGroupName}}
	log := logrus.WithField("account", account.ID)
	for _, cat := range cats {
		res.Groups = append(res.Groups, cat.Name)
		tuples, err := ParseCategoryBatch(ctx, client, cat)
		if err != nil {
			log.WithError(err).WithField("category", cat.Name).Error("skipping category")
			continue
		}
		res.Tuples = append(res.Tuples, tuples...)
	}
	return res, nil
}
