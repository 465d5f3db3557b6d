// Package discogs is a thin client for the Discogs database search API,
// which feeds the browse/search side of the app. Catalog rows are only ever
// written through the collection service; this client is read-only.
package discogs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/RiiPPeR/chiclana-records-back/internal/config"
)

const searchPageSize = "40"

var Module = fx.Provide(NewClient)

type (
	Client struct {
		http   *resty.Client
		logger *zap.SugaredLogger
	}

	// SearchResult is one release hit, flattened into the shape the
	// collection add endpoint accepts.
	SearchResult struct {
		DiscogsID uint64 `json:"discogs_id"`
		Title     string `json:"title"`
		Artist    string `json:"artist"`
		ImageURL  string `json:"image_url"`
		Country   string `json:"country"`
		Year      int    `json:"year"`
		Label     string `json:"label"`
		Catno     string `json:"catno"`
	}

	searchResponse struct {
		Results []searchHit `json:"results"`
	}

	// searchHit mirrors the wire format: the title field carries
	// "Artist - Title", year is a string, label is a list.
	searchHit struct {
		ID         uint64   `json:"id"`
		Title      string   `json:"title"`
		Year       string   `json:"year"`
		Country    string   `json:"country"`
		Label      []string `json:"label"`
		Catno      string   `json:"catno"`
		Thumb      string   `json:"thumb"`
		CoverImage string   `json:"cover_image"`
	}
)

func NewClient(cfg *config.Config, l *zap.SugaredLogger) *Client {
	http := resty.New().
		SetBaseURL(cfg.DiscogsBaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("User-Agent", "chiclana-records-back/1.0")
	if cfg.DiscogsToken != "" {
		http.SetHeader("Authorization", "Discogs token="+cfg.DiscogsToken)
	}

	return &Client{
		http:   http,
		logger: l,
	}
}

// Search queries Discogs for releases matching term.
func (c *Client) Search(ctx context.Context, term string) ([]SearchResult, error) {
	payload := searchResponse{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":        term,
			"type":     "release",
			"per_page": searchPageSize,
		}).
		SetResult(&payload).
		Get("/database/search")
	if err != nil {
		return nil, errors.Wrap(err, "discogs search request")
	}
	if resp.IsError() {
		return nil, errors.Errorf("discogs search: unexpected status %d", resp.StatusCode())
	}

	results := make([]SearchResult, 0, len(payload.Results))
	for _, hit := range payload.Results {
		results = append(results, hit.flatten())
	}

	c.logger.Infow("discogs search", "term", term, "hits", len(results))
	return results, nil
}

func (h searchHit) flatten() SearchResult {
	artist, title := splitTitle(h.Title)

	year := 0
	if h.Year != "" {
		if y, err := strconv.Atoi(h.Year); err == nil {
			year = y
		}
	}

	label := ""
	if len(h.Label) > 0 {
		label = h.Label[0]
	}

	image := h.CoverImage
	if image == "" {
		image = h.Thumb
	}

	return SearchResult{
		DiscogsID: h.ID,
		Title:     title,
		Artist:    artist,
		ImageURL:  image,
		Country:   h.Country,
		Year:      year,
		Label:     label,
		Catno:     h.Catno,
	}
}

// splitTitle breaks a "Artist - Title" release title apart. Titles without
// the separator come back with an empty artist.
func splitTitle(combined string) (artist, title string) {
	parts := strings.SplitN(combined, " - ", 2)
	if len(parts) != 2 {
		return "", combined
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
