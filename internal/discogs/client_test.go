package discogs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RiiPPeR/chiclana-records-back/internal/config"
)

const searchFixture = `{
	"results": [
		{
			"id": 999,
			"title": "Air - Moon Safari",
			"year": "1998",
			"country": "FR",
			"label": ["Source", "Virgin"],
			"catno": "SRC01",
			"thumb": "https://img.discogs.com/thumb.jpg",
			"cover_image": "https://img.discogs.com/cover.jpg"
		},
		{
			"id": 111,
			"title": "Untitled Bootleg",
			"year": "",
			"country": "",
			"label": [],
			"catno": "",
			"thumb": "https://img.discogs.com/boot.jpg",
			"cover_image": ""
		}
	]
}`

func TestSearchMapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/database/search", r.URL.Path)
		assert.Equal(t, "moon safari", r.URL.Query().Get("q"))
		assert.Equal(t, "release", r.URL.Query().Get("type"))
		assert.Equal(t, "Discogs token=secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchFixture))
	}))
	defer srv.Close()

	c := NewClient(&config.Config{
		DiscogsBaseURL: srv.URL,
		DiscogsToken:   "secret",
	}, zap.NewNop().Sugar())

	results, err := c.Search(context.Background(), "moon safari")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, SearchResult{
		DiscogsID: 999,
		Title:     "Moon Safari",
		Artist:    "Air",
		ImageURL:  "https://img.discogs.com/cover.jpg",
		Country:   "FR",
		Year:      1998,
		Label:     "Source",
		Catno:     "SRC01",
	}, results[0])

	// No separator means no artist; thumb fills in for a missing cover.
	assert.Equal(t, SearchResult{
		DiscogsID: 111,
		Title:     "Untitled Bootleg",
		ImageURL:  "https://img.discogs.com/boot.jpg",
	}, results[1])
}

func TestSearchSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(&config.Config{DiscogsBaseURL: srv.URL}, zap.NewNop().Sugar())

	_, err := c.Search(context.Background(), "anything")
	assert.Error(t, err)
}

func TestSplitTitle(t *testing.T) {
	artist, title := splitTitle("Air - Moon Safari")
	assert.Equal(t, "Air", artist)
	assert.Equal(t, "Moon Safari", title)

	artist, title = splitTitle("Moon Safari")
	assert.Equal(t, "", artist)
	assert.Equal(t, "Moon Safari", title)

	// Only the first separator splits; hyphens in the title survive.
	artist, title = splitTitle("Nine Inch Nails - Year Zero - Remixed")
	assert.Equal(t, "Nine Inch Nails", artist)
	assert.Equal(t, "Year Zero - Remixed", title)
}
