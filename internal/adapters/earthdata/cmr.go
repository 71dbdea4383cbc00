package earthdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/riverscan/riverscan/internal/core/domain"
)

const searchAfterHeader = "CMR-Search-After"

type feed struct {
	Feed struct {
		Entry []entry `json:"entry"`
	} `json:"feed"`
}

type entry struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	GranuleSize string `json:"granule_size"`
	Links       []link `json:"links"`
}

type link struct {
	Rel       string `json:"rel"`
	Href      string `json:"href"`
	Inherited bool   `json:"inherited"`
}

// Search lists the granules of a dataset that intersect b. The dataset id is
// either a DOI or a CMR collection concept id.
func (c *Client) Search(ctx context.Context, datasetID string, b domain.Bounds) ([]domain.TileDescriptor, error) {
	conceptIDs, err := c.collectionIDs(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	for _, id := range conceptIDs {
		q.Add("collection_concept_id", id)
	}
	q.Set("bounding_box", formatBBox(b))
	q.Set("page_size", strconv.Itoa(c.pageSize))

	var (
		out         []domain.TileDescriptor
		searchAfter string
	)
	for page := 1; ; page++ {
		var f feed
		next, err := c.getJSON(ctx, c.cmrURL+"/search/granules.json?"+q.Encode(), searchAfter, &f)
		if err != nil {
			return nil, err
		}
		for _, e := range f.Feed.Entry {
			out = append(out, descriptor(e))
		}
		slog.Debug("cmr granule page", "page", page, "entries", len(f.Feed.Entry))

		if next == "" || len(f.Feed.Entry) == 0 {
			break
		}
		searchAfter = next
	}
	return out, nil
}

func (c *Client) collectionIDs(ctx context.Context, datasetID string) ([]string, error) {
	if !isDOI(datasetID) {
		return []string{datasetID}, nil
	}

	var f feed
	if _, err := c.getJSON(ctx, c.cmrURL+"/search/collections.json?"+url.Values{"doi": {datasetID}}.Encode(), "", &f); err != nil {
		return nil, err
	}
	if len(f.Feed.Entry) == 0 {
		return nil, fmt.Errorf("no collection found for DOI %s", datasetID)
	}
	ids := make([]string, 0, len(f.Feed.Entry))
	for _, e := range f.Feed.Entry {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

// getJSON fetches and decodes one CMR page, returning the search-after token
// for the next page, if any.
func (c *Client) getJSON(ctx context.Context, u, searchAfter string, v any) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if searchAfter != "" {
		req.Header.Set(searchAfterHeader, searchAfter)
	}

	resp, err := c.do(req, "cmr search")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return "", fmt.Errorf("decode cmr response: %w", err)
	}
	return resp.Header.Get(searchAfterHeader), nil
}

func descriptor(e entry) domain.TileDescriptor {
	d := domain.TileDescriptor{ID: e.ID, Title: e.Title, URLs: dataLinks(e.Links)}
	if size, err := strconv.ParseFloat(e.GranuleSize, 64); err == nil {
		d.SizeMB = size
	}
	return d
}

// dataLinks keeps direct https download links owned by the granule.
func dataLinks(links []link) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range links {
		if l.Inherited || !strings.HasSuffix(l.Rel, "/data#") || !strings.HasPrefix(l.Href, "https://") {
			continue
		}
		if seen[l.Href] {
			continue
		}
		seen[l.Href] = true
		out = append(out, l.Href)
	}
	return out
}

func formatBBox(b domain.Bounds) string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return strings.Join([]string{f(b.MinLon), f(b.MinLat), f(b.MaxLon), f(b.MaxLat)}, ",")
}

func isDOI(id string) bool {
	return strings.HasPrefix(id, "10.")
}
