package copernicus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

const catalogSearchPath = "/api/v1/catalog/1.0.0/search"

// catalogSettle is how long after a window ends its search results are
// still expected to change while late acquisitions are ingested.
const catalogSettle = 7 * 24 * time.Hour

type catalogFields struct {
	Include []string `json:"include"`
}

type catalogRequest struct {
	Collections []string          `json:"collections"`
	Datetime    string            `json:"datetime"`
	Intersects  *geojson.Geometry `json:"intersects"`
	Limit       int               `json:"limit"`
	Next        int               `json:"next,omitempty"`
	Fields      catalogFields     `json:"fields"`
}

type catalogFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Datetime   time.Time `json:"datetime"`
		CloudCover float64   `json:"eo:cloud_cover"`
	} `json:"properties"`
}

type catalogResponse struct {
	Features []catalogFeature `json:"features"`
	Context  struct {
		Next int `json:"next"`
	} `json:"context"`
}

// Search lists the acquisitions of the collection that intersect the
// boundary inside the window. Catalog items are per tile; tiles sensed on
// the same UTC day are merged into one scene whose cloud percentage is the
// highest of its tiles, since the Process API mosaics a whole day at once.
func (c *Client) Search(ctx context.Context, req sentinel.SearchRequest) ([]sentinel.SceneInfo, error) {
	boundary, err := json.Marshal(geojson.NewGeometry(req.Boundary))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal boundary: %w", err)
	}

	cacheable := c.searchCache != nil && req.Window.End.Add(catalogSettle).Before(c.now())
	var key string
	if cacheable {
		key = c.searchCache.GenerateKey(c.collection, string(boundary), req.Window.Start.Unix(), req.Window.End.Unix())
		if infos, ok := c.searchCache.Get(key); ok {
			return infos, nil
		}
	}

	body := catalogRequest{
		Collections: []string{c.collection},
		Datetime:    req.Window.Start.Format(time.RFC3339) + "/" + req.Window.InclusiveEnd().Format(time.RFC3339),
		Intersects:  geojson.NewGeometry(req.Boundary),
		Limit:       100,
		Fields:      catalogFields{Include: []string{"id", "properties.datetime", "properties.eo:cloud_cover"}},
	}

	var features []catalogFeature
	for {
		resp, err := c.post(ctx, catalogSearchPath, body)
		if err != nil {
			return nil, err
		}
		var page catalogResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to parse catalog response: %w", err)
		}
		features = append(features, page.Features...)
		if page.Context.Next == 0 || len(page.Features) == 0 {
			break
		}
		body.Next = page.Context.Next
	}

	infos := groupByDay(c.collection, features)
	c.log.WithFields(logrus.Fields{"month": req.Window.Month(), "tiles": len(features), "scenes": len(infos)}).Debug("Catalog search done")

	if cacheable {
		if err := c.searchCache.Set(key, infos); err != nil {
			c.log.WithError(err).Warn("Failed to cache catalog search")
		}
	}
	return infos, nil
}

func groupByDay(collection string, features []catalogFeature) []sentinel.SceneInfo {
	index := map[string]int{}
	var infos []sentinel.SceneInfo
	for _, f := range features {
		acquired := f.Properties.Datetime.UTC()
		id := fmt.Sprintf("%s_%s", collection, acquired.Format("20060102"))
		i, ok := index[id]
		if !ok {
			index[id] = len(infos)
			infos = append(infos, sentinel.SceneInfo{ID: id, Acquired: acquired, CloudPercent: f.Properties.CloudCover})
			continue
		}
		if acquired.Before(infos[i].Acquired) {
			infos[i].Acquired = acquired
		}
		infos[i].CloudPercent = max(infos[i].CloudPercent, f.Properties.CloudCover)
	}
	return infos
}
