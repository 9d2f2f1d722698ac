package aoi

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
)

const assetFolder = "projects/ee-sensingclues-timeseries/assets"

const zambiaGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Zambia"},
     "geometry": {"type": "Polygon", "coordinates": [[[22, -18], [33.7, -18], [33.7, -8.2], [22, -8.2], [22, -18]]]}}
  ]
}`

type countingStore struct {
	AssetStore
	lists int
	loads []string
}

func (s *countingStore) List(ctx context.Context, folder string) ([]string, error) {
	s.lists++
	return s.AssetStore.List(ctx, folder)
}

func (s *countingStore) Load(ctx context.Context, asset string) (orb.Geometry, error) {
	s.loads = append(s.loads, asset)
	return s.AssetStore.Load(ctx, asset)
}

func writeAsset(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(assetFolder))
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".geojson"), []byte(content), 0644))
}

func newStore(t *testing.T) *countingStore {
	t.Helper()
	root := t.TempDir()
	writeAsset(t, root, "Zambia_boundary", zambiaGeoJSON)
	writeAsset(t, root, "Zambia_parks", zambiaGeoJSON)
	writeAsset(t, root, "Kenya_boundary", `{"type": "Polygon", "coordinates": [[[34, -4], [41, -4], [41, 5], [34, 5], [34, -4]]]}`)
	return &countingStore{AssetStore: NewLocalAssetStore(root)}
}

func TestDictionaryResolverUsesConfiguredAsset(t *testing.T) {
	store := newStore(t)
	sites := properties.SiteTable{"Zambia": assetFolder + "/Zambia_boundary"}

	area, err := NewDictionaryResolver(sites, store).Resolve(context.Background(), "Zambia")
	require.NoError(t, err)

	assert.Equal(t, "Zambia", area.Name)
	assert.Equal(t, assetFolder+"/Zambia_boundary", area.Asset)
	assert.IsType(t, orb.Polygon{}, area.Boundary)
	assert.Zero(t, store.lists, "dictionary mode must not search the catalog")
	assert.Equal(t, []string{assetFolder + "/Zambia_boundary"}, store.loads)
}

func TestDictionaryResolverNotFound(t *testing.T) {
	_, err := NewDictionaryResolver(properties.SiteTable{}, newStore(t)).Resolve(context.Background(), "Zambia")

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "Zambia", notFound.Name)
}

func TestCatalogResolverSubstringMatch(t *testing.T) {
	store := newStore(t)
	area, err := NewCatalogResolver(store, assetFolder, PickFirst, nil).Resolve(context.Background(), "Kenya")
	require.NoError(t, err)

	assert.Equal(t, assetFolder+"/Kenya_boundary", area.Asset)
	assert.Equal(t, 1, store.lists)
}

func TestCatalogResolverTieBreakIsLexical(t *testing.T) {
	area, err := NewCatalogResolver(newStore(t), assetFolder, PickFirst, nil).Resolve(context.Background(), "Zambia")
	require.NoError(t, err)
	assert.Equal(t, assetFolder+"/Zambia_boundary", area.Asset)
}

func TestCatalogResolverAmbiguityPolicy(t *testing.T) {
	_, err := NewCatalogResolver(newStore(t), assetFolder, FailOnAmbiguity, nil).Resolve(context.Background(), "Zambia")

	var ambiguous *AmbiguousError
	require.ErrorAs(t, err, &ambiguous)
	assert.Equal(t, []string{assetFolder + "/Zambia_boundary", assetFolder + "/Zambia_parks"}, ambiguous.Candidates)
}

func TestUnknownNameIsNotFoundInEveryMode(t *testing.T) {
	store := newStore(t)
	sites := properties.SiteTable{"Zambia": assetFolder + "/Zambia_boundary"}
	resolvers := map[string]Resolver{
		"dictionary": NewDictionaryResolver(sites, store),
		"catalog":    NewCatalogResolver(store, assetFolder, PickFirst, nil),
		"auto":       Chain(NewDictionaryResolver(sites, store), NewCatalogResolver(store, assetFolder, PickFirst, nil)),
	}

	for mode, resolver := range resolvers {
		t.Run(mode, func(t *testing.T) {
			_, err := resolver.Resolve(context.Background(), "Narnia")
			var notFound *NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "Narnia", notFound.Name)
		})
	}
}

func TestChainFallsBackToCatalog(t *testing.T) {
	store := newStore(t)
	resolver := Chain(NewDictionaryResolver(properties.SiteTable{}, store), NewCatalogResolver(store, assetFolder, PickFirst, nil))

	area, err := resolver.Resolve(context.Background(), "Kenya")
	require.NoError(t, err)
	assert.Equal(t, assetFolder+"/Kenya_boundary", area.Asset)
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string) (AreaOfInterest, error) {
	return AreaOfInterest{}, r.err
}

func TestChainStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Chain(failingResolver{err: boom}, NewCatalogResolver(newStore(t), assetFolder, PickFirst, nil)).Resolve(context.Background(), "Kenya")
	assert.ErrorIs(t, err, boom)
}

func TestDictionaryResolverMissingAsset(t *testing.T) {
	sites := properties.SiteTable{"Atlantis": assetFolder + "/Atlantis_boundary"}
	_, err := NewDictionaryResolver(sites, newStore(t)).Resolve(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestParseBoundaryMergesPolygons(t *testing.T) {
	boundary, err := ParseBoundary([]byte(`{
	  "type": "FeatureCollection",
	  "features": [
	    {"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[0, 0], [1, 0], [1, 1], [0, 0]]]}},
	    {"type": "Feature", "properties": {}, "geometry": {"type": "MultiPolygon", "coordinates": [[[[2, 2], [3, 2], [3, 3], [2, 2]]], [[[4, 4], [5, 4], [5, 5], [4, 4]]]]}}
	  ]
	}`))
	require.NoError(t, err)

	mp, ok := boundary.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, mp, 3)
}

func TestParseBoundaryRejectsNonPolygons(t *testing.T) {
	_, err := ParseBoundary([]byte(`{"type": "Point", "coordinates": [1, 2]}`))
	assert.Error(t, err)

	_, err = ParseBoundary([]byte(`{"type": "FeatureCollection", "features": []}`))
	assert.Error(t, err)
}

func TestCentroid(t *testing.T) {
	area := AreaOfInterest{Name: "square", Boundary: orb.Polygon{{{0, 0}, {2, 0}, {2, 4}, {0, 4}, {0, 0}}}}
	c, err := area.Centroid()
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.Lon(), 1e-12)
	assert.InDelta(t, 2.0, c.Lat(), 1e-12)

	_, err = AreaOfInterest{Name: "empty"}.Centroid()
	assert.Error(t, err)
}
