package aoi

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
)

// DictionaryResolver looks names up in a site table and loads the boundary
// from the configured asset path. It never lists the store.
type DictionaryResolver struct {
	sites properties.SiteTable
	store AssetStore
}

func NewDictionaryResolver(sites properties.SiteTable, store AssetStore) *DictionaryResolver {
	return &DictionaryResolver{sites: sites, store: store}
}

func (r *DictionaryResolver) Resolve(ctx context.Context, name string) (AreaOfInterest, error) {
	asset, ok := r.sites[name]
	if !ok {
		return AreaOfInterest{}, &NotFoundError{Name: name, Where: "site table"}
	}
	boundary, err := r.store.Load(ctx, asset)
	if err != nil {
		return AreaOfInterest{}, fmt.Errorf("failed to load boundary of %s: %w", name, err)
	}
	return AreaOfInterest{Name: name, Asset: asset, Boundary: boundary}, nil
}

type AmbiguityPolicy string

const (
	// PickFirst takes the lexically first match and logs the others.
	PickFirst AmbiguityPolicy = "first"
	// FailOnAmbiguity returns an *AmbiguousError.
	FailOnAmbiguity AmbiguityPolicy = "error"
)

func ParseAmbiguityPolicy(s string) (AmbiguityPolicy, error) {
	switch AmbiguityPolicy(s) {
	case PickFirst, FailOnAmbiguity:
		return AmbiguityPolicy(s), nil
	}
	return "", fmt.Errorf("unknown ambiguity policy %q", s)
}

// CatalogResolver searches an asset folder for names containing the
// requested one.
type CatalogResolver struct {
	store  AssetStore
	folder string
	policy AmbiguityPolicy
	log    logrus.FieldLogger
}

func NewCatalogResolver(store AssetStore, folder string, policy AmbiguityPolicy, log logrus.FieldLogger) *CatalogResolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CatalogResolver{store: store, folder: folder, policy: policy, log: log}
}

// Candidates lists the assets whose base name contains name, sorted.
func (r *CatalogResolver) Candidates(ctx context.Context, name string) ([]string, error) {
	assets, err := r.store.List(ctx, r.folder)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, asset := range assets {
		if strings.Contains(path.Base(asset), name) {
			matches = append(matches, asset)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (r *CatalogResolver) Resolve(ctx context.Context, name string) (AreaOfInterest, error) {
	if name == "" {
		return AreaOfInterest{}, &NotFoundError{Name: name, Where: r.folder}
	}
	matches, err := r.Candidates(ctx, name)
	if err != nil {
		return AreaOfInterest{}, err
	}

	switch {
	case len(matches) == 0:
		return AreaOfInterest{}, &NotFoundError{Name: name, Where: r.folder}
	case len(matches) > 1 && r.policy == FailOnAmbiguity:
		return AreaOfInterest{}, &AmbiguousError{Name: name, Candidates: matches}
	case len(matches) > 1:
		r.log.WithFields(logrus.Fields{"site": name, "candidates": matches}).Warnf("Several assets match, using %s", matches[0])
	}

	boundary, err := r.store.Load(ctx, matches[0])
	if err != nil {
		return AreaOfInterest{}, fmt.Errorf("failed to load boundary of %s: %w", name, err)
	}
	return AreaOfInterest{Name: name, Asset: matches[0], Boundary: boundary}, nil
}

type chain []Resolver

// Chain tries each resolver in turn and moves on only when one reports a
// *NotFoundError.
func Chain(resolvers ...Resolver) Resolver {
	return chain(resolvers)
}

func (c chain) Resolve(ctx context.Context, name string) (AreaOfInterest, error) {
	var lastErr error = &NotFoundError{Name: name, Where: "any resolver"}
	for _, r := range c {
		area, err := r.Resolve(ctx, name)
		if err == nil {
			return area, nil
		}
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			return AreaOfInterest{}, err
		}
		lastErr = err
	}
	return AreaOfInterest{}, lastErr
}
