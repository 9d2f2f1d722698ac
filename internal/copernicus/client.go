// Package copernicus implements the scene source on top of the Copernicus
// Data Space Sentinel Hub Catalog and Process APIs.
package copernicus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/cache"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
)

// maxTileSize is the largest width or height the Process API accepts.
const maxTileSize = 2500

var ErrUnauthorized = errors.New("unauthorized access, check your client ID and secret")

type Client struct {
	clients     []*resty.Client
	collection  string
	bands       sentinel.BandNames
	imageDir    string
	searchCache cache.CacheService[[]sentinel.SceneInfo]
	tileSize    int
	log         logrus.FieldLogger
	now         func() time.Time
}

var _ sentinel.SceneSource = (*Client)(nil)

type options struct {
	httpClient *http.Client
	retryWait  time.Duration
	bands      sentinel.BandNames
	cacheDir   string
	tileSize   int
	log        logrus.FieldLogger
}

type Option func(*options)

// WithHTTPClient replaces the OAuth2 clients with a single plain client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

func WithRetryWait(d time.Duration) Option {
	return func(o *options) { o.retryWait = d }
}

func WithBandNames(bands sentinel.BandNames) Option {
	return func(o *options) { o.bands = bands }
}

// WithCacheDir keeps downloaded GeoTIFFs and catalog searches of settled
// windows below dir. Without it every call goes to the API.
func WithCacheDir(dir string) Option {
	return func(o *options) { o.cacheDir = dir }
}

func WithTileSize(n int) Option {
	return func(o *options) { o.tileSize = n }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

func New(cfg properties.CopernicusConfig, opts ...Option) (*Client, error) {
	o := options{
		retryWait: 5 * time.Second,
		bands:     sentinel.DefaultBandNames,
		tileSize:  maxTileSize,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var httpClients []*http.Client
	if o.httpClient != nil {
		httpClients = append(httpClients, o.httpClient)
	} else {
		if len(cfg.ClientIDs) == 0 || len(cfg.ClientSecrets) == 0 || cfg.TokenURL == "" {
			return nil, errors.New("missing required environment variables: COPERNICUS_CLIENT_ID, COPERNICUS_CLIENT_SECRET, or COPERNICUS_TOKEN_URL")
		}
		if len(cfg.ClientIDs) != len(cfg.ClientSecrets) {
			return nil, errors.New("mismatched number of client IDs and secrets")
		}
		for i, clientID := range cfg.ClientIDs {
			config := &clientcredentials.Config{
				ClientID:     clientID,
				ClientSecret: cfg.ClientSecrets[i],
				TokenURL:     cfg.TokenURL,
			}
			httpClients = append(httpClients, config.Client(context.Background()))
		}
	}

	c := &Client{
		collection: cfg.Collection,
		bands:      o.bands,
		tileSize:   min(o.tileSize, maxTileSize),
		log:        o.log,
		now:        time.Now,
	}
	for _, hc := range httpClients {
		c.clients = append(c.clients, newRestyClient(hc, cfg.BaseURL, cfg.Retries, o.retryWait, o.log))
	}
	if o.cacheDir != "" {
		c.imageDir = filepath.Join(o.cacheDir, "images")
		c.searchCache = cache.NewFileCache[[]sentinel.SceneInfo](filepath.Join(o.cacheDir, "catalog"), 0)
	}
	return c, nil
}

func newRestyClient(hc *http.Client, baseURL string, retries int, wait time.Duration, log logrus.FieldLogger) *resty.Client {
	return resty.NewWithClient(hc).
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(wait).
		SetRetryMaxWaitTime(6 * wait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		AddRetryHook(func(r *resty.Response, err error) {
			if err != nil {
				log.WithError(err).Warn("Copernicus request failed, retrying")
				return
			}
			log.WithField("status", r.StatusCode()).Warn("Copernicus request failed, retrying")
		})
}

// post sends the request with each credential in turn until one is
// accepted. Client errors other than 401 and 403 are returned at once.
func (c *Client) post(ctx context.Context, path string, body any) (*resty.Response, error) {
	var lastErr error
	for i, rc := range c.clients {
		resp, err := rc.R().SetContext(ctx).SetBody(body).Post(path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", path, err)
			continue
		}
		switch {
		case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
			lastErr = fmt.Errorf("credential %d: %w", i+1, ErrUnauthorized)
			continue
		case resp.StatusCode() >= http.StatusInternalServerError || resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%s returned %d after retries: %s", path, resp.StatusCode(), resp.String())
			continue
		case resp.IsError():
			return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode(), resp.String())
		}
		return resp, nil
	}
	return nil, lastErr
}
