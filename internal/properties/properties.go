package properties

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type CopernicusConfig struct {
	ClientIDs     []string `env:"CLIENT_ID" envSeparator:","`
	ClientSecrets []string `env:"CLIENT_SECRET" envSeparator:","`
	TokenURL      string   `env:"TOKEN_URL" envDefault:"https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"`
	BaseURL       string   `env:"BASE_URL" envDefault:"https://sh.dataspace.copernicus.eu"`
	Collection    string   `env:"COLLECTION" envDefault:"sentinel-2-l2a"`
	Retries       int      `env:"RETRIES" envDefault:"10"`
}

type S3Config struct {
	Endpoint        string `env:"S3_ENDPOINT_URL"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

type ExportConfig struct {
	Sink         string `env:"SINK" envDefault:"local"`
	Bucket       string `env:"BUCKET"`
	Dir          string `env:"DIR" envDefault:"data/exports"`
	Workers      int    `env:"WORKERS" envDefault:"2"`
	Preview      bool   `env:"PREVIEW" envDefault:"true"`
	ManifestPath string `env:"MANIFEST_PATH" envDefault:"data/exports/manifest.csv"`
}

// Config is read once at startup. The pipeline receives the values it needs
// as an immutable pipeline.Config, never this struct.
type Config struct {
	RootPath  string `env:"ROOT_PATH" envDefault:"."`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	CountryName  string  `env:"COUNTRY_NAME" envDefault:"Zambia"`
	StartYear    int     `env:"START_YEAR" envDefault:"2020"`
	StartMonth   int     `env:"START_MONTH" envDefault:"2"`
	EndYear      int     `env:"END_YEAR"`
	EndMonth     int     `env:"END_MONTH"`
	Resolution   float64 `env:"RESOLUTION" envDefault:"10"`
	CRS          string  `env:"CRS" envDefault:"EPSG:4326"`
	OutputFolder string  `env:"OUTPUT_FOLDER" envDefault:"GEE/{country}/{resolution}m_resolution"`
	FilterCloud  bool    `env:"FILTER_CLOUD" envDefault:"true"`
	CloudCeiling float64 `env:"CLOUD_CEILING" envDefault:"100"`
	MaxPixels    int64   `env:"MAX_PIXELS" envDefault:"1000000000"`
	SceneOrder   string  `env:"SCENE_ORDER" envDefault:"acquired"`

	NIRBand string `env:"NIR_BAND" envDefault:"B08"`
	RedBand string `env:"RED_BAND" envDefault:"B04"`
	SCLBand string `env:"SCL_BAND" envDefault:"SCL"`

	AoIMode      string `env:"AOI_MODE" envDefault:"auto"`
	AoIPath      string `env:"AOI_PATH" envDefault:"data/geojsons"`
	AoIFolder    string `env:"AOI_FOLDER" envDefault:"projects/ee-sensingclues-timeseries/assets"`
	AoIAmbiguity string `env:"AOI_AMBIGUITY" envDefault:"first"`
	SitesFile    string `env:"SITES_FILE" envDefault:"sites.yaml"`
	AssetStore   string `env:"ASSET_STORE" envDefault:"local"`
	AssetBucket  string `env:"ASSET_BUCKET"`

	Copernicus       CopernicusConfig `envPrefix:"COPERNICUS_"`
	FetchConcurrency int              `env:"FETCH_CONCURRENCY" envDefault:"4"`
	CacheDir         string           `env:"CACHE_DIR" envDefault:"data/cache"`
	Progress         bool             `env:"PROGRESS" envDefault:"false"`

	Export ExportConfig `envPrefix:"EXPORT_"`
	S3     S3Config

	DiscordErrorNotificationURL   string `env:"DISCORD_ERROR_NOTIFICATION_URL"`
	DiscordSuccessNotificationURL string `env:"DISCORD_SUCCESS_NOTIFICATION_URL"`

	Schedule string `env:"SCHEDULE" envDefault:"0 3 1 * *"`
}

// LoadConfig reads the optional .env files and parses the environment.
func LoadConfig(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.CountryName == "" {
		errs = append(errs, errors.New("COUNTRY_NAME is required"))
	}
	if c.StartMonth < 1 || c.StartMonth > 12 {
		errs = append(errs, fmt.Errorf("START_MONTH must be within 1..12, got %d", c.StartMonth))
	}
	if c.EndMonth != 0 && (c.EndMonth < 1 || c.EndMonth > 12) {
		errs = append(errs, fmt.Errorf("END_MONTH must be within 1..12, got %d", c.EndMonth))
	}
	if c.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("RESOLUTION must be positive, got %v", c.Resolution))
	}
	if !strings.HasPrefix(strings.ToUpper(c.CRS), "EPSG:") {
		errs = append(errs, fmt.Errorf("CRS must be an EPSG code, got %q", c.CRS))
	}
	if c.CloudCeiling < 0 || c.CloudCeiling > 100 {
		errs = append(errs, fmt.Errorf("CLOUD_CEILING must be within 0..100, got %v", c.CloudCeiling))
	}
	if c.MaxPixels <= 0 {
		errs = append(errs, fmt.Errorf("MAX_PIXELS must be positive, got %d", c.MaxPixels))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("FETCH_CONCURRENCY must be at least 1, got %d", c.FetchConcurrency))
	}
	if c.Export.Workers < 1 {
		errs = append(errs, fmt.Errorf("EXPORT_WORKERS must be at least 1, got %d", c.Export.Workers))
	}
	switch c.AoIMode {
	case "auto", "dictionary", "catalog":
	default:
		errs = append(errs, fmt.Errorf("AOI_MODE must be auto, dictionary or catalog, got %q", c.AoIMode))
	}
	switch c.Export.Sink {
	case "local":
	case "s3":
		if c.Export.Bucket == "" {
			errs = append(errs, errors.New("EXPORT_BUCKET is required for the s3 sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("EXPORT_SINK must be local or s3, got %q", c.Export.Sink))
	}
	if c.AssetStore == "s3" && c.AssetBucket == "" {
		errs = append(errs, errors.New("ASSET_BUCKET is required for the s3 asset store"))
	}
	return errors.Join(errs...)
}

// Path resolves p against RootPath unless it is already absolute.
func (c Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.RootPath, p)
}
