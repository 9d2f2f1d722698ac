package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	bannercolor "github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/SensingClues/correlaid-environmental-time-series/internal/aoi"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/copernicus"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/daterange"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/export"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/logger"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/notification"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/pipeline"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/properties"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/sentinel"
	"github.com/SensingClues/correlaid-environmental-time-series/internal/storage"
)

func printBanner() {
	figure1 := figure.NewFigure("NDVI", "isometric1", true)
	figure2 := figure.NewFigure("Composites", "isometric1", true)
	bannercolor.Cyan(figure1.String())
	bannercolor.Cyan(figure2.String())
	fmt.Println()
}

type flags struct {
	envFile    string
	country    string
	start      string
	end        string
	resolution float64
	crs        string
	noBanner   bool
}

// app holds everything built from the configuration for one command.
type app struct {
	cfg        properties.Config
	log        *logrus.Logger
	sites      properties.SiteTable
	store      aoi.AssetStore
	resolver   aoi.Resolver
	catalog    *aoi.CatalogResolver
	discord    *notification.Discord
	dispatcher *export.Dispatcher
	driver     *pipeline.Driver
}

func parseYearMonth(s string) (int, int, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return t.Year(), int(t.Month()), nil
}

func loadConfig(cmd *cobra.Command, f *flags) (properties.Config, error) {
	cfg, err := properties.LoadConfig(f.envFile)
	if err != nil {
		return cfg, err
	}

	fs := cmd.Flags()
	if fs.Changed("country") {
		cfg.CountryName = f.country
	}
	if fs.Changed("start") {
		if cfg.StartYear, cfg.StartMonth, err = parseYearMonth(f.start); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("end") {
		if cfg.EndYear, cfg.EndMonth, err = parseYearMonth(f.end); err != nil {
			return cfg, err
		}
	}
	if fs.Changed("resolution") {
		cfg.Resolution = f.resolution
	}
	if fs.Changed("crs") {
		cfg.CRS = f.crs
	}
	return cfg, cfg.Validate()
}

func newAssetStore(ctx context.Context, cfg properties.Config) (aoi.AssetStore, error) {
	if cfg.AssetStore != "s3" {
		return aoi.NewLocalAssetStore(cfg.Path(cfg.AoIPath)), nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return aoi.NewS3AssetStore(client, cfg.AssetBucket), nil
}

func newSink(ctx context.Context, cfg properties.Config) (export.Sink, error) {
	if cfg.Export.Sink != "s3" {
		return export.NewLocalSink(cfg.Path(cfg.Export.Dir)), nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	return export.NewS3Sink(client, cfg.Export.Bucket), nil
}

// newResolverApp wires the logger and the area of interest resolvers.
func newResolverApp(ctx context.Context, cfg properties.Config) (*app, error) {
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	a.discord = notification.NewDiscord(cfg.DiscordErrorNotificationURL, cfg.DiscordSuccessNotificationURL, log)

	if a.store, err = newAssetStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to create asset store: %w", err)
	}

	a.sites = properties.SiteTable{}
	if cfg.AoIMode != "catalog" {
		a.sites, err = properties.LoadSiteTable(cfg.Path(cfg.SitesFile))
		if err != nil && !(cfg.AoIMode == "auto" && errors.Is(err, os.ErrNotExist)) {
			return nil, err
		}
		if a.sites == nil {
			log.WithField("file", cfg.SitesFile).Warn("Site table not found, using catalog search only")
			a.sites = properties.SiteTable{}
		}
	}

	policy, err := aoi.ParseAmbiguityPolicy(cfg.AoIAmbiguity)
	if err != nil {
		return nil, err
	}
	dictionary := aoi.NewDictionaryResolver(a.sites, a.store)
	a.catalog = aoi.NewCatalogResolver(a.store, cfg.AoIFolder, policy, log)
	switch cfg.AoIMode {
	case "dictionary":
		a.resolver = dictionary
	case "catalog":
		a.resolver = a.catalog
	default:
		a.resolver = aoi.Chain(dictionary, a.catalog)
	}
	return a, nil
}

// newApp also wires the Copernicus backend and the export dispatcher. Jobs
// run under ctx, so cancelling it aborts pending uploads.
func newApp(ctx context.Context, cfg properties.Config) (*app, error) {
	a, err := newResolverApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log := a.log

	bands := sentinel.BandNames{NIR: cfg.NIRBand, Red: cfg.RedBand, SCL: cfg.SCLBand}
	source, err := copernicus.New(cfg.Copernicus,
		copernicus.WithBandNames(bands),
		copernicus.WithCacheDir(cfg.Path(cfg.CacheDir)),
		copernicus.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	order, err := sentinel.ParseSceneOrder(cfg.SceneOrder)
	if err != nil {
		return nil, err
	}
	collector := sentinel.NewCollector(source,
		sentinel.WithCloudCeiling(cfg.CloudCeiling),
		sentinel.WithSceneOrder(order),
		sentinel.WithFetchConcurrency(cfg.FetchConcurrency),
		sentinel.WithProgress(cfg.Progress),
		sentinel.WithLogger(log),
	)

	sink, err := newSink(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create export sink: %w", err)
	}
	a.dispatcher = export.NewDispatcher(sink,
		export.WithWorkers(cfg.Export.Workers),
		export.WithContext(ctx),
		export.WithLogger(log),
		export.WithMonitor(export.Monitors{
			export.NewLogMonitor(log),
			export.NewManifestMonitor(cfg.Path(cfg.Export.ManifestPath), log),
			a.discord,
		}),
	)

	a.driver = pipeline.NewDriver(a.resolver, collector, a.dispatcher, log)
	return a, nil
}

// recoverPanic reports a panic on the Discord error webhook before exiting.
func recoverPanic(a **app) {
	r := recover()
	if r == nil {
		return
	}
	pc, file, line, ok := runtime.Caller(3)
	location := "Unknown location"
	if ok {
		location = fmt.Sprintf("%s:%d in %s", file, line, runtime.FuncForPC(pc).Name())
	}

	bannercolor.Red("PANIC: %v", r)
	bannercolor.Red("Location: %s", location)

	if *a != nil && (*a).discord != nil {
		errMessage := fmt.Sprintf("NDVI composites panic:\n\n%v\n\nLocation: %s\n\nStack trace:\n%s", r, location, debug.Stack())
		if err := (*a).discord.SendError(context.Background(), errMessage); err != nil {
			bannercolor.Red("Failed to send notification: %s", err.Error())
		}
	}
	os.Exit(2)
}

func runCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and export the monthly NDVI composites of one site",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var a *app
			defer recoverPanic(&a)

			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if a, err = newApp(ctx, cfg); err != nil {
				return err
			}

			handles, err := a.driver.Run(ctx, pipeline.ConfigFromProperties(cfg))
			a.log.WithField("jobs", len(handles)).Info("Waiting for exports to finish")
			a.dispatcher.Wait()
			if err != nil {
				if notifyErr := a.discord.SendError(ctx, fmt.Sprintf("NDVI run for %s failed: %v", cfg.CountryName, err)); notifyErr != nil {
					a.log.WithError(notifyErr).Warn("Failed to send Discord notification")
				}
				return err
			}
			for _, h := range handles {
				bannercolor.Green("- %s -> %s", h.Name, h.Key)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&f.country, "country", "", "country or site name (COUNTRY_NAME)")
	cmd.Flags().StringVar(&f.start, "start", "", "first month, YYYY-MM (START_YEAR, START_MONTH)")
	cmd.Flags().StringVar(&f.end, "end", "", "exclusive last month, YYYY-MM (END_YEAR, END_MONTH)")
	cmd.Flags().Float64Var(&f.resolution, "resolution", 0, "pixel size in metres (RESOLUTION)")
	cmd.Flags().StringVar(&f.crs, "crs", "", "output EPSG code (CRS)")
	return cmd
}

func scheduleCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Export the previous month of one site on a cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var a *app
			defer recoverPanic(&a)

			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a, err = newApp(ctx, cfg); err != nil {
				return err
			}
			scheduler, err := pipeline.NewScheduler(a.driver, pipeline.ConfigFromProperties(cfg), cfg.Schedule, a.log)
			if err != nil {
				return err
			}
			scheduler.Start(ctx)
			a.dispatcher.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&f.country, "country", "", "country or site name (COUNTRY_NAME)")
	return cmd
}

func sitesCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sites [name]",
		Short: "List the site table and the boundary assets of the catalog folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			a, err := newResolverApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			bannercolor.Green("Site table (%s):", cfg.SitesFile)
			for _, name := range a.sites.Names() {
				bannercolor.Green("- %s: %s", name, a.sites[name])
			}

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			assets, err := a.catalog.Candidates(cmd.Context(), name)
			if err != nil {
				return err
			}
			bannercolor.Green("\nCatalog assets (%s):", cfg.AoIFolder)
			for _, asset := range assets {
				bannercolor.Green("- %s", asset)
			}
			bannercolor.Yellow("\nTo add a site, add its boundary to the catalog folder or an entry to %s.", cfg.SitesFile)
			return nil
		},
	}
}

func jobsCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "Print the export manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := properties.LoadConfig(f.envFile)
			if err != nil {
				return err
			}
			records, err := export.ReadManifest(cfg.Path(cfg.Export.ManifestPath))
			if err != nil {
				return err
			}
			if len(records) == 0 {
				bannercolor.Yellow("No exports recorded yet.")
				return nil
			}
			for _, r := range records {
				line := fmt.Sprintf("%s  %-28s %-9s %s", r.FinishedAt, r.Name, r.Status, r.URI)
				if r.Status == string(export.JobFailed) {
					bannercolor.Red("%s %s", line, r.Error)
					continue
				}
				bannercolor.Green("%s (%d scenes, %d valid pixels)", line, r.Scenes, r.ValidPixels)
			}
			return nil
		},
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:           "ndvi",
		Short:         "Monthly cloud-free Sentinel-2 NDVI composites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if !f.noBanner {
				printBanner()
			}
		},
	}
	root.PersistentFlags().StringVar(&f.envFile, "env", ".env", "path of the .env file to load")
	root.PersistentFlags().BoolVar(&f.noBanner, "no-banner", false, "do not print the banner")

	root.AddCommand(runCommand(f), scheduleCommand(f), sitesCommand(f), jobsCommand(f))
	return root
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		bannercolor.Red("Error: %s", err.Error())
		if errors.Is(err, daterange.ErrEndBeforeStart) {
			bannercolor.Yellow("END_YEAR/END_MONTH must not be before START_YEAR/START_MONTH.")
		}
		var notFound *aoi.NotFoundError
		if errors.As(err, &notFound) {
			bannercolor.Yellow("Run 'ndvi sites' to list the known sites.")
		}
		os.Exit(1)
	}
}
