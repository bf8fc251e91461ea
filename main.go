package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/PrinceFPF/ip-checker/batch"
	"github.com/PrinceFPF/ip-checker/geodb"
)

var version = "dev"

var (
	app = kingpin.New(
		"ip-checker",
		"Resolves geographic metadata for IP addresses against local GeoLite2 and Chunzhen databases.")

	downloadMode = app.Flag("download", "Download the databases if they are absent.").
			Bool()
	updateMode = app.Flag("update", "Force a re-download of the databases.").
			Bool()
	licenseKey = app.Flag("license-key", "MaxMind license key.").
			Envar("MAXMIND_LICENSE_KEY").
			String()
	singleIP = app.Flag("ip", "Single IP address to look up.").
			String()
	excelFile = app.Flag("excel", "Path to the xlsx file with addresses to process.").
			String()
	outputFile = app.Flag("output", "Path of the output xlsx file.").
			String()
	configFile = app.Flag("config", "Path to the config file in hjson format.").
			String()
	debug = app.Flag("debug", "Run in debug mode.").
		Short('d').
		Bool()
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := newLogger(*debug)

	conf, err := parseConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot read the config file")
	}

	modes := 0
	for _, selected := range []bool{*downloadMode || *updateMode, *singleIP != "", *excelFile != ""} {
		if selected {
			modes++
		}
	}

	switch {
	case modes == 0:
		app.FatalUsage("one of --download, --update, --ip or --excel is required")
	case modes > 1:
		app.FatalUsage("--download/--update, --ip and --excel are mutually exclusive")
	}

	ctx, cancel := makeRootContext()
	defer cancel()

	switch {
	case *downloadMode || *updateMode:
		runProvision(ctx, conf, log)
	case *singleIP != "":
		runSingleLookup(conf, log)
	default:
		runBatch(conf, log)
	}
}

func runProvision(ctx context.Context, conf *config, log zerolog.Logger) {
	if err := provisionDatabases(ctx, conf, log); err != nil {
		log.Fatal().Err(err).Msg("Cannot provision the databases")
	}

	log.Info().Msg("Databases are ready")
}

func provisionDatabases(ctx context.Context, conf *config, log zerolog.Logger) error {
	force := *updateMode

	httpClient, err := makeHTTPClient(conf, "")
	if err != nil {
		return fmt.Errorf("cannot build a http client: %w", err)
	}

	maxmind := geodb.NewMaxmind(httpClient, sourceDir(conf, geodb.NameMaxmind), *licenseKey)
	maxmindProv := geodb.NewProvisioner(maxmind, log)

	if *licenseKey == "" && (force || !maxmindProv.Provisioned()) {
		return fmt.Errorf("%w: provide it with --license-key or the MAXMIND_LICENSE_KEY environment variable",
			geodb.ErrLicenseKeyRequired)
	}

	if _, err := maxmindProv.Provision(ctx, force); err != nil {
		return fmt.Errorf("cannot provision the GeoLite2 database: %w", err)
	}

	qqwryClient, err := makeHTTPClient(conf, conf.GetQQWryProxy())
	if err != nil {
		return fmt.Errorf("cannot build a http client for the qqwry download: %w", err)
	}

	qqwry := geodb.NewQQWry(qqwryClient, sourceDir(conf, geodb.NameQQWry), conf.GetQQWryURL())

	if _, err := geodb.NewProvisioner(qqwry, log).Provision(ctx, force); err != nil {
		return fmt.Errorf("cannot provision the qqwry database (check the mirror URL and the proxy settings): %w", err)
	}

	return nil
}

func runSingleLookup(conf *config, log zerolog.Logger) {
	resolver := openResolver(conf, log)
	defer resolver.Shutdown()

	result, err := resolver.Resolve(*singleIP)
	if err != nil {
		log.Fatal().Err(err).Str("ip", *singleIP).Msg("Cannot resolve the address")
	}

	fmt.Printf("IP address: %s\n", *singleIP)
	fmt.Printf("Country:    %s\n", result.Country)
	fmt.Printf("Region:     %s\n", result.Region)
	fmt.Printf("City:       %s\n", result.City)
	fmt.Printf("Longitude:  %f\n", result.Longitude)
	fmt.Printf("Latitude:   %f\n", result.Latitude)
	fmt.Printf("Timezone:   %s\n", result.Timezone)
	fmt.Printf("Source:     %s\n", result.Source)
}

func runBatch(conf *config, log zerolog.Logger) {
	header, records, err := batch.ReadWorkbook(*excelFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", *excelFile).Msg("Cannot read the workbook")
	}

	resolver := openResolver(conf, log)
	defer resolver.Shutdown()

	report := batch.Process(resolver, header, records)
	outputPath := batch.OutputPath(*excelFile, *outputFile)

	if err := report.Write(outputPath); err != nil {
		log.Fatal().Err(err).Str("path", outputPath).Msg("Cannot write the workbook")
	}

	log.Info().
		Int("rows", len(report.Rows)).
		Int("errors", report.ErrorCount()).
		Str("output", outputPath).
		Msg("Workbook was processed")
}

func openResolver(conf *config, log zerolog.Logger) *geodb.Resolver {
	httpClient, err := makeHTTPClient(conf, "")
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot build a http client")
	}

	maxmind := geodb.NewMaxmind(httpClient, sourceDir(conf, geodb.NameMaxmind), *licenseKey)

	if err := geodb.NewProvisioner(maxmind, log).Open(); err != nil {
		if errors.Is(err, geodb.ErrDatabaseMissing) {
			log.Fatal().Msg("The GeoLite2 database is not provisioned, run with --download first")
		}

		log.Fatal().Err(err).Msg("Cannot open the GeoLite2 database")
	}

	sources := []geodb.Source{}

	qqwry := geodb.NewQQWry(httpClient, sourceDir(conf, geodb.NameQQWry), conf.GetQQWryURL())

	if err := geodb.NewProvisioner(qqwry, log).Open(); err != nil {
		log.Debug().Err(err).Msg("qqwry database is not available, lookups will use GeoLite2 only")
	} else {
		sources = append(sources, qqwry)
	}

	sources = append(sources, maxmind)

	resolver, err := geodb.NewResolver(sources...)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot build a resolver")
	}

	return resolver
}
