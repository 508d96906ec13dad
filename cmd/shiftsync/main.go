package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"github.com/beekhof/shift-sync/internal/auth"
	calclient "github.com/beekhof/shift-sync/internal/calendar"
	"github.com/beekhof/shift-sync/internal/config"
	"github.com/beekhof/shift-sync/internal/ledger"
	"github.com/beekhof/shift-sync/internal/logging"
	"github.com/beekhof/shift-sync/internal/mapper"
	"github.com/beekhof/shift-sync/internal/shifts"
	"github.com/beekhof/shift-sync/internal/sync"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Shift Sync Tool

A one-way synchronization tool that mirrors your Microsoft Teams Shifts schedule
into one or more calendars (Google Calendar or Apple Calendar/iCloud).

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                      Show this help message and exit
    -v, --verbose                   Enable verbose output (show DEBUG logs)
    --config FILE                   Path to JSON or YAML config file (required)
    --destination NAME              Sync only to the named destination (optional)
    --dry-run                       Report what would change without touching
                                    any calendar or ledger
    --schedule CRON                 Keep running and sync on this cron schedule,
                                    e.g. "*/15 * * * *" (overrides config file)
    --shift-token-path PATH         Path to store the Teams account OAuth token
                                    (overrides config file and SHIFT_TOKEN_PATH env var)
    --owner-id ID                   Teams user ID whose shifts are synced
                                    (overrides config file and SHIFT_OWNER_ID env var)
    --team-id ID                    Team whose schedule is read
                                    (overrides config file and SHIFT_TEAM_ID env var)
    --google-credentials-path PATH  Path to Google OAuth credentials JSON file
                                    (overrides config file and GOOGLE_CREDENTIALS_PATH env var)
    --sync-window-days N            Days ahead of now to sync (default: 30)
    --time-zone ZONE                IANA time zone for event times (default: local)
    --state-dir DIR                 Directory for ledger files (default: .)

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (SHIFT_TOKEN_PATH, SHIFT_OWNER_ID, SHIFT_TEAM_ID,
       GOOGLE_CREDENTIALS_PATH, SYNC_WINDOW_DAYS, SYNC_TIME_ZONE, SYNC_STATE_DIR)
    3. Config file (--config)
    4. Defaults

CONFIG FILE:
    Files ending in .yaml or .yml are read as YAML, anything else as JSON.
    The destinations array is required. Example:
    {
      "shift_source": {
        "tenant_id": "contoso.onmicrosoft.com",
        "client_id": "00000000-0000-0000-0000-000000000000",
        "token_path": "/path/to/teams_token.json",
        "team_id": "team-id",
        "owner_id": "your-user-id"
      },
      "google_credentials_path": "/path/to/credentials.json",
      "sync_window_days": 30,
      "time_zone": "Europe/London",
      "state_dir": "/var/lib/shiftsync",
      "destinations": [
        {
          "name": "Personal Google",
          "type": "google",
          "token_path": "/path/to/personal_token.json",
          "calendar_name": "Shifts",
          "calendar_color_id": "7"
        },
        {
          "name": "iCloud",
          "type": "apple",
          "server_url": "https://caldav.icloud.com",
          "username": "your-email@icloud.com",
          "password": "app-specific-password"
        }
      ]
    }

DESCRIPTION:
    Each destination keeps its own ledger of which shifts it has synced. Shifts
    that are new or changed since the last run are written to the calendar;
    shifts that were removed, unassigned, or left the sync window are deleted.

    IMPORTANT WARNING: The shift schedule is the source of truth. This tool will
    OVERWRITE manual changes made to synced events and DELETE synced events whose
    shift no longer exists. Use a dedicated calendar.

    Authentication:
    - Teams account: OAuth 2.0 (you'll be prompted on first run)
    - Google Calendar destinations: OAuth 2.0 (you'll be prompted on first run)
    - Apple Calendar destinations: App-specific password (no OAuth)

    When no token is stored and the tool is not attached to a terminal (e.g.
    from cron), it fails instead of waiting for authorization.

EXAMPLES:
    # Run the sync once
    %s --config /path/to/config.json

    # Preview changes for one destination
    %s --config /path/to/config.json --destination iCloud --dry-run

    # Keep running, syncing every 15 minutes
    %s --config /path/to/config.yaml --schedule "*/15 * * * *"

    # Show help
    %s --help
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	// Parse command-line flags
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to JSON or YAML config file (required)")
	destinationName := flag.String("destination", "", "Sync only to the named destination (optional)")
	dryRun := flag.Bool("dry-run", false, "Report changes without applying them")
	var overrides config.Overrides
	flag.StringVar(&overrides.Schedule, "schedule", "", "Cron schedule for repeated syncs (overrides config file)")
	flag.StringVar(&overrides.ShiftTokenPath, "shift-token-path", "", "Path to store the Teams account OAuth token (overrides config file and SHIFT_TOKEN_PATH env var)")
	flag.StringVar(&overrides.OwnerID, "owner-id", "", "Teams user ID whose shifts are synced (overrides config file and SHIFT_OWNER_ID env var)")
	flag.StringVar(&overrides.TeamID, "team-id", "", "Team whose schedule is read (overrides config file and SHIFT_TEAM_ID env var)")
	flag.StringVar(&overrides.GoogleCredentialsPath, "google-credentials-path", "", "Path to Google OAuth credentials JSON file (overrides config file and GOOGLE_CREDENTIALS_PATH env var)")
	flag.IntVar(&overrides.SyncWindowDays, "sync-window-days", 0, "Days ahead of now to sync (overrides config file and SYNC_WINDOW_DAYS env var)")
	flag.StringVar(&overrides.TimeZone, "time-zone", "", "IANA time zone for event times (overrides config file and SYNC_TIME_ZONE env var)")
	flag.StringVar(&overrides.StateDir, "state-dir", "", "Directory for ledger files (overrides config file and SYNC_STATE_DIR env var)")
	flag.Parse()

	verbose := *verboseFlag || *verboseFlagShort

	// Show help if requested
	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	// Set up logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load configuration (precedence: flags > env vars > config file > defaults)
	if *configFile == "" {
		log.Fatalf("--config FILE is required. Use --help for more information.")
	}
	cfg, err := config.LoadConfig(*configFile, overrides)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCloser := logging.Setup(logging.Options{
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logCloser.Close()

	loc, err := loadLocation(cfg.TimeZone)
	if err != nil {
		log.Fatalf("Failed to load time zone: %v", err)
	}

	destinations, err := selectDestinations(cfg, *destinationName)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if *destinationName != "" {
		log.Printf("Syncing only to destination: %s", *destinationName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newRunner(ctx, cfg, loc, verbose, *dryRun)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if cfg.Schedule == "" {
		if !r.runAll(ctx, destinations) {
			logCloser.Close()
			os.Exit(1)
		}
		return
	}

	if err := runScheduled(ctx, cfg.Schedule, func() { r.runAll(ctx, destinations) }); err != nil {
		log.Fatalf("%v", err)
	}
}

// runner holds everything shared by the destinations of one process.
type runner struct {
	cfg          *config.Config
	source       sync.ShiftSource
	googleOAuth  *oauth2.Config
	mapperOpts   mapper.Options
	verbose      bool
	dryRun       bool
	now          func() time.Time
	openLedger   func(path string) (*ledger.Ledger, error)
	clientForDst func(ctx context.Context, dest *config.Destination) (calclient.CalendarClient, error)
}

func newRunner(ctx context.Context, cfg *config.Config, loc *time.Location, verbose, dryRun bool) (*runner, error) {
	src := cfg.ShiftSource
	graphOAuth := auth.MicrosoftConfig(src.TenantID, src.ClientID, src.ClientSecret)
	graphHTTPClient, err := auth.GetAuthenticatedClient(ctx, "Teams", graphOAuth, auth.NewFileTokenStore(src.TokenPath))
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate Teams account: %w", err)
	}

	source := shifts.NewGraphClient(graphHTTPClient, src.GraphBaseURL, src.TeamID)
	if src.SchedulingGroupID != "" {
		source = source.WithSchedulingGroup(src.SchedulingGroupID)
	}

	r := &runner{
		cfg:        cfg,
		source:     source,
		mapperOpts: mapper.Options{DefaultTitle: cfg.DefaultTitle, Location: loc},
		verbose:    verbose,
		dryRun:     dryRun,
		now:        time.Now,
		openLedger: ledger.Open,
	}
	if dryRun {
		r.openLedger = ledger.OpenReadOnly
	}
	r.clientForDst = r.calendarClient

	if cfg.GoogleCredentialsPath != "" {
		clientID, clientSecret, err := config.LoadGoogleCredentials(cfg.GoogleCredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load Google credentials: %w", err)
		}
		r.googleOAuth = auth.GoogleConfig(clientID, clientSecret)
	}

	return r, nil
}

// runAll syncs every destination and reports whether all of them succeeded.
func (r *runner) runAll(ctx context.Context, destinations []config.Destination) bool {
	var syncErrors []error
	for i := range destinations {
		dest := &destinations[i]
		log.Printf("Syncing to destination: %s (type: %s)", dest.Name, dest.Type)

		report, err := r.syncDestination(ctx, dest)
		if err != nil {
			log.Printf("[%s] Sync failed: %v", dest.Name, err)
			syncErrors = append(syncErrors, fmt.Errorf("%s: %w", dest.Name, err))
			continue
		}

		log.Printf("[%s] %s", dest.Name, report)
		for _, e := range report.Errors {
			log.Printf("[%s]   - %s", dest.Name, e)
		}
		if report.Failed() {
			syncErrors = append(syncErrors, fmt.Errorf("%s: %d shift(s) failed", dest.Name, len(report.Errors)))
		}
	}

	// Report results
	if len(syncErrors) > 0 {
		log.Printf("Sync completed with %d error(s) out of %d destination(s)", len(syncErrors), len(destinations))
		for _, err := range syncErrors {
			log.Printf("  - %v", err)
		}
		return false
	}

	log.Printf("All syncs completed successfully (%d destination(s))", len(destinations))
	return true
}

func (r *runner) syncDestination(ctx context.Context, dest *config.Destination) (*sync.Report, error) {
	// The ledger is opened first so an unusable one stops the destination
	// before anything is written to its calendar.
	l, err := r.openLedger(dest.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if last, ok := l.LastSync(); ok {
		log.Printf("[%s] Ledger %s: %d record(s), last synced %s", dest.Name, l.Path(), l.Len(), last.Format(time.RFC3339))
	}

	client, err := r.clientForDst(ctx, dest)
	if err != nil {
		return nil, err
	}

	// Creating the calendar is itself a change, so previews never look it up.
	calendarID := ""
	if r.dryRun {
		log.Printf("[%s] Dry run: not looking up calendar %q", dest.Name, dest.CalendarName)
	} else {
		calendarID, err = client.FindOrCreateCalendarByName(ctx, dest.CalendarName, dest.CalendarColorID)
		if err != nil {
			return nil, fmt.Errorf("failed to find or create calendar %q: %w", dest.CalendarName, err)
		}
	}

	syncer := sync.NewSyncer(r.source, calclient.NewSink(client, calendarID), l, sync.Options{
		OwnerID: r.cfg.ShiftSource.OwnerID,
		Horizon: time.Duration(r.cfg.SyncWindowDays) * 24 * time.Hour,
		DryRun:  r.dryRun,
		Verbose: r.verbose,
		Mapper:  r.mapperOpts,
	})
	return syncer.Sync(ctx, r.now())
}

// calendarClient creates the destination calendar client based on destination type.
func (r *runner) calendarClient(ctx context.Context, dest *config.Destination) (calclient.CalendarClient, error) {
	switch dest.Type {
	case "apple":
		return calclient.NewAppleCalendarClient(dest.ServerURL, dest.Username, dest.Password), nil
	case "google":
		if r.googleOAuth == nil {
			return nil, fmt.Errorf("google_credentials_path is not configured")
		}
		httpClient, err := auth.GetAuthenticatedClient(ctx, dest.Name, r.googleOAuth, auth.NewFileTokenStore(dest.TokenPath))
		if err != nil {
			return nil, fmt.Errorf("failed to authenticate: %w", err)
		}
		client, err := calclient.NewClient(ctx, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create calendar client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown destination type %q", dest.Type)
	}
}

// runScheduled runs fn on schedule until ctx is cancelled. A run that is still
// going when the next one is due causes that one to be skipped.
func runScheduled(ctx context.Context, schedule string, fn func()) error {
	logger := cron.VerbosePrintfLogger(log.Default())
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	if _, err := c.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Printf("Running on schedule %q, press Ctrl-C to stop", schedule)
	c.Start()
	<-ctx.Done()

	log.Printf("Shutting down, waiting for the current sync to finish")
	<-c.Stop().Done()
	return nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// selectDestinations filters destinations if --destination flag is provided.
func selectDestinations(cfg *config.Config, name string) ([]config.Destination, error) {
	if name == "" {
		return cfg.Destinations, nil
	}
	dest, ok := cfg.FindDestination(name)
	if !ok {
		return nil, fmt.Errorf("destination '%s' not found in config. Available destinations: %v", name, getDestinationNames(cfg.Destinations))
	}
	return []config.Destination{*dest}, nil
}

// getDestinationNames returns a slice of destination names from the destinations array.
func getDestinationNames(destinations []config.Destination) []string {
	names := make([]string, len(destinations))
	for i, dest := range destinations {
		names[i] = dest.Name
	}
	return names
}
