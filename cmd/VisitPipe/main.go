package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fieldops/VisitPipe/internal/api"
	"github.com/fieldops/VisitPipe/internal/approval"
	"github.com/fieldops/VisitPipe/internal/draft"
	"github.com/fieldops/VisitPipe/internal/region"
	"github.com/fieldops/VisitPipe/internal/scheduler"
	"github.com/fieldops/VisitPipe/internal/sms"
	"github.com/fieldops/VisitPipe/internal/store"
	"github.com/fieldops/VisitPipe/internal/syncqueue"
	"github.com/fieldops/VisitPipe/internal/util"
	"github.com/fieldops/VisitPipe/internal/visit"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VisitPipe state data
	DefaultStateDir = "/var/lib/visitpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "visitpipe.db"
	// DefaultQueueDirName is the subdirectory for the offline queue mirror
	DefaultQueueDirName = "queue"
	// DefaultPurgeCron runs the abandoned-draft purge nightly at 03:00
	DefaultPurgeCron = "0 3 * * *"
	// DefaultDraftRetention is how long untouched drafts are kept
	DefaultDraftRetention = 7 * 24 * time.Hour
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping VisitPipe with configured modules")
	if err := run(ctx, flags); err != nil {
		slog.Error("VisitPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VisitPipe exited successfully")
}

func run(ctx context.Context, flags Flags) error {
	// Relational store: Postgres when the DSN looks like one, SQLite otherwise.
	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	// Offline queue with its local durable mirror.
	queueDir := filepath.Join(*flags.stateDir, DefaultQueueDirName)
	local, err := syncqueue.NewBadgerStore(queueDir)
	if err != nil {
		return err
	}
	defer local.Close()

	queue, err := syncqueue.NewQueue(local, syncqueue.NewStoreApplier(st), syncqueue.Config{
		MaxRetries: *flags.queueMaxRetries,
	})
	if err != nil {
		return err
	}
	queue.SetOnline(ctx, true)
	go queue.Run(ctx)

	// SMS: real Twilio client when credentials are configured, mock otherwise.
	sender := buildSMSSender(flags)
	otp := sms.NewOTPManager(sender)

	checker := region.NewStoreChecker(st)
	registry := visit.NewRegistry(checker)
	approver := approval.NewRequester(st, sender, *flags.managerID)

	// Nightly maintenance.
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.SchedulePurge(*flags.purgeCron, st, *flags.draftRetention); err != nil {
		return err
	}

	saverCfg := draft.DefaultConfig()
	saverCfg.Debounce = *flags.autosaveDebounce

	srv := api.NewServer(registry, st, queue, approver, otp,
		api.WithAddr(*flags.apiAddr),
		api.WithAutoSaveConfig(saverCfg),
	)
	return srv.Run(ctx)
}

// openStore selects the relational backend from the DSN shape.
func openStore(flags Flags) (store.Store, error) {
	dsn := *flags.dbDSN
	if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// buildSMSSender returns the Twilio client when credentials exist, otherwise
// a mock so the service can run without an SMS account.
func buildSMSSender(flags Flags) sms.Sender {
	var opts []sms.Option
	if *flags.twilioSID != "" {
		opts = append(opts, sms.WithAccountSID(*flags.twilioSID))
	}
	if *flags.twilioToken != "" {
		opts = append(opts, sms.WithAuthToken(*flags.twilioToken))
	}
	if *flags.twilioFrom != "" {
		opts = append(opts, sms.WithFromNumber(*flags.twilioFrom))
	}
	client, err := sms.NewClient(opts...)
	if err != nil {
		slog.Warn("Twilio not configured, SMS delivery disabled", "error", err)
		return sms.NewMockSender()
	}
	return client
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	APIAddr        string
	ManagerID      string
	PurgeCron      string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	DraftRetention time.Duration
	Debounce       time.Duration
	MaxRetries     int
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	managerID        *string
	purgeCron        *string
	twilioSID        *string
	twilioToken      *string
	twilioFrom       *string
	draftRetention   *time.Duration
	autosaveDebounce *time.Duration
	queueMaxRetries  *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("VISITPIPE_STATE_DIR"),
		APIAddr:        os.Getenv("API_ADDR"),
		ManagerID:      os.Getenv("VISITPIPE_MANAGER_ID"),
		PurgeCron:      os.Getenv("DRAFT_PURGE_SCHEDULE"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		DraftRetention: util.ParseDurationEnv("DRAFT_RETENTION", DefaultDraftRetention),
		Debounce:       util.ParseDurationEnv("AUTOSAVE_DEBOUNCE", draft.DefaultDebounce),
		MaxRetries:     util.ParseIntEnv("QUEUE_MAX_RETRIES", syncqueue.DefaultMaxRetries),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VISITPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.APIAddr == "" {
		config.APIAddr = ":8080"
	}
	if config.PurgeCron == "" {
		config.PurgeCron = DefaultPurgeCron
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VISITPIPE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"VISITPIPE_MANAGER_ID", config.ManagerID,
		"DRAFT_PURGE_SCHEDULE", config.PurgeCron,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_FROM_NUMBER_SET", config.TwilioFrom != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for VisitPipe data (overrides $VISITPIPE_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN: postgres URL or SQLite file path (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		managerID:        flag.String("manager-id", config.ManagerID, "sales rep ID receiving out-of-region approval requests (overrides $VISITPIPE_MANAGER_ID)"),
		purgeCron:        flag.String("purge-cron", config.PurgeCron, "cron schedule for the abandoned-draft purge (overrides $DRAFT_PURGE_SCHEDULE)"),
		twilioSID:        flag.String("twilio-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:      flag.String("twilio-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       flag.String("twilio-from", config.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)"),
		draftRetention:   flag.Duration("draft-retention", config.DraftRetention, "how long untouched drafts are kept (overrides $DRAFT_RETENTION)"),
		autosaveDebounce: flag.Duration("autosave-debounce", config.Debounce, "quiet period before a draft auto-save fires (overrides $AUTOSAVE_DEBOUNCE)"),
		queueMaxRetries:  flag.Int("queue-max-retries", config.MaxRetries, "sync attempts before an operation is reported stuck (overrides $QUEUE_MAX_RETRIES)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"managerID", *flags.managerID,
		"purgeCron", *flags.purgeCron,
		"draftRetention", *flags.draftRetention,
		"autosaveDebounce", *flags.autosaveDebounce,
		"queueMaxRetries", *flags.queueMaxRetries)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	// Ensure the database directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		dbDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			slog.Error("Failed to create database directory", "error", err, "db_dir", dbDir)
			return err
		}
	}
	return nil
}
