package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/BTreeMap/TripPipe/internal/api"
	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/flow"
	"github.com/BTreeMap/TripPipe/internal/genai"
	"github.com/BTreeMap/TripPipe/internal/googlemaps"
	"github.com/BTreeMap/TripPipe/internal/intent"
	"github.com/BTreeMap/TripPipe/internal/itinerary"
	"github.com/BTreeMap/TripPipe/internal/lockfile"
	"github.com/BTreeMap/TripPipe/internal/messaging"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/scheduler"
	"github.com/BTreeMap/TripPipe/internal/session"
	"github.com/BTreeMap/TripPipe/internal/store"
	"github.com/BTreeMap/TripPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/TripPipe/internal/util"
	"github.com/BTreeMap/TripPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for TripPipe state data
	DefaultStateDir = "/var/lib/trippipe"
	// DefaultWhatsAppDBFileName is the default whatsmeow device database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping TripPipe")
	if err := run(ctx, flags); err != nil {
		slog.Error("TripPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("TripPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	MapsAPIKey       string
	APIAddr          string
	StateDir         string
	DatabaseURL      string
	TurnRetention    time.Duration
	RetentionCron    string
	SessionTTL       time.Duration
	MinRating        float64
	OpenNowOnly      bool
	OpenAIKey        string
	GenAIDebug       bool
	CORSOrigins      string
	RateLimit        float64
	TwilioEnabled    bool
	TwilioAuthToken  string
	TwilioWebhookURL string
	WhatsAppEnabled  bool
	WhatsAppDSN      string
}

// Flags holds command line flag values
type Flags struct {
	mapsKey          *string
	apiAddr          *string
	stateDir         *string
	dbDSN            *string
	turnRetention    *time.Duration
	retentionCron    *string
	sessionTTL       *time.Duration
	minRating        *float64
	openNowOnly      *bool
	openaiKey        *string
	genaiDebug       *bool
	corsOrigins      *string
	rateLimit        *float64
	twilio           *bool
	twilioWebhookURL *string
	twilioAuthToken  string
	whatsapp         *bool
	whatsappDSN      *string
	qrOutput         *string
	numeric          *bool
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
		MapsAPIKey:       os.Getenv("GOOGLE_MAPS_API_KEY"),
		APIAddr:          os.Getenv("API_ADDR"),
		StateDir:         os.Getenv("TRIPPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		TurnRetention:    util.ParseDurationEnv("TURN_RETENTION", scheduler.DefaultTurnRetention),
		RetentionCron:    os.Getenv("RETENTION_SCHEDULE"),
		SessionTTL:       util.ParseDurationEnv("SESSION_TTL", session.DefaultTTL),
		MinRating:        util.ParseFloatEnv("MIN_RATING", models.DefaultMinRating),
		OpenNowOnly:      util.ParseBoolEnv("OPEN_NOW_ONLY", false),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		CORSOrigins:      os.Getenv("CORS_ORIGINS"),
		RateLimit:        util.ParseFloatEnv("RATE_LIMIT_RPS", api.DefaultRateLimit),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioWebhookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
		WhatsAppEnabled:  util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
	}
	config.TwilioEnabled = util.ParseBoolEnv("TWILIO_ENABLED",
		os.Getenv("TWILIO_ACCOUNT_SID") != "" && config.TwilioAuthToken != "")

	if config.RetentionCron == "" {
		config.RetentionCron = scheduler.DefaultRetentionSchedule
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No TRIPPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	slog.Debug("environment variables loaded",
		"GOOGLE_MAPS_API_KEY_SET", config.MapsAPIKey != "",
		"API_ADDR", config.APIAddr,
		"TRIPPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"TURN_RETENTION", config.TurnRetention,
		"RETENTION_SCHEDULE", config.RetentionCron,
		"SESSION_TTL", config.SessionTTL,
		"MIN_RATING", config.MinRating,
		"OPEN_NOW_ONLY", config.OpenNowOnly,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"CORS_ORIGINS", config.CORSOrigins,
		"RATE_LIMIT_RPS", config.RateLimit,
		"TWILIO_ENABLED", config.TwilioEnabled,
		"WHATSAPP_ENABLED", config.WhatsAppEnabled,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		mapsKey:          fs.String("maps-api-key", config.MapsAPIKey, "Google Maps API key (overrides $GOOGLE_MAPS_API_KEY)"),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for TripPipe data (overrides $TRIPPIPE_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "turn log DSN, postgres URL or SQLite path; empty keeps turns in memory (overrides $DATABASE_URL)"),
		turnRetention:    fs.Duration("turn-retention", config.TurnRetention, "delete turn log records older than this, 0 keeps everything (overrides $TURN_RETENTION)"),
		retentionCron:    fs.String("retention-schedule", config.RetentionCron, "cron schedule of the turn log retention job (overrides $RETENTION_SCHEDULE)"),
		sessionTTL:       fs.Duration("session-ttl", config.SessionTTL, "idle session expiry (overrides $SESSION_TTL)"),
		minRating:        fs.Float64("min-rating", config.MinRating, "minimum place rating (overrides $MIN_RATING)"),
		openNowOnly:      fs.Bool("open-now-only", config.OpenNowOnly, "only suggest places open right now (overrides $OPEN_NOW_ONLY)"),
		openaiKey:        fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key, enables free-form follow-up edits (overrides $OPENAI_API_KEY)"),
		genaiDebug:       fs.Bool("genai-debug", config.GenAIDebug, "log OpenAI requests to <state-dir>/debug (overrides $GENAI_DEBUG)"),
		corsOrigins:      fs.String("cors-origins", config.CORSOrigins, "comma-separated allowed CORS origins, empty allows all (overrides $CORS_ORIGINS)"),
		rateLimit:        fs.Float64("rate-limit", config.RateLimit, "per-client requests per second, 0 disables (overrides $RATE_LIMIT_RPS)"),
		twilio:           fs.Bool("twilio", config.TwilioEnabled, "enable the Twilio WhatsApp channel (overrides $TWILIO_ENABLED)"),
		twilioWebhookURL: fs.String("twilio-webhook-url", config.TwilioWebhookURL, "public webhook URL used to validate Twilio signatures (overrides $TWILIO_WEBHOOK_URL)"),
		twilioAuthToken:  config.TwilioAuthToken,
		whatsapp:         fs.Bool("whatsapp", config.WhatsAppEnabled, "enable the whatsmeow WhatsApp channel (overrides $WHATSAPP_ENABLED)"),
		whatsappDSN:      fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN, defaults to <state-dir>/whatsmeow.db (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:         fs.String("qr-output", "", "path to write login QR code"),
		numeric:          fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}

	if *flags.whatsappDSN == "" {
		*flags.whatsappDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
	}

	slog.Debug("flags parsed",
		"mapsKey_set", *flags.mapsKey != "",
		"apiAddr", *flags.apiAddr,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"turnRetention", *flags.turnRetention,
		"retentionCron", *flags.retentionCron,
		"sessionTTL", *flags.sessionTTL,
		"minRating", *flags.minRating,
		"openNowOnly", *flags.openNowOnly,
		"openaiKeySet", *flags.openaiKey != "",
		"corsOrigins", *flags.corsOrigins,
		"rateLimit", *flags.rateLimit,
		"twilio", *flags.twilio,
		"whatsapp", *flags.whatsapp,
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric)

	return flags
}

// usesStateDir reports whether any configured store keeps files in the state directory.
func usesStateDir(flags Flags) bool {
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite3" {
		return true
	}
	return *flags.whatsapp && store.DetectDSNType(*flags.whatsappDSN) == "sqlite3"
}

// run wires every module and serves until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	if *flags.mapsKey == "" {
		return errors.New("a Google Maps API key is required: set GOOGLE_MAPS_API_KEY or -maps-api-key")
	}

	if usesStateDir(flags) {
		lock, err := lockfile.Acquire(*flags.stateDir, *flags.apiAddr)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open turn log: %w", err)
	}
	defer st.Close()

	sched, err := buildScheduler(flags, st)
	if err != nil {
		return err
	}
	if sched != nil {
		sched.Start()
		defer sched.Stop()
	}

	maps, err := googlemaps.NewClient(ctx, googlemaps.WithAPIKey(*flags.mapsKey))
	if err != nil {
		return fmt.Errorf("failed to create maps client: %w", err)
	}
	defer maps.Close()

	plannerOpts, err := buildPlannerOptions(flags, st)
	if err != nil {
		return err
	}
	planner := flow.NewPlanner(
		session.NewStore(session.WithTTL(*flags.sessionTTL)),
		maps,
		catalog.NewBuilder(maps),
		itinerary.NewSynthesizer(maps),
		plannerOpts...,
	)

	apiOpts := buildAPIOptions(flags)
	var services []messaging.Service

	if *flags.twilio {
		tc, err := twiliowhatsapp.NewClient(twiliowhatsapp.WithAuthToken(flags.twilioAuthToken))
		if err != nil {
			return fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(tc, buildTwilioOptions(flags)...)
		apiOpts = append(apiOpts, api.WithTwilioWebhook(svc.WebhookHandler))
		services = append(services, svc)
	}
	if *flags.whatsapp {
		wc, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		services = append(services, messaging.NewWhatsAppService(wc))
	}

	var wg sync.WaitGroup
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		bridge := messaging.NewBridge(svc, planner, messaging.WithDedup(st))
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.Run(ctx)
		}()
	}
	defer func() {
		for _, svc := range services {
			if err := svc.Stop(); err != nil {
				slog.Warn("Failed to stop messaging service", "error", err)
			}
		}
		wg.Wait()
	}()

	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr, "channels", len(services))
	return api.NewServer(planner, st, apiOpts...).Run(ctx)
}

// buildScheduler schedules turn log retention. It returns nil when retention is disabled.
func buildScheduler(flags Flags, p store.Pruner) (*scheduler.Scheduler, error) {
	if *flags.turnRetention <= 0 {
		slog.Debug("Turn log retention disabled")
		return nil, nil
	}
	job, err := scheduler.RetentionJob(p, *flags.turnRetention, nil)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New()
	if err := sched.AddJob("turn-retention", *flags.retentionCron, job); err != nil {
		sched.Stop()
		return nil, err
	}
	return sched, nil
}

// buildPlannerOptions constructs planner options, including the OpenAI intent normalizer when a key is set
func buildPlannerOptions(flags Flags, turns store.TurnLog) ([]flow.Option, error) {
	opts := []flow.Option{
		flow.WithTurnLog(turns),
		flow.WithMinRating(*flags.minRating),
		flow.WithOpenNowOnly(*flags.openNowOnly),
	}
	genaiOpts := buildGenAIOptions(flags)
	if len(genaiOpts) == 0 {
		slog.Debug("No OpenAI API key provided, follow-ups use the rule grammar only")
		return opts, nil
	}
	gc, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return append(opts, flow.WithParser(intent.NewParser(intent.WithNormalizer(gc)))), nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
		if *flags.genaiDebug {
			genaiOpts = append(genaiOpts, genai.WithDebugMode(true, *flags.stateDir))
		}
	}
	return genaiOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if origins := util.SplitList(*flags.corsOrigins); len(origins) > 0 {
		apiOpts = append(apiOpts, api.WithCORSOrigins(origins))
	}
	apiOpts = append(apiOpts, api.WithRateLimit(*flags.rateLimit, api.DefaultRateBurst))
	return apiOpts
}

// buildTwilioOptions enables webhook signature validation when the auth token is known
func buildTwilioOptions(flags Flags) []messaging.TwilioOption {
	if flags.twilioAuthToken == "" {
		slog.Warn("TWILIO_AUTH_TOKEN not set, Twilio webhook signatures will not be validated")
		return nil
	}
	return []messaging.TwilioOption{
		messaging.WithSignatureValidation(twiliowhatsapp.NewSignatureValidator(flags.twilioAuthToken), *flags.twilioWebhookURL),
	}
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}
