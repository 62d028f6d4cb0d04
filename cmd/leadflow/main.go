package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/buzzicrm/leadflow/internal/api"
	"github.com/buzzicrm/leadflow/internal/engine"
	"github.com/buzzicrm/leadflow/internal/flow"
	"github.com/buzzicrm/leadflow/internal/genai"
	"github.com/buzzicrm/leadflow/internal/messaging"
	"github.com/buzzicrm/leadflow/internal/models"
	"github.com/buzzicrm/leadflow/internal/store"
	"github.com/buzzicrm/leadflow/internal/twiliosms"
	"github.com/buzzicrm/leadflow/internal/util"
	"github.com/buzzicrm/leadflow/internal/whatsapp"
	"github.com/buzzicrm/leadflow/internal/zapi"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadFlow state data
	DefaultStateDir = "/var/lib/leadflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadflow.db"
	// FollowUpPollInterval is how often the follow-up runner scans for due reminders
	FollowUpPollInterval = 30 * time.Second
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

	slog.Info("Bootstrapping LeadFlow with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr,
		"provider", *flags.provider,
		"bot_mode", *flags.botMode)

	if err := run(flags); err != nil {
		slog.Error("LeadFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	OpenAIKey    string
	APIAddr      string
	Provider     string
	BotMode      string
	CountryCode  string
	HistoryLimit int
	RequireConf  bool

	ZAPIBaseURL     string
	ZAPIInstanceID  string
	ZAPIToken       string
	ZAPIClientToken string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	WhatsAppDSN    string
	WhatsAppDriver string
}

// Flags holds command line flag values
type Flags struct {
	config Config

	stateDir     *string
	dbDSN        *string
	openaiKey    *string
	apiAddr      *string
	provider     *string
	botMode      *string
	countryCode  *string
	historyLimit *int
	requireConf  *bool
	qrOutput     *string
	numeric      *bool
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
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("LEADFLOW_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		Provider:     os.Getenv("MESSAGING_PROVIDER"),
		BotMode:      os.Getenv("BOT_MODE"),
		CountryCode:  os.Getenv("DEFAULT_COUNTRY_CODE"),
		HistoryLimit: util.ParseIntEnv("CHAT_HISTORY_LIMIT", engine.DefaultHistoryLimit),
		RequireConf:  util.ParseBoolEnv("QUALIFY_ON_CONFIRMATION", false),

		ZAPIBaseURL:     os.Getenv("ZAPI_BASE_URL"),
		ZAPIInstanceID:  os.Getenv("ZAPI_INSTANCE_ID"),
		ZAPIToken:       os.Getenv("ZAPI_TOKEN"),
		ZAPIClientToken: os.Getenv("ZAPI_CLIENT_TOKEN"),

		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:       os.Getenv("TWILIO_FROM"),

		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		WhatsAppDriver: os.Getenv("WHATSAPP_DB_DRIVER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Provider == "" {
		config.Provider = "zapi"
	}
	if config.BotMode == "" {
		config.BotMode = "scripted"
	}
	if config.CountryCode == "" {
		config.CountryCode = zapi.DefaultCountryCode
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.Provider,
		"BOT_MODE", config.BotMode,
		"DEFAULT_COUNTRY_CODE", config.CountryCode)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		config:       config,
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for LeadFlow data (overrides $LEADFLOW_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the lead store (overrides $DATABASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:     flag.String("provider", config.Provider, "messaging provider: zapi, twilio or whatsmeow (overrides $MESSAGING_PROVIDER)"),
		botMode:      flag.String("bot-mode", config.BotMode, "reply strategy: scripted or genai (overrides $BOT_MODE)"),
		countryCode:  flag.String("country-code", config.CountryCode, "default country code for phone canonicalization (overrides $DEFAULT_COUNTRY_CODE)"),
		historyLimit: flag.Int("history-limit", config.HistoryLimit, "messages of context handed to the reply strategy (overrides $CHAT_HISTORY_LIMIT)"),
		requireConf:  flag.Bool("qualify-on-confirmation", config.RequireConf, "require an explicit confirmation phrase before qualifying a lead (overrides $QUALIFY_ON_CONFIRMATION)"),
		qrOutput:     flag.String("qr-output", "", "path to write the WhatsApp login QR code (whatsmeow provider only)"),
		numeric:      flag.Bool("numeric-code", false, "use a numeric login code instead of a QR code (whatsmeow provider only)"),
	}

	flag.Parse()

	// Default the store to SQLite in the state directory when no DSN is given.
	if *flags.dbDSN == "" {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", *flags.dbDSN)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider,
		"botMode", *flags.botMode)

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	return nil
}

// dataStore is the storage surface the engine and background workers need.
// All three concrete stores satisfy it.
type dataStore interface {
	store.Store
	store.DedupRepo
	store.OutboxRepo
}

// buildStore selects and opens the lead store based on the DSN.
func buildStore(flags Flags) (dataStore, error) {
	dsn := *flags.dbDSN
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildMessagingService constructs the outbound delivery service for the
// configured provider. The engine's ProcessIncoming is passed through so
// event-driven providers can feed inbound messages directly.
func buildMessagingService(flags Flags, handler messaging.IncomingHandler) (messaging.Service, error) {
	cfg := flags.config
	switch *flags.provider {
	case "zapi":
		client, err := zapi.NewClient(
			zapi.WithBaseURL(cfg.ZAPIBaseURL),
			zapi.WithInstanceID(cfg.ZAPIInstanceID),
			zapi.WithToken(cfg.ZAPIToken),
			zapi.WithClientToken(cfg.ZAPIClientToken),
			zapi.WithCountryCode(*flags.countryCode),
		)
		if err != nil {
			return nil, fmt.Errorf("configure Z-API client: %w", err)
		}
		return messaging.NewZAPIService(client), nil

	case "twilio":
		client, err := twiliosms.NewClient(
			twiliosms.WithAccountSID(cfg.TwilioAccountSID),
			twiliosms.WithAuthToken(cfg.TwilioAuthToken),
			twiliosms.WithFrom(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("configure Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), nil

	case "whatsmeow":
		waOpts := []whatsapp.Option{}
		if cfg.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(cfg.WhatsAppDSN))
		} else {
			waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsapp.db")))
		}
		if cfg.WhatsAppDriver != "" {
			waOpts = append(waOpts, whatsapp.WithDBDriver(cfg.WhatsAppDriver))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("configure whatsmeow client: %w", err)
		}
		return messaging.NewWhatsAppService(client, handler), nil

	default:
		return nil, fmt.Errorf("unknown messaging provider %q", *flags.provider)
	}
}

// buildReplyStrategy constructs the bot's reply strategy.
func buildReplyStrategy(flags Flags) (flow.ReplyStrategy, error) {
	switch *flags.botMode {
	case "scripted":
		return flow.NewScriptedStrategy(), nil

	case "genai":
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return nil, fmt.Errorf("configure GenAI client: %w", err)
		}
		resolver := flow.StageResolver{RequireConfirmation: *flags.requireConf}
		return flow.NewGeneratedStrategy(client, resolver), nil

	default:
		return nil, fmt.Errorf("unknown bot mode %q", *flags.botMode)
	}
}

// run wires the modules together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	strategy, err := buildReplyStrategy(flags)
	if err != nil {
		return err
	}

	eng := engine.New(st, st, st, strategy, engine.WithHistoryLimit(*flags.historyLimit))

	handler := func(ctx context.Context, msg models.IncomingMessage) error {
		return eng.ProcessIncoming(ctx, msg)
	}
	msgService, err := buildMessagingService(flags, handler)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}
	defer func() {
		if err := msgService.Stop(); err != nil {
			slog.Error("Failed to stop messaging service", "error", err)
		}
	}()

	sender := store.NewOutboxSender(st, func(ctx context.Context, msg store.OutboxMessage) error {
		return msgService.SendText(ctx, msg.Phone, msg.Body)
	}, 0)
	if err := sender.RecoverStaleMessages(); err != nil {
		return fmt.Errorf("recover stale outbox messages: %w", err)
	}
	go sender.Run(ctx)

	followups := store.NewFollowUpRunner(st, st, FollowUpPollInterval)
	go followups.Run(ctx)

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	apiOpts = append(apiOpts, api.WithCountryCode(*flags.countryCode))

	server := api.NewServer(eng, st, apiOpts...)
	return server.Run(ctx)
}
