package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"CommunityScanner/internal/domain"
)

const (
	defaultTimezone       = "UTC"
	configPathEnv         = "COMMUNITY_SCANNER_CONFIG"
	redditClientIDEnv     = "REDDIT_CLIENT_ID"
	redditClientSecretEnv = "REDDIT_CLIENT_SECRET"
	redditUserAgentEnv    = "REDDIT_USER_AGENT"
	databaseDSNEnv        = "DATABASE_DSN"
	telegramTokenEnv      = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv     = "TELEGRAM_CHAT_ID"
	mlAPIKeyEnv           = "ML_API_KEY"
	logLevelEnv           = "LOG_LEVEL"
)

// Recognised option values.
const (
	StorageFile     = "file"
	StoragePostgres = "postgres"

	SourceFile    = "file"
	SourceRanking = "ranking"

	MetricLevenshtein  = "levenshtein"
	MetricJaroWinkler  = "jaro-winkler"
	MetricSorensenDice = "sorensen-dice"

	maxWorkers = 4
)

var validSorts = map[string]bool{"comments": true, "new": true, "hot": true, "top": true, "rising": true}

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Reddit        RedditConfig       `yaml:"reddit"`
	Entities      EntitiesConfig     `yaml:"entities"`
	Resolver      ResolverConfig     `yaml:"resolver"`
	Fetcher       FetcherConfig      `yaml:"fetcher"`
	Retry         RetryConfig        `yaml:"retry"`
	Storage       StorageConfig      `yaml:"storage"`
	Resolution    ResolutionConfig   `yaml:"resolution"`
	Orchestrator  OrchestratorConfig `yaml:"orchestrator"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Notifications NotificationConfig `yaml:"notifications"`
	ML            MLConfig           `yaml:"ml"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedditConfig describes the remote service endpoint and credentials.
type RedditConfig struct {
	BaseURL           string        `yaml:"baseUrl"`
	OAuthBaseURL      string        `yaml:"oauthBaseUrl"`
	TokenURL          string        `yaml:"tokenUrl"`
	ClientID          string        `yaml:"clientId"`
	ClientSecret      string        `yaml:"clientSecret"`
	UserAgent         string        `yaml:"userAgent"`
	RequestTimeout    time.Duration `yaml:"requestTimeout"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
}

// EntitiesConfig picks the entity source strategy.
type EntitiesConfig struct {
	Source  string        `yaml:"source"`
	Path    string        `yaml:"path"`
	Ranking RankingConfig `yaml:"ranking"`
}

// RankingConfig points at a ranking HTML table.
type RankingConfig struct {
	URL        string `yaml:"url"`
	MaxRank    int    `yaml:"maxRank"`
	RankPrefix string `yaml:"rankPrefix"`
	SavePath   string `yaml:"savePath"`
}

// ResolverConfig tunes candidate generation and community scoring.
type ResolverConfig struct {
	SearchLimit         int      `yaml:"searchLimit"`
	AcceptanceThreshold float64  `yaml:"acceptanceThreshold"`
	Metric              string   `yaml:"metric"`
	ActivityWeight      float64  `yaml:"activityWeight"`
	MinMembers          int      `yaml:"minMembers"`
	MaxCandidates       int      `yaml:"maxCandidates"`
	JitterWords         []string `yaml:"jitterWords"`
	Locations           []string `yaml:"locations"`
}

// FetcherConfig bounds a single community retrieval.
type FetcherConfig struct {
	Sort      string `yaml:"sort"`
	Limit     int    `yaml:"limit"`
	PageSize  int    `yaml:"pageSize"`
	MaxPages  int    `yaml:"maxPages"`
	BatchSize int    `yaml:"batchSize"`
}

// RetryConfig holds backoff parameters shared by resolver and fetcher.
type RetryConfig struct {
	MaxAttempts      int           `yaml:"maxAttempts"`
	ThrottleAttempts int           `yaml:"throttleAttempts"`
	InitialBackoff   time.Duration `yaml:"initialBackoff"`
	MaxBackoff       time.Duration `yaml:"maxBackoff"`
	ThrottleBackoff  time.Duration `yaml:"throttleBackoff"`
}

// StorageConfig selects the cursor store backend.
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	DataDir string `yaml:"dataDir"`
	DSN     string `yaml:"dsn"`
}

// ResolutionConfig locates the human-editable map file.
type ResolutionConfig struct {
	MapPath string `yaml:"mapPath"`
}

// OrchestratorConfig controls entity scheduling inside one run.
type OrchestratorConfig struct {
	Workers          int           `yaml:"workers"`
	InterEntityDelay time.Duration `yaml:"interEntityDelay"`
}

// SchedulerConfig defines when recurring scrape runs fire.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// NotificationConfig encapsulates outbound channels.
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MLConfig describes the sentiment-service integration.
type MLConfig struct {
	InferenceURL string `yaml:"inferenceUrl"`
	APIKey       string `yaml:"apiKey"`
	BatchSize    int    `yaml:"batchSize"`
}

// Load reads .env, the YAML file (explicit path wins over the env variable) and
// environment overrides, then validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidConfig, path, err)
		}
		// Decoding onto the defaults keeps absent keys and honours explicit zeros.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", domain.ErrInvalidConfig, path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(redditClientIDEnv); v != "" {
		c.Reddit.ClientID = v
	}
	if v := os.Getenv(redditClientSecretEnv); v != "" {
		c.Reddit.ClientSecret = v
	}
	if v := os.Getenv(redditUserAgentEnv); v != "" {
		c.Reddit.UserAgent = v
	}
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}
	if v := os.Getenv(mlAPIKeyEnv); v != "" {
		c.ML.APIKey = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %s", domain.ErrInvalidConfig, tz)
	}
	c.Scheduler.location = loc
	return nil
}

// Validate rejects option values the components cannot run with.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	r := c.Resolver
	if r.AcceptanceThreshold <= 0 || r.AcceptanceThreshold > 1 {
		add("resolver.acceptanceThreshold must be in (0,1], got %v", r.AcceptanceThreshold)
	}
	if r.SearchLimit < 1 {
		add("resolver.searchLimit must be >= 1")
	}
	if r.MaxCandidates < 1 {
		add("resolver.maxCandidates must be >= 1")
	}
	if r.ActivityWeight < 0 {
		add("resolver.activityWeight must be >= 0")
	}
	switch r.Metric {
	case MetricLevenshtein, MetricJaroWinkler, MetricSorensenDice:
	default:
		add("resolver.metric %q is not one of %s, %s, %s", r.Metric, MetricLevenshtein, MetricJaroWinkler, MetricSorensenDice)
	}

	f := c.Fetcher
	if !validSorts[f.Sort] {
		add("fetcher.sort %q is not supported", f.Sort)
	}
	if f.Limit < 1 {
		add("fetcher.limit must be >= 1")
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		add("fetcher.pageSize must be in [1,100]")
	}
	if f.MaxPages < 1 {
		add("fetcher.maxPages must be >= 1")
	}
	if f.BatchSize < 1 {
		add("fetcher.batchSize must be >= 1")
	}

	rt := c.Retry
	if rt.MaxAttempts < 1 || rt.ThrottleAttempts < 1 {
		add("retry attempts must be >= 1")
	}
	if rt.InitialBackoff <= 0 || rt.MaxBackoff <= 0 || rt.ThrottleBackoff <= 0 {
		add("retry backoff durations must be > 0")
	}
	if rt.MaxBackoff < rt.InitialBackoff {
		add("retry.maxBackoff must be >= retry.initialBackoff")
	}

	switch c.Storage.Driver {
	case StorageFile:
		if c.Storage.DataDir == "" {
			add("storage.dataDir is required for the file driver")
		}
	case StoragePostgres:
		if c.Storage.DSN == "" {
			add("storage.dsn is required for the postgres driver")
		}
	default:
		add("storage.driver %q is not one of %s, %s", c.Storage.Driver, StorageFile, StoragePostgres)
	}

	switch c.Entities.Source {
	case SourceFile:
		if c.Entities.Path == "" {
			add("entities.path is required for the file source")
		}
	case SourceRanking:
		if c.Entities.Ranking.URL == "" {
			add("entities.ranking.url is required for the ranking source")
		}
	default:
		add("entities.source %q is not one of %s, %s", c.Entities.Source, SourceFile, SourceRanking)
	}

	if c.Resolution.MapPath == "" {
		add("resolution.mapPath is required")
	}
	if c.Orchestrator.Workers < 1 || c.Orchestrator.Workers > maxWorkers {
		add("orchestrator.workers must be in [1,%d]", maxWorkers)
	}
	if c.Reddit.RequestsPerMinute < 1 {
		add("reddit.requestsPerMinute must be >= 1")
	}
	if c.Reddit.RequestTimeout <= 0 {
		add("reddit.requestTimeout must be > 0")
	}
	if strings.TrimSpace(c.Reddit.UserAgent) == "" {
		add("reddit.userAgent is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Reddit: RedditConfig{
			BaseURL:           "https://www.reddit.com",
			OAuthBaseURL:      "https://oauth.reddit.com",
			TokenURL:          "https://www.reddit.com/api/v1/access_token",
			UserAgent:         "CommunityScanner/1.0",
			RequestTimeout:    20 * time.Second,
			RequestsPerMinute: 60,
		},
		Entities: EntitiesConfig{
			Source: SourceFile,
			Path:   "data/reference/entities.json",
			Ranking: RankingConfig{
				URL:        "https://www.nirfindia.org/Rankings/2024/EngineeringRanking.html",
				MaxRank:    100,
				RankPrefix: "IR-",
			},
		},
		Resolver: ResolverConfig{
			SearchLimit:         5,
			AcceptanceThreshold: 0.8,
			Metric:              MetricLevenshtein,
			ActivityWeight:      0.05,
			MinMembers:          50,
			MaxCandidates:       5,
		},
		Fetcher: FetcherConfig{
			Sort:      "comments",
			Limit:     1000,
			PageSize:  100,
			MaxPages:  10,
			BatchSize: 50,
		},
		Retry: RetryConfig{
			MaxAttempts:      3,
			ThrottleAttempts: 8,
			InitialBackoff:   time.Second,
			MaxBackoff:       time.Minute,
			ThrottleBackoff:  5 * time.Second,
		},
		Storage: StorageConfig{
			Driver:  StorageFile,
			DataDir: "data/raw_scraped",
		},
		Resolution: ResolutionConfig{
			MapPath: "data/reference/community_map.json",
		},
		Orchestrator: OrchestratorConfig{Workers: 1},
		Scheduler:    SchedulerConfig{CronExpression: "0 6 * * *", Timezone: defaultTimezone, location: tz},
		ML:           MLConfig{InferenceURL: "http://localhost:8000", BatchSize: 100},
	}
}
