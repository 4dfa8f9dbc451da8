package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or a .env file loaded by main).
// No business logic should depend on raw environment variables.
type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Transcription TranscriptionConfig
	Telfin        TelfinConfig
	Storage       StorageConfig
	Telegram      TelegramConfig
	Sync          SyncConfig
	Processing    ProcessingConfig
	Sentry        SentryConfig
	Phone         PhoneConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	// Driver is postgres or sqlite.
	Driver string

	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// SQLitePath is used when Driver == "sqlite".
	SQLitePath string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TranscriptionConfig struct {
	// APIKey may be empty at boot; the client reports a configuration error per call.
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

type TelfinConfig struct {
	OAuthURL   string
	APIBaseURL string
	// ClientID is the path segment used by the CDR/storage endpoints ("@me" for the token owner).
	ClientID  string
	PageLimit int
	RPS       float64
	Timeout   time.Duration
}

type StorageConfig struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint is optional (S3-compatible stores such as MinIO).
	Endpoint      string
	UsePathStyle  bool
	PublicBaseURL string
	PresignTTL    time.Duration
	// LocalDir backs the local store when no bucket is configured.
	LocalDir string
}

type TelegramConfig struct {
	BotToken      string
	BotUsername   string
	APIBaseURL    string
	WebhookSecret string
	SessionTTL    time.Duration
}

type SyncConfig struct {
	Schedule string
	Workers  int
	Lookback time.Duration
}

type ProcessingConfig struct {
	Workers int
	Timeout time.Duration
}

type SentryConfig struct {
	DSN string
}

type PhoneConfig struct {
	DefaultRegion string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Driver = strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	c.DB.SQLitePath = strings.TrimSpace(os.Getenv("DB_SQLITE_PATH"))
	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	if c.DB.Driver != "sqlite" {
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Transcription.APIKey = os.Getenv("TRANSCRIPTION_API_KEY")
	c.Transcription.Endpoint = strings.TrimSpace(os.Getenv("TRANSCRIPTION_ENDPOINT"))
	c.Transcription.Timeout = mustDuration("TRANSCRIPTION_TIMEOUT")

	c.Telfin.OAuthURL = strings.TrimSpace(os.Getenv("TELFIN_OAUTH_URL"))
	c.Telfin.APIBaseURL = strings.TrimSpace(os.Getenv("TELFIN_API_BASE_URL"))
	c.Telfin.ClientID = strings.TrimSpace(os.Getenv("TELFIN_CLIENT_ID"))
	c.Telfin.PageLimit = optionalInt("TELFIN_PAGE_LIMIT")
	c.Telfin.RPS = optionalFloat("TELFIN_RPS")
	c.Telfin.Timeout = mustDuration("TELFIN_TIMEOUT")

	c.Storage.Bucket = strings.TrimSpace(os.Getenv("S3_BUCKET"))
	c.Storage.Region = strings.TrimSpace(os.Getenv("S3_REGION"))
	c.Storage.AccessKeyID = strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID"))
	c.Storage.SecretAccessKey = os.Getenv("S3_SECRET_ACCESS_KEY")
	c.Storage.Endpoint = strings.TrimSpace(os.Getenv("S3_ENDPOINT"))
	c.Storage.UsePathStyle = strings.EqualFold(strings.TrimSpace(os.Getenv("S3_USE_PATH_STYLE")), "true")
	c.Storage.PublicBaseURL = strings.TrimSpace(os.Getenv("S3_PUBLIC_BASE_URL"))
	c.Storage.PresignTTL = mustDuration("S3_PRESIGN_TTL")
	c.Storage.LocalDir = strings.TrimSpace(os.Getenv("STORAGE_LOCAL_DIR"))

	c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.BotUsername = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_USERNAME"))
	c.Telegram.APIBaseURL = strings.TrimSpace(os.Getenv("TELEGRAM_API_BASE_URL"))
	c.Telegram.WebhookSecret = os.Getenv("TELEGRAM_WEBHOOK_SECRET")
	c.Telegram.SessionTTL = mustDuration("TELEGRAM_SESSION_TTL")

	c.Sync.Schedule = strings.TrimSpace(os.Getenv("SYNC_SCHEDULE"))
	c.Sync.Workers = optionalInt("SYNC_WORKERS")
	c.Sync.Lookback = mustDuration("SYNC_LOOKBACK")

	c.Processing.Workers = optionalInt("PROCESSING_WORKERS")
	c.Processing.Timeout = mustDuration("PROCESSING_TIMEOUT")

	c.Sentry.DSN = strings.TrimSpace(os.Getenv("SENTRY_DSN"))
	c.Phone.DefaultRegion = strings.ToUpper(strings.TrimSpace(os.Getenv("PHONE_DEFAULT_REGION")))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills in defaults.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	errs = append(errs, c.validateDB()...)

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Transcription.Endpoint == "" {
		c.Transcription.Endpoint = "https://api.lemonfox.ai/v1/audio/transcriptions"
	}
	if c.Transcription.Timeout <= 0 {
		c.Transcription.Timeout = 5 * time.Minute
	}

	if c.Telfin.OAuthURL == "" {
		c.Telfin.OAuthURL = "https://apiproxy.telphin.ru/oauth/token"
	}
	if c.Telfin.APIBaseURL == "" {
		c.Telfin.APIBaseURL = "https://apiproxy.telphin.ru/api/ver1.0"
	}
	if c.Telfin.ClientID == "" {
		c.Telfin.ClientID = "@me"
	}
	if c.Telfin.PageLimit <= 0 || c.Telfin.PageLimit > 1000 {
		c.Telfin.PageLimit = 1000
	}
	if c.Telfin.RPS <= 0 {
		c.Telfin.RPS = 5
	}
	if c.Telfin.Timeout <= 0 {
		c.Telfin.Timeout = 60 * time.Second
	}

	if c.IsProduction() && c.Storage.Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required in production"))
	}
	if c.Storage.Bucket != "" && c.Storage.Region == "" {
		errs = append(errs, errors.New("S3_REGION is required when S3_BUCKET is set"))
	}
	if c.Storage.PresignTTL <= 0 {
		c.Storage.PresignTTL = 7 * 24 * time.Hour
	}
	if c.Storage.Bucket == "" {
		if c.Storage.LocalDir == "" {
			c.Storage.LocalDir = "data/audio"
		}
		if c.Storage.PublicBaseURL == "" {
			c.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%d/files", c.App.Port)
		}
	}

	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = "https://api.telegram.org"
	}
	if c.Telegram.SessionTTL <= 0 {
		c.Telegram.SessionTTL = 10 * time.Minute
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "*/15 * * * *"
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.Lookback <= 0 {
		c.Sync.Lookback = 24 * time.Hour
	}

	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 4
	}
	if c.Processing.Timeout <= 0 {
		c.Processing.Timeout = 15 * time.Minute
	}

	if c.Phone.DefaultRegion == "" {
		c.Phone.DefaultRegion = "RU"
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Driver == "" {
		c.DB.Driver = "postgres"
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_DRIVER=sqlite is not allowed in production"))
		}
		if c.DB.SQLitePath == "" {
			c.DB.SQLitePath = "data/insight.db"
		}
		return errs
	case "postgres":
	default:
		return append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DB.Driver))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optionalInt returns 0 when unset or malformed; Validate applies the default.
func optionalInt(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return n
}

func optionalFloat(key string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return 0
	}
	return f
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
