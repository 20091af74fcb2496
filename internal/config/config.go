package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from env; a local .env file is merged in first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Broadcast BroadcastConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
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

// BroadcastConfig tunes donor discovery, the ring lease and client throttles.
type BroadcastConfig struct {
	// LocatorBackend selects the donor index: "postgres" (haversine) or "redis" (GEOSEARCH).
	LocatorBackend string

	CallRadiusKm   float64
	CallMaxDonors  int
	AlertRadiusKm  float64
	AlertMaxDonors int

	RingTimeout   time.Duration
	SweepSchedule string

	CreateLimit  int
	CreateWindow time.Duration

	PollInterval   time.Duration
	PollRatePerSec float64
	PollBurst      int
}

func Load() (Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
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
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL")

	b := &c.Broadcast
	b.LocatorBackend = strings.ToLower(strings.TrimSpace(os.Getenv("LOCATOR_BACKEND")))
	b.SweepSchedule = strings.TrimSpace(os.Getenv("BROADCAST_SWEEP_SCHEDULE"))
	b.RingTimeout = optDuration("BROADCAST_RING_TIMEOUT")
	b.CreateWindow = optDuration("BROADCAST_CREATE_WINDOW")
	b.PollInterval = optDuration("BROADCAST_POLL_INTERVAL")
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"BROADCAST_CALL_RADIUS_KM", &b.CallRadiusKm},
		{"BROADCAST_ALERT_RADIUS_KM", &b.AlertRadiusKm},
		{"BROADCAST_POLL_RATE", &b.PollRatePerSec},
	} {
		v, err := optFloat(f.key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*f.dst = v
	}
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"BROADCAST_CALL_MAX_DONORS", &b.CallMaxDonors},
		{"BROADCAST_ALERT_MAX_DONORS", &b.AlertMaxDonors},
		{"BROADCAST_CREATE_LIMIT", &b.CreateLimit},
		{"BROADCAST_POLL_BURST", &b.PollBurst},
	} {
		v, err := optInt(f.key)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*f.dst = v
	}

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required settings and fills defaults in place.
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
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

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

	errs = append(errs, c.Broadcast.applyDefaults()...)

	return joinErrors(errs)
}

func (b *BroadcastConfig) applyDefaults() []error {
	var errs []error

	switch b.LocatorBackend {
	case "":
		b.LocatorBackend = "postgres"
	case "postgres", "redis":
	default:
		errs = append(errs, fmt.Errorf("LOCATOR_BACKEND must be one of postgres, redis, got %q", b.LocatorBackend))
	}

	// Radii and caps mirror the two call-to-action framings: a phone-style ring and a wider alert.
	if b.CallRadiusKm <= 0 {
		b.CallRadiusKm = 30
	}
	if b.CallMaxDonors <= 0 {
		b.CallMaxDonors = 15
	}
	if b.AlertRadiusKm <= 0 {
		b.AlertRadiusKm = 50
	}
	if b.AlertMaxDonors <= 0 {
		b.AlertMaxDonors = 20
	}

	if b.RingTimeout <= 0 {
		b.RingTimeout = 30 * time.Second
	}
	if b.SweepSchedule == "" {
		b.SweepSchedule = "@every 5s"
	}

	if b.CreateLimit <= 0 {
		b.CreateLimit = 3
	}
	if b.CreateWindow <= 0 {
		b.CreateWindow = 10 * time.Minute
	}

	if b.PollInterval <= 0 {
		b.PollInterval = 3 * time.Second
	}
	if b.PollInterval < time.Second || b.PollInterval > 5*time.Second {
		errs = append(errs, fmt.Errorf("BROADCAST_POLL_INTERVAL must be between 1s and 5s, got %s", b.PollInterval))
	}
	if b.PollRatePerSec <= 0 {
		b.PollRatePerSec = 2
	}
	if b.PollBurst <= 0 {
		b.PollBurst = 5
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

func optInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optFloat(key string) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return f, nil
}

// optDuration returns zero for missing or malformed values; Validate applies defaults.
func optDuration(key string) time.Duration {
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
