package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/man-iishkr/RupX/internal/constants"
)

type Config struct {
	Database    DatabaseConfig
	Recognition RecognitionConfig
	Attendance  AttendanceConfig
	Web         WebConfig
	Notify      NotifyConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Driver       string // postgres, sqlite or mariadb (default: postgres when URL is set, sqlite otherwise)
	URL          string // PostgreSQL URL or MariaDB DSN
	SQLitePath   string // defaults to rupx.db
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type RecognitionConfig struct {
	Threshold         float64       // minimum cosine similarity for a known match
	TieEpsilon        float64       // score gap treated as a tie
	EmbeddingDim      int           // expected embedding length on ingestion
	Workers           int           // parallel faces per frame
	UnknownStreak     int           // consecutive unknown frames before notifying
	TrackTTL          time.Duration // idle time after which a face track is forgotten
	HNSWMinIdentities int           // store size from which an HNSW index is built
	MarkCacheSize     int           // remembered attendance windows (0 disables)
}

type AttendanceConfig struct {
	TimeZone    string // IANA zone for the daily boundary (default UTC)
	DefaultMode string // daily or session
}

type WebConfig struct {
	Host           string
	Port           int
	APIToken       string // optional bearer token guarding the API
	AllowedOrigins []string
}

type NotifyConfig struct {
	NtfyTopic string        // full ntfy topic URL, empty disables notifications
	Timeout   time.Duration // request timeout
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a positive float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable as a Go duration ("1500ms", "2s").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	dbURL := os.Getenv("DATABASE_URL")
	driver := strings.ToLower(envString("DATABASE_DRIVER", ""))
	if driver == "" {
		driver = "sqlite"
		if dbURL != "" {
			driver = "postgres"
		}
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:       driver,
			URL:          dbURL,
			SQLitePath:   envString("SQLITE_PATH", "rupx.db"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Recognition: RecognitionConfig{
			Threshold:         envFloat("RECOGNITION_THRESHOLD", constants.DefaultMatchThreshold),
			TieEpsilon:        envFloat("RECOGNITION_TIE_EPSILON", constants.DefaultTieEpsilon),
			EmbeddingDim:      envInt("EMBEDDING_DIM", constants.FaceEmbeddingDim),
			Workers:           envInt("RECOGNITION_WORKERS", constants.DefaultWorkers),
			UnknownStreak:     envInt("UNKNOWN_STREAK_FRAMES", constants.DefaultUnknownStreak),
			TrackTTL:          envDuration("UNKNOWN_TRACK_TTL", constants.DefaultTrackTTL),
			HNSWMinIdentities: envInt("HNSW_MIN_IDENTITIES", constants.HNSWMinIdentities),
			MarkCacheSize:     envInt("MARK_CACHE_SIZE", constants.DefaultMarkCacheSize),
		},
		Attendance: AttendanceConfig{
			TimeZone:    envString("ATTENDANCE_TIMEZONE", "UTC"),
			DefaultMode: strings.ToLower(envString("ATTENDANCE_MODE", "daily")),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 5000),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Notify: NotifyConfig{
			NtfyTopic: os.Getenv("NTFY_TOPIC"),
			Timeout:   envDuration("NTFY_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
	}
}

// Location returns the time zone used for the daily attendance boundary.
func (c *AttendanceConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("attendance time zone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate reports configuration values that would make the engine misbehave.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite":
	case "postgres", "mariadb":
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for driver %s", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver))
	}
	if c.Recognition.Threshold > 1 {
		errs = append(errs, fmt.Errorf("RECOGNITION_THRESHOLD must be in (0, 1], got %g", c.Recognition.Threshold))
	}
	if c.Attendance.DefaultMode != "daily" && c.Attendance.DefaultMode != "session" {
		errs = append(errs, fmt.Errorf("ATTENDANCE_MODE must be daily or session, got %q", c.Attendance.DefaultMode))
	}
	if _, err := c.Attendance.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
