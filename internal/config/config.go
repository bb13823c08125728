package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

//go:embed calibration.yaml
var calibrationYAML []byte

type Config struct {
	Camera      CameraConfig
	Embedding   EmbeddingConfig
	Recognition RecognitionConfig
	Matching    MatchingConfig
	Gallery     GalleryConfig
	Session     SessionConfig
	Ledger      LedgerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	Log         LogConfig
	Web         WebConfig
	Calibration CalibrationConfig
}

type CameraConfig struct {
	URL    string // MJPEG stream (http://ip:4747/video) or a directory of stills
	Rotate int    // degrees counter-clockwise, one of 0/90/180/270
}

type EmbeddingConfig struct {
	URL           string        // defaults to http://localhost:8000
	DetectionSize int           // detector input size, defaults to 640
	Timeout       time.Duration // per request; expiry is fatal for a running session
}

type RecognitionConfig struct {
	DownscaleFactor float64
	DownscaleWidth  int // overrides DownscaleFactor when > 0
	FrameSkip       int
	Cooldown        time.Duration
}

type MatchingConfig struct {
	Strategy  string // top_similarity or average_distance
	Metric    string // cosine or l2
	Threshold float64
}

type GalleryConfig struct {
	Path      string
	Index     string // flat or hnsw
	EnrollDir string
}

type SessionConfig struct {
	Duration      time.Duration
	PresentWindow time.Duration
	Policy        string // elapsed or clock_hour
	CutoffHour    int
	Schedule      string // cron spec for serve, empty disables
}

type LedgerConfig struct {
	DSN string // sqlite path, sqlite://, postgres:// or mysql://
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 10)
	MaxIdleConns int    // Maximum idle connections (default 2)
}

type RedisConfig struct {
	URL string // empty keeps the cooldown in memory
}

type NATSConfig struct {
	URL     string
	Subject string
}

type LogConfig struct {
	File  string
	Level string
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // besides localhost, which is always allowed
}

type CalibrationConfig struct {
	Presets map[string]map[string]float64 `yaml:"presets"`
	Models  map[string]ModelNotes         `yaml:"models"`
}

type ModelNotes struct {
	Dim        int  `yaml:"dim"`
	Normalized bool `yaml:"normalized"`
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

// envNonNegInt is envInt for values where zero is meaningful (rotation,
// cutoff hour, a disabled cooldown).
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

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

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var calibration CalibrationConfig
	if err := yaml.Unmarshal(calibrationYAML, &calibration); err != nil {
		// embedded at build time, a parse failure is a packaging bug
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}

	cfg := &Config{
		Camera: CameraConfig{
			URL:    os.Getenv("CAMERA_URL"),
			Rotate: envNonNegInt("CAMERA_ROTATE", 0),
		},
		Embedding: EmbeddingConfig{
			URL:           envString("EMBEDDING_URL", "http://localhost:8000"),
			DetectionSize: envInt("DETECTION_SIZE", constants.DefaultDetectionSize),
			Timeout:       time.Duration(envInt("EMBEDDER_TIMEOUT", int(constants.DefaultEmbedderTimeout/time.Second))) * time.Second,
		},
		Recognition: RecognitionConfig{
			DownscaleFactor: envFloat("DOWNSCALE_FACTOR", constants.DefaultDownscaleFactor),
			DownscaleWidth:  envNonNegInt("DOWNSCALE_WIDTH", 0),
			FrameSkip:       envInt("FRAME_SKIP", constants.DefaultFrameSkip),
			Cooldown:        time.Duration(envNonNegInt("COOLDOWN_SECONDS", int(constants.DefaultCooldown/time.Second))) * time.Second,
		},
		Matching: MatchingConfig{
			Strategy: envString("MATCH_STRATEGY", "top_similarity"),
			Metric:   envString("GALLERY_METRIC", "cosine"),
		},
		Gallery: GalleryConfig{
			Path:      envString("GALLERY_PATH", "gallery/face_bank.idx"),
			Index:     envString("GALLERY_INDEX", "flat"),
			EnrollDir: envString("ENROLL_DIR", "dataset"),
		},
		Session: SessionConfig{
			Duration:      time.Duration(envInt("SESSION_MINUTES", int(constants.DefaultSessionDuration/time.Minute))) * time.Minute,
			PresentWindow: time.Duration(envInt("PRESENT_WINDOW_MINUTES", int(constants.DefaultPresentWindow/time.Minute))) * time.Minute,
			Policy:        envString("STATUS_POLICY", "elapsed"),
			CutoffHour:    envNonNegInt("STATUS_CUTOFF_HOUR", constants.DefaultCutoffHour),
			Schedule:      os.Getenv("SESSION_SCHEDULE"),
		},
		Ledger: LedgerConfig{
			DSN: envString("LEDGER_DSN", "attendance.db"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 2),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		NATS: NATSConfig{
			URL:     os.Getenv("NATS_URL"),
			Subject: envString("NATS_SUBJECT", "attendance.events"),
		},
		Log: LogConfig{
			File:  envString("LOG_FILE", "logs/attendance.log"),
			Level: envString("LOG_LEVEL", "info"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Calibration: calibration,
	}
	cfg.normalize()
	cfg.Matching.Threshold = envFloat("MATCH_THRESHOLD", cfg.DefaultThreshold())
	return cfg
}

// DefaultThreshold returns the calibration preset for the configured metric
// and strategy, or 0 when the pairing has no preset.
func (c *Config) DefaultThreshold() float64 {
	return c.Calibration.Preset(c.Matching.Metric, c.Matching.Strategy)
}

// Preset looks up a default threshold. Unknown pairings return 0.
func (c CalibrationConfig) Preset(metric, strategy string) float64 {
	byStrategy, ok := c.Presets[metric]
	if !ok {
		return 0
	}
	return byStrategy[strategy]
}

// normalize lower-cases the enumerated settings and maps metric aliases, so
// "COSINE" or "ip" validate the way the gallery parses them.
func (c *Config) normalize() {
	lower := func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	c.Matching.Metric = lower(c.Matching.Metric)
	switch c.Matching.Metric {
	case "ip", "inner_product":
		c.Matching.Metric = "cosine"
	case "euclidean":
		c.Matching.Metric = "l2"
	}
	c.Matching.Strategy = lower(c.Matching.Strategy)
	c.Gallery.Index = lower(c.Gallery.Index)
	c.Session.Policy = lower(c.Session.Policy)
}

// Validate normalizes enumerated values, then rejects incoherent
// combinations before any component is built.
func (c *Config) Validate() error {
	c.normalize()
	var errs []error

	switch c.Matching.Metric {
	case "cosine", "l2":
	default:
		errs = append(errs, fmt.Errorf("GALLERY_METRIC must be cosine or l2, got %q", c.Matching.Metric))
	}
	switch c.Matching.Strategy {
	case "top_similarity":
		if c.Matching.Metric == "l2" {
			errs = append(errs, errors.New("MATCH_STRATEGY top_similarity requires GALLERY_METRIC=cosine"))
		}
		if c.Matching.Threshold > 1 {
			errs = append(errs, fmt.Errorf("similarity threshold must be <= 1, got %g", c.Matching.Threshold))
		}
	case "average_distance":
	default:
		errs = append(errs, fmt.Errorf("MATCH_STRATEGY must be top_similarity or average_distance, got %q", c.Matching.Strategy))
	}
	if c.Matching.Threshold <= 0 {
		errs = append(errs, errors.New("MATCH_THRESHOLD must be positive"))
	}

	switch c.Gallery.Index {
	case "flat", "hnsw":
	default:
		errs = append(errs, fmt.Errorf("GALLERY_INDEX must be flat or hnsw, got %q", c.Gallery.Index))
	}

	if c.Session.PresentWindow > c.Session.Duration {
		errs = append(errs, fmt.Errorf("present window %s exceeds session duration %s", c.Session.PresentWindow, c.Session.Duration))
	}
	switch c.Session.Policy {
	case "elapsed", "clock_hour":
	default:
		errs = append(errs, fmt.Errorf("STATUS_POLICY must be elapsed or clock_hour, got %q", c.Session.Policy))
	}
	if c.Session.CutoffHour > 23 {
		errs = append(errs, fmt.Errorf("STATUS_CUTOFF_HOUR must be 0-23, got %d", c.Session.CutoffHour))
	}

	switch c.Camera.Rotate {
	case 0, 90, 180, 270:
	default:
		errs = append(errs, fmt.Errorf("CAMERA_ROTATE must be 0, 90, 180 or 270, got %d", c.Camera.Rotate))
	}
	if c.Recognition.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("COOLDOWN_SECONDS must not be negative, got %s", c.Recognition.Cooldown))
	}
	if c.Recognition.DownscaleFactor > 1 {
		errs = append(errs, fmt.Errorf("DOWNSCALE_FACTOR must be in (0, 1], got %g", c.Recognition.DownscaleFactor))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP surface.
func (c *WebConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
