package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"CAMERA_URL", "CAMERA_ROTATE", "EMBEDDING_URL", "DETECTION_SIZE", "DOWNSCALE_FACTOR",
		"FRAME_SKIP", "COOLDOWN_SECONDS", "SESSION_MINUTES", "PRESENT_WINDOW_MINUTES",
		"MATCH_STRATEGY", "GALLERY_METRIC", "MATCH_THRESHOLD", "STATUS_POLICY", "LEDGER_DSN",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.Embedding.URL != "http://localhost:8000" {
		t.Errorf("expected default embedding URL, got %q", cfg.Embedding.URL)
	}
	if cfg.Embedding.DetectionSize != 640 {
		t.Errorf("expected detection size 640, got %d", cfg.Embedding.DetectionSize)
	}
	if cfg.Recognition.FrameSkip != 4 {
		t.Errorf("expected frame skip 4, got %d", cfg.Recognition.FrameSkip)
	}
	if cfg.Recognition.Cooldown != 5*time.Second {
		t.Errorf("expected 5s cooldown, got %s", cfg.Recognition.Cooldown)
	}
	if cfg.Session.Duration != 10*time.Minute || cfg.Session.PresentWindow != 5*time.Minute {
		t.Errorf("unexpected session timings: %s / %s", cfg.Session.Duration, cfg.Session.PresentWindow)
	}
	if cfg.Matching.Threshold != 0.5 {
		t.Errorf("expected cosine/top_similarity preset 0.5, got %g", cfg.Matching.Threshold)
	}
	if cfg.Ledger.DSN != "attendance.db" {
		t.Errorf("expected default ledger DSN, got %q", cfg.Ledger.DSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCH_STRATEGY", "average_distance")
	t.Setenv("GALLERY_METRIC", "l2")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("COOLDOWN_SECONDS", "8")
	t.Setenv("CAMERA_ROTATE", "0")
	t.Setenv("FRAME_SKIP", "garbage")

	cfg := Load()

	if cfg.Matching.Threshold != 24.0 {
		t.Errorf("expected l2/average_distance preset 24, got %g", cfg.Matching.Threshold)
	}
	if cfg.Recognition.Cooldown != 8*time.Second {
		t.Errorf("expected 8s cooldown, got %s", cfg.Recognition.Cooldown)
	}
	if cfg.Camera.Rotate != 0 {
		t.Errorf("expected rotation 0, got %d", cfg.Camera.Rotate)
	}
	if cfg.Recognition.FrameSkip != 4 {
		t.Errorf("invalid FRAME_SKIP should fall back to 4, got %d", cfg.Recognition.FrameSkip)
	}
}

func TestLoad_ExplicitThresholdWins(t *testing.T) {
	t.Setenv("MATCH_STRATEGY", "top_similarity")
	t.Setenv("GALLERY_METRIC", "cosine")
	t.Setenv("MATCH_THRESHOLD", "0.62")

	cfg := Load()
	if cfg.Matching.Threshold != 0.62 {
		t.Errorf("expected 0.62, got %g", cfg.Matching.Threshold)
	}
}

func TestPreset_Unknown(t *testing.T) {
	cfg := Load()
	if got := cfg.Calibration.Preset("l2", "top_similarity"); got != 0 {
		t.Errorf("expected no preset for l2/top_similarity, got %g", got)
	}
	if got := cfg.Calibration.Preset("manhattan", "average_distance"); got != 0 {
		t.Errorf("expected no preset for unknown metric, got %g", got)
	}
}

func validConfig() *Config {
	return &Config{
		Camera:      CameraConfig{Rotate: 90},
		Recognition: RecognitionConfig{DownscaleFactor: 0.5, FrameSkip: 4},
		Matching:    MatchingConfig{Strategy: "top_similarity", Metric: "cosine", Threshold: 0.5},
		Gallery:     GalleryConfig{Index: "flat"},
		Session: SessionConfig{
			Duration:      10 * time.Minute,
			PresentWindow: 5 * time.Minute,
			Policy:        "elapsed",
			CutoffHour:    12,
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"similarity with l2", func(c *Config) { c.Matching.Metric = "l2" }, "requires GALLERY_METRIC=cosine"},
		{"similarity above one", func(c *Config) { c.Matching.Threshold = 1.5 }, "must be <= 1"},
		{"zero threshold", func(c *Config) { c.Matching.Threshold = 0 }, "must be positive"},
		{"unknown strategy", func(c *Config) { c.Matching.Strategy = "vote" }, "MATCH_STRATEGY"},
		{"unknown metric", func(c *Config) { c.Matching.Metric = "dot" }, "GALLERY_METRIC must be"},
		{"window exceeds duration", func(c *Config) { c.Session.PresentWindow = 11 * time.Minute }, "exceeds session duration"},
		{"unknown policy", func(c *Config) { c.Session.Policy = "weekday" }, "STATUS_POLICY"},
		{"cutoff out of range", func(c *Config) { c.Session.CutoffHour = 24 }, "STATUS_CUTOFF_HOUR"},
		{"odd rotation", func(c *Config) { c.Camera.Rotate = 45 }, "CAMERA_ROTATE"},
		{"unknown index", func(c *Config) { c.Gallery.Index = "ivf" }, "GALLERY_INDEX"},
		{"upscale", func(c *Config) { c.Recognition.DownscaleFactor = 2 }, "DOWNSCALE_FACTOR"},
		{"negative cooldown", func(c *Config) { c.Recognition.Cooldown = -time.Second }, "COOLDOWN_SECONDS"},
		{"zero cooldown", func(c *Config) { c.Recognition.Cooldown = 0 }, ""},
		{"upper case metric", func(c *Config) { c.Matching.Metric = "COSINE" }, ""},
		{"inner product alias", func(c *Config) { c.Matching.Metric = "ip" }, ""},
		{"upper case l2 with similarity", func(c *Config) { c.Matching.Metric = " L2 " }, "requires GALLERY_METRIC=cosine"},
		{"distance with l2", func(c *Config) {
			c.Matching.Strategy = "average_distance"
			c.Matching.Metric = "l2"
			c.Matching.Threshold = 24
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestWebAddr(t *testing.T) {
	w := WebConfig{Host: "127.0.0.1", Port: 9090}
	if got := w.Addr(); got != "127.0.0.1:9090" {
		t.Errorf("expected 127.0.0.1:9090, got %s", got)
	}
}

func TestLoad_AllowedOrigins(t *testing.T) {
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://attendance.example.org, ,http://10.0.0.5:3000 ")
	got := Load().Web.AllowedOrigins
	if len(got) != 2 || got[0] != "https://attendance.example.org" || got[1] != "http://10.0.0.5:3000" {
		t.Errorf("unexpected origins %q", got)
	}

	t.Setenv("WEB_ALLOWED_ORIGINS", "")
	if got := Load().Web.AllowedOrigins; len(got) != 0 {
		t.Errorf("expected no origins, got %q", got)
	}
}

func TestLoad_ZeroCooldown(t *testing.T) {
	t.Setenv("COOLDOWN_SECONDS", "0")

	cfg := Load()

	if cfg.Recognition.Cooldown != 0 {
		t.Errorf("expected cooldown disabled, got %s", cfg.Recognition.Cooldown)
	}
}

func TestLoad_EmbedderTimeout(t *testing.T) {
	t.Setenv("EMBEDDER_TIMEOUT", "")
	if got := Load().Embedding.Timeout; got != 30*time.Second {
		t.Errorf("expected 30s default embedder timeout, got %s", got)
	}

	t.Setenv("EMBEDDER_TIMEOUT", "7")
	if got := Load().Embedding.Timeout; got != 7*time.Second {
		t.Errorf("expected 7s embedder timeout, got %s", got)
	}
}

func TestLoad_NormalizesEnums(t *testing.T) {
	t.Setenv("GALLERY_METRIC", "COSINE")
	t.Setenv("MATCH_STRATEGY", "Top_Similarity")
	t.Setenv("GALLERY_INDEX", "FLAT")
	t.Setenv("STATUS_POLICY", "Elapsed")
	t.Setenv("MATCH_THRESHOLD", "")

	cfg := Load()

	if cfg.Matching.Metric != "cosine" || cfg.Matching.Strategy != "top_similarity" {
		t.Errorf("expected lower-case matching settings, got %q/%q", cfg.Matching.Metric, cfg.Matching.Strategy)
	}
	if cfg.Gallery.Index != "flat" || cfg.Session.Policy != "elapsed" {
		t.Errorf("expected lower-case index and policy, got %q/%q", cfg.Gallery.Index, cfg.Session.Policy)
	}
	if cfg.Matching.Threshold != 0.5 {
		t.Errorf("expected the cosine/top_similarity preset, got %g", cfg.Matching.Threshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("normalized configuration should validate: %v", err)
	}
}
