package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/embedder"
)

func testConfig() *config.Config {
	cfg := &config.Config{
		Calibration: config.CalibrationConfig{
			Presets: map[string]map[string]float64{
				"cosine": {"top_similarity": 0.6, "average_distance": 0.45},
				"l2":     {"average_distance": 0.9},
			},
			Models: map[string]config.ModelNotes{
				"facenet512": {Dim: 512, Normalized: true},
				"arcface":    {Dim: 512, Normalized: true},
				"facenet":    {Dim: 128},
			},
		},
	}
	cfg.Matching.Metric = "cosine"
	cfg.Matching.Strategy = "top_similarity"
	cfg.Matching.Threshold = 0.6
	return cfg
}

func matchingCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	addMatchingFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestApplyMatchingFlags(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		envThreshold  string
		wantStrategy  string
		wantMetric    string
		wantThreshold float64
	}{
		{
			name:          "no flags keeps configuration",
			wantStrategy:  "top_similarity",
			wantMetric:    "cosine",
			wantThreshold: 0.6,
		},
		{
			name:          "strategy change picks the preset",
			args:          []string{"--strategy", "average_distance"},
			wantStrategy:  "average_distance",
			wantMetric:    "cosine",
			wantThreshold: 0.45,
		},
		{
			name:          "metric and strategy change",
			args:          []string{"--metric", "l2", "--strategy", "average_distance"},
			wantStrategy:  "average_distance",
			wantMetric:    "l2",
			wantThreshold: 0.9,
		},
		{
			name:          "explicit threshold wins",
			args:          []string{"--strategy", "average_distance", "--threshold", "0.3"},
			wantStrategy:  "average_distance",
			wantMetric:    "cosine",
			wantThreshold: 0.3,
		},
		{
			name:          "environment threshold is kept",
			args:          []string{"--strategy", "average_distance"},
			envThreshold:  "0.6",
			wantStrategy:  "average_distance",
			wantMetric:    "cosine",
			wantThreshold: 0.6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MATCH_THRESHOLD", tt.envThreshold)
			cfg := testConfig()
			applyMatchingFlags(matchingCmd(t, tt.args...), cfg)

			assert.Equal(t, tt.wantStrategy, cfg.Matching.Strategy)
			assert.Equal(t, tt.wantMetric, cfg.Matching.Metric)
			assert.InDelta(t, tt.wantThreshold, cfg.Matching.Threshold, 1e-9)
		})
	}
}

func TestGalleryOverrides_L2SwitchesStrategy(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("path", "", "")
	cmd.Flags().String("metric", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--metric", "l2", "--path", "/tmp/g.idx"}))

	cfg := testConfig()
	galleryOverrides(cmd)(cfg)

	assert.Equal(t, "/tmp/g.idx", cfg.Gallery.Path)
	assert.Equal(t, "l2", cfg.Matching.Metric)
	assert.Equal(t, "average_distance", cfg.Matching.Strategy)
	assert.InDelta(t, 0.9, cfg.Matching.Threshold, 1e-9)
}

func TestMatchingModels(t *testing.T) {
	cal := testConfig().Calibration

	assert.Equal(t, []string{"arcface", "facenet512"}, matchingModels(cal, 512))
	assert.Equal(t, []string{"facenet"}, matchingModels(cal, 128))
	assert.Empty(t, matchingModels(cal, 64))
}

func TestChanged(t *testing.T) {
	cmd := matchingCmd(t, "--metric", "l2")

	assert.True(t, changed(cmd, "metric"))
	assert.False(t, changed(cmd, "strategy"))
	assert.False(t, changed(cmd, "missing"))
}

func TestPingWithin_StalledService(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	err := pingWithin(context.Background(), embedder.NewHTTPEmbedder(srv.URL, 0), 100*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPingWithin_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.NoError(t, pingWithin(context.Background(), embedder.NewHTTPEmbedder(srv.URL, 0), time.Second))
}

func TestEmbedderClient_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.Embedding.Timeout = 7 * time.Second
	a := &app{cfg: cfg}
	assert.Equal(t, 7*time.Second, a.embedderClient().Timeout())

	cfg.Embedding.Timeout = 0
	assert.Equal(t, 30*time.Second, a.embedderClient().Timeout(), "unset keeps the client default")
}
