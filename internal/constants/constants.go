// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Recognition loop defaults
const (
	// DefaultFrameSkip processes every Nth frame read from the camera
	DefaultFrameSkip = 4

	// DefaultDownscaleFactor is applied to frames before detection
	DefaultDownscaleFactor = 0.5

	// DefaultDetectionSize is the square input size used by the face detector
	DefaultDetectionSize = 640

	// DefaultCooldown is the minimum time between two ledger attempts for one identity
	DefaultCooldown = 5 * time.Second

	// DefaultEmbedderTimeout bounds one request to the embedding service
	DefaultEmbedderTimeout = 30 * time.Second

	// EmbedderPingTimeout bounds the startup health check of the embedding service
	EmbedderPingTimeout = 10 * time.Second

	// ReadErrorBackoff is the pause after a failed frame read
	ReadErrorBackoff = time.Second

	// LoopStopTimeout bounds how long stopping a session waits for its loop
	LoopStopTimeout = 10 * time.Second

	// MaxConsecutiveReadErrors closes a network frame source after this many failed reads in a row
	MaxConsecutiveReadErrors = 50

	// CameraReconnectWait is the pause before reconnecting to a dropped stream
	CameraReconnectWait = 2 * time.Second

	// MaxFrameBytes bounds a single MJPEG part
	MaxFrameBytes = 8 << 20
)

// Session defaults
const (
	// DefaultSessionDuration is how long a recognition session runs
	DefaultSessionDuration = 10 * time.Minute

	// DefaultPresentWindow is the part of a session in which arrivals count as Present
	DefaultPresentWindow = 5 * time.Minute

	// DefaultCutoffHour is the local hour before which arrivals count as Present
	// under the clock-hour status policy
	DefaultCutoffHour = 12
)

// Gallery constants
const (
	// HNSWMaxNeighbors is the M parameter of the HNSW graph
	HNSWMaxNeighbors = 16

	// GalleryFormatVersion is written to the gallery .meta file and checked on load
	GalleryFormatVersion = 1

	// UnknownIdentity is returned by matchers when no gallery identity is accepted
	UnknownIdentity = "Unknown"
)

// Database constants
const (
	// DatabaseConnectTimeout bounds the initial ping of a SQL backend
	DatabaseConnectTimeout = 10 * time.Second

	// DatabaseConnMaxLifetime recycles pooled connections
	DatabaseConnMaxLifetime = time.Hour

	// DatabaseConnMaxIdleTime closes connections idle for longer
	DatabaseConnMaxIdleTime = 10 * time.Minute
)

// Web constants
const (
	// EventChannelBuffer is the buffer size for SSE listener channels
	EventChannelBuffer = 100

	// SummaryCacheTTL is how long the today's summary response is cached
	SummaryCacheTTL = 5 * time.Second
)
