package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/embedder"
)

// MJPEGOptions tunes an MJPEGSource. Zero values pick the defaults.
type MJPEGOptions struct {
	Client               *http.Client
	MaxConsecutiveErrors int
	ReconnectWait        time.Duration
	Logger               *zap.Logger
}

// MJPEGSource reads JPEG frames from a multipart/x-mixed-replace HTTP stream,
// the format served by IP webcam apps such as DroidCam. A dropped stream is
// reconnected on the next Read. After MaxConsecutiveErrors failed reads in a
// row the source gives up and reports ErrClosed.
type MJPEGSource struct {
	url           string
	client        *http.Client
	maxErrors     int
	reconnectWait time.Duration
	logger        *zap.Logger

	// stream lives across reads; Close cancels it to unblock a pending Read
	stream context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	mu          sync.Mutex
	body        io.ReadCloser
	dropRequest context.CancelFunc
	parts       *multipart.Reader
	seq         int64
	failures    int
}

// NewMJPEGSource creates a source for url. No connection is made until the
// first Read.
func NewMJPEGSource(url string, opts MJPEGOptions) *MJPEGSource {
	s := &MJPEGSource{
		url:           url,
		client:        opts.Client,
		maxErrors:     opts.MaxConsecutiveErrors,
		reconnectWait: opts.ReconnectWait,
		logger:        opts.Logger,
	}
	s.stream, s.cancel = context.WithCancel(context.Background())
	if s.client == nil {
		// no overall timeout, the stream never ends
		s.client = &http.Client{}
	}
	if s.maxErrors <= 0 {
		s.maxErrors = constants.MaxConsecutiveReadErrors
	}
	if s.reconnectWait < 0 {
		s.reconnectWait = 0
	} else if s.reconnectWait == 0 {
		s.reconnectWait = constants.CameraReconnectWait
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Read returns the next frame of the stream.
func (s *MJPEGSource) Read(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() || s.failures >= s.maxErrors {
		return Frame{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if s.parts == nil {
		if s.failures > 0 && s.reconnectWait > 0 {
			select {
			case <-ctx.Done():
				return Frame{}, ctx.Err()
			case <-time.After(s.reconnectWait):
			}
		}
		if err := s.connect(ctx); err != nil {
			if s.closed.Load() {
				return Frame{}, ErrClosed
			}
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			return Frame{}, s.fail(err)
		}
	}

	// A cancelled ctx aborts a blocked part read by dropping the connection.
	body := s.body
	stop := context.AfterFunc(ctx, func() { body.Close() })
	data, err := s.nextPart()
	stop()
	if err != nil {
		s.disconnect()
		if s.closed.Load() {
			return Frame{}, ErrClosed
		}
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		return Frame{}, s.fail(fmt.Errorf("reading stream part: %w", err))
	}

	img, err := embedder.DecodeImage(data)
	if err != nil {
		// a corrupt part does not poison the stream
		return Frame{}, s.fail(err)
	}

	s.failures = 0
	s.seq++
	return Frame{Image: img, Seq: s.seq, CapturedAt: time.Now()}, nil
}

func (s *MJPEGSource) nextPart() ([]byte, error) {
	part, err := s.parts.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, constants.MaxFrameBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > constants.MaxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", constants.MaxFrameBytes)
	}
	return data, nil
}

// connect must be called with s.mu held. ctx only bounds the handshake; the
// stream itself is bound to the source so it outlives a single Read.
func (s *MJPEGSource) connect(ctx context.Context) error {
	reqCtx, reqCancel := context.WithCancel(s.stream)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if err != nil {
		reqCancel()
		return fmt.Errorf("creating stream request: %w", err)
	}

	stop := context.AfterFunc(ctx, reqCancel)
	resp, err := s.client.Do(req)
	if !stop() {
		if err == nil {
			resp.Body.Close()
		}
		reqCancel()
		return ctx.Err()
	}
	if err != nil {
		reqCancel()
		return fmt.Errorf("connecting to %s: %w", s.url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		reqCancel()
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}

	boundary, err := streamBoundary(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		reqCancel()
		return err
	}

	s.body = resp.Body
	s.dropRequest = reqCancel
	s.parts = multipart.NewReader(resp.Body, boundary)
	s.logger.Info("camera stream connected", zap.String("url", s.url), zap.String("boundary", boundary))
	return nil
}

func streamBoundary(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parsing stream content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fmt.Errorf("unexpected stream content type %q", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", errors.New("stream content type has no boundary")
	}
	return boundary, nil
}

// fail counts a failed read and returns err. Must be called with s.mu held.
func (s *MJPEGSource) fail(err error) error {
	s.failures++
	if s.failures >= s.maxErrors {
		s.logger.Error("camera stream giving up",
			zap.String("url", s.url),
			zap.Int("consecutive_failures", s.failures),
			zap.Error(err))
		s.disconnect()
	}
	return err
}

func (s *MJPEGSource) disconnect() {
	if s.body != nil {
		s.body.Close()
	}
	if s.dropRequest != nil {
		s.dropRequest()
	}
	s.body = nil
	s.dropRequest = nil
	s.parts = nil
}

// Close drops the connection and unblocks a pending Read. Subsequent reads
// return ErrClosed.
func (s *MJPEGSource) Close() error {
	s.closed.Store(true)
	s.cancel()
	return nil
}
