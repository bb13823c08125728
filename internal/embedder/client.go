package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

const defaultEmbeddingURL = "http://localhost:8000"

// HTTPEmbedder computes face embeddings using the embedding server
type HTTPEmbedder struct {
	baseURL string
	detSize int
	client  *http.Client
}

// NewHTTPEmbedder creates a new embedding client.
// detSize is forwarded to the detector; zero leaves the server default.
func NewHTTPEmbedder(baseURL string, detSize int) *HTTPEmbedder {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &HTTPEmbedder{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		detSize: detSize,
		client:  &http.Client{Timeout: constants.DefaultEmbedderTimeout},
	}
}

// SetTimeout bounds every request including reading the response body.
// Zero or negative keeps the current bound.
func (c *HTTPEmbedder) SetTimeout(d time.Duration) {
	if d > 0 {
		c.client.Timeout = d
	}
}

// Timeout returns the per-request bound.
func (c *HTTPEmbedder) Timeout() time.Duration { return c.client.Timeout }

// transportError wraps a failed round trip, marking client-side deadlines
// with ErrTimeout. A cancelled caller context is passed through unchanged.
func (c *HTTPEmbedder) transportError(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: no answer within %s: %w", what, c.client.Timeout, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// faceDetection represents a single detected face in the server response
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Ping checks that the embedding server is up and has its model loaded.
func (c *HTTPEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return c.transportError(ctx, "embedding server unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Detect posts the image to the face endpoint and returns the detected faces.
func (c *HTTPEmbedder) Detect(ctx context.Context, image []byte) ([]DetectedFace, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image: %w", ErrDecode)
	}

	endpoint := "/embed/face"
	if c.detSize > 0 {
		endpoint += "?" + url.Values{"det_size": {strconv.Itoa(c.detSize)}}.Encode()
	}

	body, err := c.postMultipartImage(ctx, endpoint, image)
	if err != nil {
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := make([]DetectedFace, 0, len(faceResp.Faces))
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			return nil, fmt.Errorf("face %d: empty embedding returned", f.FaceIndex)
		}
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d coordinates, want 4", f.FaceIndex, len(f.BBox))
		}
		faces = append(faces, DetectedFace{
			BBox:      BBox{X1: f.BBox[0], Y1: f.BBox[1], X2: f.BBox[2], Y2: f.BBox[3]},
			Embedding: f.Embedding,
			DetScore:  f.DetScore,
		})
	}
	return faces, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *HTTPEmbedder) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="frame.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(ctx, "failed to read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		// The server rejects payloads it cannot decode with 400/422.
		return nil, fmt.Errorf("API error (status %d): %s: %w", resp.StatusCode, string(body), ErrDecode)
	default:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	switch {
	case data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47:
		return "image/png"
	case data[0] == 'B' && data[1] == 'M':
		return "image/bmp"
	}
	return "application/octet-stream"
}
