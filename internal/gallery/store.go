package gallery

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

var (
	// ErrLockstep means the index and the identity list disagree on how many
	// vectors the gallery holds.
	ErrLockstep = errors.New("gallery index and identity list are out of lockstep")
	// ErrMetricMismatch means the gallery was built for another metric than
	// the deployment is configured for.
	ErrMetricMismatch = errors.New("gallery metric does not match configuration")
)

// Metadata is written next to the index as <path>.meta.
type Metadata struct {
	Version   int       `json:"version"`
	Metric    Metric    `json:"metric"`
	Index     IndexKind `json:"index"`
	Dim       int       `json:"dim"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// identityList is the gob payload of <path>.faces: the identity of every index
// position plus the prepared vectors used for per-identity averaging.
type identityList struct {
	Identities []string
	Embeddings [][]float32
}

// Save writes the gallery as three co-located files: the index at path,
// metadata at path.meta and the identity list at path.faces.
func (g *Gallery) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating gallery directory: %w", err)
		}
	}

	if err := g.index.Save(path); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(identityList{Identities: g.identities, Embeddings: g.embeddings}); err != nil {
		return fmt.Errorf("failed to encode identities: %w", err)
	}
	if err := os.WriteFile(path+".faces", buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write faces file: %w", err)
	}

	meta := Metadata{
		Version:   constants.GalleryFormatVersion,
		Metric:    g.metric,
		Index:     g.index.Kind(),
		Dim:       g.index.Dim(),
		Count:     g.Len(),
		CreatedAt: time.Now().UTC(),
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0o600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadMetadata reads <path>.meta.
func LoadMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return meta, nil
}

// Load reads a gallery written by Save and verifies that it was built for want
// and that index, metadata and identity list agree on the vector count.
func Load(path string, want Metric) (*Gallery, error) {
	meta, err := LoadMetadata(path)
	if err != nil {
		return nil, err
	}
	if meta.Version != constants.GalleryFormatVersion {
		return nil, fmt.Errorf("gallery format version %d is not supported (want %d)", meta.Version, constants.GalleryFormatVersion)
	}
	if meta.Metric != want {
		return nil, fmt.Errorf("%w: %s was built for %q, configured %q", ErrMetricMismatch, path, meta.Metric, want)
	}

	idx, err := loadIndex(meta.Index, meta.Metric, path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path + ".faces") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read faces file: %w", err)
	}
	var list identityList
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode faces file: %w", err)
	}

	if idx.Len() != len(list.Identities) || meta.Count != len(list.Identities) || len(list.Embeddings) != len(list.Identities) {
		return nil, fmt.Errorf("%w: index has %d vectors, metadata says %d, identity list has %d names and %d embeddings",
			ErrLockstep, idx.Len(), meta.Count, len(list.Identities), len(list.Embeddings))
	}
	if idx.Len() > 0 && idx.Dim() != meta.Dim {
		return nil, fmt.Errorf("gallery index has %d dimensions, metadata says %d", idx.Dim(), meta.Dim)
	}

	g := newGallery(meta.Metric, idx)
	for i, id := range list.Identities {
		if len(list.Embeddings[i]) != meta.Dim {
			return nil, fmt.Errorf("embedding %d (%s) has %d dimensions, want %d", i, id, len(list.Embeddings[i]), meta.Dim)
		}
		g.appendEntry(id, list.Embeddings[i])
	}
	return g, nil
}
