package postgres

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/gallery"
)

// GalleryRepository mirrors an enrolled gallery into gallery_embeddings.
type GalleryRepository struct {
	pool *Pool
}

// NewGalleryRepository creates a new gallery mirror repository. The mirror
// migrations must already be applied, see OpenGalleryRepository.
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// OpenGalleryRepository applies the mirror migrations, which install the
// pgvector extension, and returns the repository.
func OpenGalleryRepository(ctx context.Context, pool *Pool) (*GalleryRepository, error) {
	if err := pool.MigrateMirror(ctx); err != nil {
		return nil, fmt.Errorf("gallery mirror needs the pgvector extension on the server: %w", err)
	}
	return NewGalleryRepository(pool), nil
}

// Replace swaps the mirrored gallery for g in a single transaction.
func (r *GalleryRepository) Replace(ctx context.Context, g *gallery.Gallery) error {
	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM gallery_embeddings"); err != nil {
		return fmt.Errorf("clear gallery mirror: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO gallery_embeddings (position, identity, metric, dim, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, entry := range g.Entries() {
		vec := pgvector.NewVector(entry.Embedding)
		if _, err := stmt.ExecContext(ctx, i, entry.Identity, string(g.Metric()), len(entry.Embedding), vec); err != nil {
			return fmt.Errorf("insert gallery entry %d (%s): %w", i, entry.Identity, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of mirrored vectors.
func (r *GalleryRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM gallery_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("count gallery mirror: %w", err)
	}
	return count, nil
}

// Metric returns the metric the mirror was pushed with, or "" when empty.
func (r *GalleryRepository) Metric(ctx context.Context) (gallery.Metric, error) {
	var metric string
	err := r.pool.QueryRow(ctx, "SELECT COALESCE(MIN(metric), '') FROM gallery_embeddings").Scan(&metric)
	if err != nil {
		return "", fmt.Errorf("read mirror metric: %w", err)
	}
	return gallery.Metric(metric), nil
}

// Nearest returns the k closest mirrored vectors to an already prepared query,
// scored the same way as the local index: inner product for cosine, Euclidean
// distance for l2.
func (r *GalleryRepository) Nearest(ctx context.Context, metric gallery.Metric, query []float32, k int) ([]gallery.Neighbor, error) {
	var sqlQuery string
	switch metric {
	case gallery.MetricCosine:
		// <#> is the negated inner product
		sqlQuery = `
			SELECT position, identity, -(embedding <#> $1::vector) AS score
			FROM gallery_embeddings
			ORDER BY embedding <#> $1::vector, position
			LIMIT $2
		`
	case gallery.MetricL2:
		sqlQuery = `
			SELECT position, identity, embedding <-> $1::vector AS score
			FROM gallery_embeddings
			ORDER BY embedding <-> $1::vector, position
			LIMIT $2
		`
	default:
		return nil, fmt.Errorf("unsupported metric %q", metric)
	}

	rows, err := r.pool.Query(ctx, sqlQuery, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query gallery mirror: %w", err)
	}
	defer rows.Close()

	var out []gallery.Neighbor
	for rows.Next() {
		var n gallery.Neighbor
		if err := rows.Scan(&n.Position, &n.Identity, &n.Score); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}

// Embeddings returns the mirrored entries in position order.
func (r *GalleryRepository) Embeddings(ctx context.Context) ([]gallery.Entry, error) {
	rows, err := r.pool.Query(ctx, "SELECT identity, embedding FROM gallery_embeddings ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("query gallery mirror: %w", err)
	}
	defer rows.Close()

	var out []gallery.Entry
	for rows.Next() {
		var (
			e   gallery.Entry
			vec pgvector.Vector
		)
		if err := rows.Scan(&e.Identity, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery entries: %w", err)
	}
	return out, nil
}
