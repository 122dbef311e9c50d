package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/mcastelli/vidmatch/pkg/models"
	"github.com/mcastelli/vidmatch/pkg/sqlbuilder"
)

// FindSimilar ranks stored segments by cosine similarity to the query
// embedding. Rows are filtered by scope/modality when set, kept only above
// minSimilarity, and ordered by similarity descending with the owning video's
// id ascending as a deterministic tie-break.
func (s *PostgresStore) FindSimilar(ctx context.Context, embedding []float32, filter models.SearchFilter, pageLimit int, minSimilarity float64) ([]models.SegmentMatch, error) {
	query, args := sqlbuilder.BuildSimilarityQuery(pgvector.NewVector(embedding), sqlbuilder.SimilarityParams{
		Filter:        filter,
		PageLimit:     pageLimit,
		MinSimilarity: minSimilarity,
	})

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, false)
}

// FindSimilarBatch runs one similarity search per embedding and merges the
// results under a single global ordering and page limit. See
// sqlbuilder.BuildBatchSimilarityQuery for the fairness caveat.
func (s *PostgresStore) FindSimilarBatch(ctx context.Context, embeddings [][]float32, filter models.SearchFilter, pageLimit int, minSimilarity float64) ([]models.SegmentMatch, error) {
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("batch similarity search: no embeddings given")
	}

	vectors := make([]pgvector.Vector, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = pgvector.NewVector(e)
	}

	query, args := sqlbuilder.BuildBatchSimilarityQuery(vectors, sqlbuilder.SimilarityParams{
		Filter:        filter,
		PageLimit:     pageLimit,
		MinSimilarity: minSimilarity,
	})

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch similarity search: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, true)
}

func scanMatches(rows pgx.Rows, withQueryIndex bool) ([]models.SegmentMatch, error) {
	matches := []models.SegmentMatch{}
	for rows.Next() {
		var m models.SegmentMatch
		var queryIndex int

		dest := []any{
			&m.Video.ID, &m.Video.ObjectRef.Bucket, &m.Video.ObjectRef.Key,
			&m.Video.Filename, &m.Video.Duration, &m.Video.CreatedAt, &m.Video.UpdatedAt,
			&m.Video.Height, &m.Video.Width,
			&m.SegmentID, &m.Modality, &m.Scope, &m.StartTime, &m.EndTime,
			&m.Similarity,
		}
		if withQueryIndex {
			dest = append(dest, &queryIndex)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan segment match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}
