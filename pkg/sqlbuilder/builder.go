// Package sqlbuilder constructs parameterized similarity search queries for
// the pgvector-backed segment store. SQL fragments and their parameters are
// appended in lock-step; values are never interpolated into the query text.
package sqlbuilder

import (
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/mcastelli/vidmatch/pkg/models"
)

// Builder accumulates a SQL string and its positional arguments together, so
// a fragment can never be added without the values it references.
type Builder struct {
	sb   strings.Builder
	args []any
}

// Write appends a raw SQL fragment that references no parameters.
func (b *Builder) Write(fragment string) {
	b.sb.WriteString(fragment)
}

// Bind appends a parameter value and returns its placeholder ($1, $2, ...).
func (b *Builder) Bind(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// SQL returns the accumulated query text.
func (b *Builder) SQL() string { return b.sb.String() }

// Args returns the accumulated parameters in placeholder order.
func (b *Builder) Args() []any { return b.args }

// SimilarityParams holds the common knobs of a similarity query.
type SimilarityParams struct {
	Filter        models.SearchFilter
	PageLimit     int
	MinSimilarity float64
}

// matchColumns is the denormalized projection shared by all similarity
// queries: the segment plus its owning video's full metadata.
const matchColumns = `videos.id AS video_id,
	videos.object_bucket,
	videos.object_key,
	videos.filename,
	videos.duration,
	videos.created_at,
	videos.updated_at,
	videos.height,
	videos.width,
	video_segments.id AS segment_id,
	video_segments.modality,
	video_segments.scope,
	video_segments.start_time,
	video_segments.end_time`

// writeMatchSubquery appends one per-embedding subquery. Similarity is
// 1 - cosine distance; rows at or below the minimum similarity are dropped.
func writeMatchSubquery(b *Builder, embedding pgvector.Vector, p SimilarityParams, extraColumns string) {
	b.Write("SELECT\n\t")
	b.Write(matchColumns)
	b.Write(",\n\t1 - (video_segments.embedding <=> ")
	b.Write(b.Bind(embedding))
	b.Write("::vector) AS similarity")
	b.Write(extraColumns)
	b.Write("\nFROM videos\nINNER JOIN video_segments ON videos.id = video_segments.video_id")
	b.Write("\nWHERE (1 - (video_segments.embedding <=> ")
	b.Write(b.Bind(embedding))
	b.Write("::vector)) > ")
	b.Write(b.Bind(p.MinSimilarity))

	if p.Filter.Scope != "" {
		b.Write("\nAND video_segments.scope = ")
		b.Write(b.Bind(p.Filter.Scope))
	}
	if p.Filter.Modality != "" {
		b.Write("\nAND video_segments.modality = ")
		b.Write(b.Bind(p.Filter.Modality))
	}
}

// BuildSimilarityQuery returns the query and parameters for a single-embedding
// nearest-neighbor search. Results are ordered by similarity descending with
// the owning video's id ascending as tie-break, so pagination is stable.
func BuildSimilarityQuery(embedding pgvector.Vector, p SimilarityParams) (string, []any) {
	var b Builder
	writeMatchSubquery(&b, embedding, p, "")
	b.Write("\nORDER BY similarity DESC, videos.id ASC\nLIMIT ")
	b.Write(b.Bind(p.PageLimit))
	return b.SQL(), b.Args()
}

// BuildBatchSimilarityQuery unions one subquery per embedding, tags each row
// with the index of its originating embedding, and applies a single global
// ordering and limit across the union. A single highly relevant embedding can
// therefore dominate the page; callers wanting per-query fairness must
// paginate per embedding themselves.
func BuildBatchSimilarityQuery(embeddings []pgvector.Vector, p SimilarityParams) (string, []any) {
	var b Builder
	b.Write("WITH combined_results AS (\n")
	for i, embedding := range embeddings {
		if i > 0 {
			b.Write("\nUNION ALL\n")
		}
		// The index is a loop counter, never caller input.
		writeMatchSubquery(&b, embedding, p, fmt.Sprintf(",\n\t%d AS query_index", i))
	}
	b.Write("\n)\nSELECT * FROM combined_results\nORDER BY similarity DESC, video_id ASC\nLIMIT ")
	b.Write(b.Bind(p.PageLimit))
	return b.SQL(), b.Args()
}
