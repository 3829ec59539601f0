package models

import (
	"time"

	"github.com/google/uuid"
)

// RecordSummary is the trimmed-down record view carried in similarity
// results. Content is truncated to an excerpt by the similarity engine.
type RecordSummary struct {
	ID          uuid.UUID `json:"id"`
	ContentType string    `json:"content_type"`
	Category    *string   `json:"category,omitempty"`
	Excerpt     string    `json:"excerpt"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// SimilarityPair is one near-duplicate pair surfaced by a red-zone scan.
// Pairs are transient: computed on demand, never persisted.
type SimilarityPair struct {
	Left          RecordSummary `json:"left"`
	Right         RecordSummary `json:"right"`
	SimilarityPct int           `json:"similarity_pct"`
}

// RankedRecord is one peer in a targeted similarity ranking.
type RankedRecord struct {
	Record        RecordSummary `json:"record"`
	SimilarityPct int           `json:"similarity_pct"`
}

// SimilarityRanking is the result of ranking a peer set against one target
// record. DimensionMismatches counts peers whose embedding length did not
// match the target's; those peers are excluded from Matches but reported
// here instead of being conflated with genuine zero similarity.
type SimilarityRanking struct {
	Target              RecordSummary  `json:"target"`
	Matches             []RankedRecord `json:"matches"`
	DimensionMismatches int            `json:"dimension_mismatches"`
}
