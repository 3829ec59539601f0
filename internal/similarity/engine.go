package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/pkg/models"
)

// ErrNotEmbeddable is returned by RankSimilar when the target record has no
// embedding and the provider produced none for it.
var ErrNotEmbeddable = errors.New("target record could not be embedded")

const excerptMaxBytes = 200

// Engine runs read-only similarity computations against whatever embeddings
// currently exist. It holds no state across calls.
type Engine struct {
	store    store.Store
	provider models.EmbeddingProvider
}

func NewEngine(st store.Store, provider models.EmbeddingProvider) *Engine {
	return &Engine{store: st, provider: provider}
}

// RedZone fetches embedded records of the given type in a partition and
// returns every unordered pair whose similarity percentage is >= threshold
// (inclusive), sorted by similarity descending. The computation is O(n²) in
// the number of embedded records; limit caps n to the most recent records
// (limit <= 0 scans everything).
func (e *Engine) RedZone(ctx context.Context, partitionID uuid.UUID, contentType string, threshold, limit int) ([]models.SimilarityPair, error) {
	records, err := e.store.ListEmbedded(ctx, partitionID, contentType, limit)
	if err != nil {
		return nil, fmt.Errorf("list embedded records: %w", err)
	}

	// The seen set keys on the sorted id pair so a pair is reported at most
	// once regardless of scan order.
	seen := make(map[[2]uuid.UUID]bool)
	pairs := []models.SimilarityPair{}
	mismatches := 0

	for i := 0; i < len(records); i++ {
		for j := i + 1; j < len(records); j++ {
			key := pairKey(records[i].ID, records[j].ID)
			if seen[key] {
				continue
			}
			seen[key] = true

			sim, err := Cosine(records[i].Embedding, records[j].Embedding)
			if errors.Is(err, ErrDimensionMismatch) {
				mismatches++
				continue
			}
			if err != nil {
				return nil, err
			}

			pct := Percent(sim)
			if pct >= threshold {
				pairs = append(pairs, models.SimilarityPair{
					Left:          summarize(records[i]),
					Right:         summarize(records[j]),
					SimilarityPct: pct,
				})
			}
		}
	}

	if mismatches > 0 {
		slog.Warn("red-zone scan skipped mismatched embedding pairs",
			"partition_id", partitionID, "pairs_skipped", mismatches)
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		return pairs[a].SimilarityPct > pairs[b].SimilarityPct
	})
	return pairs, nil
}

// RankSimilar compares one target record against its peer set (records in
// the partition by the same creator, excluding the target) and returns
// peers sorted by similarity descending. If the target has no embedding one
// is generated on the fly and persisted. Peers whose embedding dimension
// does not match the target's are excluded from the ranking and counted in
// DimensionMismatches instead of being hidden in a zero-similarity bucket.
func (e *Engine) RankSimilar(ctx context.Context, partitionID, recordID uuid.UUID) (*models.SimilarityRanking, error) {
	target, err := e.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if target.PartitionID != partitionID {
		return nil, store.ErrNotFound
	}

	if !target.Embedded() {
		if err := e.embedTarget(ctx, target); err != nil {
			return nil, err
		}
	}

	peers, err := e.store.ListEmbeddedByCreator(ctx, partitionID, target.CreatedBy, target.ID)
	if err != nil {
		return nil, fmt.Errorf("list peer records: %w", err)
	}

	ranking := &models.SimilarityRanking{
		Target:  summarize(target),
		Matches: []models.RankedRecord{},
	}

	for _, peer := range peers {
		sim, err := Cosine(target.Embedding, peer.Embedding)
		if errors.Is(err, ErrDimensionMismatch) {
			ranking.DimensionMismatches++
			continue
		}
		if err != nil {
			return nil, err
		}
		ranking.Matches = append(ranking.Matches, models.RankedRecord{
			Record:        summarize(peer),
			SimilarityPct: Percent(sim),
		})
	}

	sort.SliceStable(ranking.Matches, func(a, b int) bool {
		return ranking.Matches[a].SimilarityPct > ranking.Matches[b].SimilarityPct
	})
	return ranking, nil
}

func (e *Engine) embedTarget(ctx context.Context, target *models.Record) error {
	vectors, err := e.provider.Embed(ctx, []string{target.Content})
	if err != nil {
		return fmt.Errorf("embed target record: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return ErrNotEmbeddable
	}
	target.Embedding = vectors[0]
	if err := e.store.SetEmbedding(ctx, target.ID, target.Embedding); err != nil {
		return fmt.Errorf("persist target embedding: %w", err)
	}
	return nil
}

func pairKey(a, b uuid.UUID) [2]uuid.UUID {
	if a.String() < b.String() {
		return [2]uuid.UUID{a, b}
	}
	return [2]uuid.UUID{b, a}
}

func summarize(r *models.Record) models.RecordSummary {
	return models.RecordSummary{
		ID:          r.ID,
		ContentType: r.ContentType,
		Category:    r.Category,
		Excerpt:     truncateString(r.Content, excerptMaxBytes),
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
	}
}

// truncateString truncates s to maxBytes without splitting UTF-8 runes.
func truncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
