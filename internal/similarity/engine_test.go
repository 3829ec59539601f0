package similarity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rbayer/redzone/internal/embedding/mock"
	"github.com/rbayer/redzone/internal/store"
	"github.com/rbayer/redzone/internal/store/storetest"
	"github.com/rbayer/redzone/pkg/models"
)

func addEmbedded(st *storetest.MemoryStore, partitionID uuid.UUID, contentType, content, createdBy string, embedding []float32) uuid.UUID {
	id := uuid.New()
	st.AddRecord(&models.Record{
		ID:          id,
		PartitionID: partitionID,
		ContentType: contentType,
		Content:     content,
		CreatedBy:   createdBy,
		Embedding:   embedding,
		CreatedAt:   time.Now().UTC(),
	})
	return id
}

// --- RedZone tests ---

func TestRedZone_FindsSimilarPairs(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	a := addEmbedded(st, partitionID, models.ContentTypeFeedback, "almost the same words", "u1", []float32{1, 0, 0})
	b := addEmbedded(st, partitionID, models.ContentTypeFeedback, "almost the same words!", "u2", []float32{0.99, 0.01, 0})
	addEmbedded(st, partitionID, models.ContentTypeFeedback, "completely unrelated", "u3", []float32{0, 1, 0})

	engine := NewEngine(st, mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeFeedback, 70, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair above threshold, got %d", len(pairs))
	}

	got := map[uuid.UUID]bool{pairs[0].Left.ID: true, pairs[0].Right.ID: true}
	if !got[a] || !got[b] {
		t.Errorf("expected pair (%s, %s), got (%s, %s)", a, b, pairs[0].Left.ID, pairs[0].Right.ID)
	}
	if pairs[0].SimilarityPct < 99 {
		t.Errorf("expected near-identical similarity, got %d%%", pairs[0].SimilarityPct)
	}
}

func TestRedZone_PairReportedOnce(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	addEmbedded(st, partitionID, models.ContentTypeTask, "first of a close pair", "u1", []float32{1, 1})
	addEmbedded(st, partitionID, models.ContentTypeTask, "second of a close pair", "u2", []float32{1, 1})

	engine := NewEngine(st, mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 70, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Errorf("expected exactly 1 pair regardless of scan order, got %d", len(pairs))
	}
}

func TestRedZone_ThresholdInclusive(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	// cos(vectors 45° apart) ≈ 0.7071 → 71%.
	addEmbedded(st, partitionID, models.ContentTypeTask, "forty five degrees apart a", "u1", []float32{1, 0})
	addEmbedded(st, partitionID, models.ContentTypeTask, "forty five degrees apart b", "u2", []float32{1, 1})

	engine := NewEngine(st, mock.NewProvider())

	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 71, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Errorf("threshold equal to similarity must include the pair, got %d pairs", len(pairs))
	}

	pairs, err = engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 72, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("threshold above similarity must exclude the pair, got %d pairs", len(pairs))
	}
}

func TestRedZone_SortedDescending(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	addEmbedded(st, partitionID, models.ContentTypeTask, "anchor vector for sorting", "u1", []float32{1, 0})
	addEmbedded(st, partitionID, models.ContentTypeTask, "very close to the anchor", "u2", []float32{1, 0.05})
	addEmbedded(st, partitionID, models.ContentTypeTask, "further from the anchor", "u3", []float32{1, 0.5})

	engine := NewEngine(st, mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 80, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) < 2 {
		t.Fatalf("expected at least 2 pairs, got %d", len(pairs))
	}
	for i := 1; i < len(pairs); i++ {
		if pairs[i].SimilarityPct > pairs[i-1].SimilarityPct {
			t.Errorf("pairs out of order at %d: %d%% after %d%%", i, pairs[i].SimilarityPct, pairs[i-1].SimilarityPct)
		}
	}
}

func TestRedZone_DimensionMismatchSkippedNotZero(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	addEmbedded(st, partitionID, models.ContentTypeTask, "vector from the old model", "u1", []float32{1, 0, 0})
	addEmbedded(st, partitionID, models.ContentTypeTask, "vector from the new model", "u2", []float32{1, 0})

	engine := NewEngine(st, mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 0, 0)
	if err != nil {
		t.Fatalf("mismatched pair must be skipped, not fail the scan: %v", err)
	}
	if len(pairs) != 0 {
		t.Errorf("mismatched pair must not appear in results, got %d pairs", len(pairs))
	}
}

func TestRedZone_EmptyPartition(t *testing.T) {
	engine := NewEngine(storetest.NewMemoryStore(), mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), uuid.New(), models.ContentTypeTask, 70, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pairs == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(pairs) != 0 {
		t.Errorf("expected 0 pairs, got %d", len(pairs))
	}
}

func TestRedZone_ExcerptTruncated(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	long := strings.Repeat("x", 500)
	addEmbedded(st, partitionID, models.ContentTypeTask, long, "u1", []float32{1, 1})
	addEmbedded(st, partitionID, models.ContentTypeTask, long+"!", "u2", []float32{1, 1})

	engine := NewEngine(st, mock.NewProvider())
	pairs, err := engine.RedZone(context.Background(), partitionID, models.ContentTypeTask, 70, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if len(pairs[0].Left.Excerpt) > 200 {
		t.Errorf("excerpt should be truncated to 200 bytes, got %d", len(pairs[0].Left.Excerpt))
	}
}

// --- RankSimilar tests ---

func TestRankSimilar_RanksPeersDescending(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	target := addEmbedded(st, partitionID, models.ContentTypeTask, "the target record content", "alice", []float32{1, 0})
	near := addEmbedded(st, partitionID, models.ContentTypeTask, "nearly the target record", "alice", []float32{1, 0.1})
	far := addEmbedded(st, partitionID, models.ContentTypeTask, "something quite different", "alice", []float32{0.2, 1})

	engine := NewEngine(st, mock.NewProvider())
	ranking, err := engine.RankSimilar(context.Background(), partitionID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranking.Target.ID != target {
		t.Errorf("expected target %s, got %s", target, ranking.Target.ID)
	}
	if len(ranking.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(ranking.Matches))
	}
	if ranking.Matches[0].Record.ID != near || ranking.Matches[1].Record.ID != far {
		t.Error("expected matches sorted by similarity descending")
	}
}

func TestRankSimilar_ExcludesTargetAndOtherCreators(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	target := addEmbedded(st, partitionID, models.ContentTypeTask, "the target record content", "alice", []float32{1, 0})
	addEmbedded(st, partitionID, models.ContentTypeTask, "someone else's record", "bob", []float32{1, 0})

	engine := NewEngine(st, mock.NewProvider())
	ranking, err := engine.RankSimilar(context.Background(), partitionID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranking.Matches) != 0 {
		t.Errorf("peer set is same-creator only, got %d matches", len(ranking.Matches))
	}
}

func TestRankSimilar_EmbedsTargetOnTheFly(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()
	provider := mock.NewProvider()

	targetID := uuid.New()
	st.AddRecord(&models.Record{
		ID:          targetID,
		PartitionID: partitionID,
		ContentType: models.ContentTypeTask,
		Content:     "not yet embedded target",
		CreatedBy:   "alice",
	})

	vec := mock.Deterministic([]string{"not yet embedded target"})[0]
	addEmbedded(st, partitionID, models.ContentTypeTask, "an embedded peer record", "alice", vec)

	engine := NewEngine(st, provider)
	ranking, err := engine.RankSimilar(context.Background(), partitionID, targetID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.Calls() != 1 {
		t.Errorf("expected one on-the-fly embed call, got %d", provider.Calls())
	}
	if len(ranking.Matches) != 1 || ranking.Matches[0].SimilarityPct != 100 {
		t.Fatalf("expected one 100%% match against the identical vector, got %+v", ranking.Matches)
	}

	// The generated embedding must be persisted.
	stored, err := st.GetRecord(context.Background(), targetID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stored.Embedded() {
		t.Error("expected on-the-fly embedding to be persisted")
	}
}

func TestRankSimilar_EmbedFailure(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	targetID := uuid.New()
	st.AddRecord(&models.Record{
		ID:          targetID,
		PartitionID: partitionID,
		ContentType: models.ContentTypeTask,
		Content:     "not yet embedded target",
		CreatedBy:   "alice",
	})

	engine := NewEngine(st, mock.NewFailingProvider(nil))
	_, err := engine.RankSimilar(context.Background(), partitionID, targetID)
	if err == nil {
		t.Fatal("expected error when the provider cannot embed the target")
	}
}

func TestRankSimilar_MismatchCountedNotRanked(t *testing.T) {
	st := storetest.NewMemoryStore()
	partitionID := uuid.New()

	target := addEmbedded(st, partitionID, models.ContentTypeTask, "the target record content", "alice", []float32{1, 0})
	addEmbedded(st, partitionID, models.ContentTypeTask, "peer with wrong dimension", "alice", []float32{1, 0, 0})

	engine := NewEngine(st, mock.NewProvider())
	ranking, err := engine.RankSimilar(context.Background(), partitionID, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranking.Matches) != 0 {
		t.Errorf("mismatched peer must not be ranked, got %d matches", len(ranking.Matches))
	}
	if ranking.DimensionMismatches != 1 {
		t.Errorf("expected 1 counted mismatch, got %d", ranking.DimensionMismatches)
	}
}

func TestRankSimilar_UnknownRecord(t *testing.T) {
	engine := NewEngine(storetest.NewMemoryStore(), mock.NewProvider())
	_, err := engine.RankSimilar(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRankSimilar_WrongPartition(t *testing.T) {
	st := storetest.NewMemoryStore()
	target := addEmbedded(st, uuid.New(), models.ContentTypeTask, "record in another partition", "alice", []float32{1, 0})

	engine := NewEngine(st, mock.NewProvider())
	_, err := engine.RankSimilar(context.Background(), uuid.New(), target)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cross-partition lookup, got %v", err)
	}
}
