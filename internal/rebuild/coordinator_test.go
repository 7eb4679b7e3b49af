package rebuild

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
)

// fakeStore answers UpdateColumnCounts the way the backend does: regenerated
// labels computed from the committed counts. Saves are recorded for
// inspection.
type fakeStore struct {
	mu          sync.Mutex
	fixed       []schema.TargetField
	counts      schema.Counts
	saves       []store.SaveMappingsRequest
	updateErr   error
	saveErr     error
	updateCalls int
}

func (f *fakeStore) GetHeaders(ctx context.Context, id uuid.UUID) (*store.Headers, error) {
	return nil, errors.New("not used")
}

func (f *fakeStore) SaveMappings(ctx context.Context, id uuid.UUID, req store.SaveMappingsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, req)
	return nil
}

func (f *fakeStore) UpdateColumnCounts(ctx context.Context, id uuid.UUID, counts schema.Counts) (*store.UpdateCountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.counts = counts
	return &store.UpdateCountsResult{
		Success:                 true,
		RegeneratedTargetLabels: schema.Labels(f.fixed, counts),
	}, nil
}

func (f *fakeStore) ApplyFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule) (*store.ApplyResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeStore) PreviewFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error) {
	return nil, errors.New("not used")
}

func (f *fakeStore) ClearFormulaRules(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeStore) GetSessionVersion(ctx context.Context, id uuid.UUID) (int, error) {
	return 0, errors.New("not used")
}

func (f *fakeStore) GetRows(ctx context.Context, id uuid.UUID, page int) (*store.RowsPage, error) {
	return nil, errors.New("not used")
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func fixture(t *testing.T, counts schema.Counts) (*Coordinator, *colgraph.Graph, *fakeStore, *Guard) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	fixed := []schema.TargetField{{Label: "Part_Number"}}
	fs := &fakeStore{fixed: fixed, counts: counts}
	graph := colgraph.New(log, []string{"SourceA", "SourceB"}, schema.Generate(fixed, counts))
	guard := NewGuard()
	return NewCoordinator(log, fs, graph, uuid.New(), counts, guard), graph, fs, guard
}

func TestChangeCountsKeepsMappingsByLabel(t *testing.T) {
	coord, graph, fs, _ := fixture(t, schema.Counts{TagCount: 1})
	if _, err := graph.Connect("SourceA", "Tag_1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := coord.ChangeCounts(context.Background(), schema.Counts{TagCount: 2})
	if err != nil {
		t.Fatalf("ChangeCounts: %v", err)
	}
	want := []string{"Part_Number", "Tag_1", "Tag_2"}
	if len(res.RegeneratedTargetLabels) != len(want) {
		t.Fatalf("labels: want %v got %v", want, res.RegeneratedTargetLabels)
	}
	for i, label := range want {
		if res.RegeneratedTargetLabels[i] != label {
			t.Fatalf("labels[%d]: want %s got %s", i, label, res.RegeneratedTargetLabels[i])
		}
	}
	if res.Reattached != 1 || len(res.Unresolved) != 0 {
		t.Fatalf("reattach: %+v", res)
	}

	pairs := graph.LabelPairs()
	if len(pairs) != 1 || pairs[0] != (colgraph.LabelPair{Source: "SourceA", Target: "Tag_1"}) {
		t.Fatalf("mapping did not survive by label: %v", pairs)
	}
	if fs.saveCount() != 1 {
		t.Fatalf("expected one forced save, got %d", fs.saveCount())
	}
	if got := fs.saves[0].Mappings; len(got) != 1 || got[0].Target != "Tag_1" {
		t.Fatalf("forced save content: %v", got)
	}
}

func TestChangeCountsRefusesTruncatingMappedPair(t *testing.T) {
	coord, graph, fs, _ := fixture(t, schema.Counts{TagCount: 2})
	if _, err := graph.Connect("SourceA", "Tag_2"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	_, err := coord.ChangeCounts(context.Background(), schema.Counts{TagCount: 1})
	var inUse *apperr.FieldInUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("want FieldInUseError, got %v", err)
	}
	if inUse.Label != "Tag_2" || inUse.MappingCount != 1 {
		t.Fatalf("error detail: %+v", inUse)
	}
	if fs.updateCalls != 0 {
		t.Fatalf("store must not be touched on a refused truncation")
	}
	if len(graph.LabelPairs()) != 1 {
		t.Fatalf("graph mutated on refused truncation")
	}
}

func TestChangeCountsRefusesTruncatingMappedSpecPair(t *testing.T) {
	// Mapping the name half of a pair protects the value half too.
	coord, graph, _, _ := fixture(t, schema.Counts{SpecPairCount: 2})
	if _, err := graph.Connect("SourceA", "Specification_Name_2"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := coord.ChangeCounts(context.Background(), schema.Counts{SpecPairCount: 1})
	var inUse *apperr.FieldInUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("want FieldInUseError, got %v", err)
	}
}

func TestDeleteOptionalFieldReportsUnresolved(t *testing.T) {
	// Deleting unmapped Tag_1 shrinks tagCount to 1, so the regenerated set
	// no longer has Tag_2; the mapping that pointed there is reported, not
	// silently kept.
	coord, graph, _, _ := fixture(t, schema.Counts{TagCount: 2})
	if _, err := graph.Connect("SourceB", "Tag_2"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := coord.DeleteOptionalField(context.Background(), "Tag_1")
	if err != nil {
		t.Fatalf("DeleteOptionalField: %v", err)
	}
	if res.Reattached != 0 {
		t.Fatalf("reattached: want=0 got=%d", res.Reattached)
	}
	if len(res.Unresolved) != 1 || res.Unresolved[0].Target != "Tag_2" {
		t.Fatalf("unresolved: %v", res.Unresolved)
	}
	if coord.Counts().TagCount != 1 {
		t.Fatalf("tagCount: want=1 got=%d", coord.Counts().TagCount)
	}
}

func TestDeleteMappedFieldRefused(t *testing.T) {
	coord, graph, fs, _ := fixture(t, schema.Counts{TagCount: 1})
	if _, err := graph.Connect("SourceA", "Tag_1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := coord.DeleteOptionalField(context.Background(), "Tag_1")
	var inUse *apperr.FieldInUseError
	if !errors.As(err, &inUse) {
		t.Fatalf("want FieldInUseError, got %v", err)
	}
	if fs.updateCalls != 0 {
		t.Fatalf("store must not be touched when delete is refused")
	}
}

func TestRebuildRefusedWhileGuardHeld(t *testing.T) {
	coord, _, _, guard := fixture(t, schema.Counts{TagCount: 1})
	if !guard.TryAcquire() {
		t.Fatalf("acquire guard")
	}
	defer guard.Release()

	if _, err := coord.ChangeCounts(context.Background(), schema.Counts{TagCount: 2}); !errors.Is(err, apperr.ErrRebuildInProgress) {
		t.Fatalf("want ErrRebuildInProgress, got %v", err)
	}
}

func TestRebuildRestoresOnStoreFailure(t *testing.T) {
	coord, graph, fs, guard := fixture(t, schema.Counts{TagCount: 1})
	if _, err := graph.Connect("SourceA", "Tag_1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	fs.updateErr = errors.New("store down")

	if _, err := coord.ChangeCounts(context.Background(), schema.Counts{TagCount: 2}); err == nil {
		t.Fatalf("expected store failure to surface")
	}
	if guard.Busy() {
		t.Fatalf("guard leaked after failed rebuild")
	}
	pairs := graph.LabelPairs()
	if len(pairs) != 1 || pairs[0].Target != "Tag_1" {
		t.Fatalf("pre-rebuild mappings not restored: %v", pairs)
	}
	if len(graph.Targets()) != 2 {
		t.Fatalf("pre-rebuild targets not restored: %v", graph.Targets())
	}
	if coord.Counts().TagCount != 1 {
		t.Fatalf("counts must not advance on failure")
	}
}

func TestAutosaveCoalescesBursts(t *testing.T) {
	_, graph, fs, guard := fixture(t, schema.Counts{TagCount: 1})
	log, _ := logger.New("test")
	saver := NewAutosaver(log, fs, graph, uuid.New(), guard, 30*time.Millisecond)
	defer saver.Stop()

	for i := 0; i < 5; i++ {
		if err := saver.Touch(); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}
	time.Sleep(150 * time.Millisecond)
	if got := fs.saveCount(); got != 1 {
		t.Fatalf("burst of edits: want 1 save, got %d", got)
	}
}

func TestAutosaveRejectedDuringRebuild(t *testing.T) {
	_, graph, fs, guard := fixture(t, schema.Counts{TagCount: 1})
	log, _ := logger.New("test")
	saver := NewAutosaver(log, fs, graph, uuid.New(), guard, time.Millisecond)
	defer saver.Stop()

	if !guard.TryAcquire() {
		t.Fatalf("acquire guard")
	}
	defer guard.Release()
	if err := saver.Touch(); !errors.Is(err, apperr.ErrRebuildInProgress) {
		t.Fatalf("want ErrRebuildInProgress, got %v", err)
	}
	if fs.saveCount() != 0 {
		t.Fatalf("no save expected while rebuilding")
	}
}

func TestAutosaveFlushIsForced(t *testing.T) {
	_, graph, fs, guard := fixture(t, schema.Counts{TagCount: 1})
	log, _ := logger.New("test")
	saver := NewAutosaver(log, fs, graph, uuid.New(), guard, time.Hour)
	defer saver.Stop()

	if err := saver.Touch(); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := saver.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.saveCount() != 1 {
		t.Fatalf("flush must save immediately, got %d saves", fs.saveCount())
	}
}
