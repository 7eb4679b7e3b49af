package rebuild

import (
	"context"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
)

// Result reports what a structural rebuild did to the mapping graph.
type Result struct {
	RegeneratedTargetLabels []string             `json:"regeneratedTargetLabels"`
	Reattached              int                  `json:"reattached"`
	Unresolved              []colgraph.LabelPair `json:"unresolved,omitempty"`
}

// Coordinator owns the count-change protocol for one session. Mappings
// survive a rebuild by label, never by field identity: the target set is
// snapshotted, cleared, regenerated from the store's answer and reattached.
// The guard makes the protocol non-reentrant; concurrent structural commands
// get ErrRebuildInProgress instead of interleaving.
type Coordinator struct {
	log       *logger.Logger
	store     store.SessionStore
	graph     *colgraph.Graph
	sessionID uuid.UUID
	guard     *Guard
	counts    schema.Counts
}

func NewCoordinator(baseLog *logger.Logger, st store.SessionStore, graph *colgraph.Graph, sessionID uuid.UUID, counts schema.Counts, guard *Guard) *Coordinator {
	return &Coordinator{
		log:       baseLog.With("component", "RebuildCoordinator", "session_id", sessionID),
		store:     st,
		graph:     graph,
		sessionID: sessionID,
		guard:     guard,
		counts:    counts,
	}
}

func (c *Coordinator) Counts() schema.Counts { return c.counts }

// ChangeCounts runs the full rebuild protocol for a new set of dynamic
// counts. Decreasing a count below a pair that still has mappings is refused
// before anything mutates; the caller must disconnect or delete first.
func (c *Coordinator) ChangeCounts(ctx context.Context, next schema.Counts) (*Result, error) {
	if err := schema.Validate(next); err != nil {
		return nil, err
	}
	if err := c.checkTruncation(schema.CategoryTag, c.counts.TagCount, next.TagCount); err != nil {
		return nil, err
	}
	if err := c.checkTruncation(schema.CategorySpecValue, c.counts.SpecPairCount, next.SpecPairCount); err != nil {
		return nil, err
	}
	if err := c.checkTruncation(schema.CategoryIDValue, c.counts.IDPairCount, next.IDPairCount); err != nil {
		return nil, err
	}
	return c.rebuild(ctx, next)
}

// DeleteOptionalField removes one unmapped dynamic field and rebuilds with
// the owning count decremented. The graph refuses the removal while any
// mapping still points at the field.
func (c *Coordinator) DeleteOptionalField(ctx context.Context, targetLabel string) (*Result, error) {
	prevFields := targetFields(c.graph.Targets())
	snapshot := c.graph.LabelPairs()

	cat, _, err := c.graph.DeleteOptionalField(targetLabel)
	if err != nil {
		return nil, err
	}
	res, err := c.rebuild(ctx, decrement(c.counts, cat))
	if err != nil {
		c.restore(prevFields, snapshot)
		return nil, err
	}
	return res, nil
}

// rebuild is the shared protocol core:
//
//	snapshot mappings -> clear -> commit counts -> regenerate targets ->
//	reattach by label -> reconcile -> forced save
//
// Any store failure restores the pre-rebuild local state so the session never
// shows half a rebuild.
func (c *Coordinator) rebuild(ctx context.Context, next schema.Counts) (*Result, error) {
	if !c.guard.TryAcquire() {
		return nil, apperr.ErrRebuildInProgress
	}
	defer c.guard.Release()

	prevFields := targetFields(c.graph.Targets())
	snapshot := c.graph.LabelPairs()
	c.graph.ClearMappings()

	updated, err := c.store.UpdateColumnCounts(ctx, c.sessionID, next)
	if err != nil {
		c.restore(prevFields, snapshot)
		return nil, err
	}

	c.graph.SetTargets(fieldsFromLabels(updated.RegeneratedTargetLabels))
	attached, unresolved := c.graph.Reattach(snapshot)
	c.graph.Reconcile(sourceLabels(c.graph), updated.RegeneratedTargetLabels)

	save := store.SaveMappingsRequest{
		Mappings:      c.graph.LabelPairs(),
		DefaultValues: c.graph.DefaultValues(),
	}
	if err := c.store.SaveMappings(ctx, c.sessionID, save); err != nil {
		c.restore(prevFields, snapshot)
		return nil, err
	}

	c.counts = next
	if len(unresolved) > 0 {
		c.log.Warn("Rebuild dropped mappings whose target labels vanished", "unresolved", len(unresolved))
	}
	c.log.Info("Rebuild complete", "targets", len(updated.RegeneratedTargetLabels), "reattached", attached)
	return &Result{
		RegeneratedTargetLabels: updated.RegeneratedTargetLabels,
		Reattached:              attached,
		Unresolved:              unresolved,
	}, nil
}

func (c *Coordinator) restore(fields []schema.TargetField, snapshot []colgraph.LabelPair) {
	c.graph.SetTargets(fields)
	c.graph.ClearMappings()
	c.graph.Reattach(snapshot)
}

// checkTruncation refuses a count decrease that would destroy a pair some
// mapping still depends on. Checking the value half covers the name half too.
func (c *Coordinator) checkTruncation(cat schema.Category, current, next int) error {
	for n := next + 1; n <= current; n++ {
		if c.graph.IsPairMapped(cat, n) {
			label, mappings := c.mappedLabelInPair(cat, n)
			return &apperr.FieldInUseError{Label: label, MappingCount: mappings}
		}
	}
	return nil
}

func (c *Coordinator) mappedLabelInPair(cat schema.Category, pairIndex int) (string, int) {
	counts := make(map[string]int)
	for _, m := range c.graph.Mappings() {
		counts[m.TargetLabel]++
	}
	for _, t := range c.graph.Targets() {
		if t.PairIndex != pairIndex {
			continue
		}
		if sameKind(t.Category, cat) && counts[t.Label] > 0 {
			return t.Label, counts[t.Label]
		}
	}
	return "", 0
}

func sameKind(a, b schema.Category) bool {
	kind := func(c schema.Category) schema.Category {
		switch c {
		case schema.CategorySpecName, schema.CategorySpecValue:
			return schema.CategorySpecValue
		case schema.CategoryIDName, schema.CategoryIDValue:
			return schema.CategoryIDValue
		}
		return c
	}
	return kind(a) == kind(b)
}

func decrement(c schema.Counts, cat schema.Category) schema.Counts {
	switch cat {
	case schema.CategoryTag:
		c.TagCount--
	case schema.CategorySpecName, schema.CategorySpecValue:
		c.SpecPairCount--
	case schema.CategoryIDName, schema.CategoryIDValue:
		c.IDPairCount--
	}
	return c
}

// fieldsFromLabels rehydrates target fields from the store's regenerated
// label list. Labels outside the dynamic naming grid are the fixed fields.
func fieldsFromLabels(labels []string) []schema.TargetField {
	out := make([]schema.TargetField, len(labels))
	for i, label := range labels {
		cat, pair, dynamic := schema.Classify(label)
		out[i] = schema.TargetField{
			ID:         i,
			Label:      label,
			Category:   cat,
			PairIndex:  pair,
			IsOptional: dynamic,
		}
	}
	return out
}

func targetFields(nodes []colgraph.TargetNode) []schema.TargetField {
	out := make([]schema.TargetField, len(nodes))
	for i, n := range nodes {
		out[i] = n.TargetField
	}
	return out
}

func sourceLabels(g *colgraph.Graph) []string {
	sources := g.Sources()
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = s.Label
	}
	return out
}
