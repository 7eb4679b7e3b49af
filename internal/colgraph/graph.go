package colgraph

import (
	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
)

// SourceField is one column of the uploaded file. Immutable for a session.
type SourceField struct {
	ID        int    `json:"id"`
	Label     string `json:"label"`
	Connected bool   `json:"connected"`
}

// TargetNode wraps a schema field with its display connectivity flag.
type TargetNode struct {
	schema.TargetField
	Connected bool `json:"connected"`
}

// Mapping is the durable unit of user intent. It is persisted and restored by
// label, never by positional index: target field identity is unstable across
// rebuilds, labels are not.
type Mapping struct {
	ID          uuid.UUID `json:"id"`
	SourceLabel string    `json:"source"`
	TargetLabel string    `json:"target"`
}

// LabelPair is the snapshot form of a Mapping used across rebuilds.
type LabelPair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the bipartite mapping model between source and target fields.
// Many-to-many is legal: one source column can feed several outputs and one
// target can collect several sources.
type Graph struct {
	log      *logger.Logger
	sources  []SourceField
	targets  []TargetNode
	mappings []Mapping
	defaults map[string]string
}

func New(log *logger.Logger, sourceLabels []string, targets []schema.TargetField) *Graph {
	g := &Graph{
		log:      log.With("component", "ColumnGraph"),
		defaults: make(map[string]string),
	}
	g.sources = make([]SourceField, len(sourceLabels))
	for i, label := range sourceLabels {
		g.sources[i] = SourceField{ID: i, Label: label}
	}
	g.SetTargets(targets)
	return g
}

func (g *Graph) Sources() []SourceField {
	out := make([]SourceField, len(g.sources))
	copy(out, g.sources)
	return out
}

func (g *Graph) Targets() []TargetNode {
	out := make([]TargetNode, len(g.targets))
	copy(out, g.targets)
	return out
}

func (g *Graph) Mappings() []Mapping {
	out := make([]Mapping, len(g.mappings))
	copy(out, g.mappings)
	return out
}

// SetTargets replaces the target node set, e.g. after a schema regeneration.
// Mappings are left alone; the caller reattaches and reconciles.
func (g *Graph) SetTargets(targets []schema.TargetField) {
	g.targets = make([]TargetNode, len(targets))
	for i, f := range targets {
		g.targets[i] = TargetNode{TargetField: f}
	}
	g.recomputeConnected()
}

func (g *Graph) hasSource(label string) bool {
	for _, s := range g.sources {
		if s.Label == label {
			return true
		}
	}
	return false
}

func (g *Graph) hasTarget(label string) bool {
	for _, t := range g.targets {
		if t.Label == label {
			return true
		}
	}
	return false
}

func (g *Graph) Connect(sourceLabel, targetLabel string) (Mapping, error) {
	if !g.hasSource(sourceLabel) {
		return Mapping{}, &apperr.ValidationError{Field: "source", Reason: "unknown source column " + sourceLabel}
	}
	if !g.hasTarget(targetLabel) {
		return Mapping{}, &apperr.ValidationError{Field: "target", Reason: "unknown target column " + targetLabel}
	}
	m := Mapping{ID: uuid.New(), SourceLabel: sourceLabel, TargetLabel: targetLabel}
	g.mappings = append(g.mappings, m)
	g.recomputeConnected()
	return m, nil
}

func (g *Graph) Disconnect(id uuid.UUID) bool {
	for i, m := range g.mappings {
		if m.ID == id {
			g.mappings = append(g.mappings[:i], g.mappings[i+1:]...)
			g.recomputeConnected()
			return true
		}
	}
	return false
}

// LabelPairs snapshots the current mappings by label pair.
func (g *Graph) LabelPairs() []LabelPair {
	pairs := make([]LabelPair, len(g.mappings))
	for i, m := range g.mappings {
		pairs[i] = LabelPair{Source: m.SourceLabel, Target: m.TargetLabel}
	}
	return pairs
}

// ClearMappings drops every mapping. Used by the rebuild protocol before the
// target set mutates, so no stale mapping can reference a destroyed field.
func (g *Graph) ClearMappings() {
	g.mappings = nil
	g.recomputeConnected()
}

// Reattach re-inserts snapshotted pairs whose labels still exist. Pairs whose
// target label vanished are returned as unresolved; dropping them is the
// caller's recorded, non-fatal warning.
func (g *Graph) Reattach(pairs []LabelPair) (int, []LabelPair) {
	attached := 0
	var unresolved []LabelPair
	for _, p := range pairs {
		if g.hasSource(p.Source) && g.hasTarget(p.Target) {
			g.mappings = append(g.mappings, Mapping{ID: uuid.New(), SourceLabel: p.Source, TargetLabel: p.Target})
			attached++
			continue
		}
		unresolved = append(unresolved, p)
	}
	g.recomputeConnected()
	return attached, unresolved
}

// Reconcile is the universal safety net: it drops any mapping whose source or
// target label is absent from the given node sets and recomputes connectivity.
// It is idempotent and never fails on missing nodes.
func (g *Graph) Reconcile(sourceLabels, targetLabels []string) []Mapping {
	sources := make(map[string]bool, len(sourceLabels))
	for _, l := range sourceLabels {
		sources[l] = true
	}
	targets := make(map[string]bool, len(targetLabels))
	for _, l := range targetLabels {
		targets[l] = true
	}

	var kept []Mapping
	var dropped []Mapping
	for _, m := range g.mappings {
		if sources[m.SourceLabel] && targets[m.TargetLabel] {
			kept = append(kept, m)
		} else {
			dropped = append(dropped, m)
		}
	}
	g.mappings = kept
	for label := range g.defaults {
		if !targets[label] {
			delete(g.defaults, label)
		}
	}
	g.recomputeConnected()
	if len(dropped) > 0 {
		g.log.Debug("Reconcile pruned orphaned mappings", "dropped", len(dropped))
	}
	return dropped
}

func (g *Graph) SetDefaultValue(targetLabel, text string) error {
	if !g.hasTarget(targetLabel) {
		return &apperr.ValidationError{Field: "target", Reason: "unknown target column " + targetLabel}
	}
	if text == "" {
		delete(g.defaults, targetLabel)
		return nil
	}
	g.defaults[targetLabel] = text
	return nil
}

func (g *Graph) DefaultValues() map[string]string {
	out := make(map[string]string, len(g.defaults))
	for k, v := range g.defaults {
		out[k] = v
	}
	return out
}

func (g *Graph) mappingCountForTarget(label string) int {
	n := 0
	for _, m := range g.mappings {
		if m.TargetLabel == label {
			n++
		}
	}
	return n
}

// IsPairMapped reports whether any mapping targets the (category, pairIndex)
// pair. Callers use it to refuse count decreases that would silently truncate
// a mapped dynamic field.
func (g *Graph) IsPairMapped(cat schema.Category, pairIndex int) bool {
	for _, t := range g.targets {
		if t.Category != cat && !pairedCategory(t.Category, cat) {
			continue
		}
		if t.PairIndex == pairIndex && g.mappingCountForTarget(t.Label) > 0 {
			return true
		}
	}
	return false
}

// pairedCategory reports whether a and b are the two halves of the same kind
// of Name/Value pair, so mapping either half protects the whole pair.
func pairedCategory(a, b schema.Category) bool {
	switch {
	case a == schema.CategorySpecName && b == schema.CategorySpecValue,
		a == schema.CategorySpecValue && b == schema.CategorySpecName,
		a == schema.CategoryIDName && b == schema.CategoryIDValue,
		a == schema.CategoryIDValue && b == schema.CategoryIDName:
		return true
	}
	return false
}

// DeleteOptionalField removes an unmapped optional target field and reports
// its (category, pairIndex) so the owner can decrement the matching count.
// A mapped field is an error, not a silent truncation.
func (g *Graph) DeleteOptionalField(targetLabel string) (schema.Category, int, error) {
	for i, t := range g.targets {
		if t.Label != targetLabel {
			continue
		}
		if !t.IsOptional {
			return "", 0, &apperr.ValidationError{Field: "target", Reason: targetLabel + " is not an optional field"}
		}
		if n := g.mappingCountForTarget(targetLabel); n > 0 {
			return "", 0, &apperr.FieldInUseError{Label: targetLabel, MappingCount: n}
		}
		cat, pair := t.Category, t.PairIndex
		g.targets = append(g.targets[:i], g.targets[i+1:]...)
		delete(g.defaults, targetLabel)
		return cat, pair, nil
	}
	return "", 0, apperr.ErrNotFound
}

func (g *Graph) recomputeConnected() {
	bySource := make(map[string]bool, len(g.mappings))
	byTarget := make(map[string]bool, len(g.mappings))
	for _, m := range g.mappings {
		bySource[m.SourceLabel] = true
		byTarget[m.TargetLabel] = true
	}
	for i := range g.sources {
		g.sources[i].Connected = bySource[g.sources[i].Label]
	}
	for i := range g.targets {
		g.targets[i].Connected = byTarget[g.targets[i].Label]
	}
}
