package pipeline

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/jobs/runtime"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/services"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

// SessionRebuild materializes a column-count change: target labels are
// recomputed for the stored counts, mappings and defaults whose label no
// longer exists are dropped, derived columns beyond the new counts are
// removed from the rows, and the session version is bumped. Idempotent for a
// given session state.
type SessionRebuild struct {
	log      *logger.Logger
	sessions repos.MappingSessionRepo
	versions services.VersionCache
}

func NewSessionRebuild(baseLog *logger.Logger, sessions repos.MappingSessionRepo, versions services.VersionCache) *SessionRebuild {
	return &SessionRebuild{
		log:      baseLog.With("job", types.JobTypeSessionRebuild),
		sessions: sessions,
		versions: versions,
	}
}

func (h *SessionRebuild) Type() string { return types.JobTypeSessionRebuild }

func (h *SessionRebuild) Run(jc *runtime.Context) error {
	sessionID, ok := jc.PayloadUUID("session_id")
	if !ok {
		return fmt.Errorf("payload missing session_id")
	}
	session, err := h.sessions.GetByID(jc.Ctx, nil, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	jc.Heartbeat()

	updates := rebuildDocument(session)
	err = jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.sessions.UpdateFields(jc.Ctx, tx, sessionID, updates); err != nil {
			return err
		}
		return h.sessions.BumpVersion(jc.Ctx, tx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("persist rebuild: %w", err)
	}
	if h.versions != nil {
		h.versions.Invalidate(jc.Ctx, sessionID)
	}
	h.log.Info("Session rebuild complete", "session_id", sessionID)
	return nil
}

// rebuildDocument prunes every part of the session document against the
// target labels implied by the stored counts.
func rebuildDocument(session *types.MappingSession) map[string]interface{} {
	counts := schema.Counts{
		TagCount:      session.TagCount,
		SpecPairCount: session.SpecPairCount,
		IDPairCount:   session.IDPairCount,
	}
	var fixedLabels []string
	_ = json.Unmarshal(session.FixedLabels, &fixedLabels)
	fixed := make([]schema.TargetField, len(fixedLabels))
	for i, l := range fixedLabels {
		fixed[i] = schema.TargetField{Label: l, Category: schema.CategoryFixed}
	}
	targets := labelSet(schema.Labels(fixed, counts))

	var sourceLabels []string
	_ = json.Unmarshal(session.SourceLabels, &sourceLabels)
	sources := labelSet(sourceLabels)

	var pairs []colgraph.LabelPair
	_ = json.Unmarshal(session.Mappings, &pairs)
	kept := pairs[:0]
	for _, p := range pairs {
		if sources[p.Source] && targets[p.Target] {
			kept = append(kept, p)
		}
	}

	defaults := map[string]string{}
	_ = json.Unmarshal(session.DefaultValues, &defaults)
	for label := range defaults {
		if !targets[label] {
			delete(defaults, label)
		}
	}

	var ruleColumns []string
	_ = json.Unmarshal(session.RuleColumns, &ruleColumns)
	keptColumns := ruleColumns[:0]
	for _, label := range ruleColumns {
		if targets[label] {
			keptColumns = append(keptColumns, label)
		}
	}

	var rows []rules.Row
	_ = json.Unmarshal(session.Rows, &rows)
	for _, row := range rows {
		for label := range row {
			if !sources[label] && !targets[label] {
				delete(row, label)
			}
		}
	}

	return map[string]interface{}{
		"mappings":       mustJSON(kept),
		"default_values": mustJSON(defaults),
		"rule_columns":   mustJSON(keptColumns),
		"rows":           mustJSON(rows),
	}
}

func labelSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

func mustJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}
