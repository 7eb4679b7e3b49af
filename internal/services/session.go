package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

// SessionService is the server half of the session store contract. Structural
// changes (count rebuilds, formula application) answer immediately with the
// computed schema and hand the row materialization to an async job run; the
// job bumps the session version when it lands.
type SessionService interface {
	Create(ctx context.Context, sourceLabels, fixedLabels []string, rows []rules.Row) (*types.MappingSession, error)
	GetHeaders(ctx context.Context, id uuid.UUID) (*store.Headers, error)
	SaveMappings(ctx context.Context, id uuid.UUID, req store.SaveMappingsRequest) error
	UpdateColumnCounts(ctx context.Context, id uuid.UUID, counts schema.Counts) (*store.UpdateCountsResult, error)
	ApplyFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule) (*store.ApplyResult, error)
	PreviewFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error)
	ClearFormulaRules(ctx context.Context, id uuid.UUID) error
	GetVersion(ctx context.Context, id uuid.UUID) (int, error)
	GetRows(ctx context.Context, id uuid.UUID, page int) (*store.RowsPage, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type sessionService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.MappingSessionRepo
	jobs     repos.JobRunRepo
	engine   *rules.Engine
	versions VersionCache
	pageSize int
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessions repos.MappingSessionRepo,
	jobs repos.JobRunRepo,
	engine *rules.Engine,
	versions VersionCache,
	pageSize int,
) SessionService {
	return &sessionService{
		db:       db,
		log:      baseLog.With("service", "SessionService"),
		sessions: sessions,
		jobs:     jobs,
		engine:   engine,
		versions: versions,
		pageSize: pageSize,
	}
}

func fixedFields(labels []string) []schema.TargetField {
	out := make([]schema.TargetField, len(labels))
	for i, l := range labels {
		out[i] = schema.TargetField{Label: l, Category: schema.CategoryFixed}
	}
	return out
}

func (s *sessionService) counts(session *types.MappingSession) schema.Counts {
	return schema.Counts{
		TagCount:      session.TagCount,
		SpecPairCount: session.SpecPairCount,
		IDPairCount:   session.IDPairCount,
	}
}

func (s *sessionService) Create(ctx context.Context, sourceLabels, fixedLabels []string, rows []rules.Row) (*types.MappingSession, error) {
	if len(sourceLabels) == 0 {
		return nil, &apperr.ValidationError{Field: "sourceLabels", Reason: "must not be empty"}
	}
	session := &types.MappingSession{
		ID:            uuid.New(),
		Version:       1,
		SourceLabels:  encodeJSON(sourceLabels),
		FixedLabels:   encodeJSON(fixedLabels),
		Mappings:      encodeJSON([]any{}),
		DefaultValues: encodeJSON(map[string]string{}),
		FormulaRules:  encodeJSON([]any{}),
		RuleColumns:   encodeJSON([]string{}),
		Rows:          encodeJSON(rows),
		RowCount:      len(rows),
	}
	if err := s.sessions.Create(ctx, nil, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info("Created mapping session", "session_id", session.ID, "rows", session.RowCount)
	return session, nil
}

func (s *sessionService) GetHeaders(ctx context.Context, id uuid.UUID) (*store.Headers, error) {
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	return &store.Headers{
		SourceLabels: decodeStrings(session.SourceLabels),
		TargetLabels: schema.Labels(fixedFields(decodeStrings(session.FixedLabels)), s.counts(session)),
		ColumnCounts: s.counts(session),
		Metadata: store.SessionMetadata{
			ID:        session.ID,
			Version:   session.Version,
			RowCount:  session.RowCount,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		},
	}, nil
}

func (s *sessionService) SaveMappings(ctx context.Context, id uuid.UUID, req store.SaveMappingsRequest) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.sessions.UpdateFields(ctx, tx, id, map[string]interface{}{
			"mappings":       encodeJSON(req.Mappings),
			"default_values": encodeJSON(req.DefaultValues),
		}); err != nil {
			return err
		}
		return s.sessions.BumpVersion(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateVersion(ctx, id)
	s.log.Debug("Saved mappings", "session_id", id, "mappings", len(req.Mappings))
	return nil
}

func (s *sessionService) UpdateColumnCounts(ctx context.Context, id uuid.UUID, counts schema.Counts) (*store.UpdateCountsResult, error) {
	if err := schema.Validate(counts); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	busy, err := s.jobs.HasActiveForSession(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, apperr.ErrRebuildInProgress
	}

	regenerated := schema.Labels(fixedFields(decodeStrings(session.FixedLabels)), counts)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.sessions.UpdateFields(ctx, tx, id, map[string]interface{}{
			"tag_count":       counts.TagCount,
			"spec_pair_count": counts.SpecPairCount,
			"id_pair_count":   counts.IDPairCount,
		}); err != nil {
			return err
		}
		return s.jobs.Create(ctx, tx, &types.JobRun{
			SessionID: id,
			JobType:   types.JobTypeSessionRebuild,
			Payload:   encodeJSON(map[string]any{"session_id": id.String()}),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queue session rebuild: %w", err)
	}
	s.log.Info("Queued session rebuild", "session_id", id,
		"tag_count", counts.TagCount, "spec_pair_count", counts.SpecPairCount, "id_pair_count", counts.IDPairCount)
	return &store.UpdateCountsResult{Success: true, RegeneratedTargetLabels: regenerated}, nil
}

func (s *sessionService) ApplyFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule) (*store.ApplyResult, error) {
	if err := rules.ValidateAll(rs); err != nil {
		return nil, err
	}
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	busy, err := s.jobs.HasActiveForSession(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, apperr.ErrRebuildInProgress
	}

	// A re-submitted identical batch (the freshness self-heal path) must not
	// allocate new slots: re-derive the original allocations and only
	// re-materialize the rows.
	committed := decodeRules(session.FormulaRules)
	if len(committed) > 0 && sameJSON(committed, rs) {
		allocs, _ := rules.AllocateColumns(committed, map[string]bool{})
		err := s.jobs.Create(ctx, nil, &types.JobRun{
			SessionID: id,
			JobType:   types.JobTypeFormulaApply,
			Payload: encodeJSON(map[string]any{
				"session_id":  id.String(),
				"allocations": allocs,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("queue formula apply: %w", err)
		}
		s.log.Info("Re-queued formula apply for identical rule batch", "session_id", id, "rules", len(rs))
		return &store.ApplyResult{Success: true, RuleCount: len(rs)}, nil
	}

	used := stringSet(decodeStrings(session.RuleColumns))
	allocs, warnings := rules.AllocateColumns(rs, used)

	var newColumns []string
	ruleColumns := decodeStrings(session.RuleColumns)
	for _, a := range allocs {
		newColumns = append(newColumns, a.ValueLabel)
		ruleColumns = append(ruleColumns, a.ValueLabel)
		if a.NameLabel != "" {
			newColumns = append(newColumns, a.NameLabel)
			ruleColumns = append(ruleColumns, a.NameLabel)
		}
	}
	committed = append(committed, rs...)

	// Allocated slots join the column scheme: the counts grow to cover the
	// highest allocated pair, so headers and later rebuilds include the
	// engine-authored columns instead of pruning them.
	counts := s.counts(session)
	for _, a := range allocs {
		cat, n, ok := schema.Classify(a.ValueLabel)
		if !ok {
			continue
		}
		switch cat {
		case schema.CategoryTag:
			if n > counts.TagCount {
				counts.TagCount = n
			}
		case schema.CategorySpecValue:
			if n > counts.SpecPairCount {
				counts.SpecPairCount = n
			}
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.sessions.UpdateFields(ctx, tx, id, map[string]interface{}{
			"formula_rules":   encodeJSON(committed),
			"rule_columns":    encodeJSON(ruleColumns),
			"tag_count":       counts.TagCount,
			"spec_pair_count": counts.SpecPairCount,
		}); err != nil {
			return err
		}
		return s.jobs.Create(ctx, tx, &types.JobRun{
			SessionID: id,
			JobType:   types.JobTypeFormulaApply,
			Payload: encodeJSON(map[string]any{
				"session_id":  id.String(),
				"allocations": allocs,
			}),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("queue formula apply: %w", err)
	}
	s.log.Info("Queued formula apply", "session_id", id, "rules", len(rs), "new_columns", newColumns)
	return &store.ApplyResult{
		Success:    true,
		NewColumns: newColumns,
		RuleCount:  len(rs),
		Warnings:   warnings,
	}, nil
}

func (s *sessionService) PreviewFormulaRules(ctx context.Context, id uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error) {
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	rows := decodeRows(session.Rows)
	used := stringSet(decodeStrings(session.RuleColumns))
	return s.engine.Preview(rs, rows, sampleSize, used)
}

func (s *sessionService) ClearFormulaRules(ctx context.Context, id uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	ruleColumns := stringSet(decodeStrings(session.RuleColumns))
	rows := decodeRows(session.Rows)
	for _, row := range rows {
		for label := range ruleColumns {
			delete(row, label)
		}
	}

	// Saved rule templates live outside this system and are untouched here.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.sessions.UpdateFields(ctx, tx, id, map[string]interface{}{
			"formula_rules": encodeJSON([]any{}),
			"rule_columns":  encodeJSON([]string{}),
			"rows":          encodeJSON(rows),
		}); err != nil {
			return err
		}
		return s.sessions.BumpVersion(ctx, tx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateVersion(ctx, id)
	s.log.Info("Cleared formula rules", "session_id", id, "removed_columns", len(ruleColumns))
	return nil
}

func (s *sessionService) GetVersion(ctx context.Context, id uuid.UUID) (int, error) {
	if s.versions != nil {
		if v, ok := s.versions.Get(ctx, id); ok {
			return v, nil
		}
	}
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return 0, err
	}
	if s.versions != nil {
		s.versions.Set(ctx, id, session.Version)
	}
	return session.Version, nil
}

func (s *sessionService) GetRows(ctx context.Context, id uuid.UUID, page int) (*store.RowsPage, error) {
	if page < 1 {
		page = 1
	}
	session, err := s.sessions.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	rows := decodeRows(session.Rows)
	start := (page - 1) * s.pageSize
	if start > len(rows) {
		start = len(rows)
	}
	end := start + s.pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return &store.RowsPage{
		Page:      page,
		PageSize:  s.pageSize,
		TotalRows: len(rows),
		Rows:      rows[start:end],
	}, nil
}

func (s *sessionService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.sessions.Delete(ctx, nil, id); err != nil {
		return err
	}
	s.invalidateVersion(ctx, id)
	s.log.Info("Deleted mapping session", "session_id", id)
	return nil
}

func (s *sessionService) invalidateVersion(ctx context.Context, id uuid.UUID) {
	if s.versions != nil {
		s.versions.Invalidate(ctx, id)
	}
}
