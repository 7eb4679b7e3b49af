package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
)

// SessionMetadata travels with every headers fetch.
type SessionMetadata struct {
	ID        uuid.UUID `json:"id"`
	Version   int       `json:"version"`
	RowCount  int       `json:"rowCount"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Headers struct {
	SourceLabels []string        `json:"sourceLabels"`
	TargetLabels []string        `json:"targetLabels"`
	ColumnCounts schema.Counts   `json:"columnCounts"`
	Metadata     SessionMetadata `json:"sessionMetadata"`
}

type SaveMappingsRequest struct {
	Mappings      []colgraph.LabelPair `json:"mappings"`
	DefaultValues map[string]string    `json:"defaultValues,omitempty"`
}

type UpdateCountsResult struct {
	Success                 bool     `json:"success"`
	RegeneratedTargetLabels []string `json:"regeneratedTargetLabels"`
}

type ApplyResult struct {
	Success    bool                           `json:"success"`
	NewColumns []string                       `json:"newColumns"`
	RuleCount  int                            `json:"ruleCount"`
	Warnings   []apperr.NamingConflictWarning `json:"warnings,omitempty"`
}

type RowsPage struct {
	Page      int         `json:"page"`
	PageSize  int         `json:"pageSize"`
	TotalRows int         `json:"totalRows"`
	Rows      []rules.Row `json:"rows"`
}

// SessionStore is the narrow interface the coordinators consume. The remote
// half may process structural changes asynchronously: UpdateColumnCounts and
// ApplyFormulaRules return immediately while row materialization lands later,
// observable through the session version and the freshness heuristic.
type SessionStore interface {
	GetHeaders(ctx context.Context, sessionID uuid.UUID) (*Headers, error)
	SaveMappings(ctx context.Context, sessionID uuid.UUID, req SaveMappingsRequest) error
	UpdateColumnCounts(ctx context.Context, sessionID uuid.UUID, counts schema.Counts) (*UpdateCountsResult, error)
	ApplyFormulaRules(ctx context.Context, sessionID uuid.UUID, rs []rules.Rule) (*ApplyResult, error)
	PreviewFormulaRules(ctx context.Context, sessionID uuid.UUID, rs []rules.Rule, sampleSize int) (*rules.Preview, error)
	ClearFormulaRules(ctx context.Context, sessionID uuid.UUID) error
	GetSessionVersion(ctx context.Context, sessionID uuid.UUID) (int, error)
	GetRows(ctx context.Context, sessionID uuid.UUID, page int) (*RowsPage, error)
}
