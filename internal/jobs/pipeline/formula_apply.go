package pipeline

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/sheetbridge/sheetbridge-backend/internal/jobs/runtime"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/repos"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/services"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

// FormulaApply runs the committed rule allocations over the full dataset and
// writes the derived columns into the session rows. The allocations were
// fixed when the commit was accepted, so a retried run writes the same
// columns again.
type FormulaApply struct {
	log      *logger.Logger
	sessions repos.MappingSessionRepo
	versions services.VersionCache
}

func NewFormulaApply(baseLog *logger.Logger, sessions repos.MappingSessionRepo, versions services.VersionCache) *FormulaApply {
	return &FormulaApply{
		log:      baseLog.With("job", types.JobTypeFormulaApply),
		sessions: sessions,
		versions: versions,
	}
}

func (h *FormulaApply) Type() string { return types.JobTypeFormulaApply }

func (h *FormulaApply) Run(jc *runtime.Context) error {
	sessionID, ok := jc.PayloadUUID("session_id")
	if !ok {
		return fmt.Errorf("payload missing session_id")
	}
	allocs, err := decodeAllocations(jc.Payload()["allocations"])
	if err != nil {
		return fmt.Errorf("decode allocations: %w", err)
	}
	session, err := h.sessions.GetByID(jc.Ctx, nil, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	jc.Heartbeat()

	var rows []rules.Row
	_ = json.Unmarshal(session.Rows, &rows)
	for label, values := range rules.ApplyAllocations(allocs, rows) {
		for i := range rows {
			rows[i][label] = values[i]
		}
	}

	err = jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.sessions.UpdateFields(jc.Ctx, tx, sessionID, map[string]interface{}{
			"rows": mustJSON(rows),
		}); err != nil {
			return err
		}
		return h.sessions.BumpVersion(jc.Ctx, tx, sessionID)
	})
	if err != nil {
		return fmt.Errorf("persist formula columns: %w", err)
	}
	if h.versions != nil {
		h.versions.Invalidate(jc.Ctx, sessionID)
	}
	h.log.Info("Formula apply complete", "session_id", sessionID, "allocations", len(allocs), "rows", len(rows))
	return nil
}

// decodeAllocations round-trips the loosely-typed payload value back into
// rules.Allocation structs.
func decodeAllocations(raw any) ([]rules.Allocation, error) {
	if raw == nil {
		return nil, fmt.Errorf("payload missing allocations")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var allocs []rules.Allocation
	if err := json.Unmarshal(b, &allocs); err != nil {
		return nil, err
	}
	return allocs, nil
}
