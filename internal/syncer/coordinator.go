package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
	"github.com/sheetbridge/sheetbridge-backend/internal/rebuild"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
	"github.com/sheetbridge/sheetbridge-backend/internal/store"
	"github.com/sheetbridge/sheetbridge-backend/internal/utils"
)

// State of the freshness check.
type State string

const (
	StateFresh    State = "fresh"
	StatePolling  State = "polling"
	StateTimedOut State = "timed_out"
)

// Config holds the polling tunables. Defaults match the session store's
// worker cadence: a rebuild normally lands well inside the deadline.
type Config struct {
	PollInterval time.Duration
	PollDeadline time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 1500 * time.Millisecond,
		PollDeadline: 45 * time.Second,
	}
}

// ConfigFromEnv reads POLL_INTERVAL_MS and POLL_DEADLINE_MS, falling back to
// the defaults.
func ConfigFromEnv(log *logger.Logger) Config {
	return Config{
		PollInterval: utils.GetEnvAsMillis("POLL_INTERVAL_MS", 1500, log),
		PollDeadline: utils.GetEnvAsMillis("POLL_DEADLINE_MS", 45000, log),
	}
}

// Outcome is delivered atomically: either a fully fresh snapshot or a
// timeout, never a half-updated view.
type Outcome struct {
	State   State          `json:"state"`
	Version int            `json:"version"`
	Headers *store.Headers `json:"headers,omitempty"`
	Rows    []rules.Row    `json:"rows,omitempty"`
	Healed  bool           `json:"healed"`
	Polls   int            `json:"polls"`
}

// Coordinator verifies that the session store's materialized data reflects
// the rules committed locally, and heals the gap when it does not. Healing is
// bounded: the committed rules are re-submitted exactly once, then the
// coordinator only polls.
type Coordinator struct {
	log       *logger.Logger
	store     store.SessionStore
	sessionID uuid.UUID
	guard     *rebuild.Guard
	cfg       Config
}

func New(baseLog *logger.Logger, st store.SessionStore, sessionID uuid.UUID, guard *rebuild.Guard, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.PollDeadline <= 0 {
		cfg.PollDeadline = DefaultConfig().PollDeadline
	}
	return &Coordinator{
		log:       baseLog.With("component", "SyncCoordinator", "session_id", sessionID),
		store:     st,
		sessionID: sessionID,
		guard:     guard,
		cfg:       cfg,
	}
}

// EnsureFresh fetches the current snapshot and checks it against the
// committed rules. A stale snapshot triggers the self-heal loop: one rule
// re-submission, then version polling until fresh data arrives or the
// deadline passes. An in-flight rebuild aborts the loop immediately; the
// caller retries after the rebuild settles.
func (c *Coordinator) EnsureFresh(ctx context.Context, committed []rules.Rule) (*Outcome, error) {
	baseline, headers, rows, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if isFresh(committed, headers, rows) {
		return &Outcome{State: StateFresh, Version: baseline, Headers: headers, Rows: rows}, nil
	}

	c.log.Warn("Stale session detected, re-submitting committed rules", "version", baseline, "rules", len(committed))
	if _, err := c.store.ApplyFormulaRules(ctx, c.sessionID, committed); err != nil {
		return nil, err
	}

	deadline := time.NewTimer(c.cfg.PollDeadline)
	defer deadline.Stop()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	observed := baseline
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			c.log.Warn("Freshness poll deadline passed", "polls", polls, "observed", observed)
			return &Outcome{State: StateTimedOut, Version: observed, Healed: true, Polls: polls},
				&apperr.StaleSessionError{Expected: baseline + 1, Observed: observed}
		case <-ticker.C:
		}

		if c.guard.Busy() {
			return nil, apperr.ErrRebuildInProgress
		}
		polls++

		version, err := c.store.GetSessionVersion(ctx, c.sessionID)
		if err != nil {
			c.log.Debug("Version poll failed, retrying", "error", err)
			continue
		}
		observed = version
		if version <= baseline {
			continue
		}

		_, headers, rows, err = c.snapshot(ctx)
		if err != nil {
			c.log.Debug("Snapshot refetch failed, retrying", "error", err)
			continue
		}
		if isFresh(committed, headers, rows) {
			c.log.Info("Session fresh after self-heal", "version", version, "polls", polls)
			return &Outcome{State: StateFresh, Version: version, Headers: headers, Rows: rows, Healed: true, Polls: polls}, nil
		}
	}
}

func (c *Coordinator) snapshot(ctx context.Context) (int, *store.Headers, []rules.Row, error) {
	version, err := c.store.GetSessionVersion(ctx, c.sessionID)
	if err != nil {
		return 0, nil, nil, err
	}
	headers, err := c.store.GetHeaders(ctx, c.sessionID)
	if err != nil {
		return 0, nil, nil, err
	}
	page, err := c.store.GetRows(ctx, c.sessionID, 1)
	if err != nil {
		return 0, nil, nil, err
	}
	return version, headers, page.Rows, nil
}

// isFresh is a heuristic, not a proof: the store does not echo rule
// provenance, so freshness is inferred from the data itself. A snapshot is
// fresh when every committed rule has (a) a column of its implied category in
// the headers and (b), wherever the rule actually matches a row, some cell of
// that category carrying a value. Rules that match nothing are vacuously
// satisfied.
func isFresh(committed []rules.Rule, headers *store.Headers, rows []rules.Row) bool {
	if len(committed) == 0 {
		return true
	}
	for _, r := range committed {
		cat := impliedCategory(r)
		labels := labelsOfCategory(headers.TargetLabels, cat)
		if len(labels) == 0 {
			return false
		}
		if !hasEvidence(r, labels, rows) {
			return false
		}
	}
	return true
}

func impliedCategory(r rules.Rule) schema.Category {
	if r.ColumnType == rules.ColumnTypeSpecificationValue {
		return schema.CategorySpecValue
	}
	return schema.CategoryTag
}

func labelsOfCategory(targetLabels []string, cat schema.Category) []string {
	var out []string
	for _, label := range targetLabels {
		if got, _, ok := schema.Classify(label); ok && got == cat {
			out = append(out, label)
		}
	}
	return out
}

func hasEvidence(r rules.Rule, labels []string, rows []rules.Row) bool {
	matchedAny := false
	for _, row := range rows {
		if _, ok := r.Evaluate(row[r.SourceColumn]); !ok {
			continue
		}
		matchedAny = true
		for _, label := range labels {
			if row[label] != "" {
				return true
			}
		}
	}
	// No visible row matches the rule; nothing to verify against.
	return !matchedAny
}
