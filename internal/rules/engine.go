package rules

import (
	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/logger"
)

// Engine evaluates user-authored rules against session rows.
type Engine struct {
	log *logger.Logger
}

func NewEngine(baseLog *logger.Logger) *Engine {
	return &Engine{log: baseLog.With("component", "FormulaRuleEngine")}
}

// Result is the outcome of a full-dataset application. Values holds one
// column per allocation, aligned with the input rows; the caller persists
// them and bumps the session version.
type Result struct {
	AppliedRuleCount int                            `json:"appliedRuleCount"`
	NewColumns       []string                       `json:"newColumns"`
	Warnings         []apperr.NamingConflictWarning `json:"warnings,omitempty"`
	Values           map[string][]string            `json:"-"`
}

// Preview is the bounded, side-effect-free dry run.
type Preview struct {
	NewColumns       []string                       `json:"newColumns"`
	MatchCounts      map[string]int                 `json:"perRuleMatchCount"`
	MatchPercentages map[string]float64             `json:"perRuleMatchPercentage"`
	SampleRows       []Row                          `json:"sampleRows"`
	Warnings         []apperr.NamingConflictWarning `json:"warnings,omitempty"`
}

// ApplyAllocations evaluates already-allocated rules over rows, producing one
// value column per allocation (plus the fixed name column for specification
// rules), aligned with the input rows.
func ApplyAllocations(allocs []Allocation, rows []Row) map[string][]string {
	values := make(map[string][]string, 2*len(allocs))
	for _, a := range allocs {
		col := make([]string, len(rows))
		for i, row := range rows {
			if out, ok := a.Rule.Evaluate(row[a.Rule.SourceColumn]); ok {
				col[i] = out
			}
		}
		values[a.ValueLabel] = col

		if a.NameLabel != "" {
			names := make([]string, len(rows))
			for i := range names {
				names[i] = a.NameContent
			}
			values[a.NameLabel] = names
		}
	}
	return values
}

func (e *Engine) run(rs []Rule, rows []Row, usedLabels map[string]bool) (*Result, error) {
	if err := ValidateAll(rs); err != nil {
		return nil, err
	}
	allocs, warnings := AllocateColumns(rs, usedLabels)

	res := &Result{
		AppliedRuleCount: len(allocs),
		Warnings:         warnings,
		Values:           ApplyAllocations(allocs, rows),
	}
	for _, a := range allocs {
		res.NewColumns = append(res.NewColumns, a.ValueLabel)
		if a.NameLabel != "" {
			res.NewColumns = append(res.NewColumns, a.NameLabel)
		}
	}
	return res, nil
}

// Apply evaluates the rules over the full dataset.
func (e *Engine) Apply(rs []Rule, rows []Row, usedLabels map[string]bool) (*Result, error) {
	res, err := e.run(rs, rows, usedLabels)
	if err != nil {
		return nil, err
	}
	e.log.Info("Applied formula rules", "rules", res.AppliedRuleCount, "new_columns", len(res.NewColumns), "rows", len(rows))
	return res, nil
}

// Preview evaluates the rules against a bounded sample. It never persists
// anything: the sample rows are copies with the derived cells added.
func (e *Engine) Preview(rs []Rule, rows []Row, sampleSize int, usedLabels map[string]bool) (*Preview, error) {
	if sampleSize <= 0 {
		sampleSize = 50
	}
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	sample := rows[:sampleSize]

	res, err := e.run(rs, sample, usedLabels)
	if err != nil {
		return nil, err
	}

	p := &Preview{
		NewColumns:       res.NewColumns,
		MatchCounts:      make(map[string]int, len(res.NewColumns)),
		MatchPercentages: make(map[string]float64, len(res.NewColumns)),
		Warnings:         res.Warnings,
	}
	for label, values := range res.Values {
		count := 0
		for _, v := range values {
			if v != "" {
				count++
			}
		}
		p.MatchCounts[label] = count
		if len(sample) > 0 {
			p.MatchPercentages[label] = float64(count) / float64(len(sample)) * 100
		}
	}

	p.SampleRows = make([]Row, len(sample))
	for i, row := range sample {
		copied := make(Row, len(row)+len(res.NewColumns))
		for k, v := range row {
			copied[k] = v
		}
		for label, values := range res.Values {
			copied[label] = values[i]
		}
		p.SampleRows[i] = copied
	}
	return p, nil
}
