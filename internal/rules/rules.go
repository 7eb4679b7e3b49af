package rules

import (
	"strings"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
	"github.com/sheetbridge/sheetbridge-backend/internal/schema"
)

type ColumnType string

const (
	ColumnTypeTag                ColumnType = "tag"
	ColumnTypeSpecificationValue ColumnType = "specification_value"
)

// SubRule is a single "contains → emit" condition.
type SubRule struct {
	SearchText    string `json:"searchText"`
	OutputValue   string `json:"outputValue"`
	CaseSensitive bool   `json:"caseSensitive"`
}

// Rule scans one source column and populates one derived target column.
type Rule struct {
	SourceColumn      string     `json:"sourceColumn"`
	ColumnType        ColumnType `json:"columnType"`
	SpecificationName string     `json:"specificationName,omitempty"`
	SubRules          []SubRule  `json:"subRules"`
}

// Row is one record keyed by column label.
type Row map[string]string

// Validate rejects malformed rules before anything reaches the session store.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.SourceColumn) == "" {
		return &apperr.ValidationError{Field: "sourceColumn", Reason: "must not be empty"}
	}
	switch r.ColumnType {
	case ColumnTypeTag:
	case ColumnTypeSpecificationValue:
		if strings.TrimSpace(r.SpecificationName) == "" {
			return &apperr.ValidationError{Field: "specificationName", Reason: "required for specification value rules"}
		}
	default:
		return &apperr.ValidationError{Field: "columnType", Reason: "unknown column type " + string(r.ColumnType)}
	}
	if len(r.SubRules) == 0 {
		return &apperr.ValidationError{Field: "subRules", Reason: "at least one condition required"}
	}
	for _, sr := range r.SubRules {
		if sr.SearchText == "" {
			return &apperr.ValidationError{Field: "searchText", Reason: "must not be empty"}
		}
		if sr.OutputValue == "" {
			return &apperr.ValidationError{Field: "outputValue", Reason: "must not be empty"}
		}
	}
	return nil
}

func ValidateAll(rs []Rule) error {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (sr SubRule) matches(cell string) bool {
	if sr.CaseSensitive {
		return strings.Contains(cell, sr.SearchText)
	}
	return strings.Contains(strings.ToLower(cell), strings.ToLower(sr.SearchText))
}

// Evaluate applies the rule to one cell. Sub-rules run in authored order and
// the first match wins. No match leaves the cell empty: "Unknown" stays
// reserved for upstream parsing gaps.
func (r Rule) Evaluate(cell string) (string, bool) {
	for _, sr := range r.SubRules {
		if sr.matches(cell) {
			return sr.OutputValue, true
		}
	}
	return "", false
}

// Allocation binds one rule to its output column(s). Specification value
// rules also carry the paired name column, whose content is fixed to the
// rule's specification name.
type Allocation struct {
	Rule        Rule   `json:"rule"`
	ValueLabel  string `json:"valueLabel"`
	NameLabel   string `json:"nameLabel,omitempty"`
	NameContent string `json:"nameContent,omitempty"`
}

// AllocateColumns assigns output slots. Tag rules request the next slot
// unused by previously committed content; if a rule earlier in the batch
// already claimed it, the next free number is taken and the substitution
// reported. Another rule's column is never silently overwritten.
func AllocateColumns(rs []Rule, usedLabels map[string]bool) ([]Allocation, []apperr.NamingConflictWarning) {
	committed := make(map[string]bool, len(usedLabels))
	live := make(map[string]bool, len(usedLabels))
	for l := range usedLabels {
		committed[l] = true
		live[l] = true
	}

	firstFree := func(used map[string]bool, label func(int) string) (string, int) {
		for n := 1; ; n++ {
			if !used[label(n)] {
				return label(n), n
			}
		}
	}

	var allocs []Allocation
	var warnings []apperr.NamingConflictWarning
	for _, r := range rs {
		switch r.ColumnType {
		case ColumnTypeTag:
			requested, _ := firstFree(committed, schema.TagLabel)
			allocated, _ := firstFree(live, schema.TagLabel)
			if allocated != requested {
				warnings = append(warnings, apperr.NamingConflictWarning{Requested: requested, Allocated: allocated})
			}
			live[allocated] = true
			allocs = append(allocs, Allocation{Rule: r, ValueLabel: allocated})
		case ColumnTypeSpecificationValue:
			requested, _ := firstFree(committed, schema.SpecValueLabel)
			allocated, n := firstFree(live, schema.SpecValueLabel)
			if allocated != requested {
				warnings = append(warnings, apperr.NamingConflictWarning{Requested: requested, Allocated: allocated})
			}
			live[allocated] = true
			live[schema.SpecNameLabel(n)] = true
			allocs = append(allocs, Allocation{
				Rule:        r,
				ValueLabel:  allocated,
				NameLabel:   schema.SpecNameLabel(n),
				NameContent: r.SpecificationName,
			})
		}
	}
	return allocs, warnings
}
