package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sheetbridge/sheetbridge-backend/internal/apperr"
)

// Category is the semantic kind of a target field, attached once at creation.
type Category string

const (
	CategoryFixed     Category = "fixed"
	CategoryTag       Category = "tag"
	CategorySpecName  Category = "spec_name"
	CategorySpecValue Category = "spec_value"
	CategoryIDName    Category = "id_name"
	CategoryIDValue   Category = "id_value"
)

// Label prefixes are a wire-format contract: exported data and the session
// store both depend on these exact names.
const (
	tagPrefix       = "Tag_"
	specNamePrefix  = "Specification_Name_"
	specValuePrefix = "Specification_Value_"
	idNamePrefix    = "Customer_Identification_Name_"
	idValuePrefix   = "Customer_Identification_Value_"
)

// MaxCountPerKind bounds each dynamic count. Session documents are JSON
// columns, so unbounded counts would blow up the row.
const MaxCountPerKind = 100

type Counts struct {
	TagCount      int `json:"tagCount"`
	SpecPairCount int `json:"specPairCount"`
	IDPairCount   int `json:"idPairCount"`
}

type TargetField struct {
	ID         int      `json:"id"`
	Label      string   `json:"label"`
	Category   Category `json:"category"`
	PairIndex  int      `json:"pairIndex,omitempty"`
	IsOptional bool     `json:"isOptional"`
}

func Validate(c Counts) error {
	check := func(name string, n int) error {
		if n < 0 {
			return &apperr.ValidationError{Field: name, Reason: "must not be negative"}
		}
		if n > MaxCountPerKind {
			return &apperr.ValidationError{Field: name, Reason: fmt.Sprintf("must not exceed %d", MaxCountPerKind)}
		}
		return nil
	}
	if err := check("tagCount", c.TagCount); err != nil {
		return err
	}
	if err := check("specPairCount", c.SpecPairCount); err != nil {
		return err
	}
	return check("idPairCount", c.IDPairCount)
}

func TagLabel(n int) string       { return tagPrefix + strconv.Itoa(n) }
func SpecNameLabel(n int) string  { return specNamePrefix + strconv.Itoa(n) }
func SpecValueLabel(n int) string { return specValuePrefix + strconv.Itoa(n) }
func IDNameLabel(n int) string    { return idNamePrefix + strconv.Itoa(n) }
func IDValueLabel(n int) string   { return idValuePrefix + strconv.Itoa(n) }

// Generate produces the full ordered target field list for the given counts.
// Fixed fields are preserved verbatim and always precede dynamic fields.
// Identical counts always yield an identical ordered list.
func Generate(fixed []TargetField, c Counts) []TargetField {
	out := make([]TargetField, 0, len(fixed)+c.TagCount+2*c.SpecPairCount+2*c.IDPairCount)
	id := 0
	for _, f := range fixed {
		f.ID = id
		f.Category = CategoryFixed
		f.PairIndex = 0
		out = append(out, f)
		id++
	}
	add := func(label string, cat Category, pair int) {
		out = append(out, TargetField{
			ID:         id,
			Label:      label,
			Category:   cat,
			PairIndex:  pair,
			IsOptional: true,
		})
		id++
	}
	for n := 1; n <= c.TagCount; n++ {
		add(TagLabel(n), CategoryTag, n)
	}
	for n := 1; n <= c.SpecPairCount; n++ {
		add(SpecNameLabel(n), CategorySpecName, n)
		add(SpecValueLabel(n), CategorySpecValue, n)
	}
	for n := 1; n <= c.IDPairCount; n++ {
		add(IDNameLabel(n), CategoryIDName, n)
		add(IDValueLabel(n), CategoryIDValue, n)
	}
	return out
}

// Labels is a convenience over Generate for callers that only need the
// label column of the wire contract.
func Labels(fixed []TargetField, c Counts) []string {
	fields := Generate(fixed, c)
	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Label
	}
	return labels
}

// Classify inverts Generate for any label it produced: it recovers the
// category and pair index so a relabeled field can be recognized as "the
// same" pair across count changes. Labels that are not part of the dynamic
// naming grid report ok=false (the caller decides whether that means fixed).
func Classify(label string) (Category, int, bool) {
	for prefix, cat := range map[string]Category{
		tagPrefix:       CategoryTag,
		specNamePrefix:  CategorySpecName,
		specValuePrefix: CategorySpecValue,
		idNamePrefix:    CategoryIDName,
		idValuePrefix:   CategoryIDValue,
	} {
		rest, found := strings.CutPrefix(label, prefix)
		if !found {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			continue
		}
		return cat, n, true
	}
	return CategoryFixed, 0, false
}

// FieldsByLabel indexes a generated list for label lookups during reattachment.
func FieldsByLabel(fields []TargetField) map[string]TargetField {
	m := make(map[string]TargetField, len(fields))
	for _, f := range fields {
		m[f.Label] = f
	}
	return m
}
