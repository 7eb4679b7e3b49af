package pipeline

import (
	"encoding/json"
	"testing"

	"gorm.io/datatypes"

	"github.com/sheetbridge/sheetbridge-backend/internal/colgraph"
	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
	"github.com/sheetbridge/sheetbridge-backend/internal/types"
)

func sessionForRebuild(t *testing.T) *types.MappingSession {
	t.Helper()
	return &types.MappingSession{
		TagCount:      1,
		SourceLabels:  mustJSON([]string{"SourceA", "SourceB"}),
		FixedLabels:   mustJSON([]string{"Part_Number"}),
		Mappings:      mustJSON([]colgraph.LabelPair{{Source: "SourceA", Target: "Tag_1"}, {Source: "SourceB", Target: "Tag_2"}}),
		DefaultValues: mustJSON(map[string]string{"Tag_1": "keep", "Tag_2": "drop"}),
		RuleColumns:   mustJSON([]string{"Tag_1", "Tag_2"}),
		Rows:          mustJSON([]rules.Row{{"SourceA": "a", "SourceB": "b", "Tag_1": "x", "Tag_2": "y"}}),
	}
}

func TestRebuildDocumentPrunesBeyondCounts(t *testing.T) {
	// Counts were reduced to tagCount=1; everything referencing Tag_2 must go.
	updates := rebuildDocument(sessionForRebuild(t))

	var pairs []colgraph.LabelPair
	if err := json.Unmarshal(updates["mappings"].(datatypes.JSON), &pairs); err != nil {
		t.Fatalf("unmarshal mappings: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Target != "Tag_1" {
		t.Fatalf("mappings: want only SourceA->Tag_1, got %v", pairs)
	}

	defaults := map[string]string{}
	if err := json.Unmarshal(updates["default_values"].(datatypes.JSON), &defaults); err != nil {
		t.Fatalf("unmarshal defaults: %v", err)
	}
	if _, ok := defaults["Tag_2"]; ok {
		t.Fatalf("default for removed Tag_2 survived")
	}
	if defaults["Tag_1"] != "keep" {
		t.Fatalf("default for surviving Tag_1 lost")
	}

	var cols []string
	if err := json.Unmarshal(updates["rule_columns"].(datatypes.JSON), &cols); err != nil {
		t.Fatalf("unmarshal rule columns: %v", err)
	}
	if len(cols) != 1 || cols[0] != "Tag_1" {
		t.Fatalf("rule columns: want [Tag_1], got %v", cols)
	}

	var rows []rules.Row
	if err := json.Unmarshal(updates["rows"].(datatypes.JSON), &rows); err != nil {
		t.Fatalf("unmarshal rows: %v", err)
	}
	if _, ok := rows[0]["Tag_2"]; ok {
		t.Fatalf("derived cell for removed Tag_2 survived")
	}
	if rows[0]["SourceA"] != "a" || rows[0]["Tag_1"] != "x" {
		t.Fatalf("surviving cells damaged: %v", rows[0])
	}
}

func TestRebuildDocumentIsIdempotent(t *testing.T) {
	session := sessionForRebuild(t)
	first := rebuildDocument(session)

	session.Mappings = first["mappings"].(datatypes.JSON)
	session.DefaultValues = first["default_values"].(datatypes.JSON)
	session.RuleColumns = first["rule_columns"].(datatypes.JSON)
	session.Rows = first["rows"].(datatypes.JSON)
	second := rebuildDocument(session)

	for _, key := range []string{"mappings", "default_values", "rule_columns", "rows"} {
		if string(first[key].(datatypes.JSON)) != string(second[key].(datatypes.JSON)) {
			t.Fatalf("%s changed on second rebuild:\nfirst=%s\nsecond=%s", key, first[key], second[key])
		}
	}
}

func TestDecodeAllocationsRoundTrip(t *testing.T) {
	in := []rules.Allocation{{
		Rule: rules.Rule{
			SourceColumn: "Description",
			ColumnType:   rules.ColumnTypeTag,
			SubRules:     []rules.SubRule{{SearchText: "CAP", OutputValue: "Capacitor"}},
		},
		ValueLabel: "Tag_1",
	}}
	// Payloads arrive as loosely-typed JSON maps, the way runtime.Context
	// decodes them.
	b, err := json.Marshal(map[string]any{"allocations": in})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(b, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	out, err := decodeAllocations(payload["allocations"])
	if err != nil {
		t.Fatalf("decodeAllocations: %v", err)
	}
	if len(out) != 1 || out[0].ValueLabel != "Tag_1" || out[0].Rule.SubRules[0].OutputValue != "Capacitor" {
		t.Fatalf("round trip mismatch: %+v", out)
	}

	if _, err := decodeAllocations(nil); err == nil {
		t.Fatalf("missing allocations: expected error")
	}
}
