package services

import (
	"bytes"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/sheetbridge/sheetbridge-backend/internal/rules"
)

// JSON document codecs for the MappingSession columns. Decode helpers are
// forgiving: a missing or malformed document reads as empty, the write path
// always produces well-formed JSON.

func encodeJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func decodeStrings(doc datatypes.JSON) []string {
	var out []string
	if len(doc) == 0 {
		return out
	}
	_ = json.Unmarshal(doc, &out)
	return out
}

func decodeRows(doc datatypes.JSON) []rules.Row {
	var out []rules.Row
	if len(doc) == 0 {
		return out
	}
	_ = json.Unmarshal(doc, &out)
	return out
}

func decodeRules(doc datatypes.JSON) []rules.Rule {
	var out []rules.Rule
	if len(doc) == 0 {
		return out
	}
	_ = json.Unmarshal(doc, &out)
	return out
}

func stringSet(labels []string) map[string]bool {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set
}

// sameJSON compares two values by their canonical JSON encoding.
func sameJSON(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	return aerr == nil && berr == nil && bytes.Equal(ab, bb)
}
