package schema

import (
	"reflect"
	"testing"
)

func TestGenerateOrderAndLabels(t *testing.T) {
	fixed := []TargetField{
		{Label: "Part_Number"},
		{Label: "Description"},
	}
	got := Labels(fixed, Counts{TagCount: 2, SpecPairCount: 1, IDPairCount: 1})
	want := []string{
		"Part_Number",
		"Description",
		"Tag_1",
		"Tag_2",
		"Specification_Name_1",
		"Specification_Value_1",
		"Customer_Identification_Name_1",
		"Customer_Identification_Value_1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("labels: want=%v got=%v", want, got)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	fixed := []TargetField{{Label: "Part_Number"}}
	c := Counts{TagCount: 3, SpecPairCount: 2, IDPairCount: 2}
	a := Generate(fixed, c)
	b := Generate(fixed, c)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("generate not deterministic:\nfirst=%v\nsecond=%v", a, b)
	}
}

func TestGeneratePairIndexSharedByNameValue(t *testing.T) {
	fields := Generate(nil, Counts{SpecPairCount: 2})
	byLabel := FieldsByLabel(fields)
	for n := 1; n <= 2; n++ {
		name := byLabel[SpecNameLabel(n)]
		value := byLabel[SpecValueLabel(n)]
		if name.PairIndex != n || value.PairIndex != n {
			t.Fatalf("pair %d: name pairIndex=%d value pairIndex=%d", n, name.PairIndex, value.PairIndex)
		}
		if name.Category != CategorySpecName || value.Category != CategorySpecValue {
			t.Fatalf("pair %d: unexpected categories %s/%s", n, name.Category, value.Category)
		}
	}
}

func TestClassifyInvertsGenerate(t *testing.T) {
	fields := Generate(nil, Counts{TagCount: 2, SpecPairCount: 2, IDPairCount: 2})
	for _, f := range fields {
		cat, pair, ok := Classify(f.Label)
		if !ok {
			t.Fatalf("classify(%q): not recognized", f.Label)
		}
		if cat != f.Category || pair != f.PairIndex {
			t.Fatalf("classify(%q): want=(%s,%d) got=(%s,%d)", f.Label, f.Category, f.PairIndex, cat, pair)
		}
	}
}

func TestClassifyRejectsForeignLabels(t *testing.T) {
	for _, label := range []string{"Part_Number", "Tag_", "Tag_0", "Tag_x", "tag_1", "Specification_Name_"} {
		if _, _, ok := Classify(label); ok {
			t.Fatalf("classify(%q): expected ok=false", label)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	if err := Validate(Counts{TagCount: -1}); err == nil {
		t.Fatalf("negative tagCount: expected error")
	}
	if err := Validate(Counts{SpecPairCount: MaxCountPerKind + 1}); err == nil {
		t.Fatalf("oversized specPairCount: expected error")
	}
	if err := Validate(Counts{TagCount: 5, SpecPairCount: 5, IDPairCount: 5}); err != nil {
		t.Fatalf("valid counts: unexpected error %v", err)
	}
}
